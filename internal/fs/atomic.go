package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

var tmpSeq atomic.Uint64

// TempName returns a unique temporary file name for target inside tmpDir.
func TempName(tmpDir, target string) string {
	return filepath.Join(tmpDir, fmt.Sprintf("%s.%d.%d.tmp", filepath.Base(target), time.Now().UnixNano(), tmpSeq.Add(1)))
}

// WriteFileAtomic writes data to a temporary file in tmpDir, fsyncs it and
// renames it over path. A reader never observes a partially written file
// under path: either the previous content or the complete new content.
func WriteFileAtomic(fsys FileSystem, tmpDir, path string, data []byte, perm os.FileMode) (err error) {
	if fsys == nil {
		fsys = Default
	}
	if err := fsys.MkdirAll(tmpDir, 0o755); err != nil {
		return err
	}

	tmp := TempName(tmpDir, path)
	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = fsys.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = fsys.Rename(tmp, path); err != nil {
		return err
	}
	return SyncDir(fsys, filepath.Dir(path))
}

// SyncDir syncs a directory so that a preceding rename is durable.
func SyncDir(fsys FileSystem, dir string) error {
	f, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }() // Sync is the important operation
	// Some platforms refuse fsync on directories; treat that as best effort.
	_ = f.Sync()
	return nil
}
