package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/internal/lockfile"
)

const (
	backupPrefix     = "backup_"
	backupTimeLayout = "20060102T150405.000000000Z"
)

// BackupInfo describes one backup directory.
type BackupInfo struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Files     int       `json:"files"`
	SizeBytes int64     `json:"size_bytes"`
	Mirrored  bool      `json:"mirrored"`
}

// ParseBackupName returns the creation time encoded in a backup directory name.
func ParseBackupName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, backupPrefix) {
		return time.Time{}, false
	}
	t, err := time.Parse(backupTimeLayout, strings.TrimPrefix(name, backupPrefix))
	return t, err == nil
}

// dataFiles lists the files that make up the database state: pages and
// side files. The marker, lock files and directories are excluded.
func (s *Storage) dataFiles() ([]string, error) {
	des, err := s.fsys.ReadDir(s.dir)
	if err != nil {
		return nil, wrap("readdir", s.dir, err)
	}
	var out []string
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || name == MarkerFile || lockfile.IsLockFile(name) {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// CreateBackup copies every page and side file into backups/backup_<timestamp>/
// and, when a mirror is configured, uploads the copy under the same prefix.
// A failing mirror upload is logged; the local backup still counts.
func (s *Storage) CreateBackup(ctx context.Context) (*BackupInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.persistReferences(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	info := &BackupInfo{
		Name:      backupPrefix + now.Format(backupTimeLayout),
		CreatedAt: now,
	}
	info.Path = filepath.Join(s.BackupDir(), info.Name)
	if err := s.fsys.MkdirAll(info.Path, 0o755); err != nil {
		return nil, wrap("mkdir", info.Path, err)
	}

	files, err := s.dataFiles()
	if err != nil {
		return nil, err
	}

	copied := make(map[string][]byte, len(files))
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			_ = s.fsys.RemoveAll(info.Path)
			return nil, err
		}
		src := filepath.Join(s.dir, name)
		data, err := s.fsys.ReadFile(src)
		if err != nil {
			_ = s.fsys.RemoveAll(info.Path)
			return nil, wrap("backup", src, err)
		}
		dst := filepath.Join(info.Path, name)
		if err := fs.WriteFileAtomic(s.fsys, s.TempDir(), dst, data, 0o644); err != nil {
			_ = s.fsys.RemoveAll(info.Path)
			return nil, wrap("backup", dst, err)
		}
		copied[name] = data
		info.Files++
		info.SizeBytes += int64(len(data))
	}

	if s.mirror != nil {
		info.Mirrored = true
		for name, data := range copied {
			if err := s.mirror.Put(ctx, path.Join(info.Name, name), data); err != nil {
				info.Mirrored = false
				s.logger.Warn("backup mirror upload failed", "backup", info.Name, "file", name, "error", err)
				break
			}
		}
	}

	s.logger.Info("backup created", "backup", info.Name, "files", info.Files, "bytes", info.SizeBytes, "mirrored", info.Mirrored)
	return info, nil
}

// ListBackups returns the local backups, newest first.
func (s *Storage) ListBackups() ([]BackupInfo, error) {
	des, err := s.fsys.ReadDir(s.BackupDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("readdir", s.BackupDir(), err)
	}

	var out []BackupInfo
	for _, de := range des {
		if !de.IsDir() || !strings.HasPrefix(de.Name(), backupPrefix) {
			continue
		}
		b := BackupInfo{Name: de.Name(), Path: filepath.Join(s.BackupDir(), de.Name())}
		if t, ok := ParseBackupName(de.Name()); ok {
			b.CreatedAt = t
		} else if fi, err := de.Info(); err == nil {
			b.CreatedAt = fi.ModTime()
		}
		if files, err := s.fsys.ReadDir(b.Path); err == nil {
			for _, f := range files {
				if fi, err := f.Info(); err == nil && !f.IsDir() {
					b.Files++
					b.SizeBytes += fi.Size()
				}
			}
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// RestoreBackup replaces the current pages and side files with the content of
// the named backup and reloads the in-memory state. Indexes built on top of
// the store must be rebuilt afterwards.
func (s *Storage) RestoreBackup(ctx context.Context, name string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrBackupNotFound, name)
	}
	src := filepath.Join(s.BackupDir(), name)
	backupFiles, err := s.fsys.ReadDir(src)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, name)
	}
	if err != nil {
		return wrap("readdir", src, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.dataFiles()
	if err != nil {
		return err
	}
	for _, f := range current {
		p := filepath.Join(s.dir, f)
		if s.lockedByOther(p) {
			return wrap("restore", p, ErrLocked)
		}
	}
	for _, f := range current {
		if err := s.fsys.Remove(filepath.Join(s.dir, f)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return wrap("restore", f, err)
		}
	}
	for _, de := range backupFiles {
		if de.IsDir() {
			continue
		}
		data, err := s.fsys.ReadFile(filepath.Join(src, de.Name()))
		if err != nil {
			return wrap("restore", de.Name(), err)
		}
		dst := filepath.Join(s.dir, de.Name())
		if err := fs.WriteFileAtomic(s.fsys, s.TempDir(), dst, data, 0o644); err != nil {
			return wrap("restore", dst, err)
		}
	}

	s.cache.Invalidate(func(string) bool { return true })
	if err := s.load(ctx); err != nil {
		return err
	}
	s.logger.Info("backup restored", "backup", name, "entries", s.Count())
	return s.writeMarker()
}
