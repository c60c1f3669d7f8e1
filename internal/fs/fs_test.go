package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "test.txt")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	data, err := lfs.ReadFile(fpath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	entries, err := lfs.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, lfs.Rename(fpath, fpath+".new"))
	_, err = lfs.Stat(fpath)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, lfs.RemoveAll(dir))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	tmpDir := filepath.Join(dir, "temp")
	target := filepath.Join(dir, "page.json")

	require.NoError(t, WriteFileAtomic(nil, tmpDir, target, []byte("v1"), 0o644))
	require.NoError(t, WriteFileAtomic(nil, tmpDir, target, []byte("v2"), 0o644))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	left, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, left, "temp files must be consumed by rename")
}

func TestWriteFileAtomic_TornWriteKeepsOldContent(t *testing.T) {
	dir := t.TempDir()
	tmpDir := filepath.Join(dir, "temp")
	target := filepath.Join(dir, "page.json")
	require.NoError(t, WriteFileAtomic(nil, tmpDir, target, []byte("original"), 0o644))

	ffs := NewFaultyFS(nil)
	ffs.AddRule("page.json", Fault{FailAfterBytes: 3})

	err := WriteFileAtomic(ffs, tmpDir, target, []byte("replacement"), 0o644)
	require.ErrorIs(t, err, ErrInjected)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestWriteFileAtomic_CrashBeforeRename(t *testing.T) {
	dir := t.TempDir()
	tmpDir := filepath.Join(dir, "temp")
	target := filepath.Join(dir, "page.json")

	ffs := NewFaultyFS(nil)
	ffs.AddRule("page.json", Fault{FailOnRename: true})

	err := WriteFileAtomic(ffs, tmpDir, target, []byte("never visible"), 0o644)
	require.Error(t, err)

	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err), "no file may appear under the final name")
}

func TestFaultyFS_SyncAndClose(t *testing.T) {
	dir := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("sync", Fault{FailAfterBytes: -1, FailOnSync: true})
	ffs.AddRule("close", Fault{FailAfterBytes: -1, FailOnClose: true})

	f, err := ffs.OpenFile(filepath.Join(dir, "sync.bin"), os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Sync(), ErrInjected)
	_ = f.Close()

	f, err = ffs.OpenFile(filepath.Join(dir, "close.bin"), os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Close(), ErrInjected)

	ffs.ClearRules()
	f, err = ffs.OpenFile(filepath.Join(dir, "sync.bin"), os.O_WRONLY, 0o644)
	require.NoError(t, err)
	assert.NoError(t, f.Sync())
	assert.NoError(t, f.Close())
}
