package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecstore/blobstore"
	"github.com/hupe1980/vecstore/compression"
	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/internal/lockfile"
	"github.com/hupe1980/vecstore/model"
	"github.com/hupe1980/vecstore/testutil"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxEntriesPerFile = 10
	cfg.LockTimeout = 50 * time.Millisecond
	cfg.LockPollInterval = 5 * time.Millisecond
	return cfg
}

func openTest(t *testing.T, dir string, cfg Config, opts ...Option) *Storage {
	t.Helper()
	s, err := Open(context.Background(), dir, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRetrieve(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(*Config)
	}{
		{"raw", func(*Config) {}},
		{"gzip", func(c *Config) { c.EnableCompression = true }},
		{"no checksums", func(c *Config) { c.EnableChecksums = false }},
		{"8bit", func(c *Config) { c.Compression.Algorithm = compression.Quantized8Bit }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig()
			tt.cfg(&cfg)
			s := openTest(t, t.TempDir(), cfg)

			entries := testutil.NewRNG(1).Entries(25, testutil.EntryOptions{Dimension: 16, Files: 5})
			ids, err := s.StoreEntries(ctx, entries)
			require.NoError(t, err)
			require.Len(t, ids, 25)
			assert.Equal(t, 25, s.Count())
			assert.Len(t, s.Pages(), 3)

			got, err := s.RetrieveEntry(ctx, entries[7].ID)
			require.NoError(t, err)
			assert.Equal(t, entries[7].Metadata.FilePath, got.Metadata.FilePath)
			assert.Equal(t, entries[7].Metadata.TextHash, got.Metadata.TextHash)
			if cfg.Compression.Algorithm == compression.None {
				assert.Equal(t, entries[7].Vector, got.Vector)
			} else {
				assert.LessOrEqual(t, testutil.MaxAbsDiff(entries[7].Vector, got.Vector), float32(0.01))
			}

			// Input order is preserved and unknown ids are skipped
			batch, err := s.RetrieveEntries(ctx, []string{entries[20].ID, "missing", entries[3].ID})
			require.NoError(t, err)
			require.Len(t, batch, 2)
			assert.Equal(t, entries[20].ID, batch[0].ID)
			assert.Equal(t, entries[3].ID, batch[1].ID)

			assert.Equal(t, ids, s.ListEntryIDs())
		})
	}
}

func TestStoreEntries_Rejects(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, t.TempDir(), testConfig())
	entries := testutil.NewRNG(2).Entries(3, testutil.EntryOptions{Dimension: 4})

	// 1. Invalid entry rejects the whole batch
	bad := entries[2].Clone()
	bad.Vector = nil
	_, err := s.StoreEntries(ctx, []*model.EmbeddingEntry{entries[0], bad})
	require.ErrorIs(t, err, ErrInvalidEntry)
	assert.Equal(t, 0, s.Count())

	// 2. Duplicate ids
	_, err = s.StoreEntries(ctx, entries[:2])
	require.NoError(t, err)
	_, err = s.StoreEntries(ctx, entries[1:2])
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestDeleteThenRetrieveAndCompact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openTest(t, dir, testConfig())

	entries := testutil.NewRNG(3).Entries(15, testutil.EntryOptions{Dimension: 8})
	_, err := s.StoreEntries(ctx, entries)
	require.NoError(t, err)

	// 1. Delete is logical
	victim := entries[4].ID
	ok, err := s.DeleteEntry(ctx, victim)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.RetrieveEntry(ctx, victim)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotContains(t, s.ListEntryIDs(), victim)
	assert.Equal(t, 1, s.PendingDeletions())

	ok, err = s.DeleteEntry(ctx, victim)
	require.NoError(t, err)
	assert.False(t, ok)

	raw, err := os.ReadFile(filepath.Join(dir, PageName(0, false)))
	require.NoError(t, err)
	assert.True(t, bytes.Contains(raw, []byte(victim)), "record stays until compaction")

	// 2. Tombstones survive a restart
	require.NoError(t, s.Close())
	s = openTest(t, dir, testConfig())
	_, err = s.RetrieveEntry(ctx, victim)
	assert.ErrorIs(t, err, ErrNotFound)

	// 3. Delete every entry of page 1 so it disappears entirely
	var page1 []string
	for _, e := range entries[10:] {
		page1 = append(page1, e.ID)
	}
	n, err := s.DeleteEntries(ctx, page1)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	res, err := s.CompactStorage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesRemoved)
	assert.Equal(t, 1, res.FilesCompacted)
	assert.Equal(t, 6, res.EntriesRemoved)
	assert.Positive(t, res.BytesReclaimed)
	assert.Equal(t, 0, s.PendingDeletions())

	raw, err = os.ReadFile(filepath.Join(dir, PageName(0, false)))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte(victim)), "compaction removes the record")
	_, err = os.Stat(filepath.Join(dir, PageName(1, false)))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 9, s.Count())

	rep, err := s.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Valid, "%v", rep.Errors)
}

func TestStoreAgainAfterDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openTest(t, dir, testConfig())

	entries := testutil.NewRNG(11).Entries(3, testutil.EntryOptions{Dimension: 4})
	_, err := s.StoreEntries(ctx, entries)
	require.NoError(t, err)
	e := entries[1]

	// 1. Delete and store the same id again, twice, so the dead and live
	// records would share a page
	for range 2 {
		ok, err := s.DeleteEntry(ctx, e.ID)
		require.NoError(t, err)
		require.True(t, ok)
		_, err = s.StoreEntries(ctx, []*model.EmbeddingEntry{e.Clone()})
		require.NoError(t, err)
	}
	assert.Zero(t, s.PendingDeletions())
	raw, err := os.ReadFile(filepath.Join(dir, PageName(0, false)))
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(raw, []byte(e.ID)))

	// 2. The entry survives a restart
	require.NoError(t, s.Close())
	s = openTest(t, dir, testConfig())
	assert.Equal(t, 3, s.Count())
	got, err := s.RetrieveEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Vector, got.Vector)

	rep, err := s.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Valid, "%v", rep.Errors)
}

func TestAtomicity_TornWriteKeepsPage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	s := openTest(t, dir, testConfig(), WithFileSystem(ffs))

	entries := testutil.NewRNG(4).Entries(8, testutil.EntryOptions{Dimension: 8})
	_, err := s.StoreEntries(ctx, entries[:5])
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(dir, PageName(0, false)))
	require.NoError(t, err)

	// 1. Torn temp file: the page keeps its previous content
	ffs.AddRule(".tmp", fs.Fault{FailAfterBytes: 64})
	_, err = s.StoreEntries(ctx, entries[5:])
	require.ErrorIs(t, err, fs.ErrInjected)

	after, err := os.ReadFile(filepath.Join(dir, PageName(0, false)))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 5, s.Count())

	// 2. The lock was released
	assert.False(t, lockfile.IsHeld(nil, filepath.Join(dir, PageName(0, false))))

	// 3. A reopened store sees a consistent page
	ffs.ClearRules()
	require.NoError(t, s.Close())
	s = openTest(t, dir, testConfig())
	assert.Equal(t, 5, s.Count())
	rep, err := s.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Valid)
}

func TestAtomicity_CrashBeforeRename(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(PageName(0, false), fs.Fault{FailAfterBytes: -1, FailOnRename: true})
	s := openTest(t, dir, testConfig(), WithFileSystem(ffs))

	_, err := s.StoreEntries(ctx, testutil.NewRNG(5).Entries(3, testutil.EntryOptions{Dimension: 4}))
	require.Error(t, err)

	_, err = os.Stat(filepath.Join(dir, PageName(0, false)))
	assert.True(t, os.IsNotExist(err), "no page may appear under its final name")
	assert.Equal(t, 0, s.Count())
}

func TestForeignLock(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openTest(t, dir, testConfig())

	entries := testutil.NewRNG(6).Entries(3, testutil.EntryOptions{Dimension: 4})
	_, err := s.StoreEntries(ctx, entries[:2])
	require.NoError(t, err)

	lock, err := lockfile.Acquire(nil, filepath.Join(dir, PageName(0, false)))
	require.NoError(t, err)

	// 1. Readers fail fast
	_, err = s.RetrieveEntry(ctx, entries[0].ID)
	assert.ErrorIs(t, err, ErrLocked)

	// 2. Writers give up after the lock timeout
	_, err = s.StoreEntries(ctx, entries[2:])
	assert.ErrorIs(t, err, ErrLocked)

	// 3. Storage never clears the lock itself
	assert.True(t, lockfile.IsHeld(nil, filepath.Join(dir, PageName(0, false))))

	require.NoError(t, lock.Release())
	_, err = s.StoreEntries(ctx, entries[2:])
	require.NoError(t, err)
}

func TestCloseReleasesHeldLocks(t *testing.T) {
	dir := t.TempDir()
	s := openTest(t, dir, testConfig())

	inside := filepath.Join(dir, PageName(3, false))
	outside := filepath.Join(t.TempDir(), PageName(3, false))
	_, err := lockfile.Acquire(nil, inside)
	require.NoError(t, err)
	other, err := lockfile.Acquire(nil, outside)
	require.NoError(t, err)
	defer other.Release()

	require.NoError(t, s.Close())
	assert.False(t, lockfile.IsHeld(nil, inside))
	assert.True(t, lockfile.IsHeld(nil, outside))
}

func TestUpdateEntry(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, t.TempDir(), testConfig())

	entries := testutil.NewRNG(7).Entries(3, testutil.EntryOptions{Dimension: 4})
	_, err := s.StoreEntries(ctx, entries)
	require.NoError(t, err)

	upd := entries[1].Clone()
	upd.Vector = []float32{9, 9, 9, 9}
	require.NoError(t, s.UpdateEntry(ctx, upd))

	got, err := s.RetrieveEntry(ctx, upd.ID)
	require.NoError(t, err)
	assert.Equal(t, upd.Vector, got.Vector)

	missing := upd.Clone()
	missing.ID = model.NewID()
	assert.ErrorIs(t, s.UpdateEntry(ctx, missing), ErrNotFound)
}

func TestDeltaReferencesSurviveRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Compression.Algorithm = compression.DeltaQuantized

	s := openTest(t, dir, cfg)
	rng := testutil.NewRNG(8)
	entries := rng.Entries(12, testutil.EntryOptions{Dimension: 32})
	for i, v := range rng.ClusteredVectors(12, 32, 2, 0.01) {
		entries[i].Vector = v
	}
	_, err := s.StoreEntries(ctx, entries)
	require.NoError(t, err)
	assert.Positive(t, s.CompressionStats().DeltaVectors)
	require.NoError(t, s.Close())

	s = openTest(t, dir, cfg)
	for _, e := range entries {
		got, err := s.RetrieveEntry(ctx, e.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, testutil.MaxAbsDiff(e.Vector, got.Vector), float32(0.01))
	}
}

func TestCorruptPageDetected(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openTest(t, dir, testConfig())

	_, err := s.StoreEntries(ctx, testutil.NewRNG(9).Entries(12, testutil.EntryOptions{Dimension: 4}))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	path := filepath.Join(dir, PageName(1, false))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw = bytes.Replace(raw, []byte("chunk_"), []byte("chunk-"), 1)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	s = openTest(t, dir, testConfig())
	assert.NotEmpty(t, s.Warnings())
	assert.Equal(t, 10, s.Count())

	rep, err := s.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Valid)
	assert.Equal(t, []string{PageName(1, false)}, rep.CorruptedFiles)

	_, err = s.ReadPage(ctx, 1)
	assert.ErrorIs(t, err, ErrCorrupt)

	m, ok, err := s.ReadMarker()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, m.IsInitialized)
	assert.Equal(t, 2, m.ExistingFiles)
	assert.NotEmpty(t, m.Warnings)
}

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mirror := blobstore.NewMemoryStore()
	s := openTest(t, dir, testConfig(), WithBackupMirror(mirror))

	entries := testutil.NewRNG(10).Entries(6, testutil.EntryOptions{Dimension: 4})
	_, err := s.StoreEntries(ctx, entries[:4])
	require.NoError(t, err)

	// 1. Backup is mirrored
	b, err := s.CreateBackup(ctx)
	require.NoError(t, err)
	assert.True(t, b.Mirrored)
	names, err := mirror.List(ctx, b.Name+"/")
	require.NoError(t, err)
	assert.Contains(t, names, b.Name+"/"+PageName(0, false))

	backups, err := s.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, b.Name, backups[0].Name)

	// 2. Diverge, then restore
	_, err = s.StoreEntries(ctx, entries[4:])
	require.NoError(t, err)
	_, err = s.DeleteEntry(ctx, entries[0].ID)
	require.NoError(t, err)

	require.NoError(t, s.RestoreBackup(ctx, b.Name))
	assert.Equal(t, 4, s.Count())
	_, err = s.RetrieveEntry(ctx, entries[0].ID)
	require.NoError(t, err)
	_, err = s.RetrieveEntry(ctx, entries[5].ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.RestoreBackup(ctx, "backup_nope"), ErrBackupNotFound)
}

func TestFileMetrics(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.EnableCompression = true
	s := openTest(t, t.TempDir(), cfg)

	_, err := s.StoreEntries(ctx, testutil.NewRNG(11).Entries(25, testutil.EntryOptions{Dimension: 8}))
	require.NoError(t, err)

	m, err := s.FileMetrics()
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalFiles)
	assert.Equal(t, 3, m.CompressedFiles)
	assert.Equal(t, 25, m.TotalEntries)
	assert.Positive(t, m.TotalSizeBytes)
	assert.GreaterOrEqual(t, m.LargestFileBytes, m.AverageFileSize)
}

func TestPageNames(t *testing.T) {
	n, gz, ok := ParsePageName("vector_12.json.gz")
	require.True(t, ok)
	assert.Equal(t, 12, n)
	assert.True(t, gz)

	_, _, ok = ParsePageName("vector_12.json.lock")
	assert.False(t, ok)
	assert.Equal(t, "vector_3.json", PageName(3, false))
}
