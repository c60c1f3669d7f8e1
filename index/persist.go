package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/vecstore/codec"
	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/model"
)

// FileName is the side file holding the persisted projection.
const FileName = "index.json.zst"

const snapshotVersion = 1

var (
	// ErrNoSideFile is returned by Load when the side file does not exist.
	ErrNoSideFile = errors.New("index side file not found")
	// ErrCorruptSideFile is returned by Load when the side file cannot be decoded.
	ErrCorruptSideFile = errors.New("index side file corrupt")
	// ErrStaleSideFile is returned by Load when the side file disagrees with storage.
	ErrStaleSideFile = errors.New("index side file stale")
)

type snapshot struct {
	Version int                   `json:"version"`
	Count   int                   `json:"count"`
	SavedAt time.Time             `json:"saved_at"`
	Entries []model.IndexMetadata `json:"entries"`
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Save writes the projection to path atomically, staging in tmpDir.
func (m *Manager) Save(path, tmpDir string) error {
	all := m.All()
	snap := snapshot{Version: snapshotVersion, Count: len(all), SavedAt: time.Now().UTC(), Entries: all}
	data, err := m.codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	compressed := encoder.EncodeAll(data, make([]byte, 0, len(data)/4))
	if err := fs.WriteFileAtomic(m.fsys, tmpDir, path, compressed, 0o644); err != nil {
		return fmt.Errorf("save index %s: %w", path, err)
	}
	m.logger.Debug("index saved", "path", path, "entries", len(all), "bytes", len(compressed))
	return nil
}

// Load replaces the live indexes with the side file at path. liveIDs is the
// authoritative id set from storage: a side file with a different count or an
// unknown id is rejected with ErrStaleSideFile and the live indexes are left
// untouched.
func (m *Manager) Load(path string, liveIDs []string) error {
	start := time.Now()
	snap, err := readSnapshot(m.fsys, m.codec, path)
	if err != nil {
		return err
	}
	if snap.Count != len(liveIDs) {
		return fmt.Errorf("%w: %d indexed, %d stored", ErrStaleSideFile, snap.Count, len(liveIDs))
	}
	live := make(map[string]struct{}, len(liveIDs))
	for _, id := range liveIDs {
		live[id] = struct{}{}
	}

	b := NewBuilder()
	for _, md := range snap.Entries {
		if _, ok := live[md.ID]; !ok {
			return fmt.Errorf("%w: entry %s not in storage", ErrStaleSideFile, md.ID)
		}
		b.Add(md)
	}
	if b.Len() != len(liveIDs) {
		return fmt.Errorf("%w: duplicate ids in side file", ErrStaleSideFile)
	}

	m.mu.Lock()
	m.st = b.st
	m.mu.Unlock()

	m.logger.Debug("index loaded", "path", path, "entries", snap.Count, "duration", time.Since(start))
	return nil
}

func readSnapshot(fsys fs.FileSystem, c codec.Codec, path string) (snapshot, error) {
	var snap snapshot
	raw, err := fsys.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, ErrNoSideFile
	}
	if err != nil {
		return snap, fmt.Errorf("load index %s: %w", path, err)
	}
	data, err := decoder.DecodeAll(raw, nil)
	if err != nil {
		return snap, fmt.Errorf("%w: %w", ErrCorruptSideFile, err)
	}
	if err := c.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("%w: %w", ErrCorruptSideFile, err)
	}
	if snap.Version != snapshotVersion || snap.Count != len(snap.Entries) {
		return snap, fmt.Errorf("%w: version %d, header count %d, %d entries", ErrCorruptSideFile, snap.Version, snap.Count, len(snap.Entries))
	}
	return snap, nil
}

// ReadIDs returns the ids recorded in the side file at path, ordered by
// CreatedAt then id, without validating them against storage.
func ReadIDs(fsys fs.FileSystem, c codec.Codec, path string) ([]string, error) {
	snap, err := readSnapshot(fsys, c, path)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(snap.Entries, compareCreated)
	return ids(snap.Entries), nil
}

// LoadOrRebuild loads the side file at path and falls back to a full rebuild
// from src when it is missing, corrupt or stale. It reports whether the side
// file was used.
func (m *Manager) LoadOrRebuild(ctx context.Context, path string, src Source) (bool, error) {
	err := m.Load(path, src.ListEntryIDs())
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrNoSideFile) {
		m.logger.Warn("index side file rejected, rebuilding", "path", path, "error", err)
	}
	return false, m.RebuildAllIndexes(ctx, src)
}
