package index

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/vecstore/codec"
	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/model"
)

// UpdateStats counts index mutations.
type UpdateStats struct {
	Indexed             uint64        `json:"indexed"`
	Removed             uint64        `json:"removed"`
	Rebuilds            uint64        `json:"rebuilds"`
	LastRebuild         time.Time     `json:"last_rebuild"`
	LastRebuildDuration time.Duration `json:"last_rebuild_duration"`
}

// Stats describes the index sizes.
type Stats struct {
	TotalEntries  int         `json:"total_entries"`
	FilePaths     int         `json:"file_paths"`
	Models        int         `json:"models"`
	ContentHashes int         `json:"content_hashes"`
	Chunks        int         `json:"chunks"`
	HourBuckets   int         `json:"hour_buckets"`
	MemoryBytes   uint64      `json:"memory_bytes"`
	Updates       UpdateStats `json:"updates"`
}

// Source supplies entries for a rebuild.
type Source interface {
	ListEntryIDs() []string
	RetrieveEntries(ctx context.Context, ids []string) ([]*model.EmbeddingEntry, error)
}

// Manager owns the live index generation.
type Manager struct {
	mu      sync.RWMutex
	st      *state
	updates UpdateStats

	fsys   fs.FileSystem
	codec  codec.Codec
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithFileSystem sets the file system for Save and Load.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.fsys = fsys
		}
	}
}

// WithCodec sets the JSON codec of the side file.
func WithCodec(c codec.Codec) Option {
	return func(m *Manager) {
		if c != nil {
			m.codec = c
		}
	}
}

// New creates an empty Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		st:     newState(),
		fsys:   fs.Default,
		codec:  codec.Default,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IndexEntry adds or re-indexes an entry.
func (m *Manager) IndexEntry(e *model.EmbeddingEntry) {
	m.Index(e.IndexMetadata())
}

// Index adds or re-indexes a metadata projection.
func (m *Manager) Index(md model.IndexMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.add(md)
	m.updates.Indexed++
}

// IndexEntries indexes entries in order under one lock.
func (m *Manager) IndexEntries(entries []*model.EmbeddingEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.st.add(e.IndexMetadata())
	}
	m.updates.Indexed += uint64(len(entries))
}

// RemoveEntry removes id from every index. It reports whether id was indexed.
func (m *Manager) RemoveEntry(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.st.remove(id) {
		return false
	}
	m.updates.Removed++
	return true
}

// Contains reports whether id is indexed.
func (m *Manager) Contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.st.ords[id]
	return ok
}

// Len returns the number of indexed entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.st.ords)
}

// Metadata returns the projection of id.
func (m *Manager) Metadata(id string) (model.IndexMetadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ord, ok := m.st.ords[id]
	if !ok {
		return model.IndexMetadata{}, false
	}
	return m.st.meta[ord], true
}

// All returns every projection ordered by CreatedAt then id.
func (m *Manager) All() []model.IndexMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Collect(maps.Values(m.st.meta))
	slices.SortFunc(out, compareCreated)
	return out
}

// IDs returns every indexed id ordered by CreatedAt then id.
func (m *Manager) IDs() []string {
	return ids(m.All())
}

// FindByFilePath returns the ids stored for path.
func (m *Manager) FindByFilePath(path string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ids(m.st.projections(m.st.byFile[path]))
}

// FilePaths returns every indexed file path, sorted.
func (m *Manager) FilePaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.st.byFile))
}

// FindByModelName returns the ids embedded with model.
func (m *Manager) FindByModelName(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ids(m.st.projections(m.st.byModel[name]))
}

// FindByContentHash returns the canonical id for hash: the entry with the
// earliest CreatedAt, ties broken by the smallest id.
func (m *Manager) FindByContentHash(hash string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mds := m.st.projections(m.st.byHash[hash])
	if len(mds) == 0 {
		return "", false
	}
	return mds[0].ID, true
}

// FindAllByContentHash returns every id with the given hash, canonical first.
func (m *Manager) FindAllByContentHash(hash string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ids(m.st.projections(m.st.byHash[hash]))
}

// FindByChunk returns the id stored for (filePath, chunkID). When several
// models embedded the chunk, the smallest model name wins.
func (m *Manager) FindByChunk(filePath, chunkID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bm, ok := m.st.byChunk[chunkKey{filePath, chunkID}]
	if !ok {
		return "", false
	}
	var best model.IndexMetadata
	found := false
	it := bm.Iterator()
	for it.HasNext() {
		md := m.st.meta[it.Next()]
		if !found || md.ModelName < best.ModelName || (md.ModelName == best.ModelName && md.ID < best.ID) {
			best, found = md, true
		}
	}
	return best.ID, found
}

// FindByChunkModel returns the id stored for (filePath, chunkID, modelName).
func (m *Manager) FindByChunkModel(filePath, chunkID, modelName string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bm, ok := m.st.byChunk[chunkKey{filePath, chunkID}]
	if !ok {
		return "", false
	}
	it := bm.Iterator()
	for it.HasNext() {
		if md := m.st.meta[it.Next()]; md.ModelName == modelName {
			return md.ID, true
		}
	}
	return "", false
}

// FindByTimestampRange returns the ids created within [start, end].
func (m *Manager) FindByTimestampRange(start, end time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ids(m.st.rangeQuery(start, end))
}

// Stats returns index sizes and update counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		TotalEntries:  len(m.st.ords),
		FilePaths:     len(m.st.byFile),
		Models:        len(m.st.byModel),
		ContentHashes: len(m.st.byHash),
		Chunks:        len(m.st.byChunk),
		HourBuckets:   len(m.st.byHour),
		MemoryBytes:   m.st.memoryBytes(),
		Updates:       m.updates,
	}
}

// Builder accumulates a new index generation off to the side.
// It is safe for concurrent use by rebuild workers.
type Builder struct {
	mu sync.Mutex
	st *state
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{st: newState()}
}

// Add indexes md into the builder.
func (b *Builder) Add(md model.IndexMetadata) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.st.add(md)
}

// AddEntries indexes entries into the builder.
func (b *Builder) AddEntries(entries []*model.EmbeddingEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		b.st.add(e.IndexMetadata())
	}
}

// Len returns the number of entries in the builder.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.st.ords)
}

// Swap atomically replaces the live indexes with the builder's content and
// records a rebuild that started at started.
func (m *Manager) Swap(b *Builder, started time.Time) {
	b.mu.Lock()
	st := b.st
	b.st = newState()
	b.mu.Unlock()

	m.mu.Lock()
	m.st = st
	m.updates.Rebuilds++
	m.updates.LastRebuild = time.Now().UTC()
	m.updates.LastRebuildDuration = time.Since(started)
	m.mu.Unlock()
}

// rebuildBatch is the number of ids fetched per storage round trip.
const rebuildBatch = 256

// RebuildAllIndexes clears every index and replays all entries from src. The
// live indexes are replaced only after the replay completed.
func (m *Manager) RebuildAllIndexes(ctx context.Context, src Source) error {
	start := time.Now()
	b := NewBuilder()
	all := src.ListEntryIDs()
	for off := 0; off < len(all); off += rebuildBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := src.RetrieveEntries(ctx, all[off:min(off+rebuildBatch, len(all))])
		if err != nil {
			return fmt.Errorf("rebuild indexes: %w", err)
		}
		b.AddEntries(entries)
	}
	m.Swap(b, start)
	m.logger.Info("indexes rebuilt", "entries", len(all), "duration", time.Since(start))
	return nil
}
