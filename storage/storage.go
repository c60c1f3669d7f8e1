package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/hupe1980/vecstore/blobstore"
	"github.com/hupe1980/vecstore/codec"
	"github.com/hupe1980/vecstore/compression"
	"github.com/hupe1980/vecstore/internal/cache"
	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/internal/lockfile"
	"github.com/hupe1980/vecstore/internal/resource"
	"github.com/hupe1980/vecstore/model"
)

// pageState is the in-memory view of one page file.
type pageState struct {
	num  int
	name string
	// ids lists every physical record in file order, live or dead.
	ids  []string
	size int64
}

// Storage persists entries in fixed-capacity JSON pages under one directory.
//
// Writers are serialized in-process by a mutex and across processes by a
// per-page lock file. Deletion is logical until CompactStorage.
type Storage struct {
	dir    string
	cfg    Config
	fsys   fs.FileSystem
	codec  codec.Codec
	logger *slog.Logger
	rc     *resource.Controller
	cache  cache.PageCache
	mirror blobstore.Store
	engine *compression.Engine

	writeMu sync.Mutex

	mu         sync.RWMutex
	pages      map[int]*pageState
	location   map[string]int // live id -> page
	tombstones map[string]int // deleted id -> page, until compaction
	corrupt    map[int]error  // pages that failed to load
	nextPage   int
	warnings   []string
	closed     bool

	ownLocks sync.Map // lock path -> struct{}
}

// Open loads or initializes the store in dir.
func Open(ctx context.Context, dir string, cfg Config, opts ...Option) (*Storage, error) {
	cfg.applyDefaults()

	o := options{
		fsys:   fs.Default,
		logger: slog.Default(),
		codec:  codec.Default,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cache == nil {
		if cfg.PageCacheBytes > 0 {
			o.cache = cache.NewLRU(cfg.PageCacheBytes, o.rc)
		} else {
			o.cache = cache.Nop{}
		}
	}

	s := &Storage{
		dir:    dir,
		cfg:    cfg,
		fsys:   o.fsys,
		codec:  o.codec,
		logger: o.logger,
		rc:     o.rc,
		cache:  o.cache,
		mirror: o.mirror,
	}

	for _, d := range []string{dir, s.TempDir(), s.BackupDir()} {
		if err := s.fsys.MkdirAll(d, 0o755); err != nil {
			return nil, wrap("mkdir", d, err)
		}
	}

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	if err := s.writeMarker(); err != nil {
		return nil, err
	}

	s.logger.Info("storage opened",
		"dir", dir,
		"pages", len(s.pages),
		"entries", len(s.location),
		"pending_deletions", len(s.tombstones),
	)
	return s, nil
}

// load (re)builds the in-memory state from the directory.
func (s *Storage) load(ctx context.Context) error {
	refs, err := s.loadReferences()
	if err != nil {
		return err
	}
	pool := compression.NewReferencePool(s.cfg.Compression.MaxReferenceVectors)
	pool.Restore(refs)
	engine, err := compression.NewEngine(s.cfg.Compression,
		compression.WithReferencePool(pool),
		compression.WithLogger(s.logger),
	)
	if err != nil {
		return err
	}

	tombstones, err := s.loadTombstones()
	if err != nil {
		return err
	}

	entries, err := s.fsys.ReadDir(s.dir)
	if err != nil {
		return wrap("readdir", s.dir, err)
	}

	pages := make(map[int]*pageState)
	location := make(map[string]int)
	corrupt := make(map[int]error)
	var warnings []string
	nextPage := 0

	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		n, gz, ok := ParsePageName(de.Name())
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		nextPage = max(nextPage, n+1)
		if prev, dup := pages[n]; dup {
			// Both variants present: keep the one matching the configuration.
			if gz != s.cfg.EnableCompression {
				warnings = append(warnings, fmt.Sprintf("ignoring %s: %s present", de.Name(), prev.name))
				continue
			}
			warnings = append(warnings, fmt.Sprintf("ignoring %s: %s present", prev.name, de.Name()))
			for _, id := range prev.ids {
				delete(location, id)
			}
		}

		path := filepath.Join(s.dir, de.Name())
		if s.lockedByOther(path) {
			return wrap("open", path, ErrLocked)
		}
		ps := &pageState{num: n, name: de.Name()}
		if info, err := de.Info(); err == nil {
			ps.size = info.Size()
		}
		records, err := s.readRecords(ps.name)
		if err != nil {
			corrupt[n] = err
			pages[n] = ps
			warnings = append(warnings, fmt.Sprintf("%s: %v", de.Name(), err))
			s.logger.Warn("skipping unreadable page", "page", de.Name(), "error", err)
			continue
		}
		for _, r := range records {
			ps.ids = append(ps.ids, r.ID)
			if page, dead := tombstones[r.ID]; dead && page == n {
				continue
			}
			if prevPage, exists := location[r.ID]; exists {
				warnings = append(warnings, fmt.Sprintf("entry %s stored in pages %d and %d", r.ID, prevPage, n))
				continue
			}
			location[r.ID] = n
		}
		pages[n] = ps
	}

	for id, n := range tombstones {
		if _, ok := pages[n]; !ok {
			delete(tombstones, id)
		}
	}

	s.mu.Lock()
	s.engine = engine
	s.pages = pages
	s.location = location
	s.tombstones = tombstones
	s.corrupt = corrupt
	s.nextPage = nextPage
	s.warnings = warnings
	s.mu.Unlock()
	return nil
}

// Dir returns the storage directory.
func (s *Storage) Dir() string { return s.dir }

// TempDir returns the directory used for atomic writes.
func (s *Storage) TempDir() string { return filepath.Join(s.dir, TempDirName) }

// BackupDir returns the directory holding backups.
func (s *Storage) BackupDir() string { return filepath.Join(s.dir, BackupDirName) }

// FS returns the file system the store writes through.
func (s *Storage) FS() fs.FileSystem { return s.fsys }

// Codec returns the JSON codec used for pages.
func (s *Storage) Codec() codec.Codec { return s.codec }

// Config returns the effective configuration.
func (s *Storage) Config() Config { return s.cfg }

// CompressionStats returns the vector encoder counters.
func (s *Storage) CompressionStats() compression.Stats {
	return s.currentEngine().Stats()
}

// CacheStats returns the page cache counters.
func (s *Storage) CacheStats() cache.Stats { return s.cache.Stats() }

// Warnings returns problems found while loading.
func (s *Storage) Warnings() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.warnings)
}

func (s *Storage) currentEngine() *compression.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

func (s *Storage) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// lockedByOther reports whether path carries a lock file this process does not own.
func (s *Storage) lockedByOther(path string) bool {
	if _, own := s.ownLocks.Load(lockfile.Path(path)); own {
		return false
	}
	return lockfile.IsHeld(s.fsys, path)
}

// readRecords reads and verifies a page, going through the page cache.
func (s *Storage) readRecords(name string) ([]record, error) {
	if entries, ok := s.cache.Get(name); ok {
		return s.decodeRecords(entries, -1)
	}
	path := filepath.Join(s.dir, name)
	data, err := s.fsys.ReadFile(path)
	if err != nil {
		return nil, wrap("read", path, err)
	}
	entries, count, err := s.decodePage(name, data)
	if err != nil {
		return nil, wrap("read", path, err)
	}
	records, err := s.decodeRecords(entries, count)
	if err != nil {
		return nil, wrap("read", path, err)
	}
	s.cache.Set(name, entries)
	return records, nil
}

// readPageRecords reads a page on behalf of a reader, failing fast if another
// writer holds its lock.
func (s *Storage) readPageRecords(name string) ([]record, error) {
	path := filepath.Join(s.dir, name)
	if s.lockedByOther(path) {
		return nil, wrap("read", path, ErrLocked)
	}
	return s.readRecords(name)
}

// writePage rewrites page ps under its lock file. mutate receives the current
// records (nil for a new page) and returns the new content.
func (s *Storage) writePage(ctx context.Context, ps *pageState, throttle bool, mutate func([]record) ([]record, error)) ([]record, error) {
	name := PageName(ps.num, s.cfg.EnableCompression)
	path := filepath.Join(s.dir, name)

	lock, err := lockfile.AcquireWait(ctx, s.fsys, path, s.cfg.LockTimeout, s.cfg.LockPollInterval)
	if err != nil {
		return nil, wrap("lock", path, err)
	}
	s.ownLocks.Store(lock.Path(), struct{}{})
	defer func() {
		s.ownLocks.Delete(lock.Path())
		if rerr := lock.Release(); rerr != nil {
			s.logger.Warn("failed to release page lock", "lock", lock.Path(), "error", rerr)
		}
	}()

	var current []record
	if ps.name != "" {
		if current, err = s.readRecords(ps.name); err != nil {
			return nil, err
		}
	}
	next, err := mutate(current)
	if err != nil {
		return nil, err
	}

	data, entries, err := s.encodePage(next)
	if err != nil {
		return nil, wrap("encode", path, err)
	}
	if throttle {
		if err := s.rc.AcquireIO(ctx, len(data)); err != nil {
			return nil, err
		}
	}
	if err := fs.WriteFileAtomic(s.fsys, s.TempDir(), path, data, 0o644); err != nil {
		s.cache.Remove(name)
		return nil, wrap("write", path, err)
	}

	if ps.name != "" && ps.name != name {
		s.cache.Remove(ps.name)
		if err := s.fsys.Remove(filepath.Join(s.dir, ps.name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove old page variant", "page", ps.name, "error", err)
		}
	}
	s.cache.Set(name, entries)

	s.mu.Lock()
	ps.name = name
	ps.size = int64(len(data))
	ps.ids = ps.ids[:0]
	for _, r := range next {
		ps.ids = append(ps.ids, r.ID)
	}
	s.mu.Unlock()

	s.logger.Debug("page written", "page", name, "records", len(next), "bytes", len(data))
	return next, nil
}

// StoreEntries validates, encodes and appends entries in the given order.
// It returns the stored ids.
func (s *Storage) StoreEntries(ctx context.Context, entries []*model.EmbeddingEntry) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(entries))
	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("%w: %s appears twice in batch", ErrAlreadyExists, e.ID)
		}
		seen[e.ID] = struct{}{}
		vectors[i] = e.Vector
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	for _, e := range entries {
		if _, exists := s.location[e.ID]; exists {
			s.mu.RUnlock()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, e.ID)
		}
	}
	engine := s.engine
	s.mu.RUnlock()

	if err := s.purgeDead(ctx, entries); err != nil {
		return nil, err
	}

	encoded, err := engine.CompressBatch(vectors)
	if err != nil {
		return nil, err
	}
	if err := s.persistReferences(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for off := 0; off < len(entries); {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		ps := s.targetPage()
		take := min(s.cfg.MaxEntriesPerFile-len(ps.ids), len(entries)-off)

		batch := make([]record, take)
		for i := range take {
			e := entries[off+i]
			batch[i] = record{ID: e.ID, Vector: encoded[off+i], Metadata: e.Metadata}
		}
		if _, err := s.writePage(ctx, ps, false, func(cur []record) ([]record, error) {
			return append(cur, batch...), nil
		}); err != nil {
			return ids, err
		}

		s.mu.Lock()
		s.pages[ps.num] = ps
		for _, r := range batch {
			s.location[r.ID] = ps.num
			ids = append(ids, r.ID)
		}
		s.mu.Unlock()
		off += take
	}
	return ids, nil
}

// purgeDead drops the dead records of tombstoned ids that are stored again,
// so a page never holds a dead and a live record under one id. Callers hold
// writeMu.
func (s *Storage) purgeDead(ctx context.Context, entries []*model.EmbeddingEntry) error {
	s.mu.RLock()
	byPage := make(map[int]map[string]struct{})
	for _, e := range entries {
		if n, dead := s.tombstones[e.ID]; dead {
			if byPage[n] == nil {
				byPage[n] = make(map[string]struct{})
			}
			byPage[n][e.ID] = struct{}{}
		}
	}
	s.mu.RUnlock()
	if len(byPage) == 0 {
		return nil
	}

	for _, n := range slices.Sorted(maps.Keys(byPage)) {
		s.mu.RLock()
		ps, ok := s.pages[n]
		_, bad := s.corrupt[n]
		s.mu.RUnlock()
		if ok && !bad {
			ids := byPage[n]
			if _, err := s.writePage(ctx, ps, false, func(cur []record) ([]record, error) {
				out := cur[:0]
				for _, r := range cur {
					if _, drop := ids[r.ID]; !drop {
						out = append(out, r)
					}
				}
				return out, nil
			}); err != nil {
				return err
			}
		}
		s.mu.Lock()
		for id := range byPage[n] {
			delete(s.tombstones, id)
		}
		s.mu.Unlock()
	}
	return s.persistTombstones()
}

// targetPage returns the last page if it has room, or a new page.
func (s *Storage) targetPage() *pageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.pages[s.nextPage-1]; ok && len(last.ids) < s.cfg.MaxEntriesPerFile {
		if _, bad := s.corrupt[last.num]; !bad {
			return last
		}
	}
	ps := &pageState{num: s.nextPage}
	s.nextPage++
	return ps
}

// UpdateEntry replaces the stored vector and metadata of an existing entry.
func (s *Storage) UpdateEntry(ctx context.Context, e *model.EmbeddingEntry) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	n, ok := s.location[e.ID]
	ps := s.pages[n]
	engine := s.engine
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, e.ID)
	}

	cv, err := engine.Compress(e.Vector)
	if err != nil {
		return err
	}
	if err := s.persistReferences(); err != nil {
		return err
	}

	_, err = s.writePage(ctx, ps, false, func(cur []record) ([]record, error) {
		for i := range cur {
			if cur[i].ID == e.ID {
				cur[i] = record{ID: e.ID, Vector: cv, Metadata: e.Metadata}
				return cur, nil
			}
		}
		return nil, wrap("update", ps.name, fmt.Errorf("%w: entry %s missing from page", ErrCorrupt, e.ID))
	})
	return err
}

// RetrieveEntry returns the entry with the given id, or ErrNotFound.
func (s *Storage) RetrieveEntry(ctx context.Context, id string) (*model.EmbeddingEntry, error) {
	out, err := s.RetrieveEntries(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return out[0], nil
}

// RetrieveEntries returns the entries for ids in input order. Unknown ids are skipped.
func (s *Storage) RetrieveEntries(ctx context.Context, ids []string) ([]*model.EmbeddingEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	byPage := make(map[int][]string)
	names := make(map[int]string)
	for _, id := range ids {
		n, ok := s.location[id]
		if !ok {
			continue
		}
		byPage[n] = append(byPage[n], id)
		names[n] = s.pages[n].name
	}
	s.mu.RUnlock()

	found := make(map[string]*model.EmbeddingEntry, len(ids))
	for _, n := range slices.Sorted(maps.Keys(byPage)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := s.readPageRecords(names[n])
		if err != nil {
			return nil, err
		}
		want := make(map[string]struct{}, len(byPage[n]))
		for _, id := range byPage[n] {
			want[id] = struct{}{}
		}
		for i := range records {
			if _, ok := want[records[i].ID]; !ok {
				continue
			}
			e, err := s.toEntry(&records[i])
			if err != nil {
				return nil, err
			}
			found[e.ID] = e
		}
		for id := range want {
			if _, ok := found[id]; !ok {
				return nil, wrap("retrieve", names[n], fmt.Errorf("%w: entry %s missing from page", ErrCorrupt, id))
			}
		}
	}

	out := make([]*model.EmbeddingEntry, 0, len(found))
	for _, id := range ids {
		if e, ok := found[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Storage) toEntry(r *record) (*model.EmbeddingEntry, error) {
	v, err := s.currentEngine().Decompress(r.Vector)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", r.ID, err)
	}
	return &model.EmbeddingEntry{ID: r.ID, Vector: v, Metadata: r.Metadata}, nil
}

// DeleteEntry removes id from the active set. It reports whether the id was live.
func (s *Storage) DeleteEntry(ctx context.Context, id string) (bool, error) {
	n, err := s.DeleteEntries(ctx, []string{id})
	return n == 1, err
}

// DeleteEntries removes ids from the active set and persists the tombstones
// once. It returns how many ids were live.
func (s *Storage) DeleteEntries(ctx context.Context, ids []string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	removed := make(map[string]int)
	for _, id := range ids {
		if n, ok := s.location[id]; ok {
			removed[id] = n
			delete(s.location, id)
			s.tombstones[id] = n
		}
	}
	s.mu.Unlock()

	if len(removed) == 0 {
		return 0, nil
	}
	if err := s.persistTombstones(); err != nil {
		s.mu.Lock()
		for id, n := range removed {
			s.location[id] = n
			delete(s.tombstones, id)
		}
		s.mu.Unlock()
		return 0, err
	}
	return len(removed), nil
}

// ListEntryIDs returns all live ids in page order.
func (s *Storage) ListEntryIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.location))
	for _, n := range slices.Sorted(maps.Keys(s.pages)) {
		for _, id := range s.pages[n].ids {
			if loc, ok := s.location[id]; ok && loc == n {
				out = append(out, id)
			}
		}
	}
	return out
}

// Contains reports whether id is live.
func (s *Storage) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.location[id]
	return ok
}

// Count returns the number of live entries.
func (s *Storage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.location)
}

// PendingDeletions returns the number of tombstoned records awaiting compaction.
func (s *Storage) PendingDeletions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tombstones)
}

// Close persists pending side files and releases any page lock this process
// still holds in the store directory. The store is unusable afterwards.
func (s *Storage) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return errors.Join(s.persistReferences(), lockfile.ReleaseAll(s.dir))
}
