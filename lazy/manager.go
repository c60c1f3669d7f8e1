package lazy

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/vecstore/codec"
	"github.com/hupe1980/vecstore/index"
	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/internal/resource"
	"github.com/hupe1980/vecstore/internal/workerpool"
	"github.com/hupe1980/vecstore/model"
)

// Loader fetches entries from storage. Missing ids are skipped.
type Loader interface {
	RetrieveEntries(ctx context.Context, ids []string) ([]*model.EmbeddingEntry, error)
}

// IDLister supplies the initial id order.
type IDLister interface {
	IDs() []string
}

type chunkState uint8

const (
	stateUnloaded chunkState = iota
	stateLoading
	stateLoaded
)

func (s chunkState) String() string {
	switch s {
	case stateLoading:
		return "loading"
	case stateLoaded:
		return "loaded"
	default:
		return "unloaded"
	}
}

type chunk struct {
	id         int
	ids        []string
	state      chunkState
	version    uint64
	entries    map[string]*model.EmbeddingEntry
	bytes      int64
	lastAccess time.Time
	accesses   uint64
}

// ChunkInfo describes one chunk.
type ChunkInfo struct {
	ID         int       `json:"id"`
	Entries    int       `json:"entries"`
	State      string    `json:"state"`
	Bytes      int64     `json:"bytes"`
	LastAccess time.Time `json:"last_access"`
	Accesses   uint64    `json:"accesses"`
}

// Stats reports cache effectiveness and memory usage.
type Stats struct {
	TotalChunks     int     `json:"total_chunks"`
	LoadedChunks    int     `json:"loaded_chunks"`
	TotalEntries    int     `json:"total_entries"`
	LoadedEntries   int     `json:"loaded_entries"`
	MemoryBytes     int64   `json:"memory_bytes"`
	MemoryLimit     int64   `json:"memory_limit"`
	Hits            uint64  `json:"hits"`
	Misses          uint64  `json:"misses"`
	Loads           uint64  `json:"loads"`
	Evictions       uint64  `json:"evictions"`
	Prefetches      uint64  `json:"prefetches"`
	PrefetchDropped uint64  `json:"prefetch_dropped"`
	HitRate         float64 `json:"hit_rate"`
}

// Manager serves embeddings from resident chunks and loads missing chunks
// from a Loader.
type Manager struct {
	mu          sync.Mutex
	cfg         Config
	limit       int64
	loader      Loader
	chunks      []*chunk
	where       map[string]int
	used        int64
	gen         uint64
	last        int
	transitions map[int]map[int]uint64

	hits, misses, loads, evictions uint64
	prefetches, prefetchDropped    atomic.Uint64

	sf     singleflight.Group
	pool   *workerpool.Pool
	closed atomic.Bool

	rc     *resource.Controller
	fsys   fs.FileSystem
	codec  codec.Codec
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Manager with an empty partition. Call Init, InitFromIndex or
// InitFromIndexFile before reading.
func New(loader Loader, cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:         cfg,
		limit:       int64(cfg.MaxMemoryMB) << 20,
		loader:      loader,
		where:       make(map[string]int),
		last:        -1,
		transitions: make(map[int]map[int]uint64),
		fsys:        fs.Default,
		codec:       codec.Default,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.PrefetchAhead > 0 {
		m.pool = workerpool.New(cfg.PrefetchWorkers, cfg.PrefetchWorkers*cfg.PrefetchAhead*2)
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Init partitions ids into chunks of ChunkSize, dropping every loaded chunk
// and the learned access pattern.
func (m *Manager) Init(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unloadAll()
	m.gen++
	m.chunks = nil
	m.where = make(map[string]int, len(ids))
	m.transitions = make(map[int]map[int]uint64)
	m.last = -1
	for _, id := range ids {
		m.assign(id)
	}
	m.logger.Debug("lazy loader initialized", "entries", len(m.where), "chunks", len(m.chunks), "chunk_size", m.cfg.ChunkSize)
}

// InitFromIndex partitions the ids of src in its order.
func (m *Manager) InitFromIndex(src IDLister) {
	m.Init(src.IDs())
}

// InitFromIndexFile partitions the ids recorded in the index side file at path.
func (m *Manager) InitFromIndexFile(path string) error {
	ids, err := index.ReadIDs(m.fsys, m.codec, path)
	if errors.Is(err, index.ErrNoSideFile) {
		return fmt.Errorf("%w: %s", ErrIndexFileNotFound, path)
	}
	if err != nil {
		return err
	}
	m.Init(ids)
	return nil
}

// Assign appends ids created after initialization to the tail chunk.
// Already assigned ids keep their chunk.
func (m *Manager) Assign(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.assign(id)
	}
}

func (m *Manager) assign(id string) {
	if _, ok := m.where[id]; ok {
		return
	}
	n := len(m.chunks)
	if n == 0 || len(m.chunks[n-1].ids) >= m.cfg.ChunkSize {
		m.chunks = append(m.chunks, &chunk{id: n})
		n++
	}
	tail := m.chunks[n-1]
	tail.ids = append(tail.ids, id)
	tail.version++
	m.where[id] = tail.id
}

// Invalidate drops the resident copies of ids so the next read goes to
// storage. Chunk membership is unchanged.
func (m *Manager) Invalidate(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if c := m.chunkOf(id); c != nil {
			m.dropEntry(c, id)
			c.version++
		}
	}
}

// Remove forgets ids entirely, for deleted entries.
func (m *Manager) Remove(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		c := m.chunkOf(id)
		if c == nil {
			continue
		}
		m.dropEntry(c, id)
		c.ids = slices.DeleteFunc(c.ids, func(x string) bool { return x == id })
		c.version++
		delete(m.where, id)
	}
}

func (m *Manager) chunkOf(id string) *chunk {
	cid, ok := m.where[id]
	if !ok {
		return nil
	}
	return m.chunks[cid]
}

func (m *Manager) dropEntry(c *chunk, id string) {
	e, ok := c.entries[id]
	if !ok {
		return
	}
	size := e.SizeBytes()
	delete(c.entries, id)
	c.bytes -= size
	m.used -= size
	m.rc.UntrackMemory(size)
}

// LoadChunk makes chunk id resident. Concurrent calls for the same chunk share
// one storage read.
func (m *Manager) LoadChunk(ctx context.Context, id int) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.mu.Lock()
	if id < 0 || id >= len(m.chunks) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidChunkID, id)
	}
	c := m.chunks[id]
	key := strconv.FormatUint(m.gen, 10) + "/" + strconv.Itoa(id)
	loaded := c.state == stateLoaded
	m.mu.Unlock()
	if loaded {
		return nil
	}

	_, err, _ := m.sf.Do(key, func() (any, error) {
		return nil, m.load(ctx, c)
	})
	return err
}

func (m *Manager) load(ctx context.Context, c *chunk) error {
	m.mu.Lock()
	if c.state == stateLoaded {
		m.mu.Unlock()
		return nil
	}
	c.state = stateLoading
	ids := slices.Clone(c.ids)
	version := c.version
	m.mu.Unlock()

	start := m.now()
	entries, err := m.loader.RetrieveEntries(ctx, ids)

	m.mu.Lock()
	defer m.mu.Unlock()
	if c.state == stateLoading {
		c.state = stateUnloaded
	}
	if err != nil {
		return fmt.Errorf("load chunk %d: %w", c.id, err)
	}
	if !m.current(c) || c.version != version {
		// Membership or contents changed during the read.
		m.logger.Debug("discarding stale chunk load", "chunk", c.id)
		return nil
	}

	loaded := make(map[string]*model.EmbeddingEntry, len(entries))
	var bytes int64
	for _, e := range entries {
		if cid, ok := m.where[e.ID]; ok && cid == c.id {
			loaded[e.ID] = e
			bytes += e.SizeBytes()
		}
	}
	c.entries = loaded
	c.bytes = bytes
	c.state = stateLoaded
	c.lastAccess = m.now()
	m.used += bytes
	m.rc.TrackMemory(bytes)
	m.loads++
	m.enforceLimit(c)

	m.logger.Debug("chunk loaded", "chunk", c.id, "entries", len(loaded), "bytes", bytes, "duration", m.now().Sub(start))
	return nil
}

func (m *Manager) current(c *chunk) bool {
	return c.id < len(m.chunks) && m.chunks[c.id] == c
}

// enforceLimit evicts least recently accessed loaded chunks other than keep
// until usage fits the ceiling.
func (m *Manager) enforceLimit(keep *chunk) {
	for m.used > m.limit {
		var victim *chunk
		for _, c := range m.chunks {
			if c == keep || c.state != stateLoaded {
				continue
			}
			if victim == nil || c.lastAccess.Before(victim.lastAccess) {
				victim = c
			}
		}
		if victim == nil {
			return
		}
		m.evict(victim)
	}
}

func (m *Manager) evict(c *chunk) {
	m.used -= c.bytes
	m.rc.UntrackMemory(c.bytes)
	c.entries = nil
	c.bytes = 0
	c.state = stateUnloaded
	m.evictions++
}

func (m *Manager) unloadAll() {
	for _, c := range m.chunks {
		if c.state == stateLoaded {
			m.evict(c)
		}
	}
}

// GetEmbedding returns a copy of the entry with id, loading its chunk if
// needed. Unknown ids return ErrNotFound.
func (m *Manager) GetEmbedding(ctx context.Context, id string) (*model.EmbeddingEntry, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	m.mu.Lock()
	cid, ok := m.where[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c := m.chunks[cid]
	m.access(c)
	if c.state == stateLoaded {
		if e, ok := c.entries[id]; ok {
			m.hits++
			next := m.successors(cid)
			m.mu.Unlock()
			m.prefetch(next)
			return e.Clone(), nil
		}
	}
	m.misses++
	resident := c.state == stateLoaded
	m.mu.Unlock()

	if !resident {
		if err := m.LoadChunk(ctx, cid); err != nil {
			return nil, err
		}
		m.mu.Lock()
		if e, ok := c.entries[id]; ok && c.state == stateLoaded {
			m.mu.Unlock()
			return e.Clone(), nil
		}
		m.mu.Unlock()
	}
	return m.fetchOne(ctx, c, id)
}

// fetchOne reads a single entry that its chunk does not hold, for example one
// assigned after the chunk was loaded.
func (m *Manager) fetchOne(ctx context.Context, c *chunk, id string) (*model.EmbeddingEntry, error) {
	m.mu.Lock()
	version := c.version
	m.mu.Unlock()

	entries, err := m.loader.RetrieveEntries(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e := entries[0]

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current(c) && c.state == stateLoaded && c.version == version && m.where[id] == c.id {
		if _, ok := c.entries[id]; !ok {
			size := e.SizeBytes()
			c.entries[id] = e
			c.bytes += size
			m.used += size
			m.rc.TrackMemory(size)
			m.enforceLimit(c)
		}
	}
	return e.Clone(), nil
}

// GetEmbeddings returns the entries for ids in input order. Unknown ids are
// skipped.
func (m *Manager) GetEmbeddings(ctx context.Context, ids []string) ([]*model.EmbeddingEntry, error) {
	out := make([]*model.EmbeddingEntry, 0, len(ids))
	for _, id := range ids {
		e, err := m.GetEmbedding(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Manager) access(c *chunk) {
	c.lastAccess = m.now()
	c.accesses++
	if !m.cfg.EnableAccessLearning {
		return
	}
	if m.last >= 0 && m.last != c.id {
		next := m.transitions[m.last]
		if next == nil {
			next = make(map[int]uint64)
			m.transitions[m.last] = next
		}
		next[c.id]++
	}
	m.last = c.id
}

// successors returns up to PrefetchAhead unloaded chunks that most often
// followed cid.
func (m *Manager) successors(cid int) []int {
	if m.pool == nil || !m.cfg.EnableAccessLearning {
		return nil
	}
	next := m.transitions[cid]
	if len(next) == 0 {
		return nil
	}
	type cand struct {
		id    int
		count uint64
	}
	cands := make([]cand, 0, len(next))
	for id, n := range next {
		if id < len(m.chunks) && m.chunks[id].state == stateUnloaded {
			cands = append(cands, cand{id, n})
		}
	}
	slices.SortFunc(cands, func(a, b cand) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	out := make([]int, 0, min(len(cands), m.cfg.PrefetchAhead))
	for _, c := range cands[:min(len(cands), m.cfg.PrefetchAhead)] {
		out = append(out, c.id)
	}
	return out
}

func (m *Manager) prefetch(ids []int) {
	for _, id := range ids {
		ok := m.pool.TrySubmit(func() {
			if err := m.LoadChunk(context.Background(), id); err != nil && !errors.Is(err, ErrClosed) {
				m.logger.Warn("prefetch failed", "chunk", id, "error", err)
			}
		})
		if ok {
			m.prefetches.Add(1)
		} else {
			m.prefetchDropped.Add(1)
		}
	}
}

// Preload loads the given chunks in order. It returns ErrMemoryLimitExceeded
// when a later chunk evicted an earlier one from the same call.
func (m *Manager) Preload(ctx context.Context, ids ...int) error {
	for i, id := range ids {
		if err := m.LoadChunk(ctx, id); err != nil {
			return err
		}
		m.mu.Lock()
		for _, prev := range ids[:i] {
			if m.chunks[prev].state != stateLoaded {
				m.mu.Unlock()
				return fmt.Errorf("%w: preloading chunk %d evicted chunk %d", ErrMemoryLimitExceeded, id, prev)
			}
		}
		m.mu.Unlock()
	}
	return nil
}

// EvictChunk unloads chunk id. Evicting an unloaded chunk is a no-op.
func (m *Manager) EvictChunk(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id >= len(m.chunks) {
		return fmt.Errorf("%w: %d", ErrInvalidChunkID, id)
	}
	if c := m.chunks[id]; c.state == stateLoaded {
		m.evict(c)
	}
	return nil
}

// EvictExpired unloads every chunk not accessed within the TTL and returns
// the number of chunks evicted.
func (m *Manager) EvictExpired() int {
	if m.cfg.TTL <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.cfg.TTL)
	n := 0
	for _, c := range m.chunks {
		if c.state == stateLoaded && c.lastAccess.Before(cutoff) {
			m.evict(c)
			n++
		}
	}
	if n > 0 {
		m.logger.Debug("expired chunks evicted", "chunks", n, "ttl", m.cfg.TTL)
	}
	return n
}

// ClearAll unloads every chunk and forgets the learned access pattern.
// Chunk membership is kept.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloadAll()
	m.transitions = make(map[int]map[int]uint64)
	m.last = -1
}

// Chunks describes every chunk in partition order.
func (m *Manager) Chunks() []ChunkInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChunkInfo, len(m.chunks))
	for i, c := range m.chunks {
		out[i] = ChunkInfo{
			ID:         c.id,
			Entries:    len(c.ids),
			State:      c.state.String(),
			Bytes:      c.bytes,
			LastAccess: c.lastAccess,
			Accesses:   c.accesses,
		}
	}
	return out
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		TotalChunks:     len(m.chunks),
		TotalEntries:    len(m.where),
		MemoryBytes:     m.used,
		MemoryLimit:     m.limit,
		Hits:            m.hits,
		Misses:          m.misses,
		Loads:           m.loads,
		Evictions:       m.evictions,
		Prefetches:      m.prefetches.Load(),
		PrefetchDropped: m.prefetchDropped.Load(),
	}
	for _, c := range m.chunks {
		if c.state == stateLoaded {
			s.LoadedChunks++
			s.LoadedEntries += len(c.entries)
		}
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close stops background prefetching and unloads every chunk.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.pool != nil {
		m.pool.Close()
	}
	m.ClearAll()
	return nil
}
