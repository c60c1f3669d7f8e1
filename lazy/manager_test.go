package lazy

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecstore/index"
	"github.com/hupe1980/vecstore/model"
	"github.com/hupe1980/vecstore/testutil"
)

type fakeLoader struct {
	mu      sync.Mutex
	entries map[string]*model.EmbeddingEntry
	calls   atomic.Int64
	gate    chan struct{}
	err     error
}

func newFakeLoader(entries []*model.EmbeddingEntry) *fakeLoader {
	l := &fakeLoader{entries: map[string]*model.EmbeddingEntry{}}
	for _, e := range entries {
		l.entries[e.ID] = e
	}
	return l
}

func (l *fakeLoader) RetrieveEntries(ctx context.Context, ids []string) ([]*model.EmbeddingEntry, error) {
	l.calls.Add(1)
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*model.EmbeddingEntry
	for _, id := range ids {
		if e, ok := l.entries[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (l *fakeLoader) put(e *model.EmbeddingEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[e.ID] = e
}

func ids(entries []*model.EmbeddingEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestGetEmbedding(t *testing.T) {
	ctx := context.Background()
	entries := testutil.NewRNG(1).Entries(25, testutil.EntryOptions{Dimension: 8})
	loader := newFakeLoader(entries)
	m := New(loader, Config{ChunkSize: 10})
	defer m.Close()
	m.Init(ids(entries))

	st := m.Stats()
	assert.Equal(t, 3, st.TotalChunks)
	assert.Equal(t, 25, st.TotalEntries)
	assert.Zero(t, st.LoadedChunks)

	// 1. Miss loads the whole chunk
	e, err := m.GetEmbedding(ctx, entries[3].ID)
	require.NoError(t, err)
	assert.Equal(t, entries[3].Vector, e.Vector)

	// 2. Same chunk is a hit
	_, err = m.GetEmbedding(ctx, entries[7].ID)
	require.NoError(t, err)

	st = m.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(1), st.Loads)
	assert.Equal(t, 1, st.LoadedChunks)
	assert.Equal(t, 10, st.LoadedEntries)
	assert.InDelta(t, 0.5, st.HitRate, 1e-9)

	// 3. Returned entries are copies
	e.Vector[0] = 42
	again, err := m.GetEmbedding(ctx, entries[3].ID)
	require.NoError(t, err)
	assert.Equal(t, entries[3].Vector[0], again.Vector[0])

	// 4. Unknown id
	_, err = m.GetEmbedding(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// 5. Batch in input order, unknown ids skipped
	got, err := m.GetEmbeddings(ctx, []string{entries[24].ID, "missing", entries[0].ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entries[24].ID, got[0].ID)
	assert.Equal(t, entries[0].ID, got[1].ID)
}

func TestMemoryCeiling(t *testing.T) {
	ctx := context.Background()
	entries := testutil.NewRNG(2).Entries(1000, testutil.EntryOptions{Dimension: 384})
	m := New(newFakeLoader(entries), Config{MaxMemoryMB: 1, ChunkSize: 100})
	defer m.Close()
	m.Init(ids(entries))

	var chunkBytes int64
	for i := 0; i < 100; i++ {
		chunkBytes += entries[i].SizeBytes()
	}

	for _, e := range entries {
		_, err := m.GetEmbedding(ctx, e.ID)
		require.NoError(t, err)
		st := m.Stats()
		require.LessOrEqual(t, st.MemoryBytes, st.MemoryLimit+chunkBytes+chunkBytes/10)
	}

	st := m.Stats()
	assert.Positive(t, st.Evictions)
	assert.Less(t, st.LoadedChunks, 10)
}

func TestConcurrentLoadsDeduplicated(t *testing.T) {
	entries := testutil.NewRNG(3).Entries(10, testutil.EntryOptions{Dimension: 4})
	loader := newFakeLoader(entries)
	loader.gate = make(chan struct{})
	m := New(loader, Config{ChunkSize: 10, PrefetchAhead: 0})
	defer m.Close()
	m.Init(ids(entries))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.LoadChunk(context.Background(), 0)
		}()
	}
	// Let every goroutine reach the shared flight before releasing the read.
	time.Sleep(50 * time.Millisecond)
	close(loader.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), loader.calls.Load())
	assert.Equal(t, uint64(1), m.Stats().Loads)
}

func TestAssignInvalidateRemove(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(4)
	entries := rng.Entries(4, testutil.EntryOptions{Dimension: 4})
	loader := newFakeLoader(entries)
	m := New(loader, Config{ChunkSize: 5})
	defer m.Close()
	m.Init(ids(entries))

	_, err := m.GetEmbedding(ctx, entries[0].ID)
	require.NoError(t, err)

	// 1. New id lands in the loaded tail chunk and is fetched individually
	fresh := rng.Entries(2, testutil.EntryOptions{Dimension: 4})
	for _, e := range fresh {
		loader.put(e)
	}
	m.Assign(ids(fresh)...)
	chunks := m.Chunks()
	require.Len(t, chunks, 2)
	assert.Equal(t, 5, chunks[0].Entries)
	assert.Equal(t, 1, chunks[1].Entries)

	got, err := m.GetEmbedding(ctx, fresh[0].ID)
	require.NoError(t, err)
	assert.Equal(t, fresh[0].ID, got.ID)

	// 2. Invalidate serves the updated copy
	updated := entries[1].Clone()
	updated.Vector[0] = 99
	loader.put(updated)
	m.Invalidate(updated.ID)
	got, err = m.GetEmbedding(ctx, updated.ID)
	require.NoError(t, err)
	assert.Equal(t, float32(99), got.Vector[0])

	// 3. Removed ids are unknown
	m.Remove(entries[2].ID)
	_, err = m.GetEmbedding(ctx, entries[2].ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 5, m.Stats().TotalEntries)
}

func TestEviction(t *testing.T) {
	ctx := context.Background()
	entries := testutil.NewRNG(5).Entries(20, testutil.EntryOptions{Dimension: 4})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := New(newFakeLoader(entries), Config{ChunkSize: 10, TTL: time.Minute}, WithClock(clock))
	defer m.Close()
	m.Init(ids(entries))

	assert.ErrorIs(t, m.EvictChunk(7), ErrInvalidChunkID)
	assert.ErrorIs(t, m.LoadChunk(ctx, -1), ErrInvalidChunkID)

	require.NoError(t, m.Preload(ctx, 0, 1))
	require.NoError(t, m.EvictChunk(0))
	assert.Equal(t, 1, m.Stats().LoadedChunks)

	// 1. Chunk 1 expires once the TTL passed
	now = now.Add(30 * time.Second)
	assert.Zero(t, m.EvictExpired())
	now = now.Add(time.Minute)
	assert.Equal(t, 1, m.EvictExpired())
	assert.Zero(t, m.Stats().MemoryBytes)

	// 2. ClearAll keeps membership
	require.NoError(t, m.Preload(ctx, 0))
	m.ClearAll()
	st := m.Stats()
	assert.Zero(t, st.LoadedChunks)
	assert.Equal(t, 20, st.TotalEntries)
}

func TestPreloadOverCeiling(t *testing.T) {
	entries := testutil.NewRNG(6).Entries(600, testutil.EntryOptions{Dimension: 384})
	m := New(newFakeLoader(entries), Config{MaxMemoryMB: 1, ChunkSize: 300})
	defer m.Close()
	m.Init(ids(entries))

	err := m.Preload(context.Background(), 0, 1)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
}

func TestPrefetchLearnedSuccessor(t *testing.T) {
	ctx := context.Background()
	entries := testutil.NewRNG(7).Entries(30, testutil.EntryOptions{Dimension: 4})
	m := New(newFakeLoader(entries), Config{ChunkSize: 10, PrefetchAhead: 1, EnableAccessLearning: true})
	defer m.Close()
	m.Init(ids(entries))

	// 1. Teach 0 -> 2
	for i := 0; i < 3; i++ {
		_, err := m.GetEmbedding(ctx, entries[0].ID)
		require.NoError(t, err)
		_, err = m.GetEmbedding(ctx, entries[25].ID)
		require.NoError(t, err)
	}
	require.NoError(t, m.EvictChunk(2))

	// 2. A hit on chunk 0 prefetches chunk 2
	_, err := m.GetEmbedding(ctx, entries[1].ID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return m.Chunks()[2].State == "loaded"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "unloaded", m.Chunks()[1].State)
	assert.Positive(t, m.Stats().Prefetches)
}

func TestLoadError(t *testing.T) {
	entries := testutil.NewRNG(8).Entries(5, testutil.EntryOptions{Dimension: 4})
	loader := newFakeLoader(entries)
	loader.err = errors.New("disk gone")
	m := New(loader, Config{})
	defer m.Close()
	m.Init(ids(entries))

	_, err := m.GetEmbedding(context.Background(), entries[0].ID)
	require.Error(t, err)
	assert.Equal(t, "unloaded", m.Chunks()[0].State)

	require.NoError(t, m.Close())
	_, err = m.GetEmbedding(context.Background(), entries[0].ID)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInitFromIndexFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, index.FileName)
	entries := testutil.NewRNG(9).Entries(12, testutil.EntryOptions{Dimension: 4})

	m := New(newFakeLoader(entries), Config{ChunkSize: 5})
	defer m.Close()
	assert.ErrorIs(t, m.InitFromIndexFile(path), ErrIndexFileNotFound)

	idx := index.New()
	idx.IndexEntries(entries)
	require.NoError(t, idx.Save(path, filepath.Join(dir, "temp")))

	require.NoError(t, m.InitFromIndexFile(path))
	st := m.Stats()
	assert.Equal(t, 12, st.TotalEntries)
	assert.Equal(t, 3, st.TotalChunks)

	m.InitFromIndex(idx)
	assert.Equal(t, 12, m.Stats().TotalEntries)
}
