package rebuild

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/vecstore/model"
	"github.com/hupe1980/vecstore/storage"
)

// memSource is an in-memory page source. With delay set, ReadPage blocks
// until the delay elapses or ctx is done.
type memSource struct {
	pages   [][]*model.EmbeddingEntry
	delay   time.Duration
	started chan struct{}
	once    sync.Once
}

func newMemSource(entries []*model.EmbeddingEntry, perPage int) *memSource {
	s := &memSource{started: make(chan struct{})}
	for off := 0; off < len(entries); off += perPage {
		s.pages = append(s.pages, entries[off:min(off+perPage, len(entries))])
	}
	return s
}

func pageName(n int) string { return fmt.Sprintf("vector_%d.json", n) }

func (s *memSource) Pages() []storage.PageInfo {
	out := make([]storage.PageInfo, len(s.pages))
	for i, p := range s.pages {
		out[i] = storage.PageInfo{Number: i, Name: pageName(i), Records: len(p), LiveEntries: len(p)}
	}
	return out
}

func (s *memSource) ReadPage(ctx context.Context, n int) ([]*model.EmbeddingEntry, error) {
	if s.delay > 0 {
		s.once.Do(func() { close(s.started) })
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.pages[n], nil
}

func (s *memSource) ValidateIntegrity(context.Context) (*storage.IntegrityReport, error) {
	return &storage.IntegrityReport{Valid: true, FilesChecked: len(s.pages), CheckedAt: time.Now()}, nil
}

func (s *memSource) ListEntryIDs() []string {
	var ids []string
	for _, p := range s.pages {
		for _, e := range p {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func (s *memSource) RetrieveEntry(_ context.Context, id string) (*model.EmbeddingEntry, error) {
	for _, p := range s.pages {
		for _, e := range p {
			if e.ID == id {
				return e.Clone(), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
}

func (s *memSource) ScanPages(ctx context.Context, fn func(storage.PageInfo, []*model.EmbeddingEntry, error) error) error {
	for i, info := range s.Pages() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(info, s.pages[i], nil); err != nil {
			return err
		}
	}
	return nil
}
