package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hupe1980/vecstore/model"
)

// PageInfo describes one page file.
type PageInfo struct {
	Number      int    `json:"number"`
	Name        string `json:"name"`
	Records     int    `json:"records"`
	LiveEntries int    `json:"live_entries"`
	SizeBytes   int64  `json:"size_bytes"`
	Corrupt     bool   `json:"corrupt"`
}

// Pages lists every page in page order.
func (s *Storage) Pages() []PageInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PageInfo, 0, len(s.pages))
	for _, n := range slices.Sorted(maps.Keys(s.pages)) {
		ps := s.pages[n]
		info := PageInfo{Number: n, Name: ps.name, Records: len(ps.ids), SizeBytes: ps.size}
		_, info.Corrupt = s.corrupt[n]
		for _, id := range ps.ids {
			if loc, ok := s.location[id]; ok && loc == n {
				info.LiveEntries++
			}
		}
		out = append(out, info)
	}
	return out
}

// ReadPage decodes the live entries of page n.
func (s *Storage) ReadPage(ctx context.Context, n int) ([]*model.EmbeddingEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	ps, ok := s.pages[n]
	var name string
	if ok {
		name = ps.name
	}
	loadErr := s.corrupt[n]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: page %d", ErrNotFound, n)
	}
	if loadErr != nil {
		return nil, loadErr
	}

	records, err := s.readPageRecords(name)
	if err != nil {
		if errIsCorrupt(err) {
			s.mu.Lock()
			s.corrupt[n] = err
			s.mu.Unlock()
		}
		return nil, err
	}

	out := make([]*model.EmbeddingEntry, 0, len(records))
	for i := range records {
		r := &records[i]
		s.mu.RLock()
		loc, live := s.location[r.ID]
		s.mu.RUnlock()
		if !live || loc != n {
			continue
		}
		e, err := s.toEntry(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ScanPages calls fn for every readable page in order. An unreadable page is
// passed with its error; returning a non-nil error from fn stops the scan.
func (s *Storage) ScanPages(ctx context.Context, fn func(page PageInfo, entries []*model.EmbeddingEntry, err error) error) error {
	for _, p := range s.Pages() {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := s.ReadPage(ctx, p.Number)
		if err := fn(p, entries, err); err != nil {
			return err
		}
	}
	return nil
}
