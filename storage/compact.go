package storage

import (
	"context"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/hupe1980/vecstore/internal/lockfile"
)

// CompactionResult summarizes a CompactStorage run.
type CompactionResult struct {
	FilesRemoved   int           `json:"files_removed"`
	FilesCompacted int           `json:"files_compacted"`
	EntriesRemoved int           `json:"entries_removed"`
	BytesReclaimed int64         `json:"bytes_reclaimed"`
	Backup         string        `json:"backup,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// CompactStorage rewrites pages without dead records and removes pages that
// became empty. Rewrites are throttled by the resource controller's IO limit.
// With AutoBackup set, a backup is taken first.
func (s *Storage) CompactStorage(ctx context.Context) (*CompactionResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	res := &CompactionResult{}

	if s.cfg.AutoBackup {
		b, err := s.CreateBackup(ctx)
		if err != nil {
			return nil, err
		}
		res.Backup = b.Name
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	var targets []*pageState
	for _, n := range slices.Sorted(maps.Keys(s.pages)) {
		ps := s.pages[n]
		if _, bad := s.corrupt[n]; bad {
			continue
		}
		for _, id := range ps.ids {
			if loc, ok := s.location[id]; !ok || loc != n {
				targets = append(targets, ps)
				break
			}
		}
	}
	s.mu.RUnlock()

	var compactErr error
	for _, ps := range targets {
		if err := ctx.Err(); err != nil {
			compactErr = err
			break
		}
		before := ps.size
		dropped := 0
		keep := func(id string) bool {
			s.mu.RLock()
			defer s.mu.RUnlock()
			loc, ok := s.location[id]
			return ok && loc == ps.num
		}

		live := 0
		s.mu.RLock()
		for _, id := range ps.ids {
			if loc, ok := s.location[id]; ok && loc == ps.num {
				live++
			}
		}
		s.mu.RUnlock()

		if live == 0 {
			removed, err := s.removePage(ctx, ps)
			if err != nil {
				compactErr = err
				break
			}
			res.FilesRemoved++
			res.EntriesRemoved += removed
			res.BytesReclaimed += before
			continue
		}

		if _, err := s.writePage(ctx, ps, true, func(cur []record) ([]record, error) {
			out := cur[:0]
			for _, r := range cur {
				if keep(r.ID) {
					out = append(out, r)
				} else {
					dropped++
				}
			}
			return out, nil
		}); err != nil {
			compactErr = err
			break
		}
		s.dropTombstones(ps.num)
		res.FilesCompacted++
		res.EntriesRemoved += dropped
		res.BytesReclaimed += max(0, before-ps.size)
	}

	if err := s.persistTombstones(); err != nil {
		compactErr = errors.Join(compactErr, err)
	}
	res.Duration = time.Since(start)

	s.logger.Info("storage compacted",
		"files_removed", res.FilesRemoved,
		"files_compacted", res.FilesCompacted,
		"entries_removed", res.EntriesRemoved,
		"bytes_reclaimed", res.BytesReclaimed,
		"duration", res.Duration,
	)
	return res, compactErr
}

// removePage deletes a page with no live records. It returns the number of
// dead records that went with it.
func (s *Storage) removePage(ctx context.Context, ps *pageState) (int, error) {
	path := filepath.Join(s.dir, ps.name)
	lock, err := lockfile.AcquireWait(ctx, s.fsys, path, s.cfg.LockTimeout, s.cfg.LockPollInterval)
	if err != nil {
		return 0, wrap("lock", path, err)
	}
	s.ownLocks.Store(lock.Path(), struct{}{})
	defer func() {
		s.ownLocks.Delete(lock.Path())
		_ = lock.Release()
	}()

	if err := s.fsys.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, wrap("remove", path, err)
	}
	s.cache.Remove(ps.name)

	s.mu.Lock()
	n := len(ps.ids)
	delete(s.pages, ps.num)
	s.mu.Unlock()
	s.dropTombstones(ps.num)
	return n, nil
}

func (s *Storage) dropTombstones(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range s.tombstones {
		if n == page {
			delete(s.tombstones, id)
		}
	}
}
