package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"
)

// IntegrityReport is the result of ValidateIntegrity.
type IntegrityReport struct {
	Valid            bool      `json:"valid"`
	FilesChecked     int       `json:"files_checked"`
	EntriesChecked   int       `json:"entries_checked"`
	Errors           []string  `json:"errors"`
	CorruptedFiles   []string  `json:"corrupted_files"`
	OrphanedEntries  []string  `json:"orphaned_entries"`
	LockedFiles      []string  `json:"locked_files"`
	PendingDeletions int       `json:"pending_deletions"`
	CheckedAt        time.Time `json:"checked_at"`
}

// ValidateIntegrity reads every page from disk, bypassing the cache, and
// cross-checks it against the in-memory state. Problems are reported, not
// repaired.
func (s *Storage) ValidateIntegrity(ctx context.Context) (*IntegrityReport, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rep := &IntegrityReport{
		Errors:          []string{},
		CorruptedFiles:  []string{},
		OrphanedEntries: []string{},
		LockedFiles:     []string{},
		CheckedAt:       time.Now().UTC(),
	}

	dirEntries, err := s.fsys.ReadDir(s.dir)
	if err != nil {
		return nil, wrap("readdir", s.dir, err)
	}

	s.mu.RLock()
	location := make(map[string]int, len(s.location))
	for id, n := range s.location {
		location[id] = n
	}
	tombstones := make(map[string]int, len(s.tombstones))
	for id, n := range s.tombstones {
		tombstones[id] = n
	}
	known := make(map[int]string, len(s.pages))
	for n, ps := range s.pages {
		known[n] = ps.name
	}
	engine := s.engine
	s.mu.RUnlock()
	rep.PendingDeletions = len(tombstones)

	present := make(map[string]int) // id -> page it was found on
	checkedPages := make(map[int]bool)
	for _, de := range dirEntries {
		n, _, ok := ParsePageName(de.Name())
		if de.IsDir() || !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if name, tracked := known[n]; tracked && name != de.Name() {
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: stale variant of %s", de.Name(), name))
			continue
		}

		path := filepath.Join(s.dir, de.Name())
		rep.FilesChecked++
		if s.lockedByOther(path) {
			rep.LockedFiles = append(rep.LockedFiles, de.Name())
			continue
		}
		data, err := s.fsys.ReadFile(path)
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", de.Name(), err))
			continue
		}
		entries, count, err := s.decodePage(de.Name(), data)
		var records []record
		if err == nil {
			records, err = s.decodeRecords(entries, count)
		}
		if err != nil {
			rep.CorruptedFiles = append(rep.CorruptedFiles, de.Name())
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", de.Name(), err))
			continue
		}
		checkedPages[n] = true

		for i := range records {
			r := &records[i]
			rep.EntriesChecked++
			if loc, live := location[r.ID]; live && loc == n {
				present[r.ID] = n
				if _, err := engine.Decompress(r.Vector); err != nil {
					rep.Errors = append(rep.Errors, fmt.Sprintf("%s: entry %s: %v", de.Name(), r.ID, err))
				}
				continue
			}
			if page, dead := tombstones[r.ID]; dead && page == n {
				continue
			}
			if _, live := location[r.ID]; live {
				// Live elsewhere: a stale duplicate compaction will drop.
				continue
			}
			rep.OrphanedEntries = append(rep.OrphanedEntries, r.ID)
		}
	}

	for id, n := range location {
		if !checkedPages[n] {
			continue
		}
		if _, ok := present[id]; !ok {
			rep.Errors = append(rep.Errors, fmt.Sprintf("entry %s missing from %s", id, known[n]))
		}
	}

	slices.Sort(rep.OrphanedEntries)
	rep.Valid = len(rep.Errors) == 0 && len(rep.CorruptedFiles) == 0 && len(rep.OrphanedEntries) == 0
	return rep, nil
}

// errIsCorrupt reports whether err marks unreadable page content.
func errIsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt) || errors.Is(err, ErrSerialization)
}
