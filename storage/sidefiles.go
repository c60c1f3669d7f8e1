package storage

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/hupe1980/vecstore/internal/fs"
)

// MarkerFile is written after every successful open.
const MarkerFile = ".ainote_initialized"

// Marker is the content of MarkerFile.
type Marker struct {
	IsInitialized    bool      `json:"is_initialized"`
	ExistingFiles    int       `json:"existing_files"`
	EstimatedEntries int       `json:"estimated_entries"`
	Warnings         []string  `json:"warnings"`
	InitializedAt    time.Time `json:"initialized_at"`
}

type tombstone struct {
	ID   string `json:"id"`
	Page int    `json:"page"`
}

func (s *Storage) sidePath(name string) string { return filepath.Join(s.dir, name) }

func (s *Storage) writeSideFile(name string, v any) error {
	path := s.sidePath(name)
	data, err := s.codec.Marshal(v)
	if err != nil {
		return wrap("encode", path, fmt.Errorf("%w: %w", ErrSerialization, err))
	}
	return wrap("write", path, fs.WriteFileAtomic(s.fsys, s.TempDir(), path, data, 0o644))
}

// readSideFile decodes name into v. A missing file leaves v untouched.
func (s *Storage) readSideFile(name string, v any) (bool, error) {
	path := s.sidePath(name)
	data, err := s.fsys.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, wrap("read", path, err)
	}
	if err := s.codec.Unmarshal(data, v); err != nil {
		return false, wrap("read", path, fmt.Errorf("%w: %w", ErrSerialization, err))
	}
	return true, nil
}

func (s *Storage) loadTombstones() (map[string]int, error) {
	var list []tombstone
	if _, err := s.readSideFile(tombstonesFile, &list); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(list))
	for _, t := range list {
		out[t.ID] = t.Page
	}
	return out, nil
}

// persistTombstones writes the tombstone set. Callers hold writeMu.
func (s *Storage) persistTombstones() error {
	s.mu.RLock()
	list := make([]tombstone, 0, len(s.tombstones))
	for _, id := range slices.Sorted(maps.Keys(s.tombstones)) {
		list = append(list, tombstone{ID: id, Page: s.tombstones[id]})
	}
	s.mu.RUnlock()

	if len(list) == 0 {
		err := s.fsys.Remove(s.sidePath(tombstonesFile))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return wrap("remove", s.sidePath(tombstonesFile), err)
		}
		return nil
	}
	return s.writeSideFile(tombstonesFile, list)
}

func (s *Storage) loadReferences() (map[string][]float32, error) {
	refs := make(map[string][]float32)
	if _, err := s.readSideFile(referencesFile, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// persistReferences writes the delta reference pool if it changed. It runs
// before any page that may point at a new reference is written.
func (s *Storage) persistReferences() error {
	pool := s.currentEngine().References()
	if !pool.Dirty() {
		return nil
	}
	if err := s.writeSideFile(referencesFile, pool.Snapshot()); err != nil {
		return err
	}
	pool.MarkClean()
	return nil
}

func (s *Storage) writeMarker() error {
	s.mu.RLock()
	m := Marker{
		IsInitialized:    true,
		ExistingFiles:    len(s.pages),
		EstimatedEntries: len(s.location),
		Warnings:         slices.Clone(s.warnings),
		InitializedAt:    time.Now().UTC(),
	}
	s.mu.RUnlock()
	if m.Warnings == nil {
		m.Warnings = []string{}
	}

	var prev Marker
	if ok, _ := s.readSideFile(MarkerFile, &prev); ok && !prev.InitializedAt.IsZero() {
		m.InitializedAt = prev.InitializedAt
	}
	return s.writeSideFile(MarkerFile, m)
}

// ReadMarker returns the marker of dir, or ok=false when the directory was
// never initialized.
func (s *Storage) ReadMarker() (Marker, bool, error) {
	var m Marker
	ok, err := s.readSideFile(MarkerFile, &m)
	return m, ok, err
}
