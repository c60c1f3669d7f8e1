package vecstore

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/hupe1980/vecstore/model"
	"github.com/hupe1980/vecstore/rebuild"
)

// DuplicateGroup is a set of entries sharing file path and text hash. The
// canonical entry is the first one stored.
type DuplicateGroup struct {
	Key        string   `json:"key"`
	Canonical  string   `json:"canonical"`
	Duplicates []string `json:"duplicates"`
}

// ValidationReport is the result of a full database validation.
type ValidationReport struct {
	Valid      bool                  `json:"valid"`
	Health     *rebuild.HealthReport `json:"health"`
	Duplicates []DuplicateGroup      `json:"duplicates,omitempty"`
	Duration   time.Duration         `json:"duration"`
}

// DuplicateCount returns the number of redundant entries over all groups.
func (r *ValidationReport) DuplicateCount() int {
	n := 0
	for _, g := range r.Duplicates {
		n += len(g.Duplicates)
	}
	return n
}

// ValidationOperations are read-only consistency checks.
type ValidationOperations struct {
	db *DB
}

// ValidateDatabase checks storage integrity, index agreement and vector
// validity, and reports duplicate content. Nothing is repaired.
func (v *ValidationOperations) ValidateDatabase(ctx context.Context) (*ValidationReport, error) {
	start := time.Now()
	health, err := v.db.HealthCheck(ctx)
	if err != nil {
		return nil, err
	}
	rep := &ValidationReport{
		Health:     health,
		Duplicates: v.FindDuplicates(),
	}
	rep.Valid = health.Integrity.Passed && len(health.Corruptions) == 0
	rep.Duration = time.Since(start)
	v.db.logger.Info("database validated",
		"valid", rep.Valid,
		"status", health.Status,
		"corruptions", len(health.Corruptions),
		"duplicates", rep.DuplicateCount(),
	)
	return rep, nil
}

// FindDuplicates groups entries by file_path:text_hash. Groups are ordered
// by key; within a group the earliest entry is canonical, ties broken by id.
func (v *ValidationOperations) FindDuplicates() []DuplicateGroup {
	groups := make(map[string][]model.IndexMetadata)
	for _, m := range v.db.idx.All() {
		key := m.FilePath + ":" + m.ContentHash
		groups[key] = append(groups[key], m)
	}

	var out []DuplicateGroup
	for key, members := range groups {
		if len(members) < 2 {
			continue
		}
		slices.SortFunc(members, func(a, b model.IndexMetadata) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		g := DuplicateGroup{Key: key, Canonical: members[0].ID}
		for _, m := range members[1:] {
			g.Duplicates = append(g.Duplicates, m.ID)
		}
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b DuplicateGroup) int { return cmp.Compare(a.Key, b.Key) })
	return out
}
