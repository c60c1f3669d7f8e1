package vecstore

import (
	"context"
	"errors"
	iofs "io/fs"
	"path/filepath"
	"time"

	"github.com/hupe1980/vecstore/storage"
)

// CleanupOperations remove entries that are no longer wanted. Removal is
// logical; CompactDatabase reclaims the space.
type CleanupOperations struct {
	db *DB
}

// RemoveOrphaned removes entries whose source file no longer exists.
// Relative paths are resolved against the configured source root.
func (c *CleanupOperations) RemoveOrphaned(ctx context.Context) (int, error) {
	start := time.Now()
	var orphaned []string
	for _, path := range c.db.idx.FilePaths() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		exists, err := c.sourceExists(path)
		if err != nil {
			return 0, err
		}
		if !exists {
			orphaned = append(orphaned, c.db.idx.FindByFilePath(path)...)
		}
	}
	return c.remove(ctx, "remove_orphaned", orphaned, start)
}

func (c *CleanupOperations) sourceExists(path string) (bool, error) {
	if !filepath.IsAbs(path) && c.db.cfg.SourceRoot != "" {
		path = filepath.Join(c.db.cfg.SourceRoot, path)
	}
	_, err := c.db.fsys.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, iofs.ErrNotExist):
		return false, nil
	}
	return false, err
}

// RemoveByFile removes every entry from path.
func (c *CleanupOperations) RemoveByFile(ctx context.Context, path string) (int, error) {
	return c.remove(ctx, "remove_by_file", c.db.idx.FindByFilePath(path), time.Now())
}

// RemoveOlderThan removes entries created before t.
func (c *CleanupOperations) RemoveOlderThan(ctx context.Context, t time.Time) (int, error) {
	start := time.Now()
	var ids []string
	for _, m := range c.db.idx.All() {
		if m.CreatedAt.Before(t) {
			ids = append(ids, m.ID)
		}
	}
	return c.remove(ctx, "remove_older_than", ids, start)
}

// RemoveDuplicates removes every non-canonical entry reported by
// FindDuplicates.
func (c *CleanupOperations) RemoveDuplicates(ctx context.Context) (int, error) {
	start := time.Now()
	var ids []string
	for _, g := range c.db.Validation().FindDuplicates() {
		ids = append(ids, g.Duplicates...)
	}
	return c.remove(ctx, "remove_duplicates", ids, start)
}

func (c *CleanupOperations) remove(ctx context.Context, op string, ids []string, start time.Time) (int, error) {
	n := 0
	var err error
	if len(ids) > 0 {
		n, err = c.db.deleteEntries(ctx, ids)
	} else {
		err = c.db.checkOpen()
	}
	c.db.logger.LogRemoval(ctx, op, n, err)
	c.db.record(OpRemove, start, err)
	return n, err
}

// CompactDatabase rewrites pages without deleted entries.
func (c *CleanupOperations) CompactDatabase(ctx context.Context) (*storage.CompactionResult, error) {
	start := time.Now()
	if err := c.db.checkOpen(); err != nil {
		return nil, err
	}
	res, err := c.db.store.CompactStorage(ctx)
	err = translateError(err)
	c.db.record(OpCompact, start, err)
	return res, err
}
