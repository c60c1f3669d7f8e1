package vecstore

import (
	"context"
	"fmt"

	"github.com/hupe1980/vecstore/model"
)

type chunkKey struct {
	filePath, chunkID, modelName string
}

// checkChunks rejects entries whose (file_path, chunk_id, model) is already
// stored or repeated within the batch. Callers hold writeMu.
func (db *DB) checkChunks(entries []*model.EmbeddingEntry, batch bool) error {
	seen := make(map[chunkKey]string, len(entries))
	for i, e := range entries {
		m := e.Metadata
		if m.ChunkID == "" {
			continue
		}
		k := chunkKey{m.FilePath, m.ChunkID, m.ModelName}
		existing, ok := db.idx.FindByChunkModel(m.FilePath, m.ChunkID, m.ModelName)
		if !ok {
			existing, ok = seen[k]
		}
		if ok {
			var err error = &DuplicateChunkError{
				FilePath:   m.FilePath,
				ChunkID:    m.ChunkID,
				ModelName:  m.ModelName,
				ExistingID: existing,
			}
			if batch {
				err = &BatchError{Index: i, ID: e.ID, Err: err}
			}
			return err
		}
		seen[k] = e.ID
	}
	return nil
}

// storeEntries writes validated entries, then indexes them and hands them to
// the lazy loader, in input order.
func (db *DB) storeEntries(ctx context.Context, entries []*model.EmbeddingEntry, batch bool) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if err := db.checkChunks(entries, batch); err != nil {
		return err
	}
	ids, err := db.store.StoreEntries(ctx, entries)
	// A partial write still indexes what reached disk.
	stored := entries[:len(ids)]
	db.idx.IndexEntries(stored)
	db.lazy.Assign(ids...)
	return translateError(err)
}

// updateEntries replaces vectors of existing entries. Callers have
// validated the updates.
func (db *DB) updateEntries(ctx context.Context, updates []VectorUpdate) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	ids := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
	}
	current, err := db.store.RetrieveEntries(ctx, ids)
	if err != nil {
		return translateError(err)
	}
	byID := make(map[string]*model.EmbeddingEntry, len(current))
	for _, e := range current {
		byID[e.ID] = e
	}
	for i, u := range updates {
		var err error
		if e, ok := byID[u.ID]; !ok {
			err = fmt.Errorf("%w: %s", ErrNotFound, u.ID)
		} else if len(u.Vector) != len(e.Vector) {
			err = &model.ValidationError{
				ID:     u.ID,
				Field:  "vector",
				Reason: fmt.Sprintf("dimension %d does not match stored dimension %d", len(u.Vector), len(e.Vector)),
			}
		}
		if err == nil {
			continue
		}
		if len(updates) > 1 {
			return &BatchError{Index: i, ID: u.ID, Err: err}
		}
		return err
	}

	for _, u := range updates {
		e := byID[u.ID]
		e.Vector = append([]float32(nil), u.Vector...)
		e.Touch()
		if err := db.store.UpdateEntry(ctx, e); err != nil {
			return translateError(err)
		}
		db.idx.IndexEntry(e)
		db.lazy.Invalidate(e.ID)
	}
	return nil
}

// deleteEntries removes ids from storage, the indexes and the lazy loader.
// It returns how many ids were stored.
func (db *DB) deleteEntries(ctx context.Context, ids []string) (int, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	n, err := db.store.DeleteEntries(ctx, ids)
	if err != nil {
		return 0, translateError(err)
	}
	for _, id := range ids {
		db.idx.RemoveEntry(id)
	}
	db.lazy.Remove(ids...)
	return n, nil
}
