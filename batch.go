package vecstore

import (
	"context"
	"time"

	"github.com/hupe1980/vecstore/model"
)

// BatchOperations apply one operation to many entries. Every item is
// validated before anything is written; one bad item rejects the batch with
// a *BatchError naming it.
type BatchOperations struct {
	db *DB
}

// StoreBatch stores inputs in order and returns their ids in the same order.
func (b *BatchOperations) StoreBatch(ctx context.Context, inputs []EmbeddingInput) ([]string, error) {
	start := time.Now()
	if len(inputs) == 0 {
		return nil, nil
	}
	entries := make([]*model.EmbeddingEntry, len(inputs))
	var err error
	for i, in := range inputs {
		if entries[i], err = in.entry(); err != nil {
			err = &BatchError{Index: i, Err: err}
			break
		}
	}
	if err == nil {
		err = b.db.storeEntries(ctx, entries, true)
	}
	b.db.logger.LogBatch(ctx, OpStoreBatch, len(inputs), time.Since(start), err)
	b.db.recordBatch(OpStoreBatch, len(inputs), start, err)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, nil
}

// StoreEntries stores complete entries, keeping their ids and timestamps.
func (b *BatchOperations) StoreEntries(ctx context.Context, entries []*model.EmbeddingEntry) error {
	start := time.Now()
	clones := make([]*model.EmbeddingEntry, len(entries))
	var err error
	for i, e := range entries {
		if err = e.Validate(); err != nil {
			err = &BatchError{Index: i, ID: idOf(e), Err: err}
			break
		}
		clones[i] = e.Clone()
	}
	if err == nil && len(clones) > 0 {
		err = b.db.storeEntries(ctx, clones, true)
	}
	b.db.recordBatch(OpStoreBatch, len(entries), start, err)
	return err
}

func idOf(e *model.EmbeddingEntry) string {
	if e == nil {
		return ""
	}
	return e.ID
}

// GetBatch returns the entries for ids in input order. Unknown ids are
// skipped.
func (b *BatchOperations) GetBatch(ctx context.Context, ids []string) ([]*model.EmbeddingEntry, error) {
	start := time.Now()
	if err := b.db.checkOpen(); err != nil {
		return nil, err
	}
	out, err := b.db.lazy.GetEmbeddings(ctx, ids)
	err = translateError(err)
	b.db.recordBatch(OpGetBatch, len(ids), start, err)
	return out, err
}

// UpdateBatch replaces the vectors of existing entries. Unknown ids reject
// the whole batch.
func (b *BatchOperations) UpdateBatch(ctx context.Context, updates []VectorUpdate) error {
	start := time.Now()
	if len(updates) == 0 {
		return nil
	}
	var err error
	for i, u := range updates {
		if verr := validateUpdate(u); verr != nil {
			err = &BatchError{Index: i, ID: u.ID, Err: verr}
			break
		}
	}
	if err == nil {
		err = b.db.updateEntries(ctx, updates)
	}
	b.db.logger.LogBatch(ctx, OpUpdateBatch, len(updates), time.Since(start), err)
	b.db.recordBatch(OpUpdateBatch, len(updates), start, err)
	return err
}

// DeleteBatch removes ids and returns how many were stored.
func (b *BatchOperations) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	start := time.Now()
	if len(ids) == 0 {
		return 0, nil
	}
	for i, id := range ids {
		if err := validateID(id); err != nil {
			return 0, &BatchError{Index: i, Err: err}
		}
	}
	n, err := b.db.deleteEntries(ctx, ids)
	b.db.logger.LogBatch(ctx, OpDeleteBatch, len(ids), time.Since(start), err)
	b.db.recordBatch(OpDeleteBatch, len(ids), start, err)
	return n, err
}
