package vecstore

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/hupe1980/vecstore/model"
	"github.com/hupe1980/vecstore/storage"
)

// EmbeddingInput is one embedding as produced by an embedding model.
type EmbeddingInput struct {
	Vector         []float32
	FilePath       string
	ChunkID        string
	Text           string
	ModelName      string
	CustomMetadata map[string]string
}

// entry builds and validates a new entry. The vector is copied.
func (in EmbeddingInput) entry() (*model.EmbeddingEntry, error) {
	e := model.NewEntry(slices.Clone(in.Vector), in.FilePath, in.ChunkID, in.Text, in.ModelName)
	if len(in.CustomMetadata) > 0 {
		e.Metadata.CustomMetadata = maps.Clone(in.CustomMetadata)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// VectorUpdate replaces the vector of one entry.
type VectorUpdate struct {
	ID     string
	Vector []float32
}

func validateID(id string) error {
	if id == "" {
		return &model.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	return nil
}

func validateUpdate(u VectorUpdate) error {
	if err := validateID(u.ID); err != nil {
		return err
	}
	if err := model.ValidateVector(u.Vector); err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			ve.ID = u.ID
		}
		return err
	}
	return nil
}

// VectorOperations are single-entry CRUD operations. Input is validated
// before storage is touched.
type VectorOperations struct {
	db *DB
}

// StoreEmbedding stores a new embedding and returns its id.
func (v *VectorOperations) StoreEmbedding(ctx context.Context, vector []float32, filePath, chunkID, text, modelName string) (string, error) {
	return v.Store(ctx, EmbeddingInput{
		Vector:    vector,
		FilePath:  filePath,
		ChunkID:   chunkID,
		Text:      text,
		ModelName: modelName,
	})
}

// Store stores a new embedding described by in and returns its id.
func (v *VectorOperations) Store(ctx context.Context, in EmbeddingInput) (string, error) {
	start := time.Now()
	e, err := in.entry()
	if err == nil {
		err = v.db.storeEntries(ctx, []*model.EmbeddingEntry{e}, false)
	}
	id := ""
	if e != nil {
		id = e.ID
	}
	v.db.logger.LogStore(ctx, id, len(in.Vector), err)
	v.db.record(OpStore, start, err)
	if err != nil {
		return "", err
	}
	return id, nil
}

// StoreEntry stores a complete entry, keeping its id and timestamps.
func (v *VectorOperations) StoreEntry(ctx context.Context, e *model.EmbeddingEntry) error {
	start := time.Now()
	err := e.Validate()
	if err == nil {
		err = v.db.storeEntries(ctx, []*model.EmbeddingEntry{e.Clone()}, false)
	}
	v.db.record(OpStore, start, err)
	return err
}

// GetEmbedding returns a copy of the entry with id.
func (v *VectorOperations) GetEmbedding(ctx context.Context, id string) (*model.EmbeddingEntry, error) {
	start := time.Now()
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := v.db.checkOpen(); err != nil {
		return nil, err
	}
	e, err := v.db.retrieve(ctx, id)
	v.db.record(OpGet, start, err)
	return e, err
}

// UpdateEmbedding replaces the vector of id and bumps UpdatedAt. The id,
// file path and chunk id never change, and the new vector must keep the
// stored dimension.
func (v *VectorOperations) UpdateEmbedding(ctx context.Context, id string, vector []float32) error {
	start := time.Now()
	err := validateUpdate(VectorUpdate{ID: id, Vector: vector})
	if err == nil {
		err = v.db.updateEntries(ctx, []VectorUpdate{{ID: id, Vector: vector}})
	}
	v.db.logger.LogUpdate(ctx, id, err)
	v.db.record(OpUpdate, start, err)
	return err
}

// DeleteEmbedding removes id. It reports whether id was stored.
func (v *VectorOperations) DeleteEmbedding(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	if err := validateID(id); err != nil {
		return false, err
	}
	n, err := v.db.deleteEntries(ctx, []string{id})
	v.db.logger.LogDelete(ctx, id, n > 0, err)
	v.db.record(OpDelete, start, err)
	return n > 0, err
}

// ListEmbeddingIDs returns every stored id in storage order.
func (v *VectorOperations) ListEmbeddingIDs() []string { return v.db.store.ListEntryIDs() }

// CountEmbeddings returns the number of stored entries.
func (v *VectorOperations) CountEmbeddings() int { return v.db.store.Count() }

// FindByFilePath returns the ids of entries from path.
func (v *VectorOperations) FindByFilePath(path string) []string { return v.db.idx.FindByFilePath(path) }

// FindByModelName returns the ids of entries produced by model.
func (v *VectorOperations) FindByModelName(name string) []string {
	return v.db.idx.FindByModelName(name)
}

// FindByContentHash returns the canonical entry for a text hash.
func (v *VectorOperations) FindByContentHash(hash string) (string, bool) {
	return v.db.idx.FindByContentHash(hash)
}

// FindByChunk returns the entry stored for (filePath, chunkID).
func (v *VectorOperations) FindByChunk(filePath, chunkID string) (string, bool) {
	return v.db.idx.FindByChunk(filePath, chunkID)
}

// FindByTimestampRange returns entries created in [start, end].
func (v *VectorOperations) FindByTimestampRange(start, end time.Time) []string {
	return v.db.idx.FindByTimestampRange(start, end)
}

// GetFileMetrics describes the on-disk footprint.
func (v *VectorOperations) GetFileMetrics() (*storage.FileMetrics, error) {
	if err := v.db.checkOpen(); err != nil {
		return nil, err
	}
	return v.db.store.FileMetrics()
}
