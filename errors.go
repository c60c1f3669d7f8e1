package vecstore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecstore/lazy"
	"github.com/hupe1980/vecstore/model"
	"github.com/hupe1980/vecstore/storage"
)

var (
	// ErrNotFound is returned when an embedding id is not stored.
	ErrNotFound = errors.New("embedding not found")

	// ErrInvalidEntry is returned for input that fails validation. It is
	// never written to storage.
	ErrInvalidEntry = model.ErrInvalidEntry

	// ErrDuplicateChunk is returned when (file_path, chunk_id) is already
	// stored for the same model.
	ErrDuplicateChunk = errors.New("duplicate chunk")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("database closed")
)

// BatchError reports the first invalid item of a rejected batch. Nothing of
// the batch was written.
type BatchError struct {
	Index int
	ID    string
	Err   error
}

func (e *BatchError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("batch item %d (%s): %v", e.Index, e.ID, e.Err)
	}
	return fmt.Sprintf("batch item %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// DuplicateChunkError carries the id already holding the chunk.
type DuplicateChunkError struct {
	FilePath   string
	ChunkID    string
	ModelName  string
	ExistingID string
}

func (e *DuplicateChunkError) Error() string {
	return fmt.Sprintf("chunk %s#%s (%s) already stored as %s", e.FilePath, e.ChunkID, e.ModelName, e.ExistingID)
}

func (e *DuplicateChunkError) Is(target error) bool { return target == ErrDuplicateChunk }

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, lazy.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, storage.ErrClosed) || errors.Is(err, lazy.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}
