package lazy

import "errors"

var (
	// ErrIndexFileNotFound is returned when the index side file used to
	// partition chunks does not exist.
	ErrIndexFileNotFound = errors.New("index file not found")
	// ErrMemoryLimitExceeded is returned by Preload when the requested chunks
	// do not fit under the memory ceiling together.
	ErrMemoryLimitExceeded = errors.New("memory limit exceeded")
	// ErrInvalidChunkID is returned for a chunk id outside the partition.
	ErrInvalidChunkID = errors.New("invalid chunk id")
	// ErrNotFound is returned for an id that no chunk contains.
	ErrNotFound = errors.New("embedding not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("lazy loader closed")
)
