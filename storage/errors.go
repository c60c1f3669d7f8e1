package storage

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecstore/internal/lockfile"
	"github.com/hupe1980/vecstore/model"
)

var (
	// ErrInvalidEntry is returned for entries that fail validation.
	ErrInvalidEntry = model.ErrInvalidEntry

	// ErrSerialization is returned when a page or side file cannot be encoded or decoded.
	ErrSerialization = errors.New("serialization error")

	// ErrNotFound is returned when an entry id is not in the active set.
	ErrNotFound = errors.New("entry not found")

	// ErrAlreadyExists is returned when storing an id that is already active.
	ErrAlreadyExists = errors.New("entry already exists")

	// ErrLocked is returned when a page is locked by another writer.
	ErrLocked = lockfile.ErrLocked

	// ErrCorrupt is returned when a page fails its checksum or structural checks.
	ErrCorrupt = errors.New("corrupt page")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage closed")

	// ErrBackupNotFound is returned when restoring an unknown backup.
	ErrBackupNotFound = errors.New("backup not found")
)

// Error wraps a filesystem or encoding failure with the operation and path.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Path: path, Err: err}
}
