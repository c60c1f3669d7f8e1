package rebuild

import "errors"

var (
	// ErrTimeout is returned when a rebuild or health check exceeds its budget.
	ErrTimeout = errors.New("rebuild: timeout exceeded")
	// ErrCancelled is returned when the caller cancelled a rebuild.
	ErrCancelled = errors.New("rebuild: cancelled")
	// ErrInProgress is returned when Run is called while a rebuild runs.
	ErrInProgress = errors.New("rebuild: already in progress")
)
