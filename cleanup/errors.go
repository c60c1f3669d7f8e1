package cleanup

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrPermissionDenied is returned when a task may not touch a path.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTaskFailed matches every *TaskError.
	ErrTaskFailed = errors.New("cleanup task failed")
	// ErrUnknownTask is returned by RunTask for an unregistered name.
	ErrUnknownTask = errors.New("unknown cleanup task")
	// ErrInvalidLogDir is returned for a LogDir that overlaps the store's own files.
	ErrInvalidLogDir = errors.New("invalid log dir")
)

// TaskError reports the failure of one task.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("cleanup task %s: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Is matches ErrTaskFailed.
func (e *TaskError) Is(target error) bool { return target == ErrTaskFailed }

// classify maps permission errors to ErrPermissionDenied.
func classify(op, path string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%s %s: %w: %w", op, path, ErrPermissionDenied, err)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}
