package vecstore

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with store-specific helpers so every component
// logs with the same field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, a text handler writing to stderr at info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that writes JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NewTextLogger creates a Logger that writes human-readable lines to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithID adds an entry id field.
func (l *Logger) WithID(id string) *Logger {
	return &Logger{Logger: l.Logger.With("id", id)}
}

// WithFile adds a source file path field.
func (l *Logger) WithFile(path string) *Logger {
	return &Logger{Logger: l.Logger.With("file_path", path)}
}

// WithComponent tags the logger with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// LogStore logs a single store.
func (l *Logger) LogStore(ctx context.Context, id string, dimension int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "store failed", "id", id, "dimension", dimension, "error", err)
		return
	}
	l.DebugContext(ctx, "store completed", "id", id, "dimension", dimension)
}

// LogBatch logs a batch operation.
func (l *Logger) LogBatch(ctx context.Context, op string, count int, d time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "batch rejected", "op", op, "count", count, "error", err)
		return
	}
	l.InfoContext(ctx, "batch completed", "op", op, "count", count, "duration", d)
}

// LogUpdate logs an update.
func (l *Logger) LogUpdate(ctx context.Context, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "update failed", "id", id, "error", err)
		return
	}
	l.DebugContext(ctx, "update completed", "id", id)
}

// LogDelete logs a delete.
func (l *Logger) LogDelete(ctx context.Context, id string, found bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed", "id", id, "error", err)
		return
	}
	l.DebugContext(ctx, "delete completed", "id", id, "found", found)
}

// LogRemoval logs a data cleanup operation.
func (l *Logger) LogRemoval(ctx context.Context, op string, removed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "removal failed", "op", op, "removed", removed, "error", err)
		return
	}
	l.InfoContext(ctx, "removal completed", "op", op, "removed", removed)
}

// LogOpen logs the outcome of opening a store.
func (l *Logger) LogOpen(ctx context.Context, dir string, entries int, fromSideFile bool, d time.Duration) {
	l.InfoContext(ctx, "store opened",
		"dir", dir,
		"entries", entries,
		"index_side_file", fromSideFile,
		"duration", d,
	)
}
