package model

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidEntry is the sentinel for rejected input. Every validation
// failure satisfies errors.Is(err, ErrInvalidEntry).
var ErrInvalidEntry = errors.New("invalid entry")

// ValidationError describes why an entry was rejected.
type ValidationError struct {
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid entry: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid entry %s: %s: %s", e.ID, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidEntry }

// ValidateVector rejects empty vectors and non-finite components.
func ValidateVector(v []float32) error {
	if len(v) == 0 {
		return &ValidationError{Field: "vector", Reason: "must not be empty"}
	}
	if i, ok := FirstNonFinite(v); ok {
		return &ValidationError{Field: "vector", Reason: fmt.Sprintf("component %d is not finite (%v)", i, v[i])}
	}
	return nil
}

// FirstNonFinite returns the index of the first NaN or Inf component.
func FirstNonFinite(v []float32) (int, bool) {
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i, true
		}
	}
	return 0, false
}

// Validate checks the entry before it may reach storage.
func (e *EmbeddingEntry) Validate() error {
	if e == nil {
		return &ValidationError{Field: "entry", Reason: "nil"}
	}
	if e.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if err := ValidateVector(e.Vector); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.ID = e.ID
		}
		return err
	}
	if e.Metadata.FilePath == "" {
		return &ValidationError{ID: e.ID, Field: "file_path", Reason: "must not be empty"}
	}
	return nil
}
