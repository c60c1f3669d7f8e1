package compression

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuantizationBits is returned for bit widths other than 8, 16 or 32.
	ErrInvalidQuantizationBits = errors.New("invalid quantization bits")

	// ErrCompressionFailed is returned when a vector cannot be encoded.
	ErrCompressionFailed = errors.New("compression failed")

	// ErrDecompressionFailed is returned when a payload cannot be decoded.
	ErrDecompressionFailed = errors.New("decompression failed")

	// ErrReferenceNotFound is returned (wrapped in ErrDecompressionFailed) when
	// a delta's reference vector is not resident.
	ErrReferenceNotFound = errors.New("reference vector not found")

	// ErrUnknownAlgorithm is returned when parsing an unknown algorithm name.
	ErrUnknownAlgorithm = errors.New("unknown compression algorithm")
)

// DimensionMismatchError indicates that a payload and its reference (or the
// declared dimension) disagree.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrDimensionMismatch is the sentinel matched by every DimensionMismatchError.
var ErrDimensionMismatch = errors.New("dimension mismatch")

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }
