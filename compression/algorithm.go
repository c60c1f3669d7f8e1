package compression

import (
	"fmt"
	"strings"
)

// Algorithm selects how vectors are encoded.
type Algorithm int

const (
	// None stores raw float32 values (pages may still be gzip-compressed).
	None Algorithm = iota
	// Quantized8Bit stores each component in one byte.
	Quantized8Bit
	// Quantized16Bit stores each component in two bytes.
	Quantized16Bit
	// DeltaQuantized stores vectors similar to a reference as an 8-bit
	// quantized difference; dissimilar vectors are stored raw and become references.
	DeltaQuantized
	// ProductQuantization is accepted for configuration compatibility and
	// encodes exactly like Quantized8Bit.
	ProductQuantization
)

var algorithmNames = map[Algorithm]string{
	None:                "none",
	Quantized8Bit:       "quantized_8bit",
	Quantized16Bit:      "quantized_16bit",
	DeltaQuantized:      "delta_quantized",
	ProductQuantization: "product_quantization",
}

// String returns the stable configuration name of the algorithm.
func (a Algorithm) String() string {
	if s, ok := algorithmNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// ParseAlgorithm parses a configuration name. Matching is case-insensitive
// and accepts '-' in place of '_'.
func ParseAlgorithm(s string) (Algorithm, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if norm == "" {
		return None, nil
	}
	for a, name := range algorithmNames {
		if name == norm {
			return a, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

// MarshalText implements encoding.TextMarshaler.
func (a Algorithm) MarshalText() ([]byte, error) {
	if _, ok := algorithmNames[a]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Algorithm) UnmarshalText(b []byte) error {
	v, err := ParseAlgorithm(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Decode implements envconfig.Decoder.
func (a *Algorithm) Decode(value string) error {
	return a.UnmarshalText([]byte(value))
}

// Kind tags the variant held by a CompressedVector.
type Kind uint8

const (
	KindRaw Kind = iota
	KindQuantized
	KindDelta
)

var kindNames = [...]string{"raw", "quantized", "delta"}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) {
		return nil, fmt.Errorf("unknown vector kind %d", k)
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("%w: unknown vector kind %q", ErrDecompressionFailed, b)
}
