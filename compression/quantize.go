package compression

import (
	"encoding/binary"
	"fmt"
	"math"
)

// QuantParams are the affine parameters of a quantized payload.
type QuantParams struct {
	Min   float32 `json:"min"`
	Max   float32 `json:"max"`
	Scale float32 `json:"scale"`
	Bits  uint8   `json:"bits"`
}

// paramsSize is the encoded size of QuantParams in bytes.
const paramsSize = 13

// ErrorBound returns the maximum absolute reconstruction error.
func (p QuantParams) ErrorBound() float32 {
	return p.Scale / 2
}

func bytesPerValue(bits int) (int, error) {
	switch bits {
	case 8:
		return 1, nil
	case 16:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidQuantizationBits, bits)
	}
}

// Quantize maps v onto 2^bits uniform levels between its min and max:
//
//	scale = (max-min)/(2^bits-1)
//	q     = clamp(round((v-min)/scale), 0, 2^bits-1)
//
// Values are packed little-endian, one or two bytes each.
func Quantize(v []float32, bits int) ([]byte, QuantParams, error) {
	width, err := bytesPerValue(bits)
	if err != nil {
		return nil, QuantParams{}, err
	}
	if len(v) == 0 {
		return nil, QuantParams{}, fmt.Errorf("%w: empty vector", ErrCompressionFailed)
	}

	lo, hi := v[0], v[0]
	for _, x := range v[1:] {
		lo = min(lo, x)
		hi = max(hi, x)
	}
	if math.IsNaN(float64(lo)) || math.IsInf(float64(lo), 0) || math.IsInf(float64(hi), 0) {
		return nil, QuantParams{}, fmt.Errorf("%w: non-finite component", ErrCompressionFailed)
	}

	levels := float64(uint64(1)<<bits - 1)
	p := QuantParams{Min: lo, Max: hi, Bits: uint8(bits)}
	if hi > lo {
		p.Scale = float32((float64(hi) - float64(lo)) / levels)
	}

	out := make([]byte, len(v)*width)
	for i, x := range v {
		var q uint64
		if p.Scale > 0 {
			r := math.Round((float64(x) - float64(lo)) / float64(p.Scale))
			q = uint64(max(0, min(levels, r)))
		}
		if width == 1 {
			out[i] = byte(q)
		} else {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(q))
		}
	}
	return out, p, nil
}

// Dequantize reverses Quantize: v' = min + q*scale.
func Dequantize(data []byte, p QuantParams, dim int) ([]float32, error) {
	width, err := bytesPerValue(int(p.Bits))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompressionFailed, err)
	}
	if len(data) != dim*width {
		return nil, fmt.Errorf("%w: %w", ErrDecompressionFailed, &DimensionMismatchError{Expected: dim, Actual: len(data) / width})
	}

	out := make([]float32, dim)
	for i := range out {
		var q uint16
		if width == 1 {
			q = uint16(data[i])
		} else {
			q = binary.LittleEndian.Uint16(data[i*2:])
		}
		out[i] = float32(float64(p.Min) + float64(q)*float64(p.Scale))
	}
	return out, nil
}
