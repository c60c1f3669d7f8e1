package compression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecstore/testutil"
)

func TestQuantizeRoundTripWithinBound(t *testing.T) {
	rng := testutil.NewRNG(42)
	vecs := rng.UniformRangeVectors(50, 384)

	for _, bits := range []int{8, 16} {
		for _, v := range vecs {
			data, params, err := Quantize(v, bits)
			require.NoError(t, err)
			require.Len(t, data, len(v)*bits/8)

			out, err := Dequantize(data, params, len(v))
			require.NoError(t, err)
			assert.LessOrEqual(t, testutil.MaxAbsDiff(v, out), params.ErrorBound()+1e-6)
		}
	}
}

func TestQuantizeConstantVector(t *testing.T) {
	v := []float32{0.5, 0.5, 0.5}

	data, params, err := Quantize(v, 8)
	require.NoError(t, err)
	assert.Zero(t, params.Scale)

	out, err := Dequantize(data, params, 3)
	require.NoError(t, err)
	assert.Equal(t, v, out)
}

func TestQuantizeInvalidBits(t *testing.T) {
	_, _, err := Quantize([]float32{1, 2}, 4)
	assert.ErrorIs(t, err, ErrInvalidQuantizationBits)

	_, err = NewEngine(Config{QuantizationBits: 12})
	assert.ErrorIs(t, err, ErrInvalidQuantizationBits)
}

func TestEngineRatios(t *testing.T) {
	rng := testutil.NewRNG(7)
	v := rng.UnitVector(384)

	tests := []struct {
		name string
		alg  Algorithm
		kind Kind
		max  float64
	}{
		{"none", None, KindRaw, 1.0},
		{"8bit", Quantized8Bit, KindQuantized, 0.3},
		{"16bit", Quantized16Bit, KindQuantized, 0.55},
		{"pq alias", ProductQuantization, KindQuantized, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Algorithm = tt.alg
			e, err := NewEngine(cfg)
			require.NoError(t, err)

			cv, err := e.Compress(v)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, cv.Kind)
			assert.LessOrEqual(t, cv.Ratio, tt.max)

			out, err := e.Decompress(cv)
			require.NoError(t, err)
			assert.LessOrEqual(t, testutil.MaxAbsDiff(v, out), cv.ErrorBound()+1e-6)
		})
	}
}

func TestDeltaCompression(t *testing.T) {
	rng := testutil.NewRNG(3)
	vecs := rng.ClusteredVectors(20, 64, 1, 0.01)

	cfg := DefaultConfig()
	cfg.Algorithm = DeltaQuantized
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	// 1. First vector becomes a reference and is stored raw
	first, err := e.Compress(vecs[0])
	require.NoError(t, err)
	assert.Equal(t, KindRaw, first.Kind)
	assert.Equal(t, 1, e.References().Len())

	// 2. Similar vectors are stored as deltas
	for _, v := range vecs[1:] {
		cv, err := e.Compress(v)
		require.NoError(t, err)
		require.Equal(t, KindDelta, cv.Kind)
		assert.NotEmpty(t, cv.ReferenceID)

		out, err := e.Decompress(cv)
		require.NoError(t, err)
		assert.LessOrEqual(t, testutil.MaxAbsDiff(v, out), cv.ErrorBound()+1e-6)
	}

	// 3. A dissimilar vector becomes a second reference
	far := make([]float32, 64)
	for i := range far {
		far[i] = -vecs[0][i]
	}
	cv, err := e.Compress(far)
	require.NoError(t, err)
	assert.Equal(t, KindRaw, cv.Kind)
	assert.Equal(t, 2, e.References().Len())

	st := e.Stats()
	assert.Equal(t, uint64(21), st.Compressed)
	assert.Equal(t, uint64(19), st.DeltaVectors)
}

func TestDeltaMissingReferenceIsHardError(t *testing.T) {
	rng := testutil.NewRNG(5)
	vecs := rng.ClusteredVectors(2, 16, 1, 0.01)

	cfg := DefaultConfig()
	cfg.Algorithm = DeltaQuantized
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	_, err = e.Compress(vecs[0])
	require.NoError(t, err)
	cv, err := e.Compress(vecs[1])
	require.NoError(t, err)
	require.Equal(t, KindDelta, cv.Kind)

	// A fresh pool does not know the reference
	_, err = Decode(cv, NewReferencePool(4).View())
	assert.ErrorIs(t, err, ErrDecompressionFailed)
	assert.ErrorIs(t, err, ErrReferenceNotFound)

	// Restoring a snapshot makes it decodable again
	restored := NewReferencePool(4)
	restored.Restore(e.References().Snapshot())
	out, err := Decode(cv, restored.View())
	require.NoError(t, err)
	assert.Len(t, out, 16)
}

func TestReferencePoolBounded(t *testing.T) {
	p := NewReferencePool(2)

	assert.True(t, p.Add("a", []float32{1, 0}))
	assert.False(t, p.Add("a", []float32{1, 0}))
	assert.True(t, p.Add("b", []float32{0, 1}))
	assert.False(t, p.Add("c", []float32{1, 1}))
	assert.True(t, p.Full())
	assert.True(t, p.Dirty())

	id, sim, ok := p.Best([]float32{0.9, 0.1})
	require.True(t, ok)
	assert.Equal(t, "a", id)
	assert.Greater(t, sim, float32(0.9))

	_, _, ok = p.Best([]float32{1, 2, 3})
	assert.False(t, ok)
}

func TestDecodeDimensionMismatch(t *testing.T) {
	cv := &CompressedVector{Kind: KindRaw, Dimension: 3, Raw: []float32{1, 2}}

	_, err := Decode(cv, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestCompressBatch(t *testing.T) {
	rng := testutil.NewRNG(9)
	vecs := rng.UniformRangeVectors(32, 32)

	cfg := DefaultConfig()
	cfg.Algorithm = Quantized8Bit
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	cvs, err := e.CompressBatch(vecs)
	require.NoError(t, err)
	require.Len(t, cvs, 32)

	out, err := e.DecompressBatch(cvs)
	require.NoError(t, err)
	for i := range vecs {
		assert.LessOrEqual(t, testutil.MaxAbsDiff(vecs[i], out[i]), cvs[i].ErrorBound()+1e-6)
	}
	assert.Equal(t, uint64(32), e.Stats().QuantizedVectors)
}

func TestAlgorithmText(t *testing.T) {
	for a := range algorithmNames {
		b, err := a.MarshalText()
		require.NoError(t, err)

		var got Algorithm
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, a, got)
	}

	a, err := ParseAlgorithm("Quantized-8bit")
	require.NoError(t, err)
	assert.Equal(t, Quantized8Bit, a)

	_, err = ParseAlgorithm("zstd")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestGzipAndLZ4(t *testing.T) {
	in := []byte(`{"entries":[1,2,3,4,5,6,7,8,9,10]}`)

	gz, err := Gzip(in)
	require.NoError(t, err)
	out, err := Gunzip(gz)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	lz, err := LZ4(in)
	require.NoError(t, err)
	out, err = UnLZ4(lz)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = Gunzip([]byte("not gzip"))
	assert.ErrorIs(t, err, ErrDecompressionFailed)
}
