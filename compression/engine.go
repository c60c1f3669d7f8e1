package compression

import (
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
)

// Config controls vector encoding.
type Config struct {
	Algorithm Algorithm `yaml:"algorithm" json:"algorithm"`
	// QuantizationBits is consulted when Algorithm is None: 32 keeps raw
	// floats, 8 and 16 select the matching quantized encoding.
	QuantizationBits int `yaml:"quantization_bits" json:"quantization_bits"`
	// DeltaSimilarityThreshold is the minimum cosine similarity for a vector
	// to be delta-encoded against a reference.
	DeltaSimilarityThreshold float32 `yaml:"delta_similarity_threshold" json:"delta_similarity_threshold"`
	EnableBatchCompression   bool    `yaml:"enable_batch_compression" json:"enable_batch_compression"`
	MinBatchSize             int     `yaml:"min_batch_size" json:"min_batch_size"`
	MaxReferenceVectors      int     `yaml:"max_reference_vectors" json:"max_reference_vectors"`
}

// DefaultConfig returns the default encoding configuration: raw float32.
func DefaultConfig() Config {
	return Config{
		Algorithm:                None,
		QuantizationBits:         32,
		DeltaSimilarityThreshold: 0.85,
		EnableBatchCompression:   true,
		MinBatchSize:             10,
		MaxReferenceVectors:      DefaultMaxReferences,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.QuantizationBits {
	case 0, 8, 16, 32:
	default:
		return fmt.Errorf("%w: %d", ErrInvalidQuantizationBits, c.QuantizationBits)
	}
	if _, ok := algorithmNames[c.Algorithm]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAlgorithm, int(c.Algorithm))
	}
	if c.DeltaSimilarityThreshold < -1 || c.DeltaSimilarityThreshold > 1 {
		return fmt.Errorf("delta similarity threshold %v outside [-1, 1]", c.DeltaSimilarityThreshold)
	}
	return nil
}

// effectiveBits returns the quantization width used for non-delta vectors,
// or 0 for raw storage.
func (c Config) effectiveBits() int {
	switch c.Algorithm {
	case Quantized8Bit, ProductQuantization:
		return 8
	case Quantized16Bit:
		return 16
	case None:
		if c.QuantizationBits == 8 || c.QuantizationBits == 16 {
			return c.QuantizationBits
		}
	}
	return 0
}

// CompressedVector is the tagged encoding of one vector.
type CompressedVector struct {
	Kind        Kind         `json:"kind"`
	Dimension   int          `json:"dim"`
	Raw         []float32    `json:"raw,omitempty"`
	Data        []byte       `json:"data,omitempty"`
	Params      *QuantParams `json:"params,omitempty"`
	ReferenceID string       `json:"ref,omitempty"`
	Ratio       float64      `json:"ratio"`
}

// Size returns the encoded payload size in bytes.
func (c *CompressedVector) Size() int {
	switch c.Kind {
	case KindQuantized:
		return len(c.Data) + paramsSize
	case KindDelta:
		return len(c.Data) + paramsSize + len(c.ReferenceID)
	default:
		return len(c.Raw) * 4
	}
}

// ErrorBound returns the maximum absolute reconstruction error.
func (c *CompressedVector) ErrorBound() float32 {
	if c.Params == nil {
		return 0
	}
	return c.Params.ErrorBound()
}

// Stats are cumulative engine counters.
type Stats struct {
	Compressed        uint64  `json:"compressed"`
	Decompressed      uint64  `json:"decompressed"`
	RawVectors        uint64  `json:"raw_vectors"`
	QuantizedVectors  uint64  `json:"quantized_vectors"`
	DeltaVectors      uint64  `json:"delta_vectors"`
	ReferenceVectors  int     `json:"reference_vectors"`
	OriginalBytes     uint64  `json:"original_bytes"`
	CompressedBytes   uint64  `json:"compressed_bytes"`
	CompressionRatio  float64 `json:"compression_ratio"`
	DecompressFailure uint64  `json:"decompress_failures"`
}

// Engine encodes and decodes vectors. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	bits   int
	refs   *ReferencePool
	logger *slog.Logger

	compressed    atomic.Uint64
	decompressed  atomic.Uint64
	raw           atomic.Uint64
	quantized     atomic.Uint64
	delta         atomic.Uint64
	originalBytes atomic.Uint64
	encodedBytes  atomic.Uint64
	failures      atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithReferencePool shares an existing pool, typically one restored from disk.
func WithReferencePool(p *ReferencePool) Option {
	return func(e *Engine) {
		if p != nil {
			e.refs = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxReferenceVectors <= 0 {
		cfg.MaxReferenceVectors = DefaultMaxReferences
	}
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = 1
	}
	e := &Engine{cfg: cfg, bits: cfg.effectiveBits(), logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.refs == nil {
		e.refs = NewReferencePool(cfg.MaxReferenceVectors)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// References returns the owned reference pool.
func (e *Engine) References() *ReferencePool { return e.refs }

// Compress encodes v according to the configured algorithm.
func (e *Engine) Compress(v []float32) (*CompressedVector, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrCompressionFailed)
	}

	var (
		cv  *CompressedVector
		err error
	)
	switch {
	case e.cfg.Algorithm == DeltaQuantized:
		cv, err = e.compressDelta(v)
	case e.bits > 0:
		cv, err = quantized(v, e.bits)
	default:
		cv = rawVector(v)
	}
	if err != nil {
		return nil, err
	}

	cv.Ratio = float64(cv.Size()) / float64(len(v)*4)
	e.record(cv)
	return cv, nil
}

func rawVector(v []float32) *CompressedVector {
	return &CompressedVector{Kind: KindRaw, Dimension: len(v), Raw: slices.Clone(v)}
}

func quantized(v []float32, bits int) (*CompressedVector, error) {
	data, params, err := Quantize(v, bits)
	if err != nil {
		return nil, err
	}
	return &CompressedVector{Kind: KindQuantized, Dimension: len(v), Data: data, Params: &params}, nil
}

func (e *Engine) compressDelta(v []float32) (*CompressedVector, error) {
	if id, sim, ok := e.refs.Best(v); ok && sim >= e.cfg.DeltaSimilarityThreshold {
		ref, _ := e.refs.Get(id)
		diff := make([]float32, len(v))
		for i := range v {
			diff[i] = v[i] - ref[i]
		}
		data, params, err := Quantize(diff, 8)
		if err != nil {
			return nil, err
		}
		return &CompressedVector{
			Kind:        KindDelta,
			Dimension:   len(v),
			Data:        data,
			Params:      &params,
			ReferenceID: id,
		}, nil
	}

	if e.refs.Add(uuid.NewString(), v) {
		e.logger.Debug("added delta reference", "dimension", len(v), "references", e.refs.Len())
	}
	return rawVector(v), nil
}

func (e *Engine) record(cv *CompressedVector) {
	e.compressed.Add(1)
	e.originalBytes.Add(uint64(cv.Dimension * 4))
	e.encodedBytes.Add(uint64(cv.Size()))
	switch cv.Kind {
	case KindQuantized:
		e.quantized.Add(1)
	case KindDelta:
		e.delta.Add(1)
	default:
		e.raw.Add(1)
	}
}

// Decompress decodes cv. A delta whose reference is missing is a hard error
// wrapping ErrReferenceNotFound.
func (e *Engine) Decompress(cv *CompressedVector) ([]float32, error) {
	v, err := decode(cv, e.refs)
	if err != nil {
		e.failures.Add(1)
		return nil, err
	}
	e.decompressed.Add(1)
	return v, nil
}

// Decode decodes cv using refs for delta payloads. It is usable without an
// Engine, e.g. by readers holding only a ReferenceView.
func Decode(cv *CompressedVector, refs ReferenceView) ([]float32, error) {
	return decode(cv, refs)
}

func decode(cv *CompressedVector, refs ReferenceView) ([]float32, error) {
	if cv == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrDecompressionFailed)
	}
	switch cv.Kind {
	case KindRaw:
		if cv.Dimension != 0 && len(cv.Raw) != cv.Dimension {
			return nil, fmt.Errorf("%w: %w", ErrDecompressionFailed, &DimensionMismatchError{Expected: cv.Dimension, Actual: len(cv.Raw)})
		}
		return slices.Clone(cv.Raw), nil
	case KindQuantized:
		if cv.Params == nil {
			return nil, fmt.Errorf("%w: missing quantization params", ErrDecompressionFailed)
		}
		return Dequantize(cv.Data, *cv.Params, cv.Dimension)
	case KindDelta:
		if cv.Params == nil {
			return nil, fmt.Errorf("%w: missing quantization params", ErrDecompressionFailed)
		}
		if refs == nil {
			return nil, fmt.Errorf("%w: %w: %s", ErrDecompressionFailed, ErrReferenceNotFound, cv.ReferenceID)
		}
		ref, ok := refs.Get(cv.ReferenceID)
		if !ok {
			return nil, fmt.Errorf("%w: %w: %s", ErrDecompressionFailed, ErrReferenceNotFound, cv.ReferenceID)
		}
		if len(ref) != cv.Dimension {
			return nil, fmt.Errorf("%w: %w", ErrDecompressionFailed, &DimensionMismatchError{Expected: cv.Dimension, Actual: len(ref)})
		}
		diff, err := Dequantize(cv.Data, *cv.Params, cv.Dimension)
		if err != nil {
			return nil, err
		}
		for i := range diff {
			diff[i] += ref[i]
		}
		return diff, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrDecompressionFailed, cv.Kind)
	}
}

// CompressBatch encodes vs. When batching is enabled and the batch reaches
// MinBatchSize, vectors are encoded without per-vector bookkeeping and the
// counters are updated once.
func (e *Engine) CompressBatch(vs [][]float32) ([]*CompressedVector, error) {
	if !e.cfg.EnableBatchCompression || len(vs) < e.cfg.MinBatchSize {
		out := make([]*CompressedVector, len(vs))
		for i, v := range vs {
			cv, err := e.Compress(v)
			if err != nil {
				return nil, fmt.Errorf("vector %d: %w", i, err)
			}
			out[i] = cv
		}
		return out, nil
	}

	out := make([]*CompressedVector, len(vs))
	var (
		orig, enc           uint64
		nRaw, nQuant, nDelt uint64
	)
	for i, v := range vs {
		if len(v) == 0 {
			return nil, fmt.Errorf("vector %d: %w: empty vector", i, ErrCompressionFailed)
		}
		var (
			cv  *CompressedVector
			err error
		)
		switch {
		case e.cfg.Algorithm == DeltaQuantized:
			cv, err = e.compressDelta(v)
		case e.bits > 0:
			cv, err = quantized(v, e.bits)
		default:
			cv = rawVector(v)
		}
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		cv.Ratio = float64(cv.Size()) / float64(len(v)*4)
		orig += uint64(len(v) * 4)
		enc += uint64(cv.Size())
		switch cv.Kind {
		case KindQuantized:
			nQuant++
		case KindDelta:
			nDelt++
		default:
			nRaw++
		}
		out[i] = cv
	}

	e.compressed.Add(uint64(len(vs)))
	e.originalBytes.Add(orig)
	e.encodedBytes.Add(enc)
	e.raw.Add(nRaw)
	e.quantized.Add(nQuant)
	e.delta.Add(nDelt)
	return out, nil
}

// DecompressBatch decodes every payload, failing on the first error.
func (e *Engine) DecompressBatch(cvs []*CompressedVector) ([][]float32, error) {
	out := make([][]float32, len(cvs))
	for i, cv := range cvs {
		v, err := e.Decompress(cv)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Compressed:        e.compressed.Load(),
		Decompressed:      e.decompressed.Load(),
		RawVectors:        e.raw.Load(),
		QuantizedVectors:  e.quantized.Load(),
		DeltaVectors:      e.delta.Load(),
		ReferenceVectors:  e.refs.Len(),
		OriginalBytes:     e.originalBytes.Load(),
		CompressedBytes:   e.encodedBytes.Load(),
		DecompressFailure: e.failures.Load(),
	}
	if s.OriginalBytes > 0 {
		s.CompressionRatio = float64(s.CompressedBytes) / float64(s.OriginalBytes)
	}
	return s
}
