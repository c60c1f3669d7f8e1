package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/hupe1980/vecstore/model"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in range [0, 1).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// UniformVectors generates random vectors with values in range [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = r.rand.Float32()
		}
		vectors[i] = vec
	}

	return vectors
}

// UniformRangeVectors generates random vectors with values in range [-1, 1).
func (r *RNG) UniformRangeVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range num {
		vec := make([]float32, dimensions)
		for j := range vec {
			vec[j] = r.rand.Float32()*2 - 1
		}
		vectors[i] = vec
	}

	return vectors
}

// UnitVector generates a single L2-normalized random vector.
func (r *RNG) UnitVector(dimensions int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unitLocked(dimensions)
}

func (r *RNG) unitLocked(dimensions int) []float32 {
	vec := make([]float32, dimensions)
	var norm float64
	for j := range vec {
		v := r.rand.NormFloat64()
		vec[j] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		norm = 1
	}
	inv := float32(1.0 / math.Sqrt(norm))
	for j := range vec {
		vec[j] *= inv
	}
	return vec
}

// UnitVectors generates L2-normalized random vectors (on the hypersphere).
func (r *RNG) UnitVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range num {
		vectors[i] = r.unitLocked(dimensions)
	}
	return vectors
}

// ClusteredVectors generates vectors clustered around random centroids.
// Small spreads produce vectors that are highly similar within a cluster,
// which is what delta compression feeds on.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range num {
		centroid := centroids[i%clusters]
		vec := make([]float32, dim)
		for j := range dim {
			vec[j] = centroid[j] + float32(r.rand.NormFloat64())*spread
		}
		vectors[i] = vec
	}

	return vectors
}

// EntryOptions shape the entries produced by Entries.
type EntryOptions struct {
	Dimension int
	Files     int
	Models    []string
	// Start is the CreatedAt of the first entry; later entries follow Step apart.
	Start time.Time
	Step  time.Duration
}

// Entries generates num valid entries spread round-robin over files and
// models. Chunk ids are unique per file.
func (r *RNG) Entries(num int, opts EntryOptions) []*model.EmbeddingEntry {
	if opts.Dimension <= 0 {
		opts.Dimension = 8
	}
	if opts.Files <= 0 {
		opts.Files = 1
	}
	if len(opts.Models) == 0 {
		opts.Models = []string{"test-model"}
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now().UTC().Add(-time.Duration(num) * time.Second)
	}
	if opts.Step == 0 {
		opts.Step = time.Second
	}

	vectors := r.UniformRangeVectors(num, opts.Dimension)
	out := make([]*model.EmbeddingEntry, num)
	for i := range num {
		file := fmt.Sprintf("src/file_%03d.go", i%opts.Files)
		chunk := fmt.Sprintf("chunk_%d", i/opts.Files)
		text := fmt.Sprintf("func f%d() { return %d }", i, i)
		e := model.NewEntry(vectors[i], file, chunk, text, opts.Models[i%len(opts.Models)])
		ts := opts.Start.Add(time.Duration(i) * opts.Step)
		e.Metadata.CreatedAt = ts
		e.Metadata.UpdatedAt = ts
		out[i] = e
	}
	return out
}

// MaxAbsDiff returns the largest absolute component difference.
func MaxAbsDiff(a, b []float32) float32 {
	var m float32
	for i := range min(len(a), len(b)) {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		m = max(m, d)
	}
	return m
}
