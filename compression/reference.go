package compression

import (
	"maps"
	"math"
	"slices"
	"sync"
)

// DefaultMaxReferences bounds the reference pool when no size is configured.
const DefaultMaxReferences = 256

// ReferenceView is the read-only view of the reference pool handed to
// consumers that only decode.
type ReferenceView interface {
	Get(id string) ([]float32, bool)
	Len() int
}

// ReferencePool is the single owned pool of delta-compression references.
//
// References are never evicted: a stored delta stays decodable for as long as
// the pool is persisted alongside the pages. Once the pool is full, new
// dissimilar vectors are stored raw without becoming references.
type ReferencePool struct {
	mu    sync.RWMutex
	refs  map[string][]float32
	order []string
	max   int
	dirty bool
}

// NewReferencePool creates a pool holding at most maxRefs vectors.
func NewReferencePool(maxRefs int) *ReferencePool {
	if maxRefs <= 0 {
		maxRefs = DefaultMaxReferences
	}
	return &ReferencePool{
		refs: make(map[string][]float32),
		max:  maxRefs,
	}
}

// Get returns the reference with the given id.
func (p *ReferencePool) Get(id string) ([]float32, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.refs[id]
	return v, ok
}

// Len returns the number of references.
func (p *ReferencePool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.refs)
}

// Full reports whether the pool reached its capacity.
func (p *ReferencePool) Full() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.refs) >= p.max
}

// View returns a read-only view of the pool.
func (p *ReferencePool) View() ReferenceView {
	return readOnlyView{p}
}

type readOnlyView struct{ p *ReferencePool }

func (v readOnlyView) Get(id string) ([]float32, bool) { return v.p.Get(id) }
func (v readOnlyView) Len() int                        { return v.p.Len() }

// Best returns the most similar reference of the same dimension.
func (p *ReferencePool) Best(v []float32) (id string, similarity float32, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	best := float32(math.Inf(-1))
	for _, rid := range p.order {
		ref := p.refs[rid]
		if len(ref) != len(v) {
			continue
		}
		if s := CosineSimilarity(v, ref); s > best {
			best, id, ok = s, rid, true
		}
	}
	return id, best, ok
}

// Add copies v into the pool under id. It returns false when the pool is
// full or the id already exists.
func (p *ReferencePool) Add(id string, v []float32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.refs[id]; exists || len(p.refs) >= p.max {
		return false
	}
	p.refs[id] = slices.Clone(v)
	p.order = append(p.order, id)
	p.dirty = true
	return true
}

// Snapshot returns a copy of every reference, for persistence.
func (p *ReferencePool) Snapshot() map[string][]float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string][]float32, len(p.refs))
	for id, v := range p.refs {
		out[id] = slices.Clone(v)
	}
	return out
}

// Restore replaces the pool content with refs and clears the dirty flag.
func (p *ReferencePool) Restore(refs map[string][]float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs = make(map[string][]float32, len(refs))
	p.order = slices.Sorted(maps.Keys(refs))
	for id, v := range refs {
		p.refs[id] = slices.Clone(v)
	}
	p.dirty = false
}

// Dirty reports whether references were added since the last MarkClean.
func (p *ReferencePool) Dirty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dirty
}

// MarkClean clears the dirty flag after the pool was persisted.
func (p *ReferencePool) MarkClean() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = false
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector has zero norm or the lengths differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
