package cache

// PageCache is a byte-oriented cache for decoded page payloads keyed by page
// file name. Returned slices must be treated as read-only.
type PageCache interface {
	// Get returns a cached page. ok=false if missing.
	Get(name string) (b []byte, ok bool)
	// Set caches a page. The caller must treat b as immutable afterwards.
	Set(name string, b []byte)
	// Remove drops a single page, typically after it was rewritten.
	Remove(name string)
	// Invalidate removes every page matching the predicate.
	Invalidate(predicate func(name string) bool)
	// Stats returns cache statistics.
	Stats() Stats
}

// Stats holds cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	SizeBytes int64
	Entries   int
}

// Nop is a PageCache that never stores anything.
type Nop struct{}

func (Nop) Get(string) ([]byte, bool)    { return nil, false }
func (Nop) Set(string, []byte)           {}
func (Nop) Remove(string)                {}
func (Nop) Invalidate(func(string) bool) {}
func (Nop) Stats() Stats                 { return Stats{} }
