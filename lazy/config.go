package lazy

import (
	"log/slog"
	"time"

	"github.com/hupe1980/vecstore/codec"
	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/internal/resource"
)

// Config controls chunking, the memory ceiling and prefetching.
type Config struct {
	// MaxMemoryMB is the ceiling for loaded chunks.
	MaxMemoryMB int `yaml:"max_memory_mb" json:"max_memory_mb"`
	// ChunkSize is the number of entries per chunk.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// PrefetchAhead caps the successors prefetched per cache hit. Zero disables prefetch.
	PrefetchAhead int `yaml:"prefetch_ahead" json:"prefetch_ahead"`
	// TTL evicts chunks not accessed for this long. Zero disables expiry.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// EnableAccessLearning records chunk transitions.
	EnableAccessLearning bool `yaml:"enable_access_learning" json:"enable_access_learning"`
	// PrefetchWorkers is the size of the background prefetch pool.
	PrefetchWorkers int `yaml:"prefetch_workers" json:"prefetch_workers"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxMemoryMB:          512,
		ChunkSize:            1000,
		PrefetchAhead:        2,
		TTL:                  30 * time.Minute,
		EnableAccessLearning: true,
		PrefetchWorkers:      2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxMemoryMB <= 0 {
		c.MaxMemoryMB = d.MaxMemoryMB
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.PrefetchAhead < 0 {
		c.PrefetchAhead = 0
	}
	if c.PrefetchWorkers <= 0 {
		c.PrefetchWorkers = d.PrefetchWorkers
	}
	return c
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithResourceController reports loaded chunk memory to rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(m *Manager) {
		m.rc = rc
	}
}

// WithFileSystem sets the filesystem used by InitFromIndexFile.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.fsys = fsys
		}
	}
}

// WithCodec sets the codec used by InitFromIndexFile.
func WithCodec(c codec.Codec) Option {
	return func(m *Manager) {
		if c != nil {
			m.codec = c
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
