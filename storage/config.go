package storage

import (
	"log/slog"
	"time"

	"github.com/hupe1980/vecstore/blobstore"
	"github.com/hupe1980/vecstore/codec"
	"github.com/hupe1980/vecstore/compression"
	"github.com/hupe1980/vecstore/internal/cache"
	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/internal/resource"
)

// Config controls the on-disk layout.
type Config struct {
	// MaxEntriesPerFile bounds the number of records in one page.
	MaxEntriesPerFile int `yaml:"max_entries_per_file" json:"max_entries_per_file"`
	// EnableCompression gzips pages (vector_<n>.json.gz).
	EnableCompression bool `yaml:"enable_compression" json:"enable_compression"`
	// EnableChecksums stores and verifies a CRC32-C over each page's entries.
	EnableChecksums bool `yaml:"enable_checksums" json:"enable_checksums"`
	// AutoBackup creates a backup before every compaction.
	AutoBackup bool `yaml:"auto_backup" json:"auto_backup"`
	// Compression selects the vector encoding.
	Compression compression.Config `yaml:"compression" json:"compression"`
	// LockTimeout bounds how long a writer waits for a page lock.
	LockTimeout time.Duration `yaml:"lock_timeout" json:"lock_timeout"`
	// LockPollInterval is the retry interval while waiting for a page lock.
	LockPollInterval time.Duration `yaml:"lock_poll_interval" json:"lock_poll_interval"`
	// PageCacheBytes bounds the decoded page cache. 0 disables it.
	PageCacheBytes int64 `yaml:"page_cache_bytes" json:"page_cache_bytes"`
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntriesPerFile: 1000,
		EnableCompression: false,
		EnableChecksums:   true,
		Compression:       compression.DefaultConfig(),
		LockTimeout:       5 * time.Second,
		LockPollInterval:  10 * time.Millisecond,
		PageCacheBytes:    32 << 20,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxEntriesPerFile <= 0 {
		c.MaxEntriesPerFile = d.MaxEntriesPerFile
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = d.LockTimeout
	}
	if c.LockPollInterval <= 0 {
		c.LockPollInterval = d.LockPollInterval
	}
	if c.Compression.QuantizationBits == 0 {
		c.Compression.QuantizationBits = 32
	}
	if c.Compression.DeltaSimilarityThreshold == 0 {
		c.Compression.DeltaSimilarityThreshold = d.Compression.DeltaSimilarityThreshold
	}
}

// Option configures a Storage.
type Option func(*options)

type options struct {
	fsys   fs.FileSystem
	logger *slog.Logger
	codec  codec.Codec
	rc     *resource.Controller
	cache  cache.PageCache
	mirror blobstore.Store
}

// WithFileSystem replaces the local file system, e.g. with a fault-injecting one.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fsys = fsys
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCodec sets the JSON codec for pages and side files.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithResourceController sets the controller used for page-cache memory
// accounting and for throttling compaction IO.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.rc = rc }
}

// WithPageCache replaces the default LRU page cache.
func WithPageCache(c cache.PageCache) Option {
	return func(o *options) {
		if c != nil {
			o.cache = c
		}
	}
}

// WithBackupMirror copies every backup to a remote blob store.
func WithBackupMirror(s blobstore.Store) Option {
	return func(o *options) { o.mirror = s }
}
