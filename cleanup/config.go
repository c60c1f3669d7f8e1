package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/internal/resource"
	"github.com/hupe1980/vecstore/storage"
)

// Config holds per-task intervals and thresholds. A zero interval disables
// the task.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	TempFileInterval            time.Duration `yaml:"temp_file_interval" json:"temp_file_interval"`
	StaleLockInterval           time.Duration `yaml:"stale_lock_interval" json:"stale_lock_interval"`
	CacheEvictionInterval       time.Duration `yaml:"cache_eviction_interval" json:"cache_eviction_interval"`
	StorageOptimizationInterval time.Duration `yaml:"storage_optimization_interval" json:"storage_optimization_interval"`
	LogRotationInterval         time.Duration `yaml:"log_rotation_interval" json:"log_rotation_interval"`
	BackupRetentionInterval     time.Duration `yaml:"backup_retention_interval" json:"backup_retention_interval"`
	AgeCompressionInterval      time.Duration `yaml:"age_compression_interval" json:"age_compression_interval"`

	// TempFileAgeThreshold is the minimum age of a deleted temp file.
	TempFileAgeThreshold time.Duration `yaml:"temp_file_age_threshold" json:"temp_file_age_threshold"`
	// StaleLockAge treats older lock files as stale even if the owner lives.
	StaleLockAge time.Duration `yaml:"stale_lock_age" json:"stale_lock_age"`
	// MaxBackupsToKeep is the number of newest backups retained.
	MaxBackupsToKeep int `yaml:"max_backups_to_keep" json:"max_backups_to_keep"`
	// MaxLogAgeDays deletes log files older than this many days.
	MaxLogAgeDays int `yaml:"max_log_age_days" json:"max_log_age_days"`
	// CompressAfter compresses log files older than this with LZ4.
	CompressAfter time.Duration `yaml:"compress_after" json:"compress_after"`
	// LogDir holds the rotated logs. Relative paths resolve against the store directory.
	LogDir string `yaml:"log_dir" json:"log_dir"`

	// MemoryThresholdMB triggers an out-of-schedule cleanup when the memory
	// probe exceeds it. Zero disables the monitor.
	MemoryThresholdMB   int           `yaml:"memory_threshold_mb" json:"memory_threshold_mb"`
	MemoryCheckInterval time.Duration `yaml:"memory_check_interval" json:"memory_check_interval"`
}

// DefaultConfig returns the default schedule.
func DefaultConfig() Config {
	return Config{
		Enabled:                     true,
		TempFileInterval:            time.Hour,
		StaleLockInterval:           10 * time.Minute,
		CacheEvictionInterval:       5 * time.Minute,
		StorageOptimizationInterval: 24 * time.Hour,
		LogRotationInterval:         24 * time.Hour,
		BackupRetentionInterval:     6 * time.Hour,
		AgeCompressionInterval:      24 * time.Hour,
		TempFileAgeThreshold:        time.Hour,
		StaleLockAge:                10 * time.Minute,
		MaxBackupsToKeep:            5,
		MaxLogAgeDays:               7,
		CompressAfter:               24 * time.Hour,
		LogDir:                      "logs",
		MemoryCheckInterval:         30 * time.Second,
	}
}

// ResolveLogDir returns the absolute log directory for the store in dir. It
// rejects an empty LogDir and any LogDir that is the store directory, one of
// its ancestors, or lies inside its temp or backup directory, because the log
// tasks delete and rewrite what they find there.
func (c Config) ResolveLogDir(dir string) (string, error) {
	if strings.TrimSpace(c.LogDir) == "" {
		return "", fmt.Errorf("%w: log_dir must be set", ErrInvalidLogDir)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidLogDir, err)
	}
	logDir := c.LogDir
	if !filepath.IsAbs(logDir) {
		logDir = filepath.Join(root, logDir)
	}
	logDir = filepath.Clean(logDir)

	if within(logDir, root) {
		return "", fmt.Errorf("%w: %s contains the store directory", ErrInvalidLogDir, c.LogDir)
	}
	for _, sub := range []string{storage.TempDirName, storage.BackupDirName} {
		if within(filepath.Join(root, sub), logDir) {
			return "", fmt.Errorf("%w: %s is inside %s", ErrInvalidLogDir, c.LogDir, sub)
		}
	}
	return logDir, nil
}

// within reports whether path is parent or lies below it.
func within(parent, path string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// HookFunc is a task implemented outside this package, such as evicting the
// lazy loader or compacting storage.
type HookFunc func(ctx context.Context) (TaskResult, error)

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

// WithFileSystem sets the filesystem.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.fsys = fsys
		}
	}
}

// WithResourceController bounds concurrent scheduled tasks by rc's
// background slots.
func WithResourceController(rc *resource.Controller) Option {
	return func(m *Manager) {
		m.rc = rc
	}
}

// WithCacheEviction sets the cache_eviction hook.
func WithCacheEviction(fn HookFunc) Option {
	return func(m *Manager) {
		m.hooks[TaskCacheEviction] = fn
	}
}

// WithStorageOptimization sets the storage_optimization hook.
func WithStorageOptimization(fn HookFunc) Option {
	return func(m *Manager) {
		m.hooks[TaskStorageOptimization] = fn
	}
}

// WithMemoryProbe replaces the heap probe used by the memory monitor.
func WithMemoryProbe(fn func() uint64) Option {
	return func(m *Manager) {
		if fn != nil {
			m.probe = fn
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
