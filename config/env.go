package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/hupe1980/vecstore/compression"
)

// EnvPrefix prefixes every environment variable, e.g. VECSTORE_STORAGE_DIR.
const EnvPrefix = "VECSTORE"

// Env lists the settings that can be overridden from the environment.
// Unset variables leave the configuration unchanged.
type Env struct {
	StorageDir    *string `envconfig:"STORAGE_DIR"`
	SourceRoot    *string `envconfig:"SOURCE_ROOT"`
	Codec         *string `envconfig:"CODEC"`
	LogLevel      *string `envconfig:"LOG_LEVEL"`
	LogFormat     *string `envconfig:"LOG_FORMAT"`
	EnableMetrics *bool   `envconfig:"ENABLE_METRICS"`

	MaxEntriesPerFile *int     `envconfig:"MAX_ENTRIES_PER_FILE"`
	EnableCompression *bool    `envconfig:"ENABLE_COMPRESSION"`
	EnableChecksums   *bool    `envconfig:"ENABLE_CHECKSUMS"`
	AutoBackup        *bool    `envconfig:"AUTO_BACKUP"`
	Algorithm         *string  `envconfig:"COMPRESSION_ALGORITHM"`
	QuantizationBits  *int     `envconfig:"QUANTIZATION_BITS"`
	DeltaThreshold    *float32 `envconfig:"DELTA_SIMILARITY_THRESHOLD"`

	MaxMemoryMB   *int           `envconfig:"LAZY_MAX_MEMORY_MB"`
	ChunkSize     *int           `envconfig:"LAZY_CHUNK_SIZE"`
	PrefetchAhead *int           `envconfig:"LAZY_PREFETCH_AHEAD"`
	LazyTTL       *time.Duration `envconfig:"LAZY_TTL"`

	CleanupEnabled   *bool `envconfig:"CLEANUP_ENABLED"`
	MaxBackupsToKeep *int  `envconfig:"MAX_BACKUPS_TO_KEEP"`
	MaxLogAgeDays    *int  `envconfig:"MAX_LOG_AGE_DAYS"`

	RebuildWorkers *int           `envconfig:"REBUILD_PARALLEL_WORKERS"`
	RebuildTimeout *time.Duration `envconfig:"REBUILD_TIMEOUT"`
	HealthSample   *float64       `envconfig:"HEALTH_SAMPLE_PERCENTAGE"`

	BackupMirror    *string `envconfig:"BACKUP_MIRROR"`
	BackupDir       *string `envconfig:"BACKUP_LOCAL_DIR"`
	BackupBucket    *string `envconfig:"BACKUP_BUCKET"`
	BackupPrefix    *string `envconfig:"BACKUP_PREFIX"`
	BackupEndpoint  *string `envconfig:"BACKUP_ENDPOINT"`
	BackupRegion    *string `envconfig:"BACKUP_REGION"`
	BackupAccessKey *string `envconfig:"BACKUP_ACCESS_KEY"`
	BackupSecretKey *string `envconfig:"BACKUP_SECRET_KEY"`
	BackupUseSSL    *bool   `envconfig:"BACKUP_USE_SSL"`
}

// ApplyEnv overrides cfg with the VECSTORE_* variables that are set.
func ApplyEnv(cfg *Config) error {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	return env.apply(cfg)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func (e Env) apply(c *Config) error {
	set(&c.StorageDir, e.StorageDir)
	set(&c.SourceRoot, e.SourceRoot)
	set(&c.Codec, e.Codec)
	set(&c.LogLevel, e.LogLevel)
	set(&c.LogFormat, e.LogFormat)
	set(&c.EnableMetrics, e.EnableMetrics)

	set(&c.Storage.MaxEntriesPerFile, e.MaxEntriesPerFile)
	set(&c.Storage.EnableCompression, e.EnableCompression)
	set(&c.Storage.EnableChecksums, e.EnableChecksums)
	set(&c.Storage.AutoBackup, e.AutoBackup)
	if e.Algorithm != nil {
		var a compression.Algorithm
		if err := a.UnmarshalText([]byte(*e.Algorithm)); err != nil {
			return fmt.Errorf("%s_COMPRESSION_ALGORITHM: %w", EnvPrefix, err)
		}
		c.Storage.Compression.Algorithm = a
	}
	set(&c.Storage.Compression.QuantizationBits, e.QuantizationBits)
	set(&c.Storage.Compression.DeltaSimilarityThreshold, e.DeltaThreshold)

	set(&c.Lazy.MaxMemoryMB, e.MaxMemoryMB)
	set(&c.Lazy.ChunkSize, e.ChunkSize)
	set(&c.Lazy.PrefetchAhead, e.PrefetchAhead)
	set(&c.Lazy.TTL, e.LazyTTL)

	set(&c.Cleanup.Enabled, e.CleanupEnabled)
	set(&c.Cleanup.MaxBackupsToKeep, e.MaxBackupsToKeep)
	set(&c.Cleanup.MaxLogAgeDays, e.MaxLogAgeDays)

	set(&c.Rebuild.ParallelWorkers, e.RebuildWorkers)
	set(&c.Rebuild.Timeout, e.RebuildTimeout)
	set(&c.Health.SamplePercentage, e.HealthSample)

	set(&c.Backup.Mirror, e.BackupMirror)
	set(&c.Backup.LocalDir, e.BackupDir)
	set(&c.Backup.Bucket, e.BackupBucket)
	set(&c.Backup.Prefix, e.BackupPrefix)
	set(&c.Backup.Endpoint, e.BackupEndpoint)
	set(&c.Backup.Region, e.BackupRegion)
	set(&c.Backup.AccessKey, e.BackupAccessKey)
	set(&c.Backup.SecretKey, e.BackupSecretKey)
	set(&c.Backup.UseSSL, e.BackupUseSSL)
	return nil
}
