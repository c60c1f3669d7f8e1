package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecstore/blobstore"
	"github.com/hupe1980/vecstore/compression"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.Storage.MaxEntriesPerFile)
	assert.True(t, cfg.Cleanup.Enabled)
	assert.Equal(t, "json", cfg.JSONCodec().Name())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vecstore.yaml")
	yml := `
storage_dir: /data/store
log_level: debug
storage:
  max_entries_per_file: 250
  enable_compression: true
  compression:
    algorithm: quantized_8bit
lazy:
  chunk_size: 64
  ttl: 10m
cleanup:
  max_backups_to_keep: 3
  temp_file_interval: 30m
rebuild:
  parallel_workers: 8
health:
  sample_percentage: 25
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	// 1. .env values apply unless the environment already has them
	envPath := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("VECSTORE_LAZY_CHUNK_SIZE=128\n"), 0o644))
	t.Setenv("VECSTORE_LAZY_CHUNK_SIZE", "")
	require.NoError(t, os.Unsetenv("VECSTORE_LAZY_CHUNK_SIZE"))

	// 2. Environment overrides the file
	t.Setenv("VECSTORE_STORAGE_DIR", "/override")
	t.Setenv("VECSTORE_MAX_BACKUPS_TO_KEEP", "9")
	t.Setenv("VECSTORE_REBUILD_TIMEOUT", "90s")

	cfg, err := Load(path, envPath)
	require.NoError(t, err)

	assert.Equal(t, "/override", cfg.StorageDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250, cfg.Storage.MaxEntriesPerFile)
	assert.True(t, cfg.Storage.EnableCompression)
	assert.Equal(t, compression.Quantized8Bit, cfg.Storage.Compression.Algorithm)
	assert.Equal(t, 128, cfg.Lazy.ChunkSize)
	assert.Equal(t, 10*time.Minute, cfg.Lazy.TTL)
	assert.Equal(t, 9, cfg.Cleanup.MaxBackupsToKeep)
	assert.Equal(t, 30*time.Minute, cfg.Cleanup.TempFileInterval)
	assert.Equal(t, 8, cfg.Rebuild.ParallelWorkers)
	assert.Equal(t, 90*time.Second, cfg.Rebuild.Timeout)
	assert.InDelta(t, 25.0, cfg.Health.SamplePercentage, 1e-9)

	// Keys absent from the file keep their defaults
	assert.Equal(t, Default().Cleanup.StaleLockInterval, cfg.Cleanup.StaleLockInterval)
}

func TestEnvAlgorithm(t *testing.T) {
	t.Setenv("VECSTORE_COMPRESSION_ALGORITHM", "delta_quantized")
	cfg := Default()
	require.NoError(t, ApplyEnv(&cfg))
	assert.Equal(t, compression.DeltaQuantized, cfg.Storage.Compression.Algorithm)

	t.Setenv("VECSTORE_COMPRESSION_ALGORITHM", "zip")
	assert.Error(t, ApplyEnv(&cfg))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no dir", func(c *Config) { c.StorageDir = "" }},
		{"codec", func(c *Config) { c.Codec = "xml" }},
		{"level", func(c *Config) { c.LogLevel = "loud" }},
		{"format", func(c *Config) { c.LogFormat = "xml" }},
		{"bits", func(c *Config) { c.Storage.Compression.QuantizationBits = 12 }},
		{"sample", func(c *Config) { c.Health.SamplePercentage = 150 }},
		{"mirror", func(c *Config) { c.Backup.Mirror = "ftp" }},
		{"minio without endpoint", func(c *Config) { c.Backup.Mirror = MirrorMinIO }},
		{"memory limit", func(c *Config) { c.Resources.MemoryLimitBytes = -1 }},
		{"empty log dir", func(c *Config) { c.Cleanup.LogDir = "" }},
		{"log dir is store", func(c *Config) { c.Cleanup.LogDir = "." }},
		{"log dir is parent", func(c *Config) { c.Cleanup.LogDir = ".." }},
		{"log dir in backups", func(c *Config) { c.Cleanup.LogDir = "backups/logs" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestRoundTripYAML(t *testing.T) {
	cfg := Default()
	cfg.Storage.Compression.Algorithm = compression.Quantized16Bit
	data, err := Marshal(cfg)
	require.NoError(t, err)

	back := Default()
	require.NoError(t, Parse(data, &back))
	assert.Equal(t, cfg.Storage, back.Storage)
	assert.Equal(t, cfg.Lazy, back.Lazy)
}

func TestOpenMirror(t *testing.T) {
	ctx := context.Background()

	st, err := BackupConfig{}.OpenMirror(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = BackupConfig{Mirror: MirrorLocal, LocalDir: t.TempDir()}.OpenMirror(ctx)
	require.NoError(t, err)
	assert.IsType(t, &blobstore.LocalStore{}, st)

	st, err = BackupConfig{Mirror: MirrorMinIO, Endpoint: "localhost:9000", Bucket: "b"}.OpenMirror(ctx)
	require.NoError(t, err)
	assert.NotNil(t, st)
}

func TestHandlerLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	cfg.LogFormat = "json"
	h := cfg.Handler(os.Stderr)
	assert.False(t, h.Enabled(context.Background(), -4))
	assert.True(t, h.Enabled(context.Background(), 8))
}
