package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vecstore/cleanup"
	"github.com/hupe1980/vecstore/codec"
	"github.com/hupe1980/vecstore/lazy"
	"github.com/hupe1980/vecstore/monitor"
	"github.com/hupe1980/vecstore/rebuild"
	"github.com/hupe1980/vecstore/storage"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete store configuration.
type Config struct {
	// StorageDir holds the pages, side files, temp/ and backups/.
	StorageDir string `yaml:"storage_dir"`
	// SourceRoot resolves relative entry file paths when looking for orphans.
	SourceRoot string `yaml:"source_root"`
	// Codec names the JSON codec: "json" or "go-json".
	Codec string `yaml:"codec"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is text or json.
	LogFormat string `yaml:"log_format"`
	// EnableMetrics runs the performance monitor sampler.
	EnableMetrics bool `yaml:"enable_metrics"`

	Storage   storage.Config       `yaml:"storage"`
	Lazy      lazy.Config          `yaml:"lazy"`
	Cleanup   cleanup.Config       `yaml:"cleanup"`
	Rebuild   rebuild.Config       `yaml:"rebuild"`
	Health    rebuild.HealthConfig `yaml:"health"`
	Monitor   monitor.Config       `yaml:"monitor"`
	Resources ResourceConfig       `yaml:"resources"`
	Backup    BackupConfig         `yaml:"backup"`
}

// ResourceConfig bounds background work and cache memory.
type ResourceConfig struct {
	MaxBackgroundWorkers int64 `yaml:"max_background_workers"`
	IOLimitBytesPerSec   int64 `yaml:"io_limit_bytes_per_sec"`
	// MemoryLimitBytes caps the memory reserved by the page cache. Zero only
	// tracks usage.
	MemoryLimitBytes int64 `yaml:"memory_limit_bytes"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		StorageDir:    "./vecstore_data",
		Codec:         "json",
		LogLevel:      "info",
		LogFormat:     "text",
		EnableMetrics: true,
		Storage:       storage.DefaultConfig(),
		Lazy:          lazy.DefaultConfig(),
		Cleanup:       cleanup.DefaultConfig(),
		Rebuild:       rebuild.DefaultConfig(),
		Health:        rebuild.DefaultHealthConfig(),
		Monitor:       monitor.DefaultConfig(),
		Resources:     ResourceConfig{MaxBackgroundWorkers: 2},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// not empty), then the .env file at envPath (missing files are ignored),
// then the environment.
func Load(path, envPath string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := LoadDotEnv(envPath); err != nil {
		return cfg, fmt.Errorf("load %s: %w", envPath, err)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML over cfg. Keys not present keep their current value.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Marshal encodes cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.StorageDir == "" {
		errs = append(errs, errors.New("storage_dir must be set"))
	}
	if _, ok := codec.ByName(c.Codec); !ok {
		errs = append(errs, fmt.Errorf("unknown codec %q (want one of %v)", c.Codec, codec.Names()))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if err := c.Storage.Compression.Validate(); err != nil {
		errs = append(errs, err)
	}
	if p := c.Health.SamplePercentage; p < 0 || p > 100 {
		errs = append(errs, fmt.Errorf("sample percentage %v outside [0,100]", p))
	}
	if err := c.Backup.validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Resources.MemoryLimitBytes < 0 {
		errs = append(errs, fmt.Errorf("negative memory limit %d", c.Resources.MemoryLimitBytes))
	}
	if c.StorageDir != "" {
		if _, err := c.Cleanup.ResolveLogDir(c.StorageDir); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range c.Monitor.Rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// JSONCodec returns the configured codec.
func (c Config) JSONCodec() codec.Codec {
	if cc, ok := codec.ByName(c.Codec); ok {
		return cc
	}
	return codec.Default
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return l, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Handler returns a slog handler writing to w in the configured format.
func (c Config) Handler(w io.Writer) slog.Handler {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
