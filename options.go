package vecstore

import (
	"log/slog"

	"github.com/hupe1980/vecstore/blobstore"
	"github.com/hupe1980/vecstore/codec"
	"github.com/hupe1980/vecstore/config"
	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/monitor"
)

type options struct {
	cfg              config.Config
	codec            codec.Codec
	fsys             fs.FileSystem
	metricsCollector MetricsCollector
	logger           *Logger
	mirror           blobstore.Store
	alertHandler     func(monitor.Alert)
	noScheduler      bool
}

// Option configures Open.
type Option func(*options)

// WithConfig replaces the whole configuration. Its StorageDir is ignored in
// favour of the directory passed to Open.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithCodec configures the JSON codec for pages and side files.
// If nil is passed, the configured codec is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithFileSystem replaces the local file system, e.g. with a fault-injecting one.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fsys = fsys
	}
}

// WithMetricsCollector receives every operation in addition to the built-in
// performance monitor. Pass nil to disable.
//
//	metrics := &vecstore.BasicMetricsCollector{}
//	db, _ := vecstore.Open(ctx, dir, vecstore.WithMetricsCollector(metrics))
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging. Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the given level.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithBackupMirror copies every backup to s. It takes precedence over the
// mirror named in the configuration.
func WithBackupMirror(s blobstore.Store) Option {
	return func(o *options) {
		o.mirror = s
	}
}

// WithAlertHandler is called for every alert raised by the performance monitor.
func WithAlertHandler(fn func(monitor.Alert)) Option {
	return func(o *options) {
		o.alertHandler = fn
	}
}

// WithoutBackgroundTasks leaves the cleanup scheduler and the monitor
// sampler stopped. Maintenance still runs on explicit calls.
func WithoutBackgroundTasks() Option {
	return func(o *options) {
		o.noScheduler = true
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		cfg:              config.Default(),
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		fsys:             fs.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.fsys == nil {
		o.fsys = fs.Default
	}
	if o.codec == nil {
		o.codec = o.cfg.JSONCodec()
	}
	return o
}
