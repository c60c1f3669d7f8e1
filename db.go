package vecstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecstore/cleanup"
	"github.com/hupe1980/vecstore/compression"
	"github.com/hupe1980/vecstore/config"
	"github.com/hupe1980/vecstore/index"
	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/internal/resource"
	"github.com/hupe1980/vecstore/lazy"
	"github.com/hupe1980/vecstore/model"
	"github.com/hupe1980/vecstore/monitor"
	"github.com/hupe1980/vecstore/rebuild"
	"github.com/hupe1980/vecstore/storage"
)

// DB is the application context of one store directory. It owns every
// component and their background tasks; Close stops them all.
type DB struct {
	dir     string
	cfg     config.Config
	fsys    fs.FileSystem
	logger  *Logger
	metrics MetricsCollector

	rc      *resource.Controller
	store   *storage.Storage
	idx     *index.Manager
	lazy    *lazy.Manager
	monitor *monitor.Monitor
	janitor *cleanup.Manager
	health  *rebuild.HealthChecker

	// writeMu serializes writes with their index updates and with rebuilds,
	// so chunk uniqueness checks and index swaps see a stable store.
	writeMu sync.Mutex

	rebuildMu  sync.Mutex
	rebuilding *rebuild.Rebuilder

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open opens or initializes the store in dir.
//
// Stale lock files left by crashed writers are removed first. The index is
// loaded from its side file when it agrees with storage, and rebuilt from
// storage otherwise.
func Open(ctx context.Context, dir string, optFns ...Option) (*DB, error) {
	start := time.Now()
	o := applyOptions(optFns)
	cfg := o.cfg
	cfg.StorageDir = dir
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slogger := o.logger.Logger

	if err := o.fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	swept, err := cleanup.SweepStaleLocks(o.fsys, dir, cfg.Cleanup.StaleLockAge, time.Now())
	if err != nil {
		return nil, err
	}
	if swept.FilesCleaned > 0 {
		o.logger.Warn("removed stale lock files", "dir", dir, "count", swept.FilesCleaned)
	}

	rc := resource.NewController(resource.Config{
		MaxBackgroundWorkers: cfg.Resources.MaxBackgroundWorkers,
		IOLimitBytesPerSec:   cfg.Resources.IOLimitBytesPerSec,
		MemoryLimitBytes:     cfg.Resources.MemoryLimitBytes,
	})

	mirror := o.mirror
	if mirror == nil {
		if mirror, err = cfg.Backup.OpenMirror(ctx); err != nil {
			return nil, err
		}
	}
	storeOpts := []storage.Option{
		storage.WithFileSystem(o.fsys),
		storage.WithLogger(slogger),
		storage.WithCodec(o.codec),
		storage.WithResourceController(rc),
	}
	if mirror != nil {
		storeOpts = append(storeOpts, storage.WithBackupMirror(mirror))
	}
	store, err := storage.Open(ctx, dir, cfg.Storage, storeOpts...)
	if err != nil {
		return nil, err
	}

	idx := index.New(index.WithLogger(slogger), index.WithFileSystem(o.fsys), index.WithCodec(o.codec))
	fromSideFile, err := idx.LoadOrRebuild(ctx, filepath.Join(dir, index.FileName), store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	mon, err := monitor.New(cfg.Monitor, monitor.WithLogger(slogger), monitor.WithAlertHandler(o.alertHandler))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	db := &DB{
		dir:     dir,
		cfg:     cfg,
		fsys:    o.fsys,
		logger:  o.logger,
		metrics: teeCollector{monitorCollector{mon}, o.metricsCollector},
		rc:      rc,
		store:   store,
		idx:     idx,
		monitor: mon,
	}
	db.lazy = lazy.New(store, cfg.Lazy,
		lazy.WithLogger(slogger),
		lazy.WithResourceController(rc),
		lazy.WithFileSystem(o.fsys),
		lazy.WithCodec(o.codec),
	)
	db.lazy.InitFromIndex(idx)

	db.health = rebuild.NewHealthChecker(store, idx, cfg.Health,
		rebuild.WithHealthLogger(slogger),
		rebuild.WithLookup(db.lazy.GetEmbedding),
	)
	db.janitor = cleanup.New(dir, cfg.Cleanup,
		cleanup.WithLogger(slogger),
		cleanup.WithFileSystem(o.fsys),
		cleanup.WithResourceController(rc),
		cleanup.WithCacheEviction(db.evictCaches),
		cleanup.WithStorageOptimization(db.optimizeStorage),
	)

	if !o.noScheduler {
		bg := context.WithoutCancel(ctx)
		if err := db.janitor.Start(bg); err != nil {
			_ = db.Close()
			return nil, err
		}
		if cfg.EnableMetrics {
			db.monitor.Start(bg)
		}
	}

	o.logger.LogOpen(ctx, dir, store.Count(), fromSideFile, time.Since(start))
	return db, nil
}

// Close stops the background tasks, persists the index side file and
// closes storage. It is safe to call more than once.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	db.closeOnce.Do(func() {
		db.closed.Store(true)
		db.janitor.Stop()
		db.monitor.Stop()

		var errs []error
		if err := db.lazy.Close(); err != nil {
			errs = append(errs, err)
		}
		db.writeMu.Lock()
		if err := db.idx.Save(db.indexPath(), db.store.TempDir()); err != nil {
			errs = append(errs, fmt.Errorf("save index: %w", err))
		}
		db.writeMu.Unlock()
		if err := db.store.Close(); err != nil {
			errs = append(errs, err)
		}
		db.closeErr = errors.Join(errs...)
	})
	return db.closeErr
}

func (db *DB) checkOpen() error {
	if db.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (db *DB) indexPath() string { return filepath.Join(db.dir, index.FileName) }

// Dir returns the store directory.
func (db *DB) Dir() string { return db.dir }

// Config returns the effective configuration.
func (db *DB) Config() config.Config { return db.cfg }

// Storage returns the storage layer.
func (db *DB) Storage() *storage.Storage { return db.store }

// Index returns the in-memory indexes.
func (db *DB) Index() *index.Manager { return db.idx }

// Loader returns the lazy loading manager.
func (db *DB) Loader() *lazy.Manager { return db.lazy }

// Monitor returns the performance monitor.
func (db *DB) Monitor() *monitor.Monitor { return db.monitor }

// Maintenance returns the automatic cleanup manager.
func (db *DB) Maintenance() *cleanup.Manager { return db.janitor }

// Vectors returns the single-entry operations.
func (db *DB) Vectors() *VectorOperations { return &VectorOperations{db: db} }

// Batch returns the batch operations.
func (db *DB) Batch() *BatchOperations { return &BatchOperations{db: db} }

// Validation returns the validation operations.
func (db *DB) Validation() *ValidationOperations { return &ValidationOperations{db: db} }

// Cleanup returns the data cleanup operations.
func (db *DB) Cleanup() *CleanupOperations { return &CleanupOperations{db: db} }

func (db *DB) record(op string, start time.Time, err error) {
	db.metrics.RecordOperation(op, time.Since(start), err)
}

func (db *DB) recordBatch(op string, n int, start time.Time, err error) {
	db.metrics.RecordBatch(op, n, time.Since(start), err)
}

// evictCaches is the cleanup manager's cache eviction hook.
func (db *DB) evictCaches(context.Context) (cleanup.TaskResult, error) {
	n := db.lazy.EvictExpired()
	return cleanup.TaskResult{Message: fmt.Sprintf("evicted %d expired chunks", n)}, nil
}

// optimizeStorage is the cleanup manager's storage optimization hook. It
// compacts only when there is something to reclaim.
func (db *DB) optimizeStorage(ctx context.Context) (cleanup.TaskResult, error) {
	if db.store.PendingDeletions() == 0 {
		return cleanup.TaskResult{Message: "nothing to compact"}, nil
	}
	res, err := db.store.CompactStorage(ctx)
	if err != nil {
		return cleanup.TaskResult{}, err
	}
	return cleanup.TaskResult{
		FilesCleaned: res.FilesRemoved + res.FilesCompacted,
		BytesFreed:   res.BytesReclaimed,
		Message:      fmt.Sprintf("removed %d dead records", res.EntriesRemoved),
	}, nil
}

// RebuildIndexes rebuilds every index from storage and, when configured,
// validates the result. Writes wait until the rebuild ends. The lazy loader
// is repartitioned after a successful rebuild.
func (db *DB) RebuildIndexes(ctx context.Context, progress rebuild.ProgressFunc) (*rebuild.RebuildMetrics, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()

	db.rebuildMu.Lock()
	if db.rebuilding != nil {
		db.rebuildMu.Unlock()
		return nil, rebuild.ErrInProgress
	}
	r := rebuild.New(db.store, db.idx, db.cfg.Rebuild,
		rebuild.WithLogger(db.logger.Logger),
		rebuild.WithHealthChecker(db.health),
		rebuild.WithProgress(progress),
	)
	db.rebuilding = r
	db.rebuildMu.Unlock()
	defer func() {
		db.rebuildMu.Lock()
		db.rebuilding = nil
		db.rebuildMu.Unlock()
	}()

	db.writeMu.Lock()
	m, err := r.Run(ctx)
	if err == nil {
		db.lazy.InitFromIndex(db.idx)
		if serr := db.idx.Save(db.indexPath(), db.store.TempDir()); serr != nil {
			db.logger.Warn("index side file not saved", "error", serr)
		}
	}
	db.writeMu.Unlock()

	db.record(OpRebuild, start, err)
	return m, err
}

// CancelRebuild stops a running rebuild at its next checkpoint. The live
// index is left untouched.
func (db *DB) CancelRebuild() {
	db.rebuildMu.Lock()
	defer db.rebuildMu.Unlock()
	if db.rebuilding != nil {
		db.rebuilding.Cancel()
	}
}

// HealthCheck runs the full read-only health check.
func (db *DB) HealthCheck(ctx context.Context) (*rebuild.HealthReport, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	rep, err := db.health.Check(ctx)
	db.record(OpHealthCheck, start, err)
	return rep, err
}

// QuickHealthCheck runs a sampled health check.
func (db *DB) QuickHealthCheck(ctx context.Context) (*rebuild.HealthReport, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	rep, err := db.health.QuickCheck(ctx)
	db.record(OpHealthCheck, start, err)
	return rep, err
}

// CleanupNow runs every enabled maintenance task synchronously.
func (db *DB) CleanupNow(ctx context.Context) (cleanup.Stats, error) {
	if err := db.checkOpen(); err != nil {
		return cleanup.Stats{}, err
	}
	return db.janitor.CleanupNow(ctx)
}

// CreateBackup copies all pages and side files to backups/. The index side
// file is refreshed first so a restore does not need a rebuild.
func (db *DB) CreateBackup(ctx context.Context) (*storage.BackupInfo, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if err := db.idx.Save(db.indexPath(), db.store.TempDir()); err != nil {
		return nil, fmt.Errorf("save index: %w", err)
	}
	return db.store.CreateBackup(ctx)
}

// RestoreBackup replaces the store contents with backup name and reloads
// every component.
func (db *DB) RestoreBackup(ctx context.Context, name string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if err := db.store.RestoreBackup(ctx, name); err != nil {
		return err
	}
	if _, err := db.idx.LoadOrRebuild(ctx, db.indexPath(), db.store); err != nil {
		return err
	}
	db.lazy.InitFromIndex(db.idx)
	return nil
}

// Stats is a point-in-time view of every component.
type Stats struct {
	Entries          int                  `json:"entries"`
	PendingDeletions int                  `json:"pending_deletions"`
	Index            index.Stats          `json:"index"`
	Lazy             lazy.Stats           `json:"lazy"`
	Compression      compression.Stats    `json:"compression"`
	Files            *storage.FileMetrics `json:"files,omitempty"`
	Maintenance      cleanup.Stats        `json:"maintenance"`
	Performance      monitor.Snapshot     `json:"performance"`
	MemoryReserved   int64                `json:"memory_reserved"`
	MemoryPeak       int64                `json:"memory_peak"`
	// MemoryLimit is zero when reservations are only tracked.
	MemoryLimit int64 `json:"memory_limit"`
}

// Stats collects the statistics of every component.
func (db *DB) Stats() (*Stats, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	files, err := db.store.FileMetrics()
	if err != nil {
		return nil, err
	}
	return &Stats{
		Entries:          db.store.Count(),
		PendingDeletions: db.store.PendingDeletions(),
		Index:            db.idx.Stats(),
		Lazy:             db.lazy.Stats(),
		Compression:      db.store.CompressionStats(),
		Files:            files,
		Maintenance:      db.janitor.Stats(),
		Performance:      db.monitor.Snapshot(),
		MemoryReserved:   db.rc.MemoryUsage(),
		MemoryPeak:       db.rc.PeakMemoryUsage(),
		MemoryLimit:      db.rc.MemoryLimit(),
	}, nil
}

// retrieve reads one entry through the lazy loader.
func (db *DB) retrieve(ctx context.Context, id string) (*model.EmbeddingEntry, error) {
	e, err := db.lazy.GetEmbedding(ctx, id)
	return e, translateError(err)
}
