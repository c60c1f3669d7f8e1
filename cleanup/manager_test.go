package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecstore/compression"
	"github.com/hupe1980/vecstore/internal/lockfile"
)

func writeAged(t *testing.T, path string, data string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	ts := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func onlyTask(name string) Config {
	cfg := DefaultConfig()
	cfg.TempFileInterval = 0
	cfg.StaleLockInterval = 0
	cfg.CacheEvictionInterval = 0
	cfg.StorageOptimizationInterval = 0
	cfg.LogRotationInterval = 0
	cfg.BackupRetentionInterval = 0
	cfg.AgeCompressionInterval = 0
	switch name {
	case TaskTempFiles:
		cfg.TempFileInterval = time.Hour
	case TaskStaleLocks:
		cfg.StaleLockInterval = time.Hour
	case TaskCacheEviction:
		cfg.CacheEvictionInterval = time.Hour
	case TaskStorageOptimization:
		cfg.StorageOptimizationInterval = time.Hour
	case TaskLogRotation:
		cfg.LogRotationInterval = time.Hour
	case TaskBackupRetention:
		cfg.BackupRetentionInterval = time.Hour
	case TaskAgeCompression:
		cfg.AgeCompressionInterval = time.Hour
	}
	return cfg
}

func TestTempFileSweep(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, filepath.Join(dir, "temp", "old.tmp"), "12345", 2*time.Hour)
	writeAged(t, filepath.Join(dir, "temp", "fresh.tmp"), "1", time.Minute)

	m := New(dir, onlyTask(TaskTempFiles))
	st, err := m.CleanupNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, st.TasksRun)
	assert.Equal(t, 1, st.FilesCleaned)
	assert.Equal(t, int64(5), st.BytesFreed)
	assert.NoFileExists(t, filepath.Join(dir, "temp", "old.tmp"))
	assert.FileExists(t, filepath.Join(dir, "temp", "fresh.tmp"))
}

func TestStaleLockSweep(t *testing.T) {
	dir := t.TempDir()
	host, _ := os.Hostname()
	write := func(name string, info lockfile.Info) {
		data, err := json.Marshal(info)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	// Dead owner, live owner, and a live owner that is too old.
	write("vector_0.json.lock", lockfile.Info{PID: 0, Hostname: host, CreatedAt: time.Now()})
	write("vector_1.json.lock", lockfile.Info{PID: os.Getpid(), Hostname: host, CreatedAt: time.Now()})
	write("vector_2.json.lock", lockfile.Info{PID: os.Getpid(), Hostname: host, CreatedAt: time.Now().Add(-time.Hour)})

	res, err := SweepStaleLocks(nil, filepath.Join(dir, "missing"), time.Minute, time.Now())
	require.NoError(t, err)
	assert.Zero(t, res.FilesCleaned)

	m := New(dir, onlyTask(TaskStaleLocks))
	st, err := m.CleanupNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.FilesCleaned)
	assert.NoFileExists(t, filepath.Join(dir, "vector_0.json.lock"))
	assert.FileExists(t, filepath.Join(dir, "vector_1.json.lock"))
	assert.NoFileExists(t, filepath.Join(dir, "vector_2.json.lock"))
}

func TestBackupRetention(t *testing.T) {
	dir := t.TempDir()
	for i, age := range []time.Duration{5 * time.Hour, 4 * time.Hour, 3 * time.Hour, 2 * time.Hour} {
		b := filepath.Join(dir, "backups", "backup_"+string(rune('a'+i)))
		writeAged(t, filepath.Join(b, "vector_0.json"), "data", age)
		ts := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(b, ts, ts))
	}

	cfg := onlyTask(TaskBackupRetention)
	cfg.MaxBackupsToKeep = 2
	m := New(dir, cfg)
	res, err := m.RunTask(context.Background(), TaskBackupRetention)
	require.NoError(t, err)

	assert.Equal(t, 2, res.FilesCleaned)
	assert.Equal(t, int64(8), res.BytesFreed)
	assert.NoDirExists(t, filepath.Join(dir, "backups", "backup_a"))
	assert.NoDirExists(t, filepath.Join(dir, "backups", "backup_b"))
	assert.DirExists(t, filepath.Join(dir, "backups", "backup_c"))
	assert.DirExists(t, filepath.Join(dir, "backups", "backup_d"))
}

func TestLogRotationAndCompression(t *testing.T) {
	dir := t.TempDir()
	logs := filepath.Join(dir, "logs")
	writeAged(t, filepath.Join(logs, "ancient.log"), "gone", 10*24*time.Hour)
	writeAged(t, filepath.Join(logs, "yesterday.log"), "line\nline\nline\nline\nline\nline\n", 48*time.Hour)
	writeAged(t, filepath.Join(logs, "today.log"), "now", time.Minute)

	cfg := onlyTask(TaskLogRotation)
	cfg.AgeCompressionInterval = time.Hour
	m := New(dir, cfg)
	st, err := m.CleanupNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.TasksRun)

	assert.NoFileExists(t, filepath.Join(logs, "ancient.log"))
	assert.NoFileExists(t, filepath.Join(logs, "yesterday.log"))
	assert.FileExists(t, filepath.Join(logs, "today.log"))

	packed, err := os.ReadFile(filepath.Join(logs, "yesterday.log.lz4"))
	require.NoError(t, err)
	plain, err := compression.UnLZ4(packed)
	require.NoError(t, err)
	assert.Equal(t, "line\nline\nline\nline\nline\nline\n", string(plain))
}

func TestLogTasksLeaveStoreFilesAlone(t *testing.T) {
	dir := t.TempDir()
	month := 30 * 24 * time.Hour
	storeFiles := []string{
		"vector_0.json",
		"vector_1.json.gz",
		"index.json",
		"tombstones.json",
		filepath.Join("temp", "partial.tmp"),
		filepath.Join("backups", "b1", "vector_0.json"),
	}
	for _, f := range storeFiles {
		writeAged(t, filepath.Join(dir, f), "{}", month)
	}

	for _, logDir := range []string{"", ".", "..", dir, filepath.Join("temp", "logs"), filepath.Join("backups", "logs")} {
		t.Run("log_dir="+logDir, func(t *testing.T) {
			cfg := onlyTask(TaskLogRotation)
			cfg.AgeCompressionInterval = time.Hour
			cfg.LogDir = logDir
			_, err := cfg.ResolveLogDir(dir)
			assert.ErrorIs(t, err, ErrInvalidLogDir)

			// 1. Both log tasks are unscheduled
			m := New(dir, cfg)
			st, err := m.CleanupNow(context.Background())
			require.NoError(t, err)
			assert.Zero(t, st.TasksRun)

			// 2. Running them by name fails without touching anything
			_, err = m.RunTask(context.Background(), TaskLogRotation)
			assert.ErrorIs(t, err, ErrInvalidLogDir)
			_, err = m.RunTask(context.Background(), TaskAgeCompression)
			assert.ErrorIs(t, err, ErrInvalidLogDir)

			for _, f := range storeFiles {
				assert.FileExists(t, filepath.Join(dir, f))
			}
		})
	}
}

func TestLogTasksOnlyTouchLogFiles(t *testing.T) {
	dir := t.TempDir()
	logs := t.TempDir()
	month := 30 * 24 * time.Hour
	writeAged(t, filepath.Join(logs, "old.log"), "gone", month)
	writeAged(t, filepath.Join(logs, "old.log.1.lz4"), "gone", month)
	writeAged(t, filepath.Join(logs, "notes.txt"), "keep", month)
	writeAged(t, filepath.Join(logs, "vector_0.json"), "{}", month)
	writeAged(t, filepath.Join(logs, "recent.log"), "pack me", 48*time.Hour)
	writeAged(t, filepath.Join(logs, "recent.json"), "{}", 48*time.Hour)

	cfg := onlyTask(TaskLogRotation)
	cfg.AgeCompressionInterval = time.Hour
	cfg.LogDir = logs
	m := New(dir, cfg)
	st, err := m.CleanupNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.TasksRun)

	assert.NoFileExists(t, filepath.Join(logs, "old.log"))
	assert.NoFileExists(t, filepath.Join(logs, "old.log.1.lz4"))
	assert.FileExists(t, filepath.Join(logs, "recent.log.lz4"))
	assert.FileExists(t, filepath.Join(logs, "notes.txt"))
	assert.FileExists(t, filepath.Join(logs, "vector_0.json"))
	assert.FileExists(t, filepath.Join(logs, "recent.json"))
	assert.NoFileExists(t, filepath.Join(logs, "recent.json.lz4"))
}

func TestHooksAndFailures(t *testing.T) {
	dir := t.TempDir()
	cfg := onlyTask(TaskCacheEviction)
	cfg.StorageOptimizationInterval = time.Hour

	evicted := 0
	m := New(dir, cfg,
		WithCacheEviction(func(context.Context) (TaskResult, error) {
			evicted++
			return TaskResult{FilesCleaned: 3}, nil
		}),
		WithStorageOptimization(func(context.Context) (TaskResult, error) {
			return TaskResult{}, errors.New("compaction failed")
		}),
	)

	st, err := m.CleanupNow(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTaskFailed)
	var te *TaskError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, TaskStorageOptimization, te.Task)

	// The failure does not stop the other task.
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 2, st.TasksRun)
	assert.Equal(t, 1, st.TasksFailed)
	assert.Equal(t, 3, st.FilesCleaned)

	tasks := m.Tasks()
	require.Len(t, tasks, len(TaskNames))
	for _, ts := range tasks {
		if ts.Name == TaskStorageOptimization {
			assert.Equal(t, 1, ts.Failures)
			assert.NotEmpty(t, ts.LastResult.Error)
		}
	}

	_, err = m.RunTask(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestSchedulerAndMemoryTrigger(t *testing.T) {
	dir := t.TempDir()
	cfg := onlyTask(TaskCacheEviction)
	cfg.CacheEvictionInterval = time.Second
	cfg.MemoryThresholdMB = 1
	cfg.MemoryCheckInterval = 10 * time.Millisecond

	runs := make(chan struct{}, 64)
	m := New(dir, cfg,
		WithCacheEviction(func(context.Context) (TaskResult, error) {
			select {
			case runs <- struct{}{}:
			default:
			}
			return TaskResult{}, nil
		}),
		WithMemoryProbe(func() uint64 { return 2 << 20 }),
	)
	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))

	select {
	case <-runs:
	case <-time.After(2 * time.Second):
		t.Fatal("memory monitor did not trigger cleanup")
	}
	assert.False(t, m.Tasks()[2].NextRun.IsZero())

	m.Stop()
	assert.Positive(t, m.Stats().MemoryTriggered)
	m.Stop()
}

func TestDisabledScheduler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	m := New(t.TempDir(), cfg)
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
}
