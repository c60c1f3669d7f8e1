package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/internal/resource"
)

// Stats aggregates task runs.
type Stats struct {
	FilesCleaned    int           `json:"files_cleaned"`
	BytesFreed      int64         `json:"bytes_freed"`
	TasksRun        int           `json:"tasks_run"`
	TasksFailed     int           `json:"tasks_failed"`
	MemoryTriggered int           `json:"memory_triggered"`
	LastRun         time.Time     `json:"last_run"`
	LastRunDuration time.Duration `json:"last_run_duration"`
	Results         []TaskResult  `json:"results,omitempty"`
}

func (s *Stats) add(r TaskResult, failed bool) {
	s.TasksRun++
	if failed {
		s.TasksFailed++
	}
	s.FilesCleaned += r.FilesCleaned
	s.BytesFreed += r.BytesFreed
}

// TaskStatus describes one registered task.
type TaskStatus struct {
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	Enabled    bool          `json:"enabled"`
	Runs       int           `json:"runs"`
	Failures   int           `json:"failures"`
	LastRun    time.Time     `json:"last_run"`
	NextRun    time.Time     `json:"next_run"`
	LastResult TaskResult    `json:"last_result"`
}

type taskFunc func(ctx context.Context) (TaskResult, error)

type task struct {
	name     string
	interval time.Duration
	run      taskFunc
	entry    cron.EntryID
	status   TaskStatus
}

// Manager schedules the cleanup tasks of one store directory.
type Manager struct {
	dir   string
	cfg   Config
	tasks []*task
	hooks map[string]HookFunc

	mu     sync.Mutex
	totals Stats

	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	fsys   fs.FileSystem
	rc     *resource.Controller
	probe  func() uint64
	logger *slog.Logger
	now    func() time.Time

	logDir    string
	logDirErr error
}

// New creates a Manager for dir. Start begins the schedule.
func New(dir string, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		dir:    dir,
		cfg:    cfg,
		hooks:  make(map[string]HookFunc),
		fsys:   fs.Default,
		probe:  heapAlloc,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	logRotation, ageCompression := cfg.LogRotationInterval, cfg.AgeCompressionInterval
	if m.logDir, m.logDirErr = cfg.ResolveLogDir(dir); m.logDirErr != nil {
		m.logger.Warn("log tasks disabled", "dir", dir, "error", m.logDirErr)
		logRotation, ageCompression = 0, 0
	}

	builtin := map[string]struct {
		interval time.Duration
		run      taskFunc
	}{
		TaskTempFiles:           {cfg.TempFileInterval, m.sweepTemp},
		TaskStaleLocks:          {cfg.StaleLockInterval, m.sweepLocks},
		TaskCacheEviction:       {cfg.CacheEvictionInterval, m.hook(TaskCacheEviction)},
		TaskStorageOptimization: {cfg.StorageOptimizationInterval, m.hook(TaskStorageOptimization)},
		TaskLogRotation:         {logRotation, m.rotateLogs},
		TaskBackupRetention:     {cfg.BackupRetentionInterval, m.pruneBackups},
		TaskAgeCompression:      {ageCompression, m.compressLogs},
	}
	for _, name := range TaskNames {
		b := builtin[name]
		t := &task{name: name, interval: b.interval, run: b.run}
		t.status = TaskStatus{Name: name, Interval: b.interval, Enabled: b.interval > 0}
		m.tasks = append(m.tasks, t)
	}
	return m
}

func heapAlloc() uint64 {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return mem.HeapAlloc
}

func (m *Manager) hook(name string) taskFunc {
	return func(ctx context.Context) (TaskResult, error) {
		fn, ok := m.hooks[name]
		if !ok {
			return TaskResult{Message: "no hook registered"}, nil
		}
		return fn(ctx)
	}
}

// Start registers every enabled task with the scheduler and starts the memory
// monitor. The tasks run until Stop or until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("cleanup manager already running")
	}
	if !m.cfg.Enabled {
		m.logger.Info("cleanup scheduler disabled")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	logger := cronLogger{m.logger}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)), cron.WithLogger(logger))
	for _, t := range m.tasks {
		if t.interval <= 0 {
			continue
		}
		id, err := c.AddFunc("@every "+t.interval.String(), func() { m.runScheduled(ctx, t) })
		if err != nil {
			cancel()
			return fmt.Errorf("schedule %s: %w", t.name, err)
		}
		t.entry = id
	}
	c.Start()
	m.cron, m.cancel, m.running = c, cancel, true

	if m.cfg.MemoryThresholdMB > 0 {
		m.wg.Add(1)
		go m.watchMemory(ctx)
	}
	m.logger.Info("cleanup scheduler started", "dir", m.dir, "tasks", len(c.Entries()))
	return nil
}

// Stop halts the scheduler and waits for running tasks.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	c, cancel := m.cron, m.cancel
	m.running = false
	m.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	m.wg.Wait()
	m.logger.Info("cleanup scheduler stopped")
}

func (m *Manager) runScheduled(ctx context.Context, t *task) {
	if err := m.rc.AcquireBackground(ctx); err != nil {
		return
	}
	defer m.rc.ReleaseBackground()
	_, _ = m.execute(ctx, t)
}

func (m *Manager) execute(ctx context.Context, t *task) (TaskResult, error) {
	start := m.now()
	res, err := t.run(ctx)
	res.Task = t.name
	res.Duration = m.now().Sub(start)
	if err != nil {
		err = &TaskError{Task: t.name, Err: err}
		res.Error = err.Error()
		m.logger.Warn("cleanup task failed", "task", t.name, "error", err)
	} else if res.FilesCleaned > 0 {
		m.logger.Info("cleanup task completed", "task", t.name, "files", res.FilesCleaned, "bytes", res.BytesFreed, "duration", res.Duration)
	}

	m.mu.Lock()
	t.status.Runs++
	if err != nil {
		t.status.Failures++
	}
	t.status.LastRun = start
	t.status.LastResult = res
	m.totals.add(res, err != nil)
	m.totals.LastRun = start
	m.mu.Unlock()
	return res, err
}

// CleanupNow runs every enabled task synchronously in order and returns the
// statistics of this run. The error joins the failures of individual tasks.
func (m *Manager) CleanupNow(ctx context.Context) (Stats, error) {
	start := m.now()
	var (
		st   Stats
		errs []error
	)
	for _, t := range m.tasks {
		if t.interval <= 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}
		res, err := m.execute(ctx, t)
		st.add(res, err != nil)
		st.Results = append(st.Results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	st.LastRun = start
	st.LastRunDuration = m.now().Sub(start)

	m.mu.Lock()
	m.totals.LastRunDuration = st.LastRunDuration
	m.mu.Unlock()
	return st, errors.Join(errs...)
}

// RunTask runs one task by name regardless of whether it is scheduled.
func (m *Manager) RunTask(ctx context.Context, name string) (TaskResult, error) {
	for _, t := range m.tasks {
		if t.name == name {
			return m.execute(ctx, t)
		}
	}
	return TaskResult{}, fmt.Errorf("%w: %s", ErrUnknownTask, name)
}

func (m *Manager) watchMemory(ctx context.Context) {
	defer m.wg.Done()
	interval := m.cfg.MemoryCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	threshold := uint64(m.cfg.MemoryThresholdMB) << 20
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			used := m.probe()
			if used <= threshold {
				continue
			}
			m.logger.Warn("memory above threshold, running cleanup", "used", used, "threshold", threshold)
			m.mu.Lock()
			m.totals.MemoryTriggered++
			m.mu.Unlock()
			_, _ = m.CleanupNow(ctx)
		}
	}
}

// Stats returns the totals since New.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals
}

// Tasks returns the status of every task.
func (m *Manager) Tasks() []TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskStatus, len(m.tasks))
	for i, t := range m.tasks {
		s := t.status
		if m.running && t.entry != 0 {
			s.NextRun = m.cron.Entry(t.entry).Next
		}
		out[i] = s
	}
	return out
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
