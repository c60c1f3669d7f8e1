package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecstore/index"
	"github.com/hupe1980/vecstore/model"
	"github.com/hupe1980/vecstore/storage"
)

// Config controls a rebuild.
type Config struct {
	// ParallelWorkers is the number of concurrent page readers.
	ParallelWorkers int `yaml:"parallel_workers" json:"parallel_workers"`
	// BatchSize is the number of pages per work unit. Cancellation is
	// checked between units.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Timeout is the wall-clock budget. Zero means no budget.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// ProgressInterval is the period of progress callbacks.
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval"`
	// ValidateAfterRebuild runs a health check on the rebuilt index.
	ValidateAfterRebuild bool `yaml:"validate_after_rebuild" json:"validate_after_rebuild"`
	// SkipUnreadablePages counts unreadable pages as errors instead of
	// failing the rebuild.
	SkipUnreadablePages bool `yaml:"skip_unreadable_pages" json:"skip_unreadable_pages"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ParallelWorkers:      4,
		BatchSize:            4,
		Timeout:              5 * time.Minute,
		ProgressInterval:     time.Second,
		ValidateAfterRebuild: true,
		SkipUnreadablePages:  true,
	}
}

// Progress is a snapshot passed to the progress callback.
type Progress struct {
	Phase      Phase         `json:"phase"`
	Percent    float64       `json:"percent"`
	PagesTotal int           `json:"pages_total"`
	PagesDone  int           `json:"pages_done"`
	Processed  int           `json:"processed"`
	Errors     int           `json:"errors"`
	Elapsed    time.Duration `json:"elapsed"`
	Throughput float64       `json:"throughput"` // entries per second
}

// ProgressFunc receives progress snapshots. It must not block.
type ProgressFunc func(Progress)

// RebuildMetrics summarizes a finished rebuild.
type RebuildMetrics struct {
	EmbeddingsProcessed int           `json:"embeddings_processed"`
	FilesScanned        int           `json:"files_scanned"`
	Errors              int           `json:"errors"`
	ErrorMessages       []string      `json:"error_messages,omitempty"`
	Duration            time.Duration `json:"duration"`
	Throughput          float64       `json:"throughput"`
	FinalPhase          Phase         `json:"final_phase"`
	StartedAt           time.Time     `json:"started_at"`
	Health              *HealthReport `json:"health,omitempty"`
}

// PageSource is the storage view a rebuild reads.
type PageSource interface {
	Pages() []storage.PageInfo
	ReadPage(ctx context.Context, n int) ([]*model.EmbeddingEntry, error)
}

// Option configures a Rebuilder.
type Option func(*Rebuilder)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Rebuilder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Rebuilder) {
		r.progress = fn
	}
}

// WithHealthChecker sets the checker used when ValidateAfterRebuild is on.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(r *Rebuilder) {
		r.checker = hc
	}
}

// Rebuilder reconstructs an index.Manager from a PageSource.
type Rebuilder struct {
	src      PageSource
	idx      *index.Manager
	cfg      Config
	progress ProgressFunc
	checker  *HealthChecker
	logger   *slog.Logger

	running atomic.Bool
	phase   atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a Rebuilder.
func New(src PageSource, idx *index.Manager, cfg Config, opts ...Option) *Rebuilder {
	d := DefaultConfig()
	if cfg.ParallelWorkers <= 0 {
		cfg.ParallelWorkers = d.ParallelWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = d.ProgressInterval
	}
	r := &Rebuilder{src: src, idx: idx, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Phase returns the phase of the current or last rebuild.
func (r *Rebuilder) Phase() Phase { return Phase(r.phase.Load()) }

// Cancel stops a running rebuild at its next checkpoint.
func (r *Rebuilder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

type runState struct {
	start      time.Time
	pagesTotal int
	entries    int
	pagesDone  atomic.Int64
	processed  atomic.Int64

	mu   sync.Mutex
	errs []string
}

func (s *runState) fail(msg string) {
	s.mu.Lock()
	s.errs = append(s.errs, msg)
	s.mu.Unlock()
}

func (s *runState) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errs...)
}

func (r *Rebuilder) snapshot(st *runState) Progress {
	p := Progress{
		Phase:      r.Phase(),
		PagesTotal: st.pagesTotal,
		PagesDone:  int(st.pagesDone.Load()),
		Processed:  int(st.processed.Load()),
		Errors:     len(st.messages()),
		Elapsed:    time.Since(st.start),
	}
	switch {
	case st.entries > 0:
		p.Percent = min(100, float64(p.Processed)/float64(st.entries)*100)
	case st.pagesTotal > 0:
		p.Percent = float64(p.PagesDone) / float64(st.pagesTotal) * 100
	case p.Phase.Terminal():
		p.Percent = 100
	}
	if secs := p.Elapsed.Seconds(); secs > 0 {
		p.Throughput = float64(p.Processed) / secs
	}
	return p
}

func (r *Rebuilder) setPhase(p Phase, st *runState) {
	r.phase.Store(int32(p))
	r.logger.Debug("rebuild phase", "phase", p)
	if r.progress != nil {
		r.progress(r.snapshot(st))
	}
}

// Run rebuilds every index from storage. The live index is replaced only
// when all pages were read; on failure, timeout or cancellation the metrics
// carry the terminal phase and the error says why.
func (r *Rebuilder) Run(ctx context.Context) (*RebuildMetrics, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrInProgress
	}
	defer r.running.Store(false)

	st := &runState{start: time.Now()}
	r.setPhase(PhaseInitializing, st)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if r.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
	}()

	r.setPhase(PhaseScanning, st)
	pages := r.src.Pages()
	st.pagesTotal = len(pages)
	for _, p := range pages {
		st.entries += p.LiveEntries
	}

	r.setPhase(PhaseProcessing, st)
	stopProgress := r.reportProgress(st)
	b := index.NewBuilder()
	err := r.process(runCtx, pages, b, st)
	stopProgress()

	if err == nil {
		if cerr := runCtx.Err(); cerr != nil {
			err = cerr
		}
	}
	if err != nil {
		return r.finish(st, classifyErr(ctx, runCtx, err), nil)
	}

	r.idx.Swap(b, st.start)

	var health *HealthReport
	if r.cfg.ValidateAfterRebuild && r.checker != nil {
		r.setPhase(PhaseValidating, st)
		health, err = r.checker.Check(runCtx)
		if err != nil {
			return r.finish(st, classifyErr(ctx, runCtx, err), nil)
		}
	}
	return r.finish(st, nil, health)
}

func (r *Rebuilder) process(ctx context.Context, pages []storage.PageInfo, b *index.Builder, st *runState) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ParallelWorkers)
	for off := 0; off < len(pages); off += r.cfg.BatchSize {
		batch := pages[off:min(off+r.cfg.BatchSize, len(pages))]
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, p := range batch {
				entries, err := r.src.ReadPage(gctx, p.Number)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					if !r.cfg.SkipUnreadablePages {
						return fmt.Errorf("read page %s: %w", p.Name, err)
					}
					st.fail(fmt.Sprintf("%s: %v", p.Name, err))
					r.logger.Warn("rebuild skipped unreadable page", "page", p.Name, "error", err)
				} else {
					b.AddEntries(entries)
					st.processed.Add(int64(len(entries)))
				}
				st.pagesDone.Add(1)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Rebuilder) reportProgress(st *runState) (stop func()) {
	if r.progress == nil {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(r.cfg.ProgressInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				r.progress(r.snapshot(st))
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func classifyErr(parent, run context.Context, err error) error {
	switch {
	case errors.Is(run.Err(), context.DeadlineExceeded) && parent.Err() == nil:
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return err
}

func (r *Rebuilder) finish(st *runState, err error, health *HealthReport) (*RebuildMetrics, error) {
	final := PhaseCompleted
	switch {
	case errors.Is(err, ErrCancelled):
		final = PhaseCancelled
	case err != nil:
		final = PhaseFailed
	}

	errs := st.messages()
	m := &RebuildMetrics{
		EmbeddingsProcessed: int(st.processed.Load()),
		FilesScanned:        int(st.pagesDone.Load()),
		Errors:              len(errs),
		ErrorMessages:       errs,
		Duration:            time.Since(st.start),
		FinalPhase:          final,
		StartedAt:           st.start,
		Health:              health,
	}
	if err != nil {
		m.Errors++
		m.ErrorMessages = append(m.ErrorMessages, err.Error())
	}
	if secs := m.Duration.Seconds(); secs > 0 {
		m.Throughput = float64(m.EmbeddingsProcessed) / secs
	}
	r.setPhase(final, st)

	if err != nil {
		r.logger.Warn("rebuild ended", "phase", final, "processed", m.EmbeddingsProcessed, "error", err)
		return m, err
	}
	r.logger.Info("rebuild completed", "processed", m.EmbeddingsProcessed, "files", m.FilesScanned, "errors", m.Errors, "duration", m.Duration)
	return m, nil
}
