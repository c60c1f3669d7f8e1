package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hupe1980/vecstore/index"
	"github.com/hupe1980/vecstore/model"
	"github.com/hupe1980/vecstore/storage"
)

// Status is the overall verdict of a health check.
type Status int

const (
	StatusHealthy Status = iota
	StatusWarning
	StatusDegraded
	StatusUnhealthy
)

var statusNames = [...]string{"healthy", "warning", "degraded", "unhealthy"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func worse(a, b Status) Status { return max(a, b) }

// CorruptionType classifies a corruption finding.
type CorruptionType string

const (
	CorruptionNonFinite          CorruptionType = "non_finite_value"
	CorruptionDimensionMismatch  CorruptionType = "dimension_mismatch"
	CorruptionMissingFromIndex   CorruptionType = "missing_from_index"
	CorruptionMissingFromStorage CorruptionType = "missing_from_storage"
	CorruptionChecksum           CorruptionType = "checksum_mismatch"
	CorruptionUnreadable         CorruptionType = "unreadable_entry"
)

// Corruption is one finding.
type Corruption struct {
	Type   CorruptionType `json:"type"`
	ID     string         `json:"id,omitempty"`
	Page   string         `json:"page,omitempty"`
	Detail string         `json:"detail,omitempty"`
}

// IntegrityResult compares storage with the index.
type IntegrityResult struct {
	Passed         bool                     `json:"passed"`
	StoredEntries  int                      `json:"stored_entries"`
	IndexedEntries int                      `json:"indexed_entries"`
	Storage        *storage.IntegrityReport `json:"storage,omitempty"`
}

// PerformanceResult reports sampled lookup latency.
type PerformanceResult struct {
	Passed        bool          `json:"passed"`
	Sampled       int           `json:"sampled"`
	Failed        int           `json:"failed"`
	AvgLatency    time.Duration `json:"avg_latency"`
	MaxLatency    time.Duration `json:"max_latency"`
	TargetLatency time.Duration `json:"target_latency"`
}

// HealthReport is the result of Check or QuickCheck.
type HealthReport struct {
	Status          Status            `json:"status"`
	Quick           bool              `json:"quick"`
	Integrity       IntegrityResult   `json:"integrity"`
	Performance     PerformanceResult `json:"performance"`
	Corruptions     []Corruption      `json:"corruptions"`
	EntriesChecked  int               `json:"entries_checked"`
	Recommendations []string          `json:"recommendations"`
	Duration        time.Duration     `json:"duration"`
	CheckedAt       time.Time         `json:"checked_at"`
}

// CountOf returns the number of findings of type t.
func (r *HealthReport) CountOf(t CorruptionType) int {
	n := 0
	for _, c := range r.Corruptions {
		if c.Type == t {
			n++
		}
	}
	return n
}

// HealthConfig controls the health checker.
type HealthConfig struct {
	CheckIntegrity   bool `yaml:"check_integrity" json:"check_integrity"`
	CheckPerformance bool `yaml:"check_performance" json:"check_performance"`
	CheckCorruption  bool `yaml:"check_corruption" json:"check_corruption"`
	// SamplePercentage of entries looked up by the performance pass.
	SamplePercentage float64 `yaml:"sample_percentage" json:"sample_percentage"`
	// TargetLatency is the acceptable average lookup latency.
	TargetLatency time.Duration `yaml:"target_latency" json:"target_latency"`
	// QuickSampleCap bounds the entries sampled by QuickCheck.
	QuickSampleCap int `yaml:"quick_sample_cap" json:"quick_sample_cap"`
	// ExpectedDimension of every vector. Zero uses the most common dimension.
	ExpectedDimension int `yaml:"expected_dimension" json:"expected_dimension"`
	// Timeout is the wall-clock budget of a check.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultHealthConfig returns the default configuration.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckIntegrity:   true,
		CheckPerformance: true,
		CheckCorruption:  true,
		SamplePercentage: 10,
		TargetLatency:    10 * time.Millisecond,
		QuickSampleCap:   100,
		Timeout:          time.Minute,
	}
}

// HealthSource is the storage view a health check reads.
type HealthSource interface {
	ValidateIntegrity(ctx context.Context) (*storage.IntegrityReport, error)
	ListEntryIDs() []string
	RetrieveEntry(ctx context.Context, id string) (*model.EmbeddingEntry, error)
	ScanPages(ctx context.Context, fn func(page storage.PageInfo, entries []*model.EmbeddingEntry, err error) error) error
}

// LookupFunc is the read path measured by the performance pass.
type LookupFunc func(ctx context.Context, id string) (*model.EmbeddingEntry, error)

// HealthOption configures a HealthChecker.
type HealthOption func(*HealthChecker)

// WithHealthLogger sets the logger.
func WithHealthLogger(l *slog.Logger) HealthOption {
	return func(h *HealthChecker) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithLookup measures fn instead of a direct storage read.
func WithLookup(fn LookupFunc) HealthOption {
	return func(h *HealthChecker) {
		if fn != nil {
			h.lookup = fn
		}
	}
}

// HealthChecker validates a store without modifying it.
type HealthChecker struct {
	src    HealthSource
	idx    *index.Manager
	cfg    HealthConfig
	lookup LookupFunc
	logger *slog.Logger
}

// NewHealthChecker creates a HealthChecker.
func NewHealthChecker(src HealthSource, idx *index.Manager, cfg HealthConfig, opts ...HealthOption) *HealthChecker {
	d := DefaultHealthConfig()
	if cfg.SamplePercentage <= 0 || cfg.SamplePercentage > 100 {
		cfg.SamplePercentage = d.SamplePercentage
	}
	if cfg.TargetLatency <= 0 {
		cfg.TargetLatency = d.TargetLatency
	}
	if cfg.QuickSampleCap <= 0 {
		cfg.QuickSampleCap = d.QuickSampleCap
	}
	h := &HealthChecker{src: src, idx: idx, cfg: cfg, lookup: src.RetrieveEntry, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check runs every enabled pass over the whole store.
func (h *HealthChecker) Check(ctx context.Context) (*HealthReport, error) {
	return h.run(ctx, false)
}

// QuickCheck skips the page-level storage validation, caps sampling at
// QuickSampleCap and checks corruption on the sampled entries only.
func (h *HealthChecker) QuickCheck(ctx context.Context) (*HealthReport, error) {
	return h.run(ctx, true)
}

func (h *HealthChecker) run(ctx context.Context, quick bool) (*HealthReport, error) {
	start := time.Now()
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	rep := &HealthReport{Quick: quick, Corruptions: []Corruption{}, Recommendations: []string{}, CheckedAt: start.UTC()}
	stored := h.src.ListEntryIDs()

	if h.cfg.CheckIntegrity {
		if err := h.checkIntegrity(ctx, rep, stored, quick); err != nil {
			return nil, h.budget(ctx, err)
		}
	}
	sample := h.sample(stored, quick)
	if h.cfg.CheckPerformance {
		if err := h.checkPerformance(ctx, rep, sample); err != nil {
			return nil, h.budget(ctx, err)
		}
	}
	if h.cfg.CheckCorruption {
		var err error
		if quick {
			err = h.checkSampleCorruption(ctx, rep, sample)
		} else {
			err = h.checkCorruption(ctx, rep)
		}
		if err != nil {
			return nil, h.budget(ctx, err)
		}
	}

	h.verdict(rep, len(stored))
	rep.Duration = time.Since(start)
	h.logger.Info("health check completed", "status", rep.Status, "quick", quick, "corruptions", len(rep.Corruptions), "duration", rep.Duration)
	return rep, nil
}

func (h *HealthChecker) budget(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: health check: %w", ErrTimeout, err)
	}
	return err
}

func (h *HealthChecker) checkIntegrity(ctx context.Context, rep *HealthReport, stored []string, quick bool) error {
	res := IntegrityResult{Passed: true, StoredEntries: len(stored), IndexedEntries: h.idx.Len()}
	if !quick {
		sr, err := h.src.ValidateIntegrity(ctx)
		if err != nil {
			return err
		}
		res.Storage = sr
		if !sr.Valid {
			res.Passed = false
		}
		for _, f := range sr.CorruptedFiles {
			rep.Corruptions = append(rep.Corruptions, Corruption{Type: CorruptionChecksum, Page: f})
		}
	}

	inStorage := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		inStorage[id] = struct{}{}
		if !h.idx.Contains(id) {
			res.Passed = false
			rep.Corruptions = append(rep.Corruptions, Corruption{Type: CorruptionMissingFromIndex, ID: id})
		}
	}
	for _, id := range h.idx.IDs() {
		if _, ok := inStorage[id]; !ok {
			res.Passed = false
			rep.Corruptions = append(rep.Corruptions, Corruption{Type: CorruptionMissingFromStorage, ID: id})
		}
	}
	rep.Integrity = res
	return ctx.Err()
}

// sample picks every k-th id so the selection is stable between runs.
func (h *HealthChecker) sample(ids []string, quick bool) []string {
	if len(ids) == 0 {
		return nil
	}
	n := int(math.Ceil(float64(len(ids)) * h.cfg.SamplePercentage / 100))
	if quick {
		n = min(n, h.cfg.QuickSampleCap)
	}
	n = max(1, min(n, len(ids)))
	stride := float64(len(ids)) / float64(n)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ids[int(float64(i)*stride)])
	}
	return out
}

func (h *HealthChecker) checkPerformance(ctx context.Context, rep *HealthReport, sample []string) error {
	res := PerformanceResult{TargetLatency: h.cfg.TargetLatency}
	var total time.Duration
	for _, id := range sample {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := time.Now()
		_, err := h.lookup(ctx, id)
		d := time.Since(t)
		res.Sampled++
		total += d
		res.MaxLatency = max(res.MaxLatency, d)
		if err != nil {
			res.Failed++
		}
	}
	if res.Sampled > 0 {
		res.AvgLatency = total / time.Duration(res.Sampled)
	}
	res.Passed = res.Failed == 0 && res.AvgLatency <= res.TargetLatency
	rep.Performance = res
	return nil
}

type dimension struct {
	id   string
	page string
	dim  int
}

func (h *HealthChecker) checkEntry(rep *HealthReport, e *model.EmbeddingEntry, page string, dims *[]dimension) {
	rep.EntriesChecked++
	if i, bad := model.FirstNonFinite(e.Vector); bad {
		rep.Corruptions = append(rep.Corruptions, Corruption{
			Type: CorruptionNonFinite, ID: e.ID, Page: page,
			Detail: fmt.Sprintf("component %d is %v", i, e.Vector[i]),
		})
	}
	*dims = append(*dims, dimension{e.ID, page, len(e.Vector)})
}

func (h *HealthChecker) checkCorruption(ctx context.Context, rep *HealthReport) error {
	var dims []dimension
	err := h.src.ScanPages(ctx, func(p storage.PageInfo, entries []*model.EmbeddingEntry, err error) error {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !rep.hasPage(p.Name) {
				rep.Corruptions = append(rep.Corruptions, Corruption{Type: CorruptionChecksum, Page: p.Name, Detail: err.Error()})
			}
			return nil
		}
		for _, e := range entries {
			h.checkEntry(rep, e, p.Name, &dims)
		}
		return nil
	})
	if err != nil {
		return err
	}
	h.checkDimensions(rep, dims)
	return nil
}

func (h *HealthChecker) checkSampleCorruption(ctx context.Context, rep *HealthReport, sample []string) error {
	var dims []dimension
	for _, id := range sample {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := h.src.RetrieveEntry(ctx, id)
		if err != nil {
			rep.Corruptions = append(rep.Corruptions, Corruption{Type: CorruptionUnreadable, ID: id, Detail: err.Error()})
			continue
		}
		h.checkEntry(rep, e, "", &dims)
	}
	h.checkDimensions(rep, dims)
	return nil
}

func (r *HealthReport) hasPage(name string) bool {
	for _, c := range r.Corruptions {
		if c.Type == CorruptionChecksum && c.Page == name {
			return true
		}
	}
	return false
}

func (h *HealthChecker) checkDimensions(rep *HealthReport, dims []dimension) {
	want := h.cfg.ExpectedDimension
	if want == 0 {
		counts := make(map[int]int)
		for _, d := range dims {
			counts[d.dim]++
		}
		best := 0
		for dim, n := range counts {
			if n > best || (n == best && dim < want) {
				want, best = dim, n
			}
		}
	}
	for _, d := range dims {
		if d.dim != want {
			rep.Corruptions = append(rep.Corruptions, Corruption{
				Type: CorruptionDimensionMismatch, ID: d.id, Page: d.page,
				Detail: fmt.Sprintf("dimension %d, expected %d", d.dim, want),
			})
		}
	}
}

func (h *HealthChecker) verdict(rep *HealthReport, total int) {
	status := StatusHealthy
	add := func(s Status, msg string) {
		status = worse(status, s)
		rep.Recommendations = append(rep.Recommendations, msg)
	}

	if n := rep.CountOf(CorruptionChecksum); n > 0 {
		add(StatusUnhealthy, fmt.Sprintf("%d page(s) fail checksum or decoding: restore from backup", n))
	}
	missing := rep.CountOf(CorruptionMissingFromIndex) + rep.CountOf(CorruptionMissingFromStorage)
	if missing > 0 {
		s := StatusDegraded
		if total > 0 && float64(missing)/float64(total) > 0.1 {
			s = StatusUnhealthy
		}
		add(s, fmt.Sprintf("index disagrees with storage for %d entries: rebuild all indexes", missing))
	}
	if n := rep.CountOf(CorruptionNonFinite) + rep.CountOf(CorruptionDimensionMismatch) + rep.CountOf(CorruptionUnreadable); n > 0 {
		add(StatusDegraded, fmt.Sprintf("%d invalid vectors: delete or re-embed the affected entries", n))
	}
	if sr := rep.Integrity.Storage; sr != nil {
		if len(sr.OrphanedEntries) > 0 {
			add(StatusWarning, fmt.Sprintf("%d orphaned records: compact storage", len(sr.OrphanedEntries)))
		}
		if len(sr.LockedFiles) > 0 {
			add(StatusWarning, fmt.Sprintf("%d locked page(s): run stale lock cleanup if no writer is active", len(sr.LockedFiles)))
		}
		if sr.PendingDeletions > 0 && total > 0 && float64(sr.PendingDeletions)/float64(total) > 0.2 {
			add(StatusWarning, fmt.Sprintf("%d pending deletions: compact storage", sr.PendingDeletions))
		}
	}
	if h.cfg.CheckPerformance && rep.Performance.Sampled > 0 && !rep.Performance.Passed {
		add(StatusWarning, fmt.Sprintf("average lookup latency %s exceeds target %s: raise the lazy loading memory limit", rep.Performance.AvgLatency, rep.Performance.TargetLatency))
	}
	rep.Status = status
}
