package monitor

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"runtime"
	"slices"
	"sync"
	"time"
)

// Metric names understood by alert rules.
const (
	MetricErrorRate    = "error_rate"     // percent of failed operations
	MetricP95LatencyMS = "p95_latency_ms" // worst p95 across operations
	MetricAvgLatencyMS = "avg_latency_ms"
	MetricHeapMB       = "heap_mb"
	MetricGoroutines   = "goroutines"
	MetricOperations   = "operations_total"
)

// Config controls the monitor.
type Config struct {
	// LatencyWindow is the number of latencies kept per operation.
	LatencyWindow int `yaml:"latency_window" json:"latency_window"`
	// SampleInterval is the period of the background sampler.
	SampleInterval time.Duration `yaml:"sample_interval" json:"sample_interval"`
	// Rules replaces DefaultRules when non-nil.
	Rules []AlertRule `yaml:"rules" json:"rules"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{LatencyWindow: 1024, SampleInterval: 30 * time.Second}
}

// OperationStats summarizes one operation name.
type OperationStats struct {
	Operation  string        `json:"operation"`
	Count      uint64        `json:"count"`
	Errors     uint64        `json:"errors"`
	ErrorRate  float64       `json:"error_rate"`
	AvgLatency time.Duration `json:"avg_latency"`
	P95Latency time.Duration `json:"p95_latency"`
	MaxLatency time.Duration `json:"max_latency"`
}

// ResourceSample is one reading of process resources.
type ResourceSample struct {
	At         time.Time `json:"at"`
	HeapBytes  uint64    `json:"heap_bytes"`
	Goroutines int       `json:"goroutines"`
	NumGC      uint32    `json:"num_gc"`
}

// Snapshot is a point-in-time view of the monitor.
type Snapshot struct {
	Uptime       time.Duration             `json:"uptime"`
	Operations   map[string]OperationStats `json:"operations"`
	TotalOps     uint64                    `json:"total_ops"`
	TotalErrors  uint64                    `json:"total_errors"`
	Resources    ResourceSample            `json:"resources"`
	ActiveAlerts []Alert                   `json:"active_alerts"`
	HealthScore  float64                   `json:"health_score"`
}

type opStats struct {
	count  uint64
	errors uint64
	total  time.Duration
	max    time.Duration
	ring   []time.Duration
	pos    int
}

func (o *opStats) record(d time.Duration, failed bool, window int) {
	o.count++
	if failed {
		o.errors++
	}
	o.total += d
	o.max = max(o.max, d)
	if len(o.ring) < window {
		o.ring = append(o.ring, d)
		return
	}
	o.ring[o.pos] = d
	o.pos = (o.pos + 1) % window
}

func (o *opStats) p95() time.Duration {
	if len(o.ring) == 0 {
		return 0
	}
	sorted := slices.Clone(o.ring)
	slices.Sort(sorted)
	i := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	return sorted[max(i, 0)]
}

func (o *opStats) summary(name string) OperationStats {
	s := OperationStats{Operation: name, Count: o.count, Errors: o.errors, MaxLatency: o.max, P95Latency: o.p95()}
	if o.count > 0 {
		s.AvgLatency = o.total / time.Duration(o.count)
		s.ErrorRate = float64(o.errors) / float64(o.count) * 100
	}
	return s
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithAlertHandler registers fn for every fired alert.
func WithAlertHandler(fn func(Alert)) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.handlers = append(m.handlers, fn)
		}
	}
}

// Monitor is safe for concurrent use.
type Monitor struct {
	mu        sync.Mutex
	cfg       Config
	started   time.Time
	ops       map[string]*opStats
	resources ResourceSample
	rules     []AlertRule
	active    map[string]Alert
	lastFired map[string]time.Time
	handlers  []func(Alert)

	logger *slog.Logger
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor. It fails if any configured rule is invalid.
func New(cfg Config, opts ...Option) (*Monitor, error) {
	d := DefaultConfig()
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = d.LatencyWindow
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = d.SampleInterval
	}
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}

	m := &Monitor{
		cfg:       cfg,
		ops:       make(map[string]*opStats),
		active:    make(map[string]Alert),
		lastFired: make(map[string]time.Time),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.started = m.now()
	for _, r := range rules {
		if err := m.AddRule(r); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddRule registers r, replacing a rule with the same name.
func (m *Monitor) AddRule(r AlertRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = slices.DeleteFunc(m.rules, func(x AlertRule) bool { return x.Name == r.Name })
	m.rules = append(m.rules, r)
	return nil
}

// Rules returns the registered rules.
func (m *Monitor) Rules() []AlertRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.rules)
}

// RecordOperation records one call of op.
func (m *Monitor) RecordOperation(op string, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.ops[op]
	if !ok {
		s = &opStats{}
		m.ops[op] = s
	}
	s.record(d, err != nil, m.cfg.LatencyWindow)
}

// Operation returns the summary for op.
func (m *Monitor) Operation(op string) (OperationStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.ops[op]
	if !ok {
		return OperationStats{}, false
	}
	return s.summary(op), true
}

// Sample reads process resources and stores the reading.
func (m *Monitor) Sample() ResourceSample {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s := ResourceSample{
		At:         m.now(),
		HeapBytes:  mem.HeapAlloc,
		Goroutines: runtime.NumGoroutine(),
		NumGC:      mem.NumGC,
	}
	m.mu.Lock()
	m.resources = s
	m.mu.Unlock()
	return s
}

// Metric returns the current value of a named metric.
func (m *Monitor) Metric(name string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metric(name)
}

func (m *Monitor) metric(name string) (float64, bool) {
	switch name {
	case MetricErrorRate:
		var n, failed uint64
		for _, s := range m.ops {
			n += s.count
			failed += s.errors
		}
		if n == 0 {
			return 0, true
		}
		return float64(failed) / float64(n) * 100, true
	case MetricP95LatencyMS:
		var worst time.Duration
		for _, s := range m.ops {
			worst = max(worst, s.p95())
		}
		return ms(worst), true
	case MetricAvgLatencyMS:
		var n uint64
		var total time.Duration
		for _, s := range m.ops {
			n += s.count
			total += s.total
		}
		if n == 0 {
			return 0, true
		}
		return ms(total / time.Duration(n)), true
	case MetricHeapMB:
		return float64(m.resources.HeapBytes) / (1 << 20), true
	case MetricGoroutines:
		return float64(m.resources.Goroutines), true
	case MetricOperations:
		var n uint64
		for _, s := range m.ops {
			n += s.count
		}
		return float64(n), true
	default:
		return 0, false
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Evaluate checks every rule and returns the alerts fired by this call.
// A breached rule inside its cooldown stays active without firing again; a
// rule whose metric recovered is resolved.
func (m *Monitor) Evaluate() []Alert {
	m.mu.Lock()
	now := m.now()
	var fired []Alert
	for _, r := range m.rules {
		v, ok := m.metric(r.Metric)
		if !ok {
			continue
		}
		if !r.breached(v) {
			if _, was := m.active[r.Name]; was {
				delete(m.active, r.Name)
				m.logger.Info("alert resolved", "rule", r.Name, "value", v)
			}
			continue
		}
		if last, ok := m.lastFired[r.Name]; ok && r.Cooldown > 0 && now.Sub(last) < r.Cooldown {
			continue
		}
		a := Alert{
			Rule:      r.Name,
			Metric:    r.Metric,
			Value:     v,
			Threshold: r.Threshold,
			Severity:  r.Severity,
			Message:   fmt.Sprintf("%s %s %.2f (threshold %.2f)", r.Metric, r.Condition, v, r.Threshold),
			FiredAt:   now,
		}
		m.active[r.Name] = a
		m.lastFired[r.Name] = now
		fired = append(fired, a)
	}
	handlers := slices.Clone(m.handlers)
	m.mu.Unlock()

	for _, a := range fired {
		m.logger.Warn("alert fired", "rule", a.Rule, "severity", a.Severity, "message", a.Message)
		for _, h := range handlers {
			h(a)
		}
	}
	return fired
}

// ActiveAlerts returns the unresolved alerts ordered by rule name.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeAlerts()
}

func (m *Monitor) activeAlerts() []Alert {
	out := slices.Collect(maps.Values(m.active))
	slices.SortFunc(out, func(a, b Alert) int { return cmp.Compare(a.Rule, b.Rule) })
	return out
}

// HealthScore returns 0 to 100. Active alerts deduct by severity and the
// overall error rate deducts up to 40 points.
func (m *Monitor) HealthScore() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthScore()
}

func (m *Monitor) healthScore() float64 {
	score := 100.0
	for _, a := range m.active {
		score -= a.Severity.penalty()
	}
	if rate, _ := m.metric(MetricErrorRate); rate > 0 {
		score -= min(40, rate*2)
	}
	return max(0, score)
}

// Snapshot returns every statistic at once.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		Uptime:       m.now().Sub(m.started),
		Operations:   make(map[string]OperationStats, len(m.ops)),
		Resources:    m.resources,
		ActiveAlerts: m.activeAlerts(),
		HealthScore:  m.healthScore(),
	}
	for name, o := range m.ops {
		s.Operations[name] = o.summary(name)
		s.TotalOps += o.count
		s.TotalErrors += o.errors
	}
	return s
}

// Reset clears operation statistics and active alerts.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = make(map[string]*opStats)
	m.active = make(map[string]Alert)
	m.lastFired = make(map[string]time.Time)
}

// Start samples resources and evaluates rules every SampleInterval until
// Stop is called or ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	interval := m.cfg.SampleInterval
	m.mu.Unlock()

	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Sample()
				m.Evaluate()
			}
		}
	}()
}

// Stop ends the background loop started by Start and waits for it.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
