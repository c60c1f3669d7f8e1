package monitor

import (
	"errors"
	"fmt"
	"time"
)

// Severity of a fired alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// penalty is the health score deduction while an alert of this severity is active.
func (s Severity) penalty() float64 {
	switch s {
	case SeverityInfo:
		return 5
	case SeverityWarning:
		return 15
	case SeverityCritical:
		return 30
	default:
		return 0
	}
}

// Condition compares a metric against a rule threshold.
type Condition string

const (
	Above Condition = "gt"
	Below Condition = "lt"
)

// ErrInvalidRule is returned for malformed alert rules.
var ErrInvalidRule = errors.New("invalid alert rule")

// AlertRule fires when Metric breaches Threshold.
type AlertRule struct {
	Name        string        `yaml:"name" json:"name"`
	Metric      string        `yaml:"metric" json:"metric"`
	Condition   Condition     `yaml:"condition" json:"condition"`
	Threshold   float64       `yaml:"threshold" json:"threshold"`
	Severity    Severity      `yaml:"severity" json:"severity"`
	Cooldown    time.Duration `yaml:"cooldown" json:"cooldown"`
	Description string        `yaml:"description" json:"description,omitempty"`
}

// Validate checks the rule fields.
func (r AlertRule) Validate() error {
	switch {
	case r.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidRule)
	case r.Metric == "":
		return fmt.Errorf("%w: %s: empty metric", ErrInvalidRule, r.Name)
	case r.Condition != Above && r.Condition != Below:
		return fmt.Errorf("%w: %s: condition %q", ErrInvalidRule, r.Name, r.Condition)
	case r.Severity.penalty() == 0:
		return fmt.Errorf("%w: %s: severity %q", ErrInvalidRule, r.Name, r.Severity)
	}
	return nil
}

func (r AlertRule) breached(v float64) bool {
	if r.Condition == Below {
		return v < r.Threshold
	}
	return v > r.Threshold
}

// Alert is a fired rule.
type Alert struct {
	Rule      string    `json:"rule"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	FiredAt   time.Time `json:"fired_at"`
}

// DefaultRules returns the rules installed by default.
func DefaultRules() []AlertRule {
	return []AlertRule{
		{Name: "high_error_rate", Metric: MetricErrorRate, Condition: Above, Threshold: 5, Severity: SeverityWarning, Cooldown: 5 * time.Minute},
		{Name: "slow_operations", Metric: MetricP95LatencyMS, Condition: Above, Threshold: 100, Severity: SeverityWarning, Cooldown: 5 * time.Minute},
		{Name: "heap_pressure", Metric: MetricHeapMB, Condition: Above, Threshold: 2048, Severity: SeverityCritical, Cooldown: 10 * time.Minute},
		{Name: "goroutine_leak", Metric: MetricGoroutines, Condition: Above, Threshold: 10000, Severity: SeverityWarning, Cooldown: 10 * time.Minute},
	}
}
