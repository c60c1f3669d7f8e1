package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOperation(t *testing.T) {
	m, err := New(Config{LatencyWindow: 100, Rules: []AlertRule{}})
	require.NoError(t, err)

	for i := 1; i <= 100; i++ {
		m.RecordOperation("get", time.Duration(i)*time.Millisecond, nil)
	}
	m.RecordOperation("store", time.Millisecond, errors.New("boom"))

	get, ok := m.Operation("get")
	require.True(t, ok)
	assert.Equal(t, uint64(100), get.Count)
	assert.Equal(t, 95*time.Millisecond, get.P95Latency)
	assert.Equal(t, 100*time.Millisecond, get.MaxLatency)
	assert.Equal(t, 50500*time.Microsecond, get.AvgLatency)

	store, _ := m.Operation("store")
	assert.InDelta(t, 100.0, store.ErrorRate, 1e-9)

	rate, ok := m.Metric(MetricErrorRate)
	require.True(t, ok)
	assert.InDelta(t, 100.0/101.0, rate, 1e-9)

	// Ring keeps only the newest window
	for i := 0; i < 100; i++ {
		m.RecordOperation("get", time.Microsecond, nil)
	}
	get, _ = m.Operation("get")
	assert.Equal(t, time.Microsecond, get.P95Latency)
	assert.Equal(t, 100*time.Millisecond, get.MaxLatency)
}

func TestAlertsAndCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var delivered []Alert
	m, err := New(Config{Rules: []AlertRule{
		{Name: "errors", Metric: MetricErrorRate, Condition: Above, Threshold: 10, Severity: SeverityCritical, Cooldown: time.Minute},
	}}, WithClock(func() time.Time { return now }), WithAlertHandler(func(a Alert) { delivered = append(delivered, a) }))
	require.NoError(t, err)

	// 1. Healthy
	m.RecordOperation("get", time.Millisecond, nil)
	assert.Empty(t, m.Evaluate())
	assert.Equal(t, 100.0, m.HealthScore())

	// 2. Breach fires once within the cooldown
	m.RecordOperation("get", time.Millisecond, errors.New("x"))
	fired := m.Evaluate()
	require.Len(t, fired, 1)
	assert.Equal(t, "errors", fired[0].Rule)
	assert.Empty(t, m.Evaluate())
	assert.Len(t, m.ActiveAlerts(), 1)
	assert.Len(t, delivered, 1)

	// 50% error rate: -30 for the critical alert, -40 capped error penalty
	assert.InDelta(t, 30.0, m.HealthScore(), 1e-9)

	// 3. After the cooldown it fires again
	now = now.Add(2 * time.Minute)
	assert.Len(t, m.Evaluate(), 1)

	// 4. Recovery resolves
	for i := 0; i < 50; i++ {
		m.RecordOperation("get", time.Millisecond, nil)
	}
	assert.Empty(t, m.Evaluate())
	assert.Empty(t, m.ActiveAlerts())
}

func TestInvalidRule(t *testing.T) {
	_, err := New(Config{Rules: []AlertRule{{Name: "x", Metric: "y", Condition: "ge", Severity: SeverityInfo}}})
	assert.ErrorIs(t, err, ErrInvalidRule)

	m, err := New(Config{})
	require.NoError(t, err)
	assert.Len(t, m.Rules(), len(DefaultRules()))
	assert.ErrorIs(t, m.AddRule(AlertRule{Name: "x", Metric: "y", Condition: Above, Severity: "fatal"}), ErrInvalidRule)
}

func TestSnapshotAndSample(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)
	m.RecordOperation("delete", time.Millisecond, nil)

	s := m.Sample()
	assert.Positive(t, s.HeapBytes)
	assert.Positive(t, s.Goroutines)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.TotalOps)
	assert.Contains(t, snap.Operations, "delete")
	assert.Equal(t, s, snap.Resources)

	m.Reset()
	assert.Zero(t, m.Snapshot().TotalOps)
}
