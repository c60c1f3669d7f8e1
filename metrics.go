package vecstore

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecstore/monitor"
)

// Operation names passed to MetricsCollector.
const (
	OpStore       = "store"
	OpGet         = "get"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpStoreBatch  = "store_batch"
	OpGetBatch    = "get_batch"
	OpUpdateBatch = "update_batch"
	OpDeleteBatch = "delete_batch"
	OpFind        = "find"
	OpRemove      = "remove"
	OpCompact     = "compact"
	OpRebuild     = "rebuild"
	OpHealthCheck = "health_check"
)

// MetricsCollector receives one call per completed operation.
// Implement it to export to Prometheus or similar systems.
type MetricsCollector interface {
	// RecordOperation is called after each single-item operation.
	RecordOperation(op string, duration time.Duration, err error)

	// RecordBatch is called after each batch operation with the number of
	// items in the batch.
	RecordBatch(op string, count int, duration time.Duration, err error)
}

// NoopMetricsCollector discards everything.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordOperation(string, time.Duration, error)  {}
func (NoopMetricsCollector) RecordBatch(string, int, time.Duration, error) {}

// BasicMetricsCollector keeps in-memory counters.
type BasicMetricsCollector struct {
	StoreCount   atomic.Int64
	GetCount     atomic.Int64
	UpdateCount  atomic.Int64
	DeleteCount  atomic.Int64
	OtherCount   atomic.Int64
	Errors       atomic.Int64
	TotalNanos   atomic.Int64
	BatchCount   atomic.Int64
	BatchItems   atomic.Int64
	BatchRejects atomic.Int64
}

// RecordOperation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOperation(op string, d time.Duration, err error) {
	switch op {
	case OpStore:
		b.StoreCount.Add(1)
	case OpGet:
		b.GetCount.Add(1)
	case OpUpdate:
		b.UpdateCount.Add(1)
	case OpDelete:
		b.DeleteCount.Add(1)
	default:
		b.OtherCount.Add(1)
	}
	b.TotalNanos.Add(d.Nanoseconds())
	if err != nil {
		b.Errors.Add(1)
	}
}

// RecordBatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatch(_ string, count int, d time.Duration, err error) {
	b.BatchCount.Add(1)
	b.BatchItems.Add(int64(count))
	b.TotalNanos.Add(d.Nanoseconds())
	if err != nil {
		b.BatchRejects.Add(1)
	}
}

// GetStats returns a snapshot.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	ops := b.StoreCount.Load() + b.GetCount.Load() + b.UpdateCount.Load() + b.DeleteCount.Load() + b.OtherCount.Load()
	s := BasicMetricsStats{
		StoreCount:   b.StoreCount.Load(),
		GetCount:     b.GetCount.Load(),
		UpdateCount:  b.UpdateCount.Load(),
		DeleteCount:  b.DeleteCount.Load(),
		Errors:       b.Errors.Load(),
		BatchCount:   b.BatchCount.Load(),
		BatchItems:   b.BatchItems.Load(),
		BatchRejects: b.BatchRejects.Load(),
	}
	if n := ops + s.BatchCount; n > 0 {
		s.AvgNanos = b.TotalNanos.Load() / n
	}
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector.
type BasicMetricsStats struct {
	StoreCount   int64
	GetCount     int64
	UpdateCount  int64
	DeleteCount  int64
	Errors       int64
	AvgNanos     int64
	BatchCount   int64
	BatchItems   int64
	BatchRejects int64
}

// monitorCollector feeds a monitor.Monitor. Batches are recorded under their
// own operation name.
type monitorCollector struct {
	m *monitor.Monitor
}

func (c monitorCollector) RecordOperation(op string, d time.Duration, err error) {
	c.m.RecordOperation(op, d, err)
}

func (c monitorCollector) RecordBatch(op string, _ int, d time.Duration, err error) {
	c.m.RecordOperation(op, d, err)
}

// teeCollector fans out to several collectors.
type teeCollector []MetricsCollector

func (t teeCollector) RecordOperation(op string, d time.Duration, err error) {
	for _, c := range t {
		c.RecordOperation(op, d, err)
	}
}

func (t teeCollector) RecordBatch(op string, count int, d time.Duration, err error) {
	for _, c := range t {
		c.RecordBatch(op, count, d, err)
	}
}
