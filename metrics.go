package termlog

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Metrics tracks write and sync latency for a TermLog. Recording is best
// effort: a TermLog with metrics disabled (the zero value pointer) simply
// skips recording.
type Metrics struct {
	mu    sync.Mutex
	write *hdrhistogram.Histogram
	sync  *hdrhistogram.Histogram
}

// NewMetrics allocates a pair of histograms covering 1ns to 10s of latency
// with 3 significant figures of precision, matching the ranges wal-shaped
// logs in this family typically report.
func NewMetrics() *Metrics {
	return &Metrics{
		write: hdrhistogram.New(1, 10e9, 3),
		sync:  hdrhistogram.New(1, 10e9, 3),
	}
}

func (m *Metrics) recordWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	_ = m.write.RecordValue(d.Nanoseconds())
	m.mu.Unlock()
}

func (m *Metrics) recordSync(d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	_ = m.sync.RecordValue(d.Nanoseconds())
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time read of the write/sync latency
// distributions.
type MetricsSnapshot struct {
	WriteP50, WriteP99 time.Duration
	SyncP50, SyncP99   time.Duration
}

// Snapshot returns the current latency percentiles. Safe to call
// concurrently with recording.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		WriteP50: time.Duration(m.write.ValueAtQuantile(50)),
		WriteP99: time.Duration(m.write.ValueAtQuantile(99)),
		SyncP50:  time.Duration(m.sync.ValueAtQuantile(50)),
		SyncP99:  time.Duration(m.sync.ValueAtQuantile(99)),
	}
}
