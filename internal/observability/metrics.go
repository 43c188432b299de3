package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics aggregates decision cycle outcomes in process.
type Metrics struct {
	mu sync.Mutex

	cycleTotal  atomic.Int64
	cycleFailed atomic.Int64
	degraded    atomic.Int64

	actions map[string]*atomic.Int64
	// durations keeps the most recent cycle durations, oldest evicted first.
	durations    []time.Duration
	maxDurations int
}

// NewMetrics creates a new metrics collector.
func NewMetrics(maxDurations int) *Metrics {
	if maxDurations <= 0 {
		maxDurations = 1000
	}
	return &Metrics{
		actions:      make(map[string]*atomic.Int64),
		durations:    make([]time.Duration, 0, maxDurations),
		maxDurations: maxDurations,
	}
}

// RecordCycle records a finished cycle with its action and duration.
func (m *Metrics) RecordCycle(action string, duration time.Duration) {
	m.cycleTotal.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()
	counter, ok := m.actions[action]
	if !ok {
		counter = &atomic.Int64{}
		m.actions[action] = counter
	}
	counter.Add(1)

	if len(m.durations) >= m.maxDurations {
		m.durations = m.durations[1:]
	}
	m.durations = append(m.durations, duration)
}

// RecordFailure records a cycle that ended in an error.
func (m *Metrics) RecordFailure() {
	m.cycleFailed.Add(1)
}

// RecordDegraded records a cycle whose memory flush failed.
func (m *Metrics) RecordDegraded() {
	m.degraded.Add(1)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := &MetricsSnapshot{
		CycleTotal:  m.cycleTotal.Load(),
		CycleFailed: m.cycleFailed.Load(),
		Degraded:    m.degraded.Load(),
		Actions:     make(map[string]int64, len(m.actions)),
	}
	for action, counter := range m.actions {
		snapshot.Actions[action] = counter.Load()
	}

	if len(m.durations) > 0 {
		var total time.Duration
		sorted := append([]time.Duration(nil), m.durations...)
		for _, d := range sorted {
			total += d
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		snapshot.AverageDurationMs = (total / time.Duration(len(sorted))).Milliseconds()
		// Nearest-rank percentile.
		snapshot.P95DurationMs = sorted[(len(sorted)*95+99)/100-1].Milliseconds()
	}
	return snapshot
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.cycleTotal.Store(0)
	m.cycleFailed.Store(0)
	m.degraded.Store(0)

	m.mu.Lock()
	m.actions = make(map[string]*atomic.Int64)
	m.durations = make([]time.Duration, 0, m.maxDurations)
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time view of the metrics.
type MetricsSnapshot struct {
	CycleTotal        int64            `json:"cycle_total"`
	CycleFailed       int64            `json:"cycle_failed"`
	Degraded          int64            `json:"degraded"`
	Actions           map[string]int64 `json:"actions"`
	AverageDurationMs int64            `json:"average_duration_ms"`
	P95DurationMs     int64            `json:"p95_duration_ms"`
}
