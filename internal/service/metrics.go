package service

import (
	"sync"
	"time"

	"webhook-relay/internal/core/ports"
)

// Metrics is an in-process implementation of ports.MetricsCollector.
// Counters survive for the life of the process only.
type Metrics struct {
	mu   sync.Mutex
	runs int64
	agg  ports.MetricsSnapshot
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) ObserveRun(summary ports.WorkerSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	m.agg.Runs = m.runs
	m.agg.Processed += int64(summary.Processed)
	m.agg.Delivered += int64(summary.Delivered)
	m.agg.Retried += int64(summary.Retried)
	m.agg.Dead += int64(summary.Dead)
	m.agg.Skipped += int64(summary.Skipped)
	m.agg.LastRunAt = time.Now()
	m.agg.LastDurationMs = summary.Duration.Milliseconds()
}

func (m *Metrics) Snapshot() ports.MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agg
}
