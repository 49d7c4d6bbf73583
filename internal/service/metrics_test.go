package service

import (
	"sync"
	"testing"
	"time"

	"webhook-relay/internal/core/ports"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_ObserveRun(t *testing.T) {
	m := NewMetrics()

	m.ObserveRun(ports.WorkerSummary{Processed: 10, Delivered: 7, Retried: 2, Dead: 1, Duration: 250 * time.Millisecond})
	m.ObserveRun(ports.WorkerSummary{Processed: 5, Delivered: 4, Skipped: 1, Duration: 100 * time.Millisecond})

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Runs)
	assert.Equal(t, int64(15), snap.Processed)
	assert.Equal(t, int64(11), snap.Delivered)
	assert.Equal(t, int64(2), snap.Retried)
	assert.Equal(t, int64(1), snap.Dead)
	assert.Equal(t, int64(1), snap.Skipped)
	assert.Equal(t, int64(100), snap.LastDurationMs)
	assert.WithinDuration(t, time.Now(), snap.LastRunAt, time.Second)
}

func TestMetrics_SnapshotEmpty(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	assert.Zero(t, snap.Runs)
	assert.True(t, snap.LastRunAt.IsZero())
}

func TestMetrics_ConcurrentObserve(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.ObserveRun(ports.WorkerSummary{Processed: 2, Delivered: 2})
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, int64(50), snap.Runs)
	assert.Equal(t, int64(100), snap.Processed)
	assert.Equal(t, int64(100), snap.Delivered)
}
