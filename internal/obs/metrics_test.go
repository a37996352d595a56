package obs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(EventExecution, time.Now())
	m.ObserveEvent(EventExecution, time.Time{})
	m.ObserveEvent(EventError, time.Time{})
	m.IncErrorCode(202)
	m.IncErrorCode(202)
	m.IncUnknownDrop()
	m.IncDrift()
	m.IncReconnect()
	m.SetQueueDrops(4)

	s := m.Snapshot()
	assert.Equal(t, map[string]uint64{"execution": 2, "error": 1}, s.EventCounts)
	assert.Equal(t, map[int]uint64{202: 2}, s.ErrorCodes)
	assert.Equal(t, uint64(1), s.UnknownDrops)
	assert.Equal(t, uint64(1), s.DriftWarnings)
	assert.Equal(t, uint64(1), s.Reconnects)
	assert.Equal(t, uint64(4), s.QueueDrops)
	assert.Equal(t, uint64(1), s.DispatchLatency.Count)
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveEvent(EventTick, time.Now())
	m.IncErrorCode(1)
	m.IncHandlerPanic()
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestLatencyStats(t *testing.T) {
	var l LatencyStats
	var wg sync.WaitGroup
	for _, d := range []time.Duration{3, 1, 2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Observe(d * time.Millisecond)
		}()
	}
	wg.Wait()
	l.Observe(-time.Second)

	s := l.Snapshot()
	assert.Equal(t, uint64(3), s.Count)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 3*time.Millisecond, s.Max)
	assert.Equal(t, 2*time.Millisecond, s.Avg)
	assert.Equal(t, LatencySnapshot{}, new(LatencyStats).Snapshot())
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "order_status", EventOrderStatus.String())
	assert.Equal(t, "connection_closed", EventConnectionClosed.String())
	assert.Equal(t, "unknown", EventType(200).String())
}
