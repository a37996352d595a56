package obs

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType classifies inbound broker events for counting.
type EventType uint8

const (
	EventUnknown EventType = iota
	EventOrderStatus
	EventOpenOrder
	EventExecution
	EventCommission
	EventPosition
	EventPortfolio
	EventAccountValue
	EventManagedAccounts
	EventNextValidID
	EventCurrentTime
	EventError
	EventHistoricalBar
	EventHistoricalEnd
	EventTick
	EventRealtimeBar
	EventConnectionClosed
	_eventTypeEnd
)

var _eventTypeNames = [_eventTypeEnd]string{
	"unknown", "order_status", "open_order", "execution", "commission",
	"position", "portfolio", "account_value", "managed_accounts",
	"next_valid_id", "current_time", "error", "historical_bar",
	"historical_end", "tick", "realtime_bar", "connection_closed",
}

func (e EventType) String() string {
	if e >= _eventTypeEnd {
		return "unknown"
	}
	return _eventTypeNames[e]
}

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	eventCounts    [_eventTypeEnd]uint64
	unknownDrops   uint64
	handlerPanics  uint64
	driftWarnings  uint64
	reconnects     uint64
	permanentFails uint64
	queueDrops     uint64

	codesMu    sync.Mutex
	errorCodes map[int]uint64

	dispatchLatency LatencyStats
	orderLatency    LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts     map[string]uint64 `json:"eventCounts"`
	ErrorCodes      map[int]uint64    `json:"errorCodes"`
	UnknownDrops    uint64            `json:"unknownDrops"`
	HandlerPanics   uint64            `json:"handlerPanics"`
	DriftWarnings   uint64            `json:"driftWarnings"`
	Reconnects      uint64            `json:"reconnects"`
	PermanentFails  uint64            `json:"permanentFails"`
	QueueDrops      uint64            `json:"queueDrops"`
	DispatchLatency LatencySnapshot   `json:"dispatchLatency"`
	OrderLatency    LatencySnapshot   `json:"orderLatency"`
}

func NewMetrics() *Metrics {
	return &Metrics{errorCodes: make(map[int]uint64)}
}

// ObserveEvent counts one dispatched event and the time it waited in the
// queue since it was received.
func (m *Metrics) ObserveEvent(t EventType, recv time.Time) {
	if m == nil {
		return
	}
	if t < _eventTypeEnd {
		atomic.AddUint64(&m.eventCounts[t], 1)
	}
	if !recv.IsZero() {
		m.dispatchLatency.Observe(time.Since(recv))
	}
}

// IncErrorCode counts a broker error code.
func (m *Metrics) IncErrorCode(code int) {
	if m == nil {
		return
	}
	m.codesMu.Lock()
	m.errorCodes[code]++
	m.codesMu.Unlock()
}

// IncUnknownDrop records an event for an id nobody is waiting on.
func (m *Metrics) IncUnknownDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.unknownDrops, 1)
}

func (m *Metrics) IncHandlerPanic() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.handlerPanics, 1)
}

func (m *Metrics) IncDrift() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.driftWarnings, 1)
}

func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconnects, 1)
}

func (m *Metrics) IncPermanentFail() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.permanentFails, 1)
}

// SetQueueDrops mirrors the drop counter of the event queue.
func (m *Metrics) SetQueueDrops(n uint64) {
	if m == nil {
		return
	}
	atomic.StoreUint64(&m.queueDrops, n)
}

// ObserveOrder measures submit to terminal notification latency.
func (m *Metrics) ObserveOrder(d time.Duration) {
	if m == nil {
		return
	}
	m.orderLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[string]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[EventType(i).String()] = v
		}
	}
	m.codesMu.Lock()
	codes := make(map[int]uint64, len(m.errorCodes))
	for k, v := range m.errorCodes {
		codes[k] = v
	}
	m.codesMu.Unlock()

	return Snapshot{
		EventCounts:     eventCounts,
		ErrorCodes:      codes,
		UnknownDrops:    atomic.LoadUint64(&m.unknownDrops),
		HandlerPanics:   atomic.LoadUint64(&m.handlerPanics),
		DriftWarnings:   atomic.LoadUint64(&m.driftWarnings),
		Reconnects:      atomic.LoadUint64(&m.reconnects),
		PermanentFails:  atomic.LoadUint64(&m.permanentFails),
		QueueDrops:      atomic.LoadUint64(&m.queueDrops),
		DispatchLatency: m.dispatchLatency.Snapshot(),
		OrderLatency:    m.orderLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		low := atomic.LoadUint64(&l.min)
		if low != 0 && nanos >= low {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, low, nanos) {
			break
		}
	}

	for {
		high := atomic.LoadUint64(&l.max)
		if nanos <= high {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, high, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(atomic.LoadUint64(&l.sum) / count),
	}
}
