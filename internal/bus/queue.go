package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ibbridge/pkg/exception"
)

// Event is one inbound broker callback.
type Event struct {
	Seq     uint64
	TsRecv  time.Time
	Payload any
}

// Publisher is what the broker client writes callbacks into.
type Publisher interface {
	Publish(ctx context.Context, payload any) error
	TryPublish(payload any) error
}

// Queue is a bounded event queue drained by a single goroutine.
type Queue struct {
	ch     chan Event
	mu     sync.RWMutex
	closed bool
	seq    atomic.Uint64
	drops  atomic.Uint64
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Event, capacity)}
}

func (q *Queue) event(payload any) Event {
	return Event{Seq: q.seq.Add(1), TsRecv: time.Now(), Payload: payload}
}

// TryPublish enqueues an event without blocking.
func (q *Queue) TryPublish(payload any) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- q.event(payload):
		return nil
	default:
		q.drops.Add(1)
		return exception.ErrQueueFull
	}
}

// Publish enqueues an event, waiting for room until ctx is done.
func (q *Queue) Publish(ctx context.Context, payload any) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- q.event(payload):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue from accepting new events. Queued events are still
// delivered by Run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Drops returns how many TryPublish calls found the queue full.
func (q *Queue) Drops() uint64 {
	return q.drops.Load()
}

func (q *Queue) Len() int {
	return len(q.ch)
}

// Run consumes events until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			handler(e)
		}
	}
}
