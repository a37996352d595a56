package notify

import (
	"context"
	"sync"

	"ibbridge/internal/model"
)

// Queue buffers notifications for the caller. Everything pushed in one call
// lands in the same drain, so a batch never splits the effects of a single
// broker event.
type Queue struct {
	mu     sync.Mutex
	items  []model.Notification
	signal chan struct{}
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push appends a batch of notifications.
func (q *Queue) Push(ns ...model.Notification) {
	if len(ns) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, ns...)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Drain returns everything queued up to now. An empty result means the
// caller has seen all known state.
func (q *Queue) Drain() []model.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Wait blocks until at least one notification is queued, then drains.
func (q *Queue) Wait(ctx context.Context) ([]model.Notification, error) {
	for {
		if out := q.Drain(); len(out) != 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
