package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ibbridge/internal/model"
	"ibbridge/internal/notify"
	"ibbridge/internal/obs"

	"github.com/yanun0323/logs"
)

// Sink receives every notification batch after the caller queue got it.
// Write runs on the sink's own goroutine.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch []model.Notification) error
}

// OverflowPolicy decides what happens when a sink falls behind.
type OverflowPolicy uint8

const (
	// OverflowDropNewest discards the batch that does not fit.
	OverflowDropNewest OverflowPolicy = iota
	// OverflowDropOldest discards the oldest queued batch to make room.
	OverflowDropOldest
	// OverflowBlock waits for room. The drain loop stalls while it waits.
	OverflowBlock
)

const (
	_sinkQueueSize    = 256
	_sinkWriteTimeout = 5 * time.Second
)

type sinkWorker struct {
	sink   Sink
	policy OverflowPolicy
	queue  chan []model.Notification
	stop   chan struct{}
	done   chan struct{}
}

func (w *sinkWorker) enqueue(batch []model.Notification) bool {
	switch w.policy {
	case OverflowBlock:
		select {
		case w.queue <- batch:
			return true
		case <-w.stop:
			return false
		}
	case OverflowDropOldest:
		for {
			select {
			case w.queue <- batch:
				return true
			default:
				select {
				case <-w.queue:
				default:
					return false
				}
			}
		}
	default:
		select {
		case w.queue <- batch:
			return true
		default:
			return false
		}
	}
}

func (w *sinkWorker) run() {
	defer close(w.done)
	for {
		select {
		case batch := <-w.queue:
			w.write(batch)
		case <-w.stop:
			for {
				select {
				case batch := <-w.queue:
					w.write(batch)
				default:
					return
				}
			}
		}
	}
}

func (w *sinkWorker) write(batch []model.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), _sinkWriteTimeout)
	defer cancel()
	if err := w.sink.Write(ctx, batch); err != nil {
		logs.Errorf("sink %s write failed, batch: %d, err: %+v", w.sink.Name(), len(batch), err)
	}
}

// fanout copies notification batches to every sink asynchronously. Pushing
// takes no lock, so a blocked sink only stalls the pushing goroutine.
type fanout struct {
	closed  atomic.Bool
	once    sync.Once
	workers []*sinkWorker
}

func newFanout(sinks []Sink, policy OverflowPolicy) *fanout {
	f := &fanout{}
	for _, s := range sinks {
		if s == nil {
			continue
		}
		w := &sinkWorker{
			sink:   s,
			policy: policy,
			queue:  make(chan []model.Notification, _sinkQueueSize),
			stop:   make(chan struct{}),
			done:   make(chan struct{}),
		}
		go w.run()
		f.workers = append(f.workers, w)
	}
	return f
}

func (f *fanout) push(batch []model.Notification) {
	if f.closed.Load() {
		return
	}
	for _, w := range f.workers {
		if !w.enqueue(batch) {
			logs.Warnf("sink %s queue full, batch of %d dropped", w.sink.Name(), len(batch))
		}
	}
}

// close flushes queued batches and waits for every sink goroutine.
func (f *fanout) close() {
	f.once.Do(func() {
		f.closed.Store(true)
		for _, w := range f.workers {
			close(w.stop)
		}
		for _, w := range f.workers {
			<-w.done
		}
	})
}

// notifier is what the ledger and the dispatcher push notifications into.
type notifier struct {
	queue   *notify.Queue
	fanout  *fanout
	metrics *obs.Metrics
	now     func() time.Time
}

func newNotifier(q *notify.Queue, f *fanout, m *obs.Metrics) *notifier {
	return &notifier{queue: q, fanout: f, metrics: m, now: time.Now}
}

func (n *notifier) Push(ns ...model.Notification) {
	if len(ns) == 0 {
		return
	}
	n.queue.Push(ns...)
	for _, note := range ns {
		if note.Kind.IsTerminal() && note.Order != nil && !note.Order.CreatedAt.IsZero() {
			n.metrics.ObserveOrder(n.now().Sub(note.Order.CreatedAt))
		}
	}
	n.fanout.push(append([]model.Notification(nil), ns...))
}

func (n *notifier) close() {
	n.fanout.close()
}
