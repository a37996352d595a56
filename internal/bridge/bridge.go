package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ibbridge/internal/account"
	"ibbridge/internal/broker"
	"ibbridge/internal/bus"
	"ibbridge/internal/history"
	"ibbridge/internal/ledger"
	"ibbridge/internal/model/enum"
	"ibbridge/internal/notify"
	"ibbridge/internal/obs"
	"ibbridge/internal/position"
	"ibbridge/internal/router"
	"ibbridge/internal/supervisor"
	"ibbridge/pkg/exception"

	"github.com/yanun0323/logs"
)

// Option configures a Bridge.
type Option struct {
	ClientID int
	// Reconnect is the attempt budget per reconnect, -1 retries forever.
	Reconnect int
	Timeout   time.Duration
	// TimeOffset stamps ticks with the broker clock.
	TimeOffset  bool
	TimeRefresh time.Duration
	// IndCash builds index streams from the last price.
	IndCash bool
	// IntradayRanges accepts two-date range requests with sub-day bars.
	IntradayRanges bool
	AccountWait    time.Duration
	Sinks          []Sink
	Overflow       OverflowPolicy
	Metrics        *obs.Metrics
}

// Bridge is the session context object. It owns the routing table, the order
// ledger, the position and account stores and the connection supervisor for
// one broker session, and drains the session's event queue.
type Bridge struct {
	opt      Option
	client   broker.Client
	queue    *bus.Queue
	router   *router.Router
	ledger   *ledger.Ledger
	tracker  *position.Tracker
	accounts *account.Cache
	notes    *notify.Queue
	notifier *notifier
	super    *supervisor.Supervisor
	splitter history.Splitter
	metrics  *obs.Metrics
	clock    *serverClock

	idsOnce sync.Once
	idsRdy  chan struct{}
	everUp  atomic.Bool

	mu      sync.Mutex
	streams map[int64]*Stream
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// New wires a bridge around client. The client must publish its callbacks
// into queue.
func New(client broker.Client, queue *bus.Queue, opt Option) *Bridge {
	if opt.AccountWait <= 0 {
		opt.AccountWait = 10 * time.Second
	}
	if opt.Metrics == nil {
		opt.Metrics = obs.NewMetrics()
	}

	b := &Bridge{
		opt:      opt,
		client:   client,
		queue:    queue,
		router:   router.New(router.DataRequestBase),
		tracker:  position.NewTracker(),
		accounts: account.NewCache(),
		notes:    notify.NewQueue(),
		metrics:  opt.Metrics,
		clock:    newServerClock(opt.TimeOffset),
		idsRdy:   make(chan struct{}),
		streams:  make(map[int64]*Stream),
		runCtx:   context.Background(),
	}
	if opt.IntradayRanges {
		b.splitter.MinRangeTimeFrame = enum.TimeFrameSeconds
	}
	b.notifier = newNotifier(b.notes, newFanout(opt.Sinks, opt.Overflow), b.metrics)
	b.ledger = ledger.New(b.tracker, b.notifier)

	b.super = supervisor.New(client, supervisor.Config{
		Reconnect: opt.Reconnect,
		Timeout:   opt.Timeout,
	})
	b.super.OnStateChange(b.onStateChange)
	return b
}

func (b *Bridge) onStateChange(from, to supervisor.State) {
	switch to {
	case supervisor.StateConnected:
		if from == supervisor.StateConnecting && b.everUp.Swap(true) {
			b.metrics.IncReconnect()
		}
	case supervisor.StatePermanentlyFailed:
		b.metrics.IncPermanentFail()
	}
}

func (b *Bridge) ctx() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runCtx
}

// Start runs the drain loop in the background and opens the session.
func (b *Bridge) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		cancel()
		return b.EnsureConnected(ctx)
	}
	b.cancel = cancel
	b.done = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		b.Run(runCtx)
	}()

	if err := b.super.EnsureConnected(ctx, true); err != nil {
		return err
	}
	return nil
}

// Run drains the event queue until ctx is done or the queue is closed.
func (b *Bridge) Run(ctx context.Context) {
	b.mu.Lock()
	b.runCtx = ctx
	b.mu.Unlock()

	if b.opt.TimeOffset && b.opt.TimeRefresh > 0 {
		go b.refreshTime(ctx)
	}
	b.queue.Run(ctx, b.dispatch)
}

// Stop ends the drain loop, closes the session and ends every open stream.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	b.super.Close()
	b.client.Disconnect()

	for _, s := range b.Streams() {
		b.endStream(s, true)
	}
	b.notifier.close()
	logs.Info("bridge stopped")
}

// EnsureConnected reconnects when needed. Concurrent callers share one
// attempt sequence.
func (b *Bridge) EnsureConnected(ctx context.Context) error {
	return b.super.EnsureConnected(ctx, false)
}

// reconnect drives recovery in the background after the session was lost.
func (b *Bridge) reconnect() {
	ctx := b.ctx()
	go func() {
		if err := b.super.EnsureConnected(ctx, false); err != nil {
			logs.Errorf("reconnect failed, err: %+v", err)
		}
	}()
}

func (b *Bridge) State() supervisor.State {
	return b.super.State()
}

func (b *Bridge) Metrics() obs.Snapshot {
	b.metrics.SetQueueDrops(b.queue.Drops())
	return b.metrics.Snapshot()
}

// waitOrderIDs blocks until the session announced its next valid order id.
func (b *Bridge) waitOrderIDs(ctx context.Context) error {
	select {
	case <-b.idsRdy:
		return nil
	default:
	}
	timer := time.NewTimer(b.opt.AccountWait)
	defer timer.Stop()
	select {
	case <-b.idsRdy:
		return nil
	case <-timer.C:
		return exception.ErrOrderIDNotAnnounced
	case <-ctx.Done():
		return ctx.Err()
	}
}
