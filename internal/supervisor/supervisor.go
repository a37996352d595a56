package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ibbridge/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Dialer opens and closes the broker session.
type Dialer interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// Consumer is a data stream that must be re-issued after a reconnect and
// torn down when the connection is lost for good.
type Consumer interface {
	Resubscribe(ctx context.Context) error
	Teardown(ctx context.Context)
}

// ConsumerFunc adapts two functions to Consumer.
type ConsumerFunc struct {
	OnResubscribe func(ctx context.Context) error
	OnTeardown    func(ctx context.Context)
}

func (f ConsumerFunc) Resubscribe(ctx context.Context) error {
	if f.OnResubscribe == nil {
		return nil
	}
	return f.OnResubscribe(ctx)
}

func (f ConsumerFunc) Teardown(ctx context.Context) {
	if f.OnTeardown != nil {
		f.OnTeardown(ctx)
	}
}

// Config is the retry policy.
type Config struct {
	// Reconnect is the number of attempts per reconnect; -1 retries forever.
	// The very first connection of the process gets one extra attempt.
	Reconnect int
	// Timeout is the fixed delay between attempts. Ignored when Backoff is set.
	Timeout time.Duration
	Backoff *Backoff
}

func (c Config) backoff() Backoff {
	if c.Backoff != nil {
		return *c.Backoff
	}
	return FixedBackoff(c.Timeout)
}

// Supervisor owns the connection lifecycle.
type Supervisor struct {
	cfg    Config
	dialer Dialer
	group  singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	connected bool
	consumers map[uint64]Consumer
	nextToken uint64
	onChange  []func(from, to State)

	attempts     atomic.Uint64
	resubscribes atomic.Uint64
}

func New(dialer Dialer, cfg Config) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:       cfg,
		dialer:    dialer,
		ctx:       ctx,
		cancel:    cancel,
		consumers: make(map[uint64]Consumer),
	}
}

// OnStateChange registers a hook called after every transition.
func (s *Supervisor) OnStateChange(fn func(from, to State)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns how many connection attempts were made.
func (s *Supervisor) Attempts() uint64 {
	return s.attempts.Load()
}

// Resubscribes returns how many resubscribe rounds ran.
func (s *Supervisor) Resubscribes() uint64 {
	return s.resubscribes.Load()
}

// Register adds a consumer and returns its token.
func (s *Supervisor) Register(c Consumer) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextToken++
	s.consumers[s.nextToken] = c
	return s.nextToken
}

func (s *Supervisor) Unregister(token uint64) {
	s.mu.Lock()
	delete(s.consumers, token)
	s.mu.Unlock()
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	if from == to || from == StatePermanentlyFailed {
		s.mu.Unlock()
		return
	}
	s.state = to
	hooks := append([]func(from, to State){}, s.onChange...)
	s.mu.Unlock()

	logs.Infof("connection state %s -> %s", from, to)
	for _, fn := range hooks {
		fn(from, to)
	}
}

// EnsureConnected makes sure the session is up. Concurrent callers share one
// attempt sequence; each caller stops waiting when its own ctx is done.
func (s *Supervisor) EnsureConnected(ctx context.Context, fromStartup bool) error {
	switch st := s.State(); {
	case st == StatePermanentlyFailed:
		return exception.ErrPermanentlyFailed
	case st.IsUp() && s.dialer.IsConnected():
		return nil
	}

	ch := s.group.DoChan("connect", func() (any, error) {
		return nil, s.connect(s.ctx, fromStartup)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (s *Supervisor) connect(ctx context.Context, fromStartup bool) error {
	if s.dialer == nil {
		return exception.ErrNilDialer
	}
	if s.dialer.IsConnected() && s.State().IsUp() {
		return nil
	}

	s.mu.Lock()
	first := !s.connected
	s.mu.Unlock()

	budget := s.cfg.Reconnect
	if budget >= 0 && first {
		budget++
	}
	backoff := s.cfg.backoff()

	s.setState(StateConnecting)
	var lastErr error
	for attempt := 1; budget < 0 || attempt <= budget; attempt++ {
		if !(first && attempt == 1) {
			if err := sleep(ctx, backoff.Next(attempt)); err != nil {
				s.setState(StateDisconnected)
				return err
			}
		}
		if s.State() == StatePermanentlyFailed {
			return exception.ErrPermanentlyFailed
		}

		s.attempts.Add(1)
		lastErr = s.dialer.Connect(ctx)
		if lastErr == nil {
			return s.onConnected(ctx, fromStartup)
		}
		logs.Warnf("connect attempt %d failed, err: %+v", attempt, lastErr)
	}

	logs.Errorf("connection retries exhausted, err: %+v", lastErr)
	s.setState(StatePermanentlyFailed)
	if lastErr == nil {
		return exception.ErrRetriesExhausted
	}
	return errors.Wrap(exception.ErrRetriesExhausted, lastErr.Error())
}

func (s *Supervisor) onConnected(ctx context.Context, fromStartup bool) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.setState(StateConnected)

	if fromStartup {
		return nil
	}
	s.resubscribeAll(ctx)
	return nil
}

func (s *Supervisor) snapshot() []Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		out = append(out, c)
	}
	return out
}

// resubscribeAll re-issues every consumer concurrently and waits for all.
// A failing consumer does not cancel the others.
func (s *Supervisor) resubscribeAll(ctx context.Context) {
	s.resubscribes.Add(1)
	var g errgroup.Group
	for _, c := range s.snapshot() {
		g.Go(func() error {
			if err := c.Resubscribe(ctx); err != nil {
				logs.Errorf("resubscribe failed, err: %+v", err)
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Resubscribe re-issues every consumer, e.g. after the broker reports that
// its upstream link came back without the subscriptions.
func (s *Supervisor) Resubscribe(ctx context.Context) {
	if !s.State().IsUp() {
		return
	}
	s.resubscribeAll(ctx)
}

func (s *Supervisor) teardownAll(ctx context.Context) {
	var g errgroup.Group
	for _, c := range s.snapshot() {
		g.Go(func() error {
			c.Teardown(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// Fail enters PermanentlyFailed, closes the session and tears down every
// consumer. No reconnect is attempted afterwards.
func (s *Supervisor) Fail(ctx context.Context, reason string) {
	logs.Errorf("connection permanently failed, reason: %s", reason)
	s.setState(StatePermanentlyFailed)
	if s.dialer != nil {
		s.dialer.Disconnect()
	}
	s.teardownAll(ctx)
}

// Drop closes the session after a broker side disconnect and tears down every
// consumer. A later EnsureConnected may reconnect.
func (s *Supervisor) Drop(ctx context.Context, reason string) {
	logs.Warnf("connection dropped, reason: %s", reason)
	if s.dialer != nil {
		s.dialer.Disconnect()
	}
	s.setState(StateDisconnected)
	s.teardownAll(ctx)
}

// Lost records a connectivity loss reported by the broker. Degraded keeps the
// session open while the broker recovers its upstream link.
func (s *Supervisor) Lost(degraded bool) {
	if degraded {
		if s.State().IsUp() {
			s.setState(StateDegraded)
		}
		return
	}
	s.setState(StateDisconnected)
}

// Restored records that the broker regained its upstream link.
func (s *Supervisor) Restored() {
	if s.State() == StateDegraded {
		s.setState(StateConnected)
	}
}

// Close stops any running attempt sequence.
func (s *Supervisor) Close() {
	s.cancel()
}
