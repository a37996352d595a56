package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ibbridge/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDialer struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	up        bool
	delay     time.Duration
	closed    atomic.Int32
}

func (d *fakeDialer) Connect(ctx context.Context) error {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.failFirst < 0 || d.calls <= d.failFirst {
		return errors.New("refused")
	}
	d.up = true
	return nil
}

func (d *fakeDialer) Disconnect() {
	d.mu.Lock()
	d.up = false
	d.mu.Unlock()
	d.closed.Add(1)
}

func (d *fakeDialer) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.up
}

func (d *fakeDialer) drop() {
	d.mu.Lock()
	d.up = false
	d.mu.Unlock()
}

type countingConsumer struct {
	resubscribed atomic.Int32
	torn         atomic.Int32
	err          error
}

func (c *countingConsumer) Resubscribe(context.Context) error {
	c.resubscribed.Add(1)
	return c.err
}

func (c *countingConsumer) Teardown(context.Context) {
	c.torn.Add(1)
}

func TestEnsureConnectedStartup(t *testing.T) {
	d := &fakeDialer{failFirst: 2}
	s := New(d, Config{Reconnect: 3, Timeout: time.Millisecond})
	c := &countingConsumer{}
	s.Register(c)

	require.NoError(t, s.EnsureConnected(t.Context(), true))
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, uint64(3), s.Attempts())
	assert.Zero(t, c.resubscribed.Load())
	assert.Zero(t, s.Resubscribes())
}

func TestEnsureConnectedAlreadyUp(t *testing.T) {
	d := &fakeDialer{}
	s := New(d, Config{Reconnect: 3})
	require.NoError(t, s.EnsureConnected(t.Context(), true))
	require.NoError(t, s.EnsureConnected(t.Context(), false))
	assert.Equal(t, uint64(1), s.Attempts())
}

func TestEnsureConnectedConcurrentSingleSequence(t *testing.T) {
	d := &fakeDialer{}
	s := New(d, Config{Reconnect: 3, Timeout: time.Millisecond})
	c := &countingConsumer{}
	s.Register(c)
	require.NoError(t, s.EnsureConnected(t.Context(), true))

	d.mu.Lock()
	d.up = false
	d.calls = 0
	d.failFirst = 1
	d.delay = 20 * time.Millisecond
	d.mu.Unlock()
	s.Lost(false)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.EnsureConnected(t.Context(), false)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, uint64(3), s.Attempts())
	assert.Equal(t, uint64(1), s.Resubscribes())
	assert.Equal(t, int32(1), c.resubscribed.Load())
}

func TestEnsureConnectedExhausted(t *testing.T) {
	testCases := []struct {
		desc      string
		reconnect int
		attempts  uint64
	}{
		{desc: "no retries", reconnect: 0, attempts: 1},
		{desc: "three retries", reconnect: 3, attempts: 4},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			d := &fakeDialer{failFirst: -1}
			s := New(d, Config{Reconnect: tc.reconnect, Timeout: time.Millisecond})
			err := s.EnsureConnected(t.Context(), true)
			assert.ErrorIs(t, err, exception.ErrRetriesExhausted)
			assert.Equal(t, StatePermanentlyFailed, s.State())
			assert.Equal(t, tc.attempts, s.Attempts())

			assert.ErrorIs(t, s.EnsureConnected(t.Context(), false), exception.ErrPermanentlyFailed)
			assert.Equal(t, tc.attempts, s.Attempts())
		})
	}
}

func TestEnsureConnectedForever(t *testing.T) {
	d := &fakeDialer{failFirst: 25}
	s := New(d, Config{Reconnect: -1, Timeout: time.Microsecond})
	require.NoError(t, s.EnsureConnected(t.Context(), true))
	assert.Equal(t, uint64(26), s.Attempts())
}

func TestEnsureConnectedCallerContext(t *testing.T) {
	d := &fakeDialer{failFirst: -1}
	s := New(d, Config{Reconnect: -1, Timeout: 5 * time.Millisecond})
	defer s.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.EnsureConnected(ctx, true), context.DeadlineExceeded)
}

func TestFailTearsDownConsumers(t *testing.T) {
	d := &fakeDialer{}
	s := New(d, Config{Reconnect: 3})
	consumers := []*countingConsumer{{}, {}, {}}
	for _, c := range consumers {
		s.Register(c)
	}
	require.NoError(t, s.EnsureConnected(t.Context(), true))

	var transitions []State
	s.OnStateChange(func(_, to State) { transitions = append(transitions, to) })

	s.Fail(t.Context(), "client id in use")
	assert.Equal(t, StatePermanentlyFailed, s.State())
	assert.Equal(t, int32(1), d.closed.Load())
	for _, c := range consumers {
		assert.Equal(t, int32(1), c.torn.Load())
	}
	assert.Equal(t, []State{StatePermanentlyFailed}, transitions)

	s.Restored()
	s.Lost(true)
	assert.Equal(t, StatePermanentlyFailed, s.State())
}

func TestDropThenReconnectResubscribes(t *testing.T) {
	d := &fakeDialer{}
	s := New(d, Config{Reconnect: 2, Timeout: time.Millisecond})
	ok := &countingConsumer{}
	bad := &countingConsumer{err: errors.New("stale contract")}
	s.Register(ok)
	token := s.Register(bad)
	require.NoError(t, s.EnsureConnected(t.Context(), true))

	s.Drop(t.Context(), "socket closed")
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, int32(1), ok.torn.Load())

	require.NoError(t, s.EnsureConnected(t.Context(), false))
	assert.Equal(t, int32(1), ok.resubscribed.Load())
	assert.Equal(t, int32(1), bad.resubscribed.Load())

	s.Unregister(token)
	s.Drop(t.Context(), "socket closed")
	require.NoError(t, s.EnsureConnected(t.Context(), false))
	assert.Equal(t, int32(2), ok.resubscribed.Load())
	assert.Equal(t, int32(1), bad.resubscribed.Load())
}

func TestLostAndRestored(t *testing.T) {
	d := &fakeDialer{}
	s := New(d, Config{Reconnect: 1})
	require.NoError(t, s.EnsureConnected(t.Context(), true))

	s.Lost(true)
	assert.Equal(t, StateDegraded, s.State())
	require.NoError(t, s.EnsureConnected(t.Context(), false))
	assert.Equal(t, uint64(1), s.Attempts())

	s.Restored()
	assert.Equal(t, StateConnected, s.State())

	d.drop()
	s.Lost(false)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestBackoffNext(t *testing.T) {
	testCases := []struct {
		desc    string
		backoff Backoff
		attempt int
		want    time.Duration
	}{
		{desc: "fixed", backoff: FixedBackoff(time.Second), attempt: 5, want: time.Second},
		{desc: "zero", backoff: Backoff{}, attempt: 3, want: 0},
		{desc: "grows", backoff: Backoff{Min: time.Second, Max: time.Minute, Factor: 2}, attempt: 3, want: 4 * time.Second},
		{desc: "capped", backoff: Backoff{Min: time.Second, Max: 5 * time.Second, Factor: 2}, attempt: 10, want: 5 * time.Second},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.backoff.Next(tc.attempt))
		})
	}

	jittered := Backoff{Min: time.Second, Max: time.Second, Jitter: 0.5}
	for range 20 {
		d := jittered.Next(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}
