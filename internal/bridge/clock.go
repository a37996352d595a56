package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

// serverClock tracks the offset between the broker clock and the local one.
type serverClock struct {
	enabled bool
	now     func() time.Time

	mu     sync.RWMutex
	offset time.Duration
}

func newServerClock(enabled bool) *serverClock {
	return &serverClock{enabled: enabled, now: time.Now}
}

// Observe records a broker current time answer.
func (c *serverClock) Observe(server time.Time) {
	offset := server.Sub(c.now())
	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()
}

func (c *serverClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Now is the local time, shifted to the broker clock when enabled.
func (c *serverClock) Now() time.Time {
	if !c.enabled {
		return c.now()
	}
	return c.now().Add(c.Offset())
}

func (b *Bridge) refreshTime(ctx context.Context) {
	ticker := time.NewTicker(b.opt.TimeRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !b.client.IsConnected() {
				continue
			}
			if err := b.client.ReqCurrentTime(ctx); err != nil {
				logs.Warnf("request current time failed, err: %+v", err)
			}
		}
	}
}
