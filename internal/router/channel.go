package router

import (
	"context"
	"sync"
)

// MessageKind classifies what a channel delivers.
type MessageKind uint8

const (
	// MessageData carries a bar, tick or other payload.
	MessageData MessageKind = iota + 1
	// MessageNotice carries a broker code the reader should react to.
	MessageNotice
	// MessageEnd is the terminal sentinel. Nothing follows it.
	MessageEnd
)

// Message is one item delivered on a Channel.
type Message struct {
	Kind    MessageKind
	Payload any
	Code    int
}

func Data(payload any) Message { return Message{Kind: MessageData, Payload: payload} }

func Notice(code int) Message { return Message{Kind: MessageNotice, Code: code} }

func End() Message { return Message{Kind: MessageEnd} }

func (m Message) IsEnd() bool { return m.Kind == MessageEnd }

func (m Message) IsNotice() bool { return m.Kind == MessageNotice }

const compactThreshold = 64

// Channel is an unbounded FIFO delivering messages of one request to one
// reader. Pushing never blocks, so the drain goroutine cannot stall behind a
// slow reader.
type Channel struct {
	mu     sync.Mutex
	buf    []Message
	head   int
	ended  bool
	signal chan struct{}
}

func newChannel() *Channel {
	return &Channel{signal: make(chan struct{}, 1)}
}

// Terminated returns a channel that yields only the end sentinel.
func Terminated() *Channel {
	c := newChannel()
	c.push(End())
	return c
}

// push appends a message. It returns false once the end sentinel has been
// enqueued.
func (c *Channel) push(m Message) bool {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return false
	}
	c.buf = append(c.buf, m)
	if m.IsEnd() {
		c.ended = true
	}
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
	return true
}

// TryNext pops the next message without waiting.
func (c *Channel) TryNext() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popLocked()
}

// Next blocks until a message is available, the channel is drained past its
// end sentinel, or ctx is done.
func (c *Channel) Next(ctx context.Context) (Message, bool) {
	for {
		c.mu.Lock()
		if m, ok := c.popLocked(); ok {
			c.mu.Unlock()
			return m, true
		}
		ended := c.ended
		c.mu.Unlock()
		if ended {
			return Message{}, false
		}

		select {
		case <-ctx.Done():
			return Message{}, false
		case <-c.signal:
		}
	}
}

func (c *Channel) popLocked() (Message, bool) {
	if c.head >= len(c.buf) {
		return Message{}, false
	}
	m := c.buf[c.head]
	c.buf[c.head] = Message{}
	c.head++
	if c.head == len(c.buf) {
		c.buf = c.buf[:0]
		c.head = 0
	} else if c.head >= compactThreshold && c.head*2 >= len(c.buf) {
		n := copy(c.buf, c.buf[c.head:])
		c.buf = c.buf[:n]
		c.head = 0
	}
	return m, true
}

// Ended reports whether the end sentinel has been enqueued.
func (c *Channel) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// Len returns the number of undelivered messages.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf) - c.head
}
