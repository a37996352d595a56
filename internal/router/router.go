package router

import (
	"sort"
	"sync"
	"time"

	"ibbridge/internal/history"
	"ibbridge/internal/model"
	"ibbridge/pkg/exception"

	"github.com/yanun0323/errors"
)

// DataRequestBase is the first id issued for data requests. Order ids live
// below it, which is how broker errors are told apart.
const DataRequestBase int64 = 0x01000000

// RequestKind tells what a binding was issued for.
type RequestKind uint8

const (
	KindHistorical RequestKind = iota + 1
	KindMarketData
	KindRealtimeBars
)

func (k RequestKind) String() string {
	switch k {
	case KindHistorical:
		return "historical"
	case KindMarketData:
		return "market_data"
	case KindRealtimeBars:
		return "realtime_bars"
	default:
		return "unknown"
	}
}

// Meta is the side metadata carried by a binding.
type Meta struct {
	Kind     RequestKind
	Contract model.Contract
	// CashField is the tick field a cash stream is built from; 0 means every
	// price tick is used.
	CashField int
	What      string
	UseRTH    bool
	// Begin drops historical bars stamped before it.
	Begin time.Time
	// Daily bars are stamped YYYYMMDD and combined with SessionEnd in Location.
	Daily        bool
	SessionEnd   time.Duration
	Location     *time.Location
	BarSize      string
	Continuation *history.Continuation
	// LastBar is the time of the last bar delivered to the channel.
	LastBar time.Time
}

// Binding is the single record kept per live request id.
type Binding struct {
	ID      int64
	Channel *Channel
	Meta
}

// Router maps live request ids to their delivery channels.
type Router struct {
	mu       sync.Mutex
	next     int64
	bindings map[int64]*Binding
}

// New creates a router issuing ids from base.
func New(base int64) *Router {
	return &Router{
		next:     base,
		bindings: make(map[int64]*Binding),
	}
}

func (r *Router) issueLocked() int64 {
	id := r.next
	r.next++
	return id
}

// Allocate issues a fresh id bound to a new channel.
func (r *Router) Allocate(meta Meta) (int64, *Channel) {
	ch := newChannel()
	r.mu.Lock()
	id := r.issueLocked()
	r.bindings[id] = &Binding{ID: id, Channel: ch, Meta: meta}
	r.mu.Unlock()
	return id, ch
}

// Bind moves the live binding of oldID to a freshly issued id, keeping the
// channel and all metadata.
func (r *Router) Bind(oldID int64) (int64, *Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[oldID]
	if !ok {
		return 0, nil, errors.Wrapf(exception.ErrRequestNotFound, "bind %d", oldID)
	}
	delete(r.bindings, oldID)
	b.ID = r.issueLocked()
	r.bindings[b.ID] = b
	return b.ID, b.Channel, nil
}

// Release drops a binding. Unknown ids are ignored.
func (r *Router) Release(id int64) {
	r.mu.Lock()
	delete(r.bindings, id)
	r.mu.Unlock()
}

// Resolve returns a copy of the binding of id.
func (r *Router) Resolve(id int64) (Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[id]
	if !ok {
		return Binding{}, errors.Wrapf(exception.ErrRequestNotFound, "resolve %d", id)
	}
	return *b, nil
}

// Update mutates the metadata of a live binding under the table lock.
func (r *Router) Update(id int64, fn func(*Meta)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[id]
	if !ok {
		return false
	}
	fn(&b.Meta)
	return true
}

// Deliver pushes m to the channel of id. It reports false for unknown ids.
func (r *Router) Deliver(id int64, m Message) bool {
	r.mu.Lock()
	b, ok := r.bindings[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if !b.Channel.push(m) {
		return false
	}
	if m.IsEnd() {
		r.Release(id)
	}
	return true
}

// Cancel releases id and, when end is set, enqueues the end sentinel so a
// blocked reader wakes up.
func (r *Router) Cancel(id int64, end bool) bool {
	r.mu.Lock()
	b, ok := r.bindings[id]
	delete(r.bindings, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if end {
		b.Channel.push(End())
	}
	return true
}

// Broadcast pushes m to every live channel and returns how many received it.
func (r *Router) Broadcast(m Message) int {
	r.mu.Lock()
	targets := make([]*Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		targets = append(targets, b)
	}
	r.mu.Unlock()

	n := 0
	for _, b := range targets {
		if b.Channel.push(m) {
			n++
		}
	}
	return n
}

// Bindings returns copies of every live binding ordered by id.
func (r *Router) Bindings() []Binding {
	r.mu.Lock()
	out := make([]Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, *b)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}
