package ledger

import (
	"sort"
	"sync"
	"time"

	"ibbridge/internal/model"
	"ibbridge/internal/model/enum"
	"ibbridge/internal/position"
	"ibbridge/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const retainTerminal = 4096

// Notifier receives every notification the ledger emits.
type Notifier interface {
	Push(ns ...model.Notification)
}

// Positions is the position store fills are applied to.
type Positions interface {
	Fill(key position.Key, size, price decimal.Decimal) position.FillResult
}

type statusEntry struct {
	status string
	filled decimal.Decimal
}

// Ledger owns every live order from submission until its terminal
// notification. One mutex guards all tables because fill application and
// status merging for the same order must be atomic with each other.
type Ledger struct {
	mu sync.Mutex

	nextID    int64
	announced bool

	orders   map[int64]*model.Order
	execs    map[string]model.ExecutionEvent
	comms    map[string]model.CommissionReportEvent
	statuses map[int64][]statusEntry

	retired *recent[int64, *model.Order]
	applied *recent[string, struct{}]

	positions Positions
	notifier  Notifier
	outbox    []model.Notification
	now       func() time.Time
}

func New(positions Positions, notifier Notifier) *Ledger {
	return &Ledger{
		orders:    make(map[int64]*model.Order),
		execs:     make(map[string]model.ExecutionEvent),
		comms:     make(map[string]model.CommissionReportEvent),
		statuses:  make(map[int64][]statusEntry),
		retired:   newRecent[int64, *model.Order](retainTerminal),
		applied:   newRecent[string, struct{}](retainTerminal * 4),
		positions: positions,
		notifier:  notifier,
		now:       time.Now,
	}
}

// SetNextValidID seeds the order id counter from the broker session. The
// counter never moves backwards.
func (l *Ledger) SetNextValidID(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.announced || id > l.nextID {
		l.nextID = id
	}
	l.announced = true
}

// NextID issues the next order id.
func (l *Ledger) NextID() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.announced {
		return 0, exception.ErrOrderIDNotAnnounced
	}
	id := l.nextID
	l.nextID++
	return id, nil
}

// Submit registers a new order in PendingSubmit. The order inherits the OCA
// group of oco when given, otherwise it opens a new group.
func (l *Ledger) Submit(o *model.Order, oco int64) (*model.Order, error) {
	if o == nil {
		return nil, exception.ErrNilInstance
	}

	l.mu.Lock()
	defer l.unlock()

	if _, ok := l.orders[o.ID]; ok || l.retired.has(o.ID) {
		return nil, errors.Wrapf(exception.ErrOrderDuplicate, "order %d", o.ID)
	}
	if o.ParentID != 0 {
		if _, ok := l.orders[o.ParentID]; !ok {
			return nil, errors.Wrapf(exception.ErrOrderUnknownParent, "parent %d", o.ParentID)
		}
	}
	if oco != 0 {
		ref, ok := l.lookupLocked(oco)
		if !ok {
			return nil, errors.Wrapf(exception.ErrOrderUnknownOCAReferent, "oco %d", oco)
		}
		o.OCAGroup = ref.OCAGroup
	} else if o.OCAGroup == "" {
		o.OCAGroup = uuid.NewString()
	}

	o.Status = enum.OrderStatusPendingSubmit
	if o.CreatedAt.IsZero() {
		o.CreatedAt = l.now()
	}
	o.UpdatedAt = o.CreatedAt
	l.orders[o.ID] = o
	l.notifyLocked(enum.NotificationSubmitted, o)
	return o.Clone(), nil
}

// Reject moves a live order to Rejected, e.g. when it could not be sent.
func (l *Ledger) Reject(id int64, reason string) bool {
	l.mu.Lock()
	defer l.unlock()

	o, ok := l.orders[id]
	if !ok {
		return false
	}
	logs.Warnf("reject order %d, reason: %s", id, reason)
	l.terminateLocked(o, enum.OrderStatusRejected, enum.NotificationRejected)
	return true
}

// Order returns a copy of a live or recently terminated order.
func (l *Ledger) Order(id int64) (*model.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.lookupLocked(id)
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Live returns copies of all non-terminal orders ordered by id.
func (l *Ledger) Live() []*model.Order {
	l.mu.Lock()
	out := make([]*model.Order, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, o.Clone())
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsLive reports whether id is a non-terminal order held by the ledger.
func (l *Ledger) IsLive(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.orders[id]
	return ok
}

func (l *Ledger) lookupLocked(id int64) (*model.Order, bool) {
	if o, ok := l.orders[id]; ok {
		return o, true
	}
	return l.retired.get(id)
}

// notifyLocked queues a notification; unlock hands it to the notifier once
// the ledger mutex is released.
func (l *Ledger) notifyLocked(kind enum.NotificationKind, o *model.Order) {
	if l.notifier == nil {
		return
	}
	l.outbox = append(l.outbox, model.Notification{Kind: kind, Time: l.now(), Order: o.Clone()})
}

// unlock releases the mutex and then pushes the notifications queued while
// it was held.
func (l *Ledger) unlock() {
	out := l.outbox
	l.outbox = nil
	l.mu.Unlock()
	if len(out) != 0 {
		l.notifier.Push(out...)
	}
}

// terminateLocked applies a terminal status, notifies once and removes the
// order from the live table. Fills already buffered with their commission
// report are booked against the position before the order is retired.
func (l *Ledger) terminateLocked(o *model.Order, status enum.OrderStatus, kind enum.NotificationKind) {
	o.Status = status
	o.UpdatedAt = l.now()
	l.notifyLocked(kind, o)
	delete(l.orders, o.ID)
	delete(l.statuses, o.ID)
	l.retired.put(o.ID, o)

	for id, ex := range l.execs {
		if ex.OrderID == o.ID {
			l.applyLateLocked(o, id)
		}
	}
}

// guard recovers a panic raised while handling a broker event so the drain
// goroutine keeps running.
func guard(event string, id any) {
	if r := recover(); r != nil {
		logs.Errorf("ledger %s handler panic, id: %v, err: %+v", event, id, errors.Wrapf(exception.ErrHandlerPanic, "%v", r))
	}
}
