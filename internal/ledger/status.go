package ledger

import (
	"ibbridge/internal/model"
	"ibbridge/internal/model/enum"

	"github.com/yanun0323/logs"
)

// OnOrderStatus merges a broker order status event.
func (l *Ledger) OnOrderStatus(ev model.OrderStatusEvent) {
	defer guard("order status", ev.OrderID)

	l.mu.Lock()
	defer l.unlock()

	o, ok := l.orders[ev.OrderID]
	if !ok {
		if !l.retired.has(ev.OrderID) {
			logs.Debugf("order status for unknown order %d dropped, status: %s", ev.OrderID, ev.Status)
		}
		return
	}

	switch ev.Status {
	case enum.BrokerStatusSubmitted, enum.BrokerStatusPreSubmitted, enum.BrokerStatusPendingSubmit, enum.BrokerStatusFilled:
		if ev.Filled.Sign() > 0 {
			l.bufferStatusLocked(o, ev)
			l.applyReadyLocked(o.ID)
			return
		}
		if ev.Status != enum.BrokerStatusSubmitted || o.Status != enum.OrderStatusPendingSubmit {
			return
		}
		o.Status = enum.OrderStatusSubmitted
		o.UpdatedAt = l.now()
		l.notifyLocked(enum.NotificationAccepted, o)

	case enum.BrokerStatusCancelled, enum.BrokerStatusCanceled, enum.BrokerStatusApiCancelled:
		if o, ok = l.settleLocked(o, ev); !ok {
			return
		}
		if o.WillExpire {
			l.terminateLocked(o, enum.OrderStatusExpired, enum.NotificationExpired)
			return
		}
		l.terminateLocked(o, enum.OrderStatusCancelled, enum.NotificationCancelled)

	case enum.BrokerStatusInactive:
		if o, ok = l.settleLocked(o, ev); !ok {
			return
		}
		l.terminateLocked(o, enum.OrderStatusRejected, enum.NotificationRejected)

	case enum.BrokerStatusPendingCancel:
	default:
		logs.Debugf("order %d unhandled status %s", ev.OrderID, ev.Status)
	}
}

// settleLocked applies the fills a terminal status reports as filled before
// the order is closed. It returns false when those fills completed the order.
func (l *Ledger) settleLocked(o *model.Order, ev model.OrderStatusEvent) (*model.Order, bool) {
	if ev.Filled.Sign() <= 0 {
		return o, true
	}
	ev.Status = enum.BrokerStatusSubmitted
	l.bufferStatusLocked(o, ev)
	l.applyReadyLocked(o.ID)
	o, ok := l.orders[o.ID]
	return o, ok
}

func (l *Ledger) bufferStatusLocked(o *model.Order, ev model.OrderStatusEvent) {
	if !ev.Filled.GreaterThan(o.Executed.Size.Abs()) {
		return
	}
	entries := l.statuses[o.ID]
	for i := range entries {
		if entries[i].filled.Equal(ev.Filled) {
			if ev.Status == enum.BrokerStatusFilled {
				entries[i].status = ev.Status
			}
			return
		}
	}
	l.statuses[o.ID] = append(entries, statusEntry{status: ev.Status, filled: ev.Filled})
}

// OnOpenOrder consumes an open order notification. A pending cancel seen
// here means the cancellation that follows is an expiry.
func (l *Ledger) OnOpenOrder(ev model.OpenOrderEvent) {
	defer guard("open order", ev.OrderID)

	switch ev.Status {
	case enum.BrokerStatusPendingCancel, enum.BrokerStatusCancelled, enum.BrokerStatusCanceled:
	default:
		return
	}

	l.mu.Lock()
	defer l.unlock()
	if o, ok := l.orders[ev.OrderID]; ok {
		o.WillExpire = true
	}
}

// OnOrderError applies a broker error reported against an order id.
func (l *Ledger) OnOrderError(ev model.ErrorEvent) {
	defer guard("order error", ev.ID)

	l.mu.Lock()
	defer l.unlock()

	o, ok := l.orders[ev.ID]
	if !ok {
		return
	}
	logs.Warnf("order %d error %d: %s", ev.ID, ev.Code, ev.Message)

	switch ev.Code {
	case 202:
		l.terminateLocked(o, enum.OrderStatusCancelled, enum.NotificationCancelled)
	default:
		l.terminateLocked(o, enum.OrderStatusRejected, enum.NotificationRejected)
	}
}
