package ledger

import (
	"ibbridge/internal/model"
	"ibbridge/internal/model/enum"
	"ibbridge/internal/position"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/logs"
)

// OnExecution buffers an execution until its commission report and a
// covering status event are known.
func (l *Ledger) OnExecution(ev model.ExecutionEvent) {
	defer guard("execution", ev.ExecID)

	l.mu.Lock()
	defer l.unlock()

	if l.applied.has(ev.ExecID) {
		return
	}
	if _, live := l.orders[ev.OrderID]; !live {
		if o, ok := l.retired.get(ev.OrderID); ok {
			l.execs[ev.ExecID] = ev
			l.applyLateLocked(o, ev.ExecID)
			return
		}
		logs.Debugf("execution %s for unknown order %d dropped", ev.ExecID, ev.OrderID)
		delete(l.comms, ev.ExecID)
		return
	}
	l.execs[ev.ExecID] = ev
	l.applyReadyLocked(ev.OrderID)
}

// OnCommissionReport buffers a commission report and applies its fill when
// everything else has arrived.
func (l *Ledger) OnCommissionReport(ev model.CommissionReportEvent) {
	defer guard("commission report", ev.ExecID)

	l.mu.Lock()
	defer l.unlock()

	if l.applied.has(ev.ExecID) {
		return
	}
	l.comms[ev.ExecID] = ev

	ex, ok := l.execs[ev.ExecID]
	if !ok {
		logs.Debugf("commission report %s before its execution", ev.ExecID)
		return
	}
	if o, ok := l.retired.get(ex.OrderID); ok {
		l.applyLateLocked(o, ev.ExecID)
		return
	}
	l.applyReadyLocked(ex.OrderID)
}

// applyReadyLocked applies, in cumulative order, every fill of the order
// whose execution, commission and covering status are all present.
func (l *Ledger) applyReadyLocked(orderID int64) {
	for {
		o, ok := l.orders[orderID]
		if !ok {
			return
		}
		execID, entry, ok := l.nextReadyLocked(o)
		if !ok {
			return
		}
		if !l.applyLocked(o, execID, entry) {
			return
		}
	}
}

// nextReadyLocked finds the execution continuing the order's executed size
// and the status entry that covers it.
func (l *Ledger) nextReadyLocked(o *model.Order) (string, *statusEntry, bool) {
	done := o.Executed.Size.Abs()
	for id, ex := range l.execs {
		if ex.OrderID != o.ID {
			continue
		}
		if !ex.CumQty.Sub(ex.Shares.Abs()).Equal(done) {
			continue
		}
		if _, ok := l.comms[id]; !ok {
			return "", nil, false
		}
		var cover *statusEntry
		for i, st := range l.statuses[o.ID] {
			if st.filled.Equal(ex.CumQty) {
				cover = &l.statuses[o.ID][i]
				break
			}
			if st.filled.GreaterThan(ex.CumQty) {
				cover = &statusEntry{status: enum.BrokerStatusSubmitted, filled: st.filled}
			}
		}
		if cover == nil {
			return "", nil, false
		}
		return id, cover, true
	}
	return "", nil, false
}

// applyLocked merges one fill into the order. The order pointer in the
// table is replaced only after every computation succeeded.
func (l *Ledger) applyLocked(o *model.Order, execID string, entry *statusEntry) bool {
	ex := l.execs[execID]
	cr := l.comms[execID]
	final := entry.status == enum.BrokerStatusFilled

	fill := l.fillLocked(o, ex, cr)
	next := o.Clone()
	next.Apply(fill)
	next.UpdatedAt = l.now()

	delete(l.execs, execID)
	delete(l.comms, execID)
	l.applied.put(execID, struct{}{})
	l.popStatusLocked(o.ID, ex.CumQty)
	l.orders[o.ID] = next

	if final || next.Remaining().Sign() <= 0 {
		l.terminateLocked(next, enum.OrderStatusFilled, enum.NotificationCompleted)
		return false
	}
	next.Status = enum.OrderStatusPartiallyFilled
	l.notifyLocked(enum.NotificationPartial, next)
	return true
}

// applyLateLocked books a fill that arrived after its order went terminal.
// Only the position moves; the order's lifecycle is already closed.
func (l *Ledger) applyLateLocked(o *model.Order, execID string) {
	ex, ok := l.execs[execID]
	if !ok {
		return
	}
	cr, ok := l.comms[execID]
	if !ok {
		return
	}
	logs.Warnf("late fill %s for terminal order %d (%s)", execID, o.ID, o.Status)
	fill := l.fillLocked(o, ex, cr)
	o.Apply(fill)
	delete(l.execs, execID)
	delete(l.comms, execID)
	l.applied.put(execID, struct{}{})
}

func (l *Ledger) fillLocked(o *model.Order, ex model.ExecutionEvent, cr model.CommissionReportEvent) model.Fill {
	action := enum.ActionFromSide(ex.Side)
	if !action.IsAvailable() {
		action = o.Action
	}
	size := ex.Shares.Abs().Mul(decimal.NewFromInt(action.Sign()))

	key := position.Key{Account: ex.Account, ConID: ex.Contract.ConID}
	if key.Account == "" {
		key.Account = o.Account
	}
	if key.ConID == 0 {
		key.ConID = o.Contract.ConID
	}

	var res position.FillResult
	if l.positions != nil {
		res = l.positions.Fill(key, size, ex.Price)
	} else {
		res.After, res.Opened, res.Closed = res.Before.Update(size, ex.Price)
	}

	closedComm, openedComm := SplitCommission(cr.Commission, size, res.Closed)
	pnl := decimal.Zero
	if !res.Closed.IsZero() {
		pnl = cr.RealizedPNL
	}

	return model.Fill{
		ExecID:           ex.ExecID,
		Time:             ex.Time,
		Size:             size,
		Price:            ex.Price,
		Opened:           res.Opened,
		Closed:           res.Closed,
		OpenedCommission: openedComm,
		ClosedCommission: closedComm,
		OpenedValue:      res.Opened.Abs().Mul(ex.Price),
		ClosedValue:      res.Closed.Abs().Mul(res.Before.Price),
		PnL:              pnl,
		Position:         res.After,
	}
}

func (l *Ledger) popStatusLocked(orderID int64, cum decimal.Decimal) {
	entries := l.statuses[orderID]
	out := entries[:0]
	for _, st := range entries {
		if st.filled.GreaterThan(cum) {
			out = append(out, st)
		}
	}
	if len(out) == 0 {
		delete(l.statuses, orderID)
		return
	}
	l.statuses[orderID] = out
}

// SplitCommission divides a commission between the closing and opening parts
// of a fill in proportion to size. A zero size charges everything to the
// closing side. The two parts always sum to comm exactly.
func SplitCommission(comm, size, closed decimal.Decimal) (closedComm, openedComm decimal.Decimal) {
	if size.IsZero() {
		return comm, decimal.Zero
	}
	closedComm = comm.Mul(closed).Div(size)
	return closedComm, comm.Sub(closedComm)
}
