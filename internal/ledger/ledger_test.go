package ledger

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"ibbridge/internal/model"
	"ibbridge/internal/model/enum"
	"ibbridge/internal/notify"
	"ibbridge/internal/position"
	"ibbridge/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/decimal"
)

var _aapl = model.Contract{ConID: 265598, Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

type fixture struct {
	l  *Ledger
	tr *position.Tracker
	q  *notify.Queue
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	tr := position.NewTracker()
	q := notify.NewQueue()
	l := New(tr, q)
	l.SetNextValidID(1)
	return fixture{l: l, tr: tr, q: q}
}

func (f fixture) submit(t *testing.T, action enum.Action, size float64) *model.Order {
	t.Helper()
	id, err := f.l.NextID()
	require.NoError(t, err)
	req := model.OrderRequest{
		Account:  "DU1",
		Contract: _aapl,
		Action:   action,
		Size:     size,
		ExecType: enum.ExecLimit,
		Price:    10,
	}
	o := req.Order(time.Now())
	o.ID = id
	got, err := f.l.Submit(o, 0)
	require.NoError(t, err)
	return got
}

func (f fixture) kinds() []enum.NotificationKind {
	var out []enum.NotificationKind
	for _, n := range f.q.Drain() {
		out = append(out, n.Kind)
	}
	return out
}

func status(id int64, s string, filled float64) model.OrderStatusEvent {
	return model.OrderStatusEvent{OrderID: id, Status: s, Filled: dec(filled)}
}

func execution(id int64, execID, side string, shares, price, cum float64) model.ExecutionEvent {
	return model.ExecutionEvent{
		ExecID:   execID,
		OrderID:  id,
		Account:  "DU1",
		Contract: _aapl,
		Side:     side,
		Shares:   dec(shares),
		Price:    dec(price),
		CumQty:   dec(cum),
		Time:     time.Now(),
	}
}

func commission(execID string, comm, pnl float64) model.CommissionReportEvent {
	return model.CommissionReportEvent{ExecID: execID, Commission: dec(comm), RealizedPNL: dec(pnl)}
}

func TestLimitOrderFilledScenario(t *testing.T) {
	f := newFixture(t)
	o := f.submit(t, enum.ActionBuy, 100)
	assert.NotEmpty(t, o.OCAGroup)
	assert.Equal(t, []enum.NotificationKind{enum.NotificationSubmitted}, f.kinds())

	f.l.OnOrderStatus(status(o.ID, "Submitted", 0))
	assert.Equal(t, []enum.NotificationKind{enum.NotificationAccepted}, f.kinds())

	f.l.OnOrderStatus(status(o.ID, "Submitted", 100))
	assert.Empty(t, f.kinds())

	f.l.OnExecution(execution(o.ID, "e1", "BOT", 100, 10, 100))
	assert.Empty(t, f.kinds())

	f.l.OnCommissionReport(commission("e1", 1, 0))
	batch := f.q.Drain()
	require.Len(t, batch, 1)
	assert.Equal(t, enum.NotificationCompleted, batch[0].Kind)

	done := batch[0].Order
	assert.Equal(t, enum.OrderStatusFilled, done.Status)
	assert.True(t, done.Executed.Size.Equal(dec(100)))
	assert.True(t, done.Executed.Price.Equal(dec(10)))
	assert.True(t, done.Executed.Commission.Equal(dec(1)))
	require.Len(t, done.Executed.Fills, 1)
	assert.True(t, done.Executed.Fills[0].OpenedCommission.Equal(dec(1)))

	pos := f.tr.Get(position.Key{Account: "DU1", ConID: _aapl.ConID})
	assert.True(t, pos.Size.Equal(dec(100)))
	assert.True(t, pos.Price.Equal(dec(10)))
	assert.False(t, f.l.IsLive(o.ID))
}

func TestReplayedStatusesNotifyOnce(t *testing.T) {
	f := newFixture(t)
	o := f.submit(t, enum.ActionBuy, 100)
	f.q.Drain()

	events := []func(){
		func() { f.l.OnOrderStatus(status(o.ID, "Submitted", 0)) },
		func() { f.l.OnOrderStatus(status(o.ID, "Submitted", 100)) },
		func() { f.l.OnOrderStatus(status(o.ID, "Filled", 100)) },
		func() { f.l.OnExecution(execution(o.ID, "e1", "BOT", 100, 10, 100)) },
		func() { f.l.OnCommissionReport(commission("e1", 1, 0)) },
		func() { f.l.OnOrderStatus(status(o.ID, "Cancelled", 100)) },
	}
	for _, ev := range events {
		for range 3 {
			ev()
		}
	}

	assert.Equal(t, []enum.NotificationKind{enum.NotificationAccepted, enum.NotificationCompleted}, f.kinds())
	pos := f.tr.Get(position.Key{Account: "DU1", ConID: _aapl.ConID})
	assert.True(t, pos.Size.Equal(dec(100)), "fill applied once, got %s", pos.Size)
}

func TestFillMergeIsOrderIndependent(t *testing.T) {
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		t.Run(fmt.Sprint(p), func(t *testing.T) {
			f := newFixture(t)
			o := f.submit(t, enum.ActionSell, 50)
			f.l.OnOrderStatus(status(o.ID, "Submitted", 0))
			f.q.Drain()

			events := []func(){
				func() { f.l.OnOrderStatus(status(o.ID, "Filled", 50)) },
				func() { f.l.OnExecution(execution(o.ID, "x", "SLD", 50, 20, 50)) },
				func() { f.l.OnCommissionReport(commission("x", 0.5, 0)) },
			}
			for _, i := range p {
				events[i]()
			}

			assert.Equal(t, []enum.NotificationKind{enum.NotificationCompleted}, f.kinds())
			pos := f.tr.Get(position.Key{Account: "DU1", ConID: _aapl.ConID})
			assert.True(t, pos.Size.Equal(dec(-50)))
		})
	}
}

func TestPartialFillsInCumulativeOrder(t *testing.T) {
	f := newFixture(t)
	o := f.submit(t, enum.ActionBuy, 100)
	f.l.OnOrderStatus(status(o.ID, "Submitted", 0))
	f.q.Drain()

	f.l.OnExecution(execution(o.ID, "b", "BOT", 60, 11, 100))
	f.l.OnCommissionReport(commission("b", 0.6, 0))
	f.l.OnOrderStatus(status(o.ID, "Filled", 100))
	assert.Empty(t, f.kinds(), "second fill waits for the first")

	f.l.OnOrderStatus(status(o.ID, "Submitted", 40))
	f.l.OnExecution(execution(o.ID, "a", "BOT", 40, 10, 40))
	assert.Empty(t, f.kinds())
	f.l.OnCommissionReport(commission("a", 0.4, 0))

	batch := f.q.Drain()
	require.Len(t, batch, 2)
	assert.Equal(t, enum.NotificationPartial, batch[0].Kind)
	assert.Equal(t, enum.OrderStatusPartiallyFilled, batch[0].Order.Status)
	assert.True(t, batch[0].Order.Executed.Size.Equal(dec(40)))
	assert.Equal(t, enum.NotificationCompleted, batch[1].Kind)
	assert.True(t, batch[1].Order.Executed.Price.Equal(dec(10.6)))
	assert.True(t, batch[1].Order.Executed.Commission.Equal(dec(1)))
}

func TestPartialCoveredByLaterStatus(t *testing.T) {
	f := newFixture(t)
	o := f.submit(t, enum.ActionBuy, 100)
	f.q.Drain()

	f.l.OnExecution(execution(o.ID, "a", "BOT", 30, 10, 30))
	f.l.OnCommissionReport(commission("a", 0.3, 0))
	f.l.OnOrderStatus(status(o.ID, "Submitted", 70))
	assert.Equal(t, []enum.NotificationKind{enum.NotificationPartial}, f.kinds())

	f.l.OnExecution(execution(o.ID, "b", "BOT", 40, 10, 70))
	f.l.OnCommissionReport(commission("b", 0.4, 0))
	assert.Equal(t, []enum.NotificationKind{enum.NotificationPartial}, f.kinds())
	assert.True(t, f.l.IsLive(o.ID))
}

func TestDuplicateCancelNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	o := f.submit(t, enum.ActionBuy, 10)
	f.q.Drain()

	f.l.OnOrderStatus(status(o.ID, "Cancelled", 0))
	f.l.OnOrderStatus(status(o.ID, "Cancelled", 0))
	f.l.OnOrderError(model.ErrorEvent{ID: o.ID, Code: 202})

	assert.Equal(t, []enum.NotificationKind{enum.NotificationCancelled}, f.kinds())
	got, ok := f.l.Order(o.ID)
	require.True(t, ok)
	assert.Equal(t, enum.OrderStatusCancelled, got.Status)
}

func TestPendingCancelThenCancelExpires(t *testing.T) {
	f := newFixture(t)
	o := f.submit(t, enum.ActionBuy, 10)
	f.l.OnOrderStatus(status(o.ID, "Submitted", 0))
	f.q.Drain()

	f.l.OnOpenOrder(model.OpenOrderEvent{OrderID: o.ID, Status: "PendingCancel"})
	f.l.OnOrderStatus(status(o.ID, "PendingCancel", 0))
	f.l.OnOrderStatus(status(o.ID, "Cancelled", 0))

	assert.Equal(t, []enum.NotificationKind{enum.NotificationExpired}, f.kinds())
}

func TestRejectionDeduplicated(t *testing.T) {
	f := newFixture(t)
	a := f.submit(t, enum.ActionBuy, 10)
	b := f.submit(t, enum.ActionBuy, 10)
	f.q.Drain()

	f.l.OnOrderStatus(status(a.ID, "Inactive", 0))
	f.l.OnOrderStatus(status(a.ID, "Inactive", 0))
	f.l.OnOrderError(model.ErrorEvent{ID: b.ID, Code: 201, Message: "rejected"})
	f.l.OnOrderError(model.ErrorEvent{ID: b.ID, Code: 201, Message: "rejected"})

	assert.Equal(t, []enum.NotificationKind{enum.NotificationRejected, enum.NotificationRejected}, f.kinds())
}

func TestUnknownIdsIgnored(t *testing.T) {
	f := newFixture(t)
	assert.NotPanics(t, func() {
		f.l.OnOrderStatus(status(999, "Submitted", 0))
		f.l.OnOrderStatus(status(999, "Filled", 5))
		f.l.OnExecution(execution(999, "zz", "BOT", 5, 1, 5))
		f.l.OnCommissionReport(commission("zz", 1, 0))
		f.l.OnCommissionReport(commission("never", 1, 0))
		f.l.OnOpenOrder(model.OpenOrderEvent{OrderID: 999, Status: "Cancelled"})
		f.l.OnOrderError(model.ErrorEvent{ID: 999, Code: 201})
	})
	assert.Empty(t, f.kinds())
	assert.Zero(t, f.tr.Count())
}

func TestCommissionSplitOnReversal(t *testing.T) {
	f := newFixture(t)
	f.tr.Fill(position.Key{Account: "DU1", ConID: _aapl.ConID}, dec(100), dec(10))

	o := f.submit(t, enum.ActionSell, 150)
	f.q.Drain()
	f.l.OnOrderStatus(status(o.ID, "Filled", 150))
	f.l.OnExecution(execution(o.ID, "r", "SLD", 150, 12, 150))
	f.l.OnCommissionReport(commission("r", 3, 200))

	batch := f.q.Drain()
	require.Len(t, batch, 1)
	fill := batch[0].Order.Executed.Fills[0]
	assert.True(t, fill.Closed.Equal(dec(-100)))
	assert.True(t, fill.Opened.Equal(dec(-50)))
	assert.True(t, fill.ClosedCommission.Equal(dec(2)))
	assert.True(t, fill.OpenedCommission.Equal(dec(1)))
	assert.True(t, fill.PnL.Equal(dec(200)))
	assert.True(t, fill.ClosedValue.Equal(dec(1000)))
	assert.True(t, fill.OpenedValue.Equal(dec(600)))
	assert.True(t, fill.Position.Size.Equal(dec(-50)))
}

func TestSplitCommissionSumsExactly(t *testing.T) {
	comms := []float64{1, 0.35, 2.7182818, 1.0 / 3}
	sizes := []float64{3, -7, 100, -150, 0.5}
	for _, c := range comms {
		for _, s := range sizes {
			for _, frac := range []float64{0, 1.0 / 3, 0.5, 1} {
				comm, size := dec(c), dec(s)
				closed := size.Mul(dec(frac))
				opened := size.Sub(closed)
				cc, oc := SplitCommission(comm, size, closed)
				assert.True(t, cc.Add(oc).Equal(comm), "comm %s size %s", comm, size)
				assert.True(t, closed.Add(opened).Equal(size))
			}
		}
	}

	cc, oc := SplitCommission(dec(1.5), decimal.Zero, decimal.Zero)
	assert.True(t, cc.Equal(dec(1.5)))
	assert.True(t, oc.IsZero())
}

type panicPositions struct{}

func (panicPositions) Fill(position.Key, decimal.Decimal, decimal.Decimal) position.FillResult {
	panic("boom")
}

func TestHandlerPanicKeepsLastGoodState(t *testing.T) {
	q := notify.NewQueue()
	l := New(panicPositions{}, q)
	l.SetNextValidID(1)

	req := model.OrderRequest{Account: "DU1", Contract: _aapl, Action: enum.ActionBuy, Size: 10, ExecType: enum.ExecMarket}
	o := req.Order(time.Now())
	o.ID = 1
	_, err := l.Submit(o, 0)
	require.NoError(t, err)
	l.OnOrderStatus(status(1, "Submitted", 0))
	q.Drain()

	assert.NotPanics(t, func() {
		l.OnOrderStatus(status(1, "Filled", 10))
		l.OnExecution(execution(1, "p", "BOT", 10, 5, 10))
		l.OnCommissionReport(commission("p", 1, 0))
	})
	assert.Empty(t, q.Drain())

	got, ok := l.Order(1)
	require.True(t, ok)
	assert.Equal(t, enum.OrderStatusSubmitted, got.Status)
	assert.True(t, got.Executed.Size.IsZero())
	assert.True(t, l.IsLive(1))
}

func TestLateFillAfterCancelMovesPositionOnly(t *testing.T) {
	f := newFixture(t)
	o := f.submit(t, enum.ActionBuy, 100)
	f.q.Drain()

	f.l.OnOrderStatus(status(o.ID, "Cancelled", 0))
	f.l.OnExecution(execution(o.ID, "late", "BOT", 20, 10, 20))
	f.l.OnCommissionReport(commission("late", 0.2, 0))

	assert.Equal(t, []enum.NotificationKind{enum.NotificationCancelled}, f.kinds())
	pos := f.tr.Get(position.Key{Account: "DU1", ConID: _aapl.ConID})
	assert.True(t, pos.Size.Equal(dec(20)))
}

func TestCancelReportingFilledSettlesBufferedFill(t *testing.T) {
	f := newFixture(t)
	o := f.submit(t, enum.ActionBuy, 100)
	f.q.Drain()

	f.l.OnOrderStatus(status(o.ID, "Submitted", 0))
	f.l.OnExecution(execution(o.ID, "p1", "BOT", 50, 10, 50))
	f.l.OnCommissionReport(commission("p1", 1, 0))
	f.l.OnOrderStatus(status(o.ID, "Cancelled", 50))

	batch := f.q.Drain()
	require.Len(t, batch, 3)
	assert.Equal(t, enum.NotificationAccepted, batch[0].Kind)
	assert.Equal(t, enum.NotificationPartial, batch[1].Kind)
	assert.Equal(t, enum.NotificationCancelled, batch[2].Kind)

	done := batch[2].Order
	assert.Equal(t, enum.OrderStatusCancelled, done.Status)
	assert.True(t, done.Executed.Size.Equal(dec(50)))
	assert.True(t, done.Executed.Commission.Equal(dec(1)))

	pos := f.tr.Get(position.Key{Account: "DU1", ConID: _aapl.ConID})
	assert.True(t, pos.Size.Equal(dec(50)))
	assert.Empty(t, f.l.execs)
	assert.Empty(t, f.l.comms)

	f.l.OnExecution(execution(o.ID, "p1", "BOT", 50, 10, 50))
	assert.True(t, f.tr.Get(position.Key{Account: "DU1", ConID: _aapl.ConID}).Size.Equal(dec(50)))
}

func TestTerminalOrderBooksPendingFills(t *testing.T) {
	f := newFixture(t)
	o := f.submit(t, enum.ActionBuy, 100)
	f.q.Drain()

	f.l.OnExecution(execution(o.ID, "x1", "BOT", 30, 10, 30))
	f.l.OnCommissionReport(commission("x1", 0.3, 0))
	f.l.OnExecution(execution(o.ID, "x2", "BOT", 20, 10, 50))
	f.l.OnOrderStatus(status(o.ID, "Inactive", 0))
	assert.Equal(t, []enum.NotificationKind{enum.NotificationRejected}, f.kinds())

	key := position.Key{Account: "DU1", ConID: _aapl.ConID}
	assert.True(t, f.tr.Get(key).Size.Equal(dec(30)))

	f.l.OnCommissionReport(commission("x2", 0.2, 0))
	assert.True(t, f.tr.Get(key).Size.Equal(dec(50)))
	assert.Empty(t, f.l.execs)
	assert.Empty(t, f.l.comms)
	assert.Empty(t, f.kinds())
}

type gateNotifier struct {
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gateNotifier) Push(...model.Notification) {
	if g.armed.Load() {
		g.entered <- struct{}{}
		<-g.release
	}
}

func TestSlowNotifierDoesNotHoldLedger(t *testing.T) {
	g := &gateNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	l := New(position.NewTracker(), g)
	l.SetNextValidID(1)

	req := model.OrderRequest{Account: "DU1", Contract: _aapl, Action: enum.ActionBuy, Size: 1, ExecType: enum.ExecMarket}
	o := req.Order(time.Now())
	o.ID = 1
	_, err := l.Submit(o, 0)
	require.NoError(t, err)

	g.armed.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.OnOrderStatus(status(1, "Submitted", 0))
	}()
	<-g.entered

	got, ok := l.Order(1)
	require.True(t, ok)
	assert.Equal(t, enum.OrderStatusSubmitted, got.Status)
	assert.True(t, l.IsLive(1))

	close(g.release)
	<-done
}

func TestOrderIDs(t *testing.T) {
	l := New(nil, nil)
	_, err := l.NextID()
	assert.ErrorIs(t, err, exception.ErrOrderIDNotAnnounced)

	l.SetNextValidID(5)
	a, _ := l.NextID()
	b, _ := l.NextID()
	assert.Equal(t, []int64{5, 6}, []int64{a, b})

	l.SetNextValidID(3)
	c, _ := l.NextID()
	assert.Equal(t, int64(7), c)
}

func TestOCAAndParentLinkage(t *testing.T) {
	f := newFixture(t)
	parent := f.submit(t, enum.ActionBuy, 10)

	req := model.OrderRequest{Account: "DU1", Contract: _aapl, Action: enum.ActionSell, Size: 10, ExecType: enum.ExecStop, Price: 9, ParentID: parent.ID}
	child := req.Order(time.Now())
	child.ID = 100
	got, err := f.l.Submit(child, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, parent.OCAGroup, got.OCAGroup)

	orphan := req.Order(time.Now())
	orphan.ID = 101
	orphan.ParentID = 55
	_, err = f.l.Submit(orphan, 0)
	assert.ErrorIs(t, err, exception.ErrOrderUnknownParent)

	orphan.ParentID = 0
	_, err = f.l.Submit(orphan, 77)
	assert.ErrorIs(t, err, exception.ErrOrderUnknownOCAReferent)

	dup := req.Order(time.Now())
	dup.ID = 100
	_, err = f.l.Submit(dup, 0)
	assert.ErrorIs(t, err, exception.ErrOrderDuplicate)
}

func TestRejectLiveOrder(t *testing.T) {
	f := newFixture(t)
	o := f.submit(t, enum.ActionBuy, 1)
	f.q.Drain()

	assert.True(t, f.l.Reject(o.ID, "not connected"))
	assert.False(t, f.l.Reject(o.ID, "again"))
	assert.Equal(t, []enum.NotificationKind{enum.NotificationRejected}, f.kinds())
	assert.Empty(t, f.l.Live())
}
