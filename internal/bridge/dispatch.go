package bridge

import (
	"ibbridge/internal/bus"
	"ibbridge/internal/model"
	"ibbridge/internal/model/enum"
	"ibbridge/internal/obs"
	"ibbridge/internal/position"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/logs"
)

// dispatch routes one inbound event to its handler. It runs on the drain
// goroutine and never lets a handler panic escape.
func (b *Bridge) dispatch(e bus.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.IncHandlerPanic()
			logs.Errorf("dispatch %T seq %d panic: %v, payload: %+v", e.Payload, e.Seq, r, e.Payload)
		}
	}()

	switch ev := e.Payload.(type) {
	case model.OrderStatusEvent:
		b.metrics.ObserveEvent(obs.EventOrderStatus, e.TsRecv)
		b.ledger.OnOrderStatus(ev)
	case model.OpenOrderEvent:
		b.metrics.ObserveEvent(obs.EventOpenOrder, e.TsRecv)
		b.ledger.OnOpenOrder(ev)
	case model.ExecutionEvent:
		b.metrics.ObserveEvent(obs.EventExecution, e.TsRecv)
		b.ledger.OnExecution(ev)
	case model.CommissionReportEvent:
		b.metrics.ObserveEvent(obs.EventCommission, e.TsRecv)
		b.ledger.OnCommissionReport(ev)
	case model.PositionEvent:
		b.metrics.ObserveEvent(obs.EventPosition, e.TsRecv)
		b.onPosition(ev.Account, ev.Contract, ev.Position, ev.AvgCost)
	case model.PortfolioEvent:
		b.metrics.ObserveEvent(obs.EventPortfolio, e.TsRecv)
		b.onPosition(ev.Account, ev.Contract, ev.Position, ev.AverageCost)
	case model.AccountValueEvent:
		b.metrics.ObserveEvent(obs.EventAccountValue, e.TsRecv)
		b.accounts.Update(ev.Account, ev.Key, ev.Value, ev.Currency)
	case model.AccountDownloadEndEvent:
		b.metrics.ObserveEvent(obs.EventAccountValue, e.TsRecv)
		logs.Debugf("account %s download finished", ev.Account)
	case model.ManagedAccountsEvent:
		b.metrics.ObserveEvent(obs.EventManagedAccounts, e.TsRecv)
		b.onManagedAccounts(ev)
	case model.NextValidIDEvent:
		b.metrics.ObserveEvent(obs.EventNextValidID, e.TsRecv)
		b.ledger.SetNextValidID(ev.OrderID)
		b.idsOnce.Do(func() { close(b.idsRdy) })
	case model.CurrentTimeEvent:
		b.metrics.ObserveEvent(obs.EventCurrentTime, e.TsRecv)
		b.clock.Observe(ev.Time)
	case model.ErrorEvent:
		b.metrics.ObserveEvent(obs.EventError, e.TsRecv)
		b.onError(ev)
	case model.HistoricalBarEvent:
		b.metrics.ObserveEvent(obs.EventHistoricalBar, e.TsRecv)
		b.onHistoricalBar(ev)
	case model.HistoricalEndEvent:
		b.metrics.ObserveEvent(obs.EventHistoricalEnd, e.TsRecv)
		b.onHistoricalEnd(ev)
	case model.TickPriceEvent:
		b.metrics.ObserveEvent(obs.EventTick, e.TsRecv)
		b.onTickPrice(ev)
	case model.TickSizeEvent:
		b.metrics.ObserveEvent(obs.EventTick, e.TsRecv)
		b.onTickSize(ev)
	case model.TickStringEvent:
		b.metrics.ObserveEvent(obs.EventTick, e.TsRecv)
		b.onTickString(ev)
	case model.TickGenericEvent:
		b.metrics.ObserveEvent(obs.EventTick, e.TsRecv)
	case model.RealtimeBarEvent:
		b.metrics.ObserveEvent(obs.EventRealtimeBar, e.TsRecv)
		b.onRealtimeBar(ev)
	case model.ConnectionClosedEvent:
		b.metrics.ObserveEvent(obs.EventConnectionClosed, e.TsRecv)
		b.onConnectionClosed()
	default:
		b.metrics.ObserveEvent(obs.EventUnknown, e.TsRecv)
		logs.Warnf("unhandled event %T", e.Payload)
	}
}

// onPosition reconciles a broker position snapshot with the local position.
// A snapshot that already includes a fill whose commission report is still
// pending gets that fill counted twice once it is applied; the next snapshot
// sets the position back.
func (b *Bridge) onPosition(acct string, contract model.Contract, size, avgCost decimal.Decimal) {
	key := position.Key{Account: acct, ConID: contract.ConID}
	drift, local := b.tracker.Snapshot(key, size, avgCost)
	if !drift {
		return
	}

	b.metrics.IncDrift()
	logs.Warnf("position drift on %s/%d (%s), local: %s, broker: %s", acct, contract.ConID, contract.Symbol, local.Size, size)
	b.notifier.Push(model.Notification{
		Kind:    enum.NotificationDrift,
		Time:    b.clock.Now(),
		Message: "position drift on " + contract.Symbol,
		Drift: &model.Drift{
			Account: acct,
			ConID:   contract.ConID,
			Local:   local.Size,
			Broker:  size,
		},
	})
}

// onManagedAccounts records the accounts of the session and starts the
// per-session requests off the drain goroutine.
func (b *Bridge) onManagedAccounts(ev model.ManagedAccountsEvent) {
	accounts := b.accounts.SetManagedAccounts(ev.Accounts)
	logs.Infof("managed accounts: %v", accounts)

	ctx := b.ctx()
	go func() {
		if b.opt.TimeOffset {
			if err := b.client.ReqCurrentTime(ctx); err != nil {
				logs.Warnf("request current time failed, err: %+v", err)
			}
		}
		for _, acct := range accounts {
			if err := b.client.ReqAccountUpdates(ctx, true, acct); err != nil {
				logs.Errorf("request account updates for %s failed, err: %+v", acct, err)
			}
		}
		if err := b.client.ReqPositions(ctx); err != nil {
			logs.Errorf("request positions failed, err: %+v", err)
		}
	}()
}
