package bridge

import (
	"ibbridge/internal/model"
	"ibbridge/internal/model/enum"
	"ibbridge/internal/router"
	"ibbridge/internal/supervisor"

	"github.com/yanun0323/logs"
)

// Broker error codes with a dedicated action.
const (
	CodeOrderCancelled        = 202
	CodeNoSecurityDefinition  = 200
	CodeNotAllowed            = 203
	CodeHistoricalDataError   = 162
	CodeMarketDataFailed      = 320
	CodeValidateRequestFailed = 321
	CodeProcessRequestFailed  = 322
	CodeNoSubscription        = 354
	CodeRealtimeBarsFailed    = 420
	CodeBustEvent             = 10225
	CodeClientIDInUse         = 326
	CodeSocketPortReset       = 1300
	CodeCouldNotConnect       = 502
	CodeNotConnected          = 504
	CodeConnectivityLost      = 1100
	CodeRestoredDataLost      = 1101
	CodeRestoredDataKept      = 1102
)

// NoticeConnectionClosed is pushed to every stream when the socket closes.
const NoticeConnectionClosed = -1

// onError applies the broker error taxonomy.
func (b *Bridge) onError(ev model.ErrorEvent) {
	b.metrics.IncErrorCode(ev.Code)
	if ev.ID > 0 {
		b.notifier.Push(model.Notification{
			Kind:    enum.NotificationBrokerError,
			Time:    b.clock.Now(),
			Code:    ev.Code,
			Message: ev.Message,
		})
	}

	switch ev.Code {
	case CodeNoSecurityDefinition, CodeNotAllowed, CodeHistoricalDataError,
		CodeMarketDataFailed, CodeValidateRequestFailed, CodeProcessRequestFailed:
		if ev.ID >= router.DataRequestBase {
			b.endByID(ev.ID, 0)
			return
		}

	case CodeNoSubscription, CodeRealtimeBarsFailed:
		b.endByID(ev.ID, ev.Code)
		return

	case CodeBustEvent:
		s, ok := b.stream(ev.ID)
		if !ok {
			b.metrics.IncUnknownDrop()
			return
		}
		b.router.Deliver(ev.ID, router.Notice(ev.Code))
		ctx := b.ctx()
		go func() {
			if err := s.Resubscribe(ctx); err != nil {
				logs.Errorf("resubscribe %d after bust event failed, err: %+v", ev.ID, err)
			}
		}()
		return

	case CodeClientIDInUse, CodeSocketPortReset:
		b.super.Fail(b.ctx(), ev.Message)
		return

	case CodeCouldNotConnect:
		b.super.Drop(b.ctx(), ev.Message)
		return

	case CodeNotConnected:
		b.router.Broadcast(router.Notice(ev.Code))
		b.super.Lost(false)
		b.reconnect()
		return

	case CodeConnectivityLost:
		b.router.Broadcast(router.Notice(ev.Code))
		b.super.Lost(true)
		return

	case CodeRestoredDataLost:
		b.router.Broadcast(router.Notice(ev.Code))
		b.super.Restored()
		ctx := b.ctx()
		go b.super.Resubscribe(ctx)
		return

	case CodeRestoredDataKept:
		b.router.Broadcast(router.Notice(ev.Code))
		b.super.Restored()
		return
	}

	switch {
	case ev.Code >= 500 || ev.ID <= 0:
		logs.Debugf("broker message %d for %d: %s", ev.Code, ev.ID, ev.Message)
	case ev.ID < router.DataRequestBase:
		b.ledger.OnOrderError(ev)
	default:
		b.endByID(ev.ID, 0)
	}
}

// onConnectionClosed tells every stream the socket went away and lets the
// supervisor bring it back.
func (b *Bridge) onConnectionClosed() {
	logs.Warnf("broker connection closed")
	b.router.Broadcast(router.Notice(NoticeConnectionClosed))
	if b.super.State() == supervisor.StatePermanentlyFailed {
		return
	}
	b.client.Disconnect()
	b.super.Lost(false)
	b.reconnect()
}
