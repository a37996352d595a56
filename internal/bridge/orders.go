package bridge

import (
	"context"

	"ibbridge/internal/model"
	"ibbridge/pkg/exception"
	"ibbridge/pkg/validate"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// SubmitOrder validates req, registers it in the ledger and sends it. The
// returned order is a copy in PendingSubmit.
func (b *Bridge) SubmitOrder(ctx context.Context, req model.OrderRequest) (*model.Order, error) {
	if err := validate.Struct(req); err != nil {
		return nil, errors.Wrap(exception.ErrOrderInvalidRequest, err.Error())
	}
	if err := req.CheckPrices(); err != nil {
		return nil, err
	}
	if err := b.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	if err := b.waitOrderIDs(ctx); err != nil {
		return nil, err
	}
	if req.Account == "" {
		if accounts := b.accounts.ManagedAccounts(); len(accounts) == 1 {
			req.Account = accounts[0]
		}
	}

	id, err := b.ledger.NextID()
	if err != nil {
		return nil, err
	}
	o := req.Order(b.clock.Now())
	o.ID = id
	o.ClientID = b.opt.ClientID

	placed, err := b.ledger.Submit(o, req.OCO)
	if err != nil {
		return nil, err
	}
	if err := b.client.PlaceOrder(ctx, placed.Contract, placed.BrokerOrder()); err != nil {
		b.ledger.Reject(id, err.Error())
		return nil, errors.Wrapf(err, "place order %d", id)
	}
	logs.Infof("order %d submitted, %s %s %s %s", id, placed.Action, placed.Size, placed.Contract.Symbol, placed.ExecType)
	return placed, nil
}

// CancelOrder asks the broker to cancel a live order. Terminal and unknown
// orders return ErrOrderTerminal / ErrOrderUnknown without a broker call.
func (b *Bridge) CancelOrder(ctx context.Context, id int64) error {
	o, ok := b.ledger.Order(id)
	if !ok {
		return errors.Wrapf(exception.ErrOrderUnknown, "order %d", id)
	}
	if !b.ledger.IsLive(id) {
		return errors.Wrapf(exception.ErrOrderTerminal, "order %d is %s", id, o.Status)
	}
	if err := b.EnsureConnected(ctx); err != nil {
		return err
	}
	if err := b.client.CancelOrder(ctx, id); err != nil {
		return errors.Wrapf(err, "cancel order %d", id)
	}
	return nil
}

func (b *Bridge) Order(id int64) (*model.Order, bool) {
	return b.ledger.Order(id)
}

// LiveOrders lists the orders still working, ordered by id.
func (b *Bridge) LiveOrders() []*model.Order {
	return b.ledger.Live()
}

// Notifications drains every queued notification in emission order.
func (b *Bridge) Notifications() []model.Notification {
	return b.notes.Drain()
}

// WaitNotifications blocks until at least one notification is queued.
func (b *Bridge) WaitNotifications(ctx context.Context) ([]model.Notification, error) {
	return b.notes.Wait(ctx)
}
