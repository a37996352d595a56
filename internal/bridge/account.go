package bridge

import (
	"context"

	"ibbridge/internal/account"
	"ibbridge/internal/model"
	"ibbridge/internal/position"

	"github.com/yanun0323/decimal"
)

// Position returns the local position of contract. An empty account sums
// the positions of every account holding it; the average price of the sum
// is size weighted.
func (b *Bridge) Position(acct string, contract model.Contract) model.Position {
	if acct != "" {
		return b.tracker.Get(position.Key{Account: acct, ConID: contract.ConID})
	}

	var (
		size  = decimal.Zero
		value = decimal.Zero
	)
	for _, e := range b.tracker.All() {
		if e.ConID != contract.ConID || e.Size.IsZero() {
			continue
		}
		size = size.Add(e.Size)
		value = value.Add(e.Size.Mul(e.Price))
	}
	if size.IsZero() {
		return model.Position{}
	}
	return model.Position{Size: size, Price: value.Div(size)}
}

// Positions returns every tracked position.
func (b *Bridge) Positions() []position.Entry {
	return b.tracker.All()
}

// ManagedAccounts waits for the account list of the session.
func (b *Bridge) ManagedAccounts(ctx context.Context) ([]string, error) {
	if err := b.waitAccounts(ctx); err != nil {
		return nil, err
	}
	return b.accounts.ManagedAccounts(), nil
}

// AccountCash returns the base currency cash balance. An empty account with
// several managed accounts returns the sum.
func (b *Bridge) AccountCash(ctx context.Context, acct string) (decimal.Decimal, error) {
	if err := b.waitAccounts(ctx); err != nil {
		return decimal.Zero, err
	}
	return b.accounts.Cash(acct), nil
}

// AccountValue returns the net liquidation value, summed like AccountCash.
func (b *Bridge) AccountValue(ctx context.Context, acct string) (decimal.Decimal, error) {
	if err := b.waitAccounts(ctx); err != nil {
		return decimal.Zero, err
	}
	return b.accounts.NetLiquidation(acct), nil
}

// AccountValues returns the raw account values per account.
func (b *Bridge) AccountValues(ctx context.Context, acct string) (map[string]map[string]account.Value, error) {
	if err := b.waitAccounts(ctx); err != nil {
		return nil, err
	}
	return b.accounts.Values(acct), nil
}

func (b *Bridge) waitAccounts(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.opt.AccountWait)
	defer cancel()
	return b.accounts.WaitManagedAccounts(ctx)
}
