package account

import (
	"context"
	"sort"
	"strings"
	"sync"

	"ibbridge/pkg/exception"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
)

const (
	KeyNetLiquidation = "NetLiquidation"
	KeyCashBalance    = "CashBalance"
	CurrencyBase      = "BASE"
)

// Value is one account value. Raw keeps the broker string; Number is set
// when it parses as a decimal.
type Value struct {
	Raw     string          `json:"raw"`
	Number  decimal.Decimal `json:"number"`
	Numeric bool            `json:"numeric"`
}

type valueKey struct {
	key      string
	currency string
}

// Cache keeps the last value per (account, key, currency).
type Cache struct {
	mu       sync.Mutex
	values   map[string]map[valueKey]Value
	netLiq   map[string]decimal.Decimal
	cash     map[string]decimal.Decimal
	accounts []string

	readyOnce sync.Once
	ready     chan struct{}
}

func NewCache() *Cache {
	return &Cache{
		values: make(map[string]map[valueKey]Value),
		netLiq: make(map[string]decimal.Decimal),
		cash:   make(map[string]decimal.Decimal),
		ready:  make(chan struct{}),
	}
}

// Update stores a value, last write wins.
func (c *Cache) Update(account, key, value, currency string) {
	v := Value{Raw: value}
	if s := strings.TrimSpace(value); s != "" {
		if n, err := decimal.New(s); err == nil {
			v.Number, v.Numeric = n, true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.values[account]
	if !ok {
		m = make(map[valueKey]Value)
		c.values[account] = m
	}
	m[valueKey{key, currency}] = v

	if !v.Numeric {
		return
	}
	switch {
	case key == KeyNetLiquidation:
		c.netLiq[account] = v.Number
	case key == KeyCashBalance && currency == CurrencyBase:
		c.cash[account] = v.Number
	}
}

// SetManagedAccounts records the comma separated account list announced by
// the broker and releases WaitManagedAccounts.
func (c *Cache) SetManagedAccounts(csv string) []string {
	var accounts []string
	for _, a := range strings.Split(csv, ",") {
		if a = strings.TrimSpace(a); a != "" {
			accounts = append(accounts, a)
		}
	}
	sort.Strings(accounts)

	c.mu.Lock()
	c.accounts = accounts
	c.mu.Unlock()

	c.readyOnce.Do(func() { close(c.ready) })
	return accounts
}

// WaitManagedAccounts blocks until the account list was announced or ctx is
// done.
func (c *Cache) WaitManagedAccounts(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return errors.Wrap(exception.ErrManagedAccountWait, ctx.Err().Error())
	}
}

// ManagedAccounts returns the announced accounts.
func (c *Cache) ManagedAccounts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.accounts...)
}

// Cash returns the base currency cash balance. See scalar for how an empty
// account is resolved.
func (c *Cache) Cash(account string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scalarLocked(c.cash, account)
}

// NetLiquidation returns the net liquidation value.
func (c *Cache) NetLiquidation(account string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scalarLocked(c.netLiq, account)
}

// scalarLocked resolves an empty account as: no managed accounts gives zero,
// one gives that account, several give the sum.
func (c *Cache) scalarLocked(m map[string]decimal.Decimal, account string) decimal.Decimal {
	if account != "" {
		return m[account]
	}
	switch len(c.accounts) {
	case 0:
		return decimal.Zero
	case 1:
		return m[c.accounts[0]]
	}
	sum := decimal.Zero
	for _, a := range c.accounts {
		sum = sum.Add(m[a])
	}
	return sum
}

// Values returns account values keyed "key/currency". An empty account with
// several managed accounts returns every account, keyed by account first.
func (c *Cache) Values(account string) map[string]map[string]Value {
	c.mu.Lock()
	defer c.mu.Unlock()

	accounts := []string{account}
	if account == "" {
		switch len(c.accounts) {
		case 0:
			return map[string]map[string]Value{}
		case 1:
			accounts = c.accounts[:1]
		default:
			accounts = c.accounts
		}
	}

	out := make(map[string]map[string]Value, len(accounts))
	for _, a := range accounts {
		vals := make(map[string]Value, len(c.values[a]))
		for k, v := range c.values[a] {
			vals[k.key+"/"+k.currency] = v
		}
		out[a] = vals
	}
	return out
}

// Get returns one value.
func (c *Cache) Get(account, key, currency string) (Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[account][valueKey{key, currency}]
	return v, ok
}
