package model

import (
	"maps"
	"slices"
	"time"

	"ibbridge/internal/model/enum"

	"github.com/yanun0323/decimal"
)

// Order is the ledger's authoritative record of one broker order.
type Order struct {
	ID           int64             `json:"id"`
	ClientID     int               `json:"clientId"`
	Account      string            `json:"account"`
	Contract     Contract          `json:"contract"`
	Action       enum.Action       `json:"action"`
	Size         decimal.Decimal   `json:"size"`
	ExecType     enum.ExecType     `json:"execType"`
	Price        decimal.Decimal   `json:"price"`
	PriceLimit   decimal.Decimal   `json:"priceLimit"`
	TrailAmount  decimal.Decimal   `json:"trailAmount"`
	TrailPercent decimal.Decimal   `json:"trailPercent"`
	TimeInForce  enum.TimeInForce  `json:"timeInForce"`
	GoodTill     time.Time         `json:"goodTill"`
	ParentID     int64             `json:"parentId,omitempty"`
	OCAGroup     string            `json:"ocaGroup"`
	Transmit     bool              `json:"transmit"`
	Extensions   map[string]string `json:"extensions,omitempty"`
	Status       enum.OrderStatus  `json:"status"`
	WillExpire   bool              `json:"willExpire"`
	Executed     Executed          `json:"executed"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Executed accumulates the fills applied to an order.
type Executed struct {
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	Value      decimal.Decimal `json:"value"`
	Commission decimal.Decimal `json:"commission"`
	PnL        decimal.Decimal `json:"pnl"`
	Fills      []Fill          `json:"fills,omitempty"`
}

// Fill is one execution merged with its commission report.
type Fill struct {
	ExecID           string          `json:"execId"`
	Time             time.Time       `json:"time"`
	Size             decimal.Decimal `json:"size"`
	Price            decimal.Decimal `json:"price"`
	Opened           decimal.Decimal `json:"opened"`
	Closed           decimal.Decimal `json:"closed"`
	OpenedCommission decimal.Decimal `json:"openedCommission"`
	ClosedCommission decimal.Decimal `json:"closedCommission"`
	OpenedValue      decimal.Decimal `json:"openedValue"`
	ClosedValue      decimal.Decimal `json:"closedValue"`
	PnL              decimal.Decimal `json:"pnl"`
	Position         Position        `json:"position"`
}

// SignedSize is the order size with the side's sign.
func (o *Order) SignedSize() decimal.Decimal {
	return o.Size.Mul(decimal.NewFromInt(o.Action.Sign()))
}

// Remaining is the unfilled absolute size.
func (o *Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.Executed.Size.Abs())
}

func (o *Order) Alive() bool {
	return !o.Status.IsTerminal()
}

// Apply accumulates a fill into the executed totals.
func (o *Order) Apply(f Fill) {
	ex := &o.Executed
	value := f.Size.Mul(f.Price)
	ex.Value = ex.Value.Add(value)
	ex.Size = ex.Size.Add(f.Size)
	if ex.Size.IsZero() {
		ex.Price = decimal.Zero
	} else {
		ex.Price = ex.Value.Div(ex.Size)
	}
	ex.Commission = ex.Commission.Add(f.OpenedCommission).Add(f.ClosedCommission)
	ex.PnL = ex.PnL.Add(f.PnL)
	ex.Fills = append(ex.Fills, f)
}

// Clone returns a deep copy safe to hand outside the ledger lock.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Extensions = maps.Clone(o.Extensions)
	c.Executed.Fills = slices.Clone(o.Executed.Fills)
	return &c
}
