package model

import (
	"maps"

	"ibbridge/internal/model/enum"

	"github.com/yanun0323/decimal"
)

const GoodTillLayout = "20060102 15:04:05"

// BrokerOrder is the wire projection of an Order.
type BrokerOrder struct {
	OrderID         int64
	ClientID        int
	Account         string
	Action          string
	TotalQuantity   decimal.Decimal
	OrderType       string
	LmtPrice        decimal.Decimal
	AuxPrice        decimal.Decimal
	TrailingPercent decimal.Decimal
	TrailStopPrice  decimal.Decimal
	TIF             string
	GoodTillDate    string
	ParentID        int64
	OCAGroup        string
	OCAType         int
	Transmit        bool
	Extensions      map[string]string
}

var _hundred = decimal.NewFromInt(100)

// BrokerOrder maps the typed order fields onto the broker's price slots.
func (o *Order) BrokerOrder() BrokerOrder {
	b := BrokerOrder{
		OrderID:       o.ID,
		ClientID:      o.ClientID,
		Account:       o.Account,
		Action:        o.Action.String(),
		TotalQuantity: o.Size.Abs(),
		OrderType:     o.ExecType.String(),
		TIF:           o.TimeInForce.String(),
		ParentID:      o.ParentID,
		OCAGroup:      o.OCAGroup,
		OCAType:       1,
		Transmit:      o.Transmit,
		Extensions:    maps.Clone(o.Extensions),
	}

	switch o.ExecType {
	case enum.ExecLimit:
		b.LmtPrice = o.Price
	case enum.ExecStop:
		b.AuxPrice = o.Price
	case enum.ExecStopLimit:
		b.LmtPrice = o.PriceLimit
		b.AuxPrice = o.Price
	case enum.ExecStopTrail:
		b.setTrail(o)
	case enum.ExecStopTrailLimit:
		b.TrailStopPrice = o.Price
		b.LmtPrice = o.PriceLimit
		b.setTrail(o)
	}

	if o.TimeInForce == enum.TimeInForceGTD && !o.GoodTill.IsZero() {
		b.GoodTillDate = o.GoodTill.Format(GoodTillLayout)
	}
	return b
}

func (b *BrokerOrder) setTrail(o *Order) {
	if o.TrailAmount.Sign() > 0 {
		b.AuxPrice = o.TrailAmount
		return
	}
	if o.TrailPercent.Sign() > 0 {
		b.TrailingPercent = o.TrailPercent.Mul(_hundred)
	}
}
