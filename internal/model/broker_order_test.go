package model

import (
	"testing"
	"time"

	"ibbridge/internal/model/enum"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerOrderPriceSlots(t *testing.T) {
	testCases := []struct {
		desc    string
		req     OrderRequest
		typ     string
		lmt     float64
		aux     float64
		pct     float64
		trailSt float64
	}{
		{desc: "market", req: OrderRequest{ExecType: enum.ExecMarket}, typ: "MKT"},
		{desc: "close", req: OrderRequest{ExecType: enum.ExecClose}, typ: "MOC"},
		{desc: "limit", req: OrderRequest{ExecType: enum.ExecLimit, Price: 10}, typ: "LMT", lmt: 10},
		{desc: "stop", req: OrderRequest{ExecType: enum.ExecStop, Price: 9}, typ: "STP", aux: 9},
		{desc: "stop limit", req: OrderRequest{ExecType: enum.ExecStopLimit, Price: 9, PriceLimit: 8.5}, typ: "STPLMT", lmt: 8.5, aux: 9},
		{desc: "trail amount", req: OrderRequest{ExecType: enum.ExecStopTrail, TrailAmount: 0.5}, typ: "TRAIL", aux: 0.5},
		{desc: "trail percent", req: OrderRequest{ExecType: enum.ExecStopTrail, TrailPercent: 0.02}, typ: "TRAIL", pct: 2},
		{desc: "trail limit", req: OrderRequest{ExecType: enum.ExecStopTrailLimit, Price: 20, PriceLimit: 19, TrailAmount: 1}, typ: "TRAIL LIMIT", lmt: 19, aux: 1, trailSt: 20},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			tc.req.Action = enum.ActionSell
			tc.req.Size = 100
			b := tc.req.Order(time.Now()).BrokerOrder()
			assert.Equal(t, tc.typ, b.OrderType)
			assert.Equal(t, "SELL", b.Action)
			assert.Equal(t, "GTC", b.TIF)
			assert.Equal(t, 1, b.OCAType)
			assert.True(t, b.TotalQuantity.Equal(d(100)))
			assert.True(t, b.LmtPrice.Equal(d(tc.lmt)), "lmt %s", b.LmtPrice)
			assert.True(t, b.AuxPrice.Equal(d(tc.aux)), "aux %s", b.AuxPrice)
			assert.True(t, b.TrailingPercent.Equal(d(tc.pct)), "pct %s", b.TrailingPercent)
			assert.True(t, b.TrailStopPrice.Equal(d(tc.trailSt)), "trail stop %s", b.TrailStopPrice)
		})
	}
}

func TestBrokerOrderGoodTill(t *testing.T) {
	till := time.Date(2024, 3, 5, 16, 30, 0, 0, time.UTC)
	req := OrderRequest{
		Action:      enum.ActionBuy,
		Size:        1,
		ExecType:    enum.ExecMarket,
		TimeInForce: enum.TimeInForceGTD,
		GoodTill:    till,
	}
	require.NoError(t, req.CheckPrices())

	b := req.Order(till).BrokerOrder()
	assert.Equal(t, "GTD", b.TIF)
	assert.Equal(t, "20240305 16:30:00", b.GoodTillDate)
}

func TestOrderRequestCheckPrices(t *testing.T) {
	assert.Error(t, OrderRequest{ExecType: enum.ExecLimit}.CheckPrices())
	assert.Error(t, OrderRequest{ExecType: enum.ExecStopLimit, Price: 1}.CheckPrices())
	assert.Error(t, OrderRequest{ExecType: enum.ExecStopTrail}.CheckPrices())
	assert.Error(t, OrderRequest{ExecType: enum.ExecMarket, TimeInForce: enum.TimeInForceGTD}.CheckPrices())
	assert.NoError(t, OrderRequest{ExecType: enum.ExecLimit, Price: 1}.CheckPrices())
}

func TestOrderApplyAccumulates(t *testing.T) {
	o := &Order{Action: enum.ActionBuy, Size: d(100)}
	o.Apply(Fill{Size: d(40), Price: d(10), ClosedCommission: d(0.1), OpenedCommission: d(0.3)})
	o.Apply(Fill{Size: d(60), Price: d(11), OpenedCommission: d(0.6), PnL: d(2)})

	assert.True(t, o.Executed.Size.Equal(d(100)))
	assert.True(t, o.Executed.Price.Equal(d(10.6)), "price %s", o.Executed.Price)
	assert.True(t, o.Executed.Commission.Equal(d(1)))
	assert.True(t, o.Executed.PnL.Equal(d(2)))
	assert.True(t, o.Remaining().IsZero())
	assert.Len(t, o.Executed.Fills, 2)

	c := o.Clone()
	c.Executed.Fills[0].ExecID = "changed"
	assert.Empty(t, o.Executed.Fills[0].ExecID)
}
