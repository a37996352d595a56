package model

import (
	"time"

	"github.com/yanun0323/decimal"
)

// Inbound broker events. Each is published on the bus as a payload and
// dispatched by type on the drain goroutine.

type OrderStatusEvent struct {
	OrderID      int64
	Status       string
	Filled       decimal.Decimal
	Remaining    decimal.Decimal
	AvgFillPrice decimal.Decimal
}

type OpenOrderEvent struct {
	OrderID  int64
	Contract Contract
	Status   string
}

type ExecutionEvent struct {
	ExecID   string
	OrderID  int64
	Account  string
	Contract Contract
	Side     string
	Shares   decimal.Decimal
	Price    decimal.Decimal
	CumQty   decimal.Decimal
	Time     time.Time
}

type CommissionReportEvent struct {
	ExecID      string
	Commission  decimal.Decimal
	RealizedPNL decimal.Decimal
}

// PositionEvent is a broker position snapshot.
type PositionEvent struct {
	Account  string
	Contract Contract
	Position decimal.Decimal
	AvgCost  decimal.Decimal
}

// PortfolioEvent is a portfolio update from the account stream.
type PortfolioEvent struct {
	Account       string
	Contract      Contract
	Position      decimal.Decimal
	MarketPrice   decimal.Decimal
	MarketValue   decimal.Decimal
	AverageCost   decimal.Decimal
	UnrealizedPNL decimal.Decimal
	RealizedPNL   decimal.Decimal
}

type AccountValueEvent struct {
	Account  string
	Key      string
	Value    string
	Currency string
}

type AccountDownloadEndEvent struct {
	Account string
}

// ManagedAccountsEvent carries the comma separated account list.
type ManagedAccountsEvent struct {
	Accounts string
}

type NextValidIDEvent struct {
	OrderID int64
}

type CurrentTimeEvent struct {
	Time time.Time
}

type ErrorEvent struct {
	ID      int64
	Code    int
	Message string
}

type HistoricalBarEvent struct {
	ReqID int64
	// Date is either YYYYMMDD for daily bars or unix seconds.
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	WAP    float64
	Count  int64
}

type HistoricalEndEvent struct {
	ReqID int64
	Start string
	End   string
}

type TickPriceEvent struct {
	ReqID int64
	Field int
	Price float64
}

type TickSizeEvent struct {
	ReqID int64
	Field int
	Size  float64
}

type TickStringEvent struct {
	ReqID int64
	Field int
	Value string
}

type TickGenericEvent struct {
	ReqID int64
	Field int
	Value float64
}

type RealtimeBarEvent struct {
	ReqID  int64
	Time   int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	WAP    float64
	Count  int64
}

type ConnectionClosedEvent struct{}
