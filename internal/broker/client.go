package broker

import (
	"context"
	"time"

	"ibbridge/internal/model"
)

// Tick field codes used by market data subscriptions.
const (
	FieldBidSize    = 0
	FieldBid        = 1
	FieldAsk        = 2
	FieldAskSize    = 3
	FieldLast       = 4
	FieldLastSize   = 5
	FieldVolume     = 8
	FieldRTVolume   = 48
	GenericRTVolume = "233"
)

// HistoricalRequest is one broker-legal historical data request.
type HistoricalRequest struct {
	ReqID    int64
	Contract model.Contract
	End      time.Time
	Duration string
	BarSize  string
	What     string
	UseRTH   bool
	// FormatDate 1 stamps daily bars YYYYMMDD, 2 stamps every bar in unix seconds.
	FormatDate int
}

// RealtimeBarsRequest subscribes five second bars.
type RealtimeBarsRequest struct {
	ReqID    int64
	Contract model.Contract
	BarSize  int
	What     string
	UseRTH   bool
}

// Client is the outbound side of a broker session. Inbound callbacks are
// published as events on the bus the client was built with.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool

	PlaceOrder(ctx context.Context, contract model.Contract, order model.BrokerOrder) error
	CancelOrder(ctx context.Context, orderID int64) error

	ReqAccountUpdates(ctx context.Context, subscribe bool, account string) error
	ReqPositions(ctx context.Context) error
	ReqCurrentTime(ctx context.Context) error

	ReqHistoricalData(ctx context.Context, req HistoricalRequest) error
	CancelHistoricalData(ctx context.Context, reqID int64) error
	ReqMktData(ctx context.Context, reqID int64, contract model.Contract, genericTicks string) error
	CancelMktData(ctx context.Context, reqID int64) error
	ReqRealTimeBars(ctx context.Context, req RealtimeBarsRequest) error
	CancelRealTimeBars(ctx context.Context, reqID int64) error
}
