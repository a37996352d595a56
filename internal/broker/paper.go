package broker

import (
	"context"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"ibbridge/internal/bus"
	"ibbridge/internal/history"
	"ibbridge/internal/model"
	"ibbridge/internal/model/enum"
	"ibbridge/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
)

const (
	_paperDailyLayout = "20060102"
	_paperMaxBars     = 20000
)

var (
	_defaultPaperPrice = decimal.NewFromInt(100)
	_paperSpread       = decimal.NewFromFloat(0.01)
)

// PaperOption configures the simulated session.
type PaperOption struct {
	Account       string
	NextOrderID   int64
	Cash          decimal.Decimal
	Commission    decimal.Decimal // per share
	MinCommission decimal.Decimal
	// Partials splits every fill into that many executions.
	Partials int
	// Scramble shuffles execution, commission and status events of a fill.
	Scramble   bool
	Seed       uint64
	ServerSkew time.Duration
	Clock      func() time.Time
}

func (opt PaperOption) withDefaults() PaperOption {
	if opt.Account == "" {
		opt.Account = "DU0000001"
	}
	if opt.NextOrderID <= 0 {
		opt.NextOrderID = 1
	}
	if opt.Cash.IsZero() {
		opt.Cash = decimal.NewFromInt(100_000)
	}
	if opt.Commission.IsZero() {
		opt.Commission = decimal.NewFromFloat(0.005)
	}
	if opt.MinCommission.IsZero() {
		opt.MinCommission = decimal.NewFromInt(1)
	}
	if opt.Partials <= 0 {
		opt.Partials = 1
	}
	if opt.Clock == nil {
		opt.Clock = time.Now
	}
	return opt
}

type paperOrder struct {
	contract model.Contract
	order    model.BrokerOrder
	filled   decimal.Decimal
}

// Paper is an in-process simulated broker session. It answers every request
// by publishing the callbacks a live session would send.
type Paper struct {
	pub bus.Publisher
	opt PaperOption

	mu           sync.Mutex
	connected    bool
	failConnects int
	nextID       int64
	rng          *rand.Rand
	prices       map[int64]decimal.Decimal
	resting      map[int64]*paperOrder
	positions    map[int64]model.Position
	contracts    map[int64]model.Contract
	cash         decimal.Decimal
	accountSub   bool
	mktSubs      map[int64]model.Contract
	barSubs      map[int64]model.Contract
	historical   map[int64]struct{}
}

var _ Client = (*Paper)(nil)

func NewPaper(pub bus.Publisher, opt PaperOption) *Paper {
	opt = opt.withDefaults()
	return &Paper{
		pub:        pub,
		opt:        opt,
		nextID:     opt.NextOrderID,
		rng:        rand.New(rand.NewPCG(opt.Seed, opt.Seed^0x9e3779b97f4a7c15)),
		prices:     make(map[int64]decimal.Decimal),
		resting:    make(map[int64]*paperOrder),
		positions:  make(map[int64]model.Position),
		contracts:  make(map[int64]model.Contract),
		cash:       opt.Cash,
		mktSubs:    make(map[int64]model.Contract),
		barSubs:    make(map[int64]model.Contract),
		historical: make(map[int64]struct{}),
	}
}

func (p *Paper) emit(ctx context.Context, events ...any) error {
	for _, e := range events {
		if err := p.pub.Publish(ctx, e); err != nil {
			return errors.Wrap(err, "publish paper event")
		}
	}
	return nil
}

func (p *Paper) now() time.Time {
	return p.opt.Clock()
}

// FailConnects makes the next n Connect calls fail.
func (p *Paper) FailConnects(n int) {
	p.mu.Lock()
	p.failConnects = n
	p.mu.Unlock()
}

func (p *Paper) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.failConnects > 0 {
		p.failConnects--
		p.mu.Unlock()
		return errors.Wrap(exception.ErrNotConnected, "paper session refused connection")
	}
	p.connected = true
	events := []any{
		model.ManagedAccountsEvent{Accounts: p.opt.Account},
		model.NextValidIDEvent{OrderID: p.nextID},
	}
	p.mu.Unlock()
	return p.emit(ctx, events...)
}

func (p *Paper) Disconnect() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

func (p *Paper) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Drop simulates the broker closing the socket.
func (p *Paper) Drop(ctx context.Context) error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return p.emit(ctx, model.ConnectionClosedEvent{})
}

// InjectError publishes a broker error as if the session had sent it.
func (p *Paper) InjectError(ctx context.Context, id int64, code int, msg string) error {
	return p.emit(ctx, model.ErrorEvent{ID: id, Code: code, Message: msg})
}

func (p *Paper) checkLocked() error {
	if !p.connected {
		return exception.ErrNotConnected
	}
	return nil
}

func (p *Paper) priceLocked(conID int64) decimal.Decimal {
	if px, ok := p.prices[conID]; ok {
		return px
	}
	return _defaultPaperPrice
}

// SetPrice moves the simulated market of a contract and streams the change to
// its market data and real time bar subscribers.
func (p *Paper) SetPrice(ctx context.Context, conID int64, price decimal.Decimal) error {
	p.mu.Lock()
	p.prices[conID] = price
	var events []any
	for id, c := range p.mktSubs {
		if c.ConID == conID {
			events = append(events, p.ticksLocked(id, price)...)
		}
	}
	for id, c := range p.barSubs {
		if c.ConID == conID {
			events = append(events, p.realtimeBarLocked(id, price))
		}
	}
	p.mu.Unlock()
	return p.emit(ctx, events...)
}

// Position returns the simulated broker side position.
func (p *Paper) Position(conID int64) model.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions[conID]
}

// SetPosition overwrites the simulated broker position, e.g. to model a
// manual trade made outside the bridge.
func (p *Paper) SetPosition(contract model.Contract, pos model.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[contract.ConID] = pos
	p.contracts[contract.ConID] = contract
}

func (p *Paper) PlaceOrder(ctx context.Context, contract model.Contract, order model.BrokerOrder) error {
	p.mu.Lock()
	if err := p.checkLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	if order.OrderID >= p.nextID {
		p.nextID = order.OrderID + 1
	}
	p.contracts[contract.ConID] = contract

	po := &paperOrder{contract: contract, order: order}
	events := []any{
		model.OpenOrderEvent{OrderID: order.OrderID, Contract: contract, Status: enum.BrokerStatusPreSubmitted},
		model.OrderStatusEvent{OrderID: order.OrderID, Status: enum.BrokerStatusPreSubmitted, Remaining: order.TotalQuantity},
	}
	if order.Transmit {
		events = append(events, model.OrderStatusEvent{OrderID: order.OrderID, Status: enum.BrokerStatusSubmitted, Remaining: order.TotalQuantity})
	}

	switch {
	case !order.Transmit:
		p.resting[order.OrderID] = po
	case order.OrderType == enum.ExecMarket.String() || order.OrderType == enum.ExecClose.String():
		events = append(events, p.fillLocked(po, p.priceLocked(contract.ConID))...)
	default:
		p.resting[order.OrderID] = po
	}
	p.mu.Unlock()
	return p.emit(ctx, events...)
}

// Execute fills the rest of a resting order at price.
func (p *Paper) Execute(ctx context.Context, orderID int64, price decimal.Decimal) error {
	p.mu.Lock()
	po, ok := p.resting[orderID]
	if !ok {
		p.mu.Unlock()
		return errors.Wrapf(exception.ErrOrderUnknown, "resting order %d", orderID)
	}
	events := p.fillLocked(po, price)
	p.mu.Unlock()
	return p.emit(ctx, events...)
}

// Expire ends a resting order the way a good-till-date expiry does.
func (p *Paper) Expire(ctx context.Context, orderID int64) error {
	p.mu.Lock()
	po, ok := p.resting[orderID]
	if !ok {
		p.mu.Unlock()
		return errors.Wrapf(exception.ErrOrderUnknown, "resting order %d", orderID)
	}
	delete(p.resting, orderID)
	p.mu.Unlock()
	return p.emit(ctx,
		model.OpenOrderEvent{OrderID: orderID, Contract: po.contract, Status: enum.BrokerStatusPendingCancel},
		model.OrderStatusEvent{OrderID: orderID, Status: enum.BrokerStatusCancelled, Filled: po.filled, Remaining: po.order.TotalQuantity.Sub(po.filled)},
	)
}

// Resting lists the ids of orders waiting for Execute.
func (p *Paper) Resting() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int64, 0, len(p.resting))
	for id := range p.resting {
		out = append(out, id)
	}
	return out
}

func (p *Paper) CancelOrder(ctx context.Context, orderID int64) error {
	p.mu.Lock()
	if err := p.checkLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	po, ok := p.resting[orderID]
	delete(p.resting, orderID)
	p.mu.Unlock()

	if !ok {
		return p.emit(ctx, model.ErrorEvent{ID: orderID, Code: 10147, Message: "OrderId " + strconv.FormatInt(orderID, 10) + " that needs to be cancelled is not found."})
	}
	return p.emit(ctx,
		model.OrderStatusEvent{OrderID: orderID, Status: enum.BrokerStatusCancelled, Filled: po.filled, Remaining: po.order.TotalQuantity.Sub(po.filled)},
		model.ErrorEvent{ID: orderID, Code: 202, Message: "Order Canceled - reason:"},
	)
}

func (p *Paper) chunks(total decimal.Decimal) []decimal.Decimal {
	n := p.opt.Partials
	chunk := total.Div(decimal.NewFromInt(int64(n))).Truncate(0)
	if n == 1 || chunk.Sign() <= 0 {
		return []decimal.Decimal{total}
	}
	out := make([]decimal.Decimal, 0, n)
	rest := total
	for range n - 1 {
		out = append(out, chunk)
		rest = rest.Sub(chunk)
	}
	return append(out, rest)
}

func (p *Paper) fillLocked(po *paperOrder, price decimal.Decimal) []any {
	total := po.order.TotalQuantity
	remaining := total.Sub(po.filled)
	if remaining.Sign() <= 0 {
		return nil
	}

	buy := po.order.Action == enum.ActionBuy.String()
	side := "SLD"
	if buy {
		side = "BOT"
	}

	var events []any
	for _, qty := range p.chunks(remaining) {
		po.filled = po.filled.Add(qty)
		signed := qty
		if !buy {
			signed = qty.Neg()
		}

		comm := decimal.Max(qty.Mul(p.opt.Commission), p.opt.MinCommission)
		pos := p.positions[po.contract.ConID]
		next, _, closed := pos.Update(signed, price)
		realized := closed.Neg().Mul(price.Sub(pos.Price)).Sub(comm)
		p.positions[po.contract.ConID] = next
		p.cash = p.cash.Sub(signed.Mul(price)).Sub(comm)

		status := enum.BrokerStatusSubmitted
		if po.filled.Equal(total) {
			status = enum.BrokerStatusFilled
		}
		execID := uuid.NewString()
		events = append(events,
			model.ExecutionEvent{
				ExecID:   execID,
				OrderID:  po.order.OrderID,
				Account:  p.opt.Account,
				Contract: po.contract,
				Side:     side,
				Shares:   qty,
				Price:    price,
				CumQty:   po.filled,
				Time:     p.now(),
			},
			model.CommissionReportEvent{ExecID: execID, Commission: comm, RealizedPNL: realized},
			model.OrderStatusEvent{
				OrderID:      po.order.OrderID,
				Status:       status,
				Filled:       po.filled,
				Remaining:    total.Sub(po.filled),
				AvgFillPrice: price,
			},
		)
	}
	if po.filled.Equal(total) {
		delete(p.resting, po.order.OrderID)
	}
	if p.opt.Scramble {
		p.rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })
	}
	if p.accountSub {
		events = append(events, p.accountLocked()...)
	}
	return events
}

func (p *Paper) accountLocked() []any {
	netLiq := p.cash
	var events []any
	for conID, pos := range p.positions {
		px := p.priceLocked(conID)
		netLiq = netLiq.Add(pos.Size.Mul(px))
		events = append(events, model.PortfolioEvent{
			Account:       p.opt.Account,
			Contract:      p.contracts[conID],
			Position:      pos.Size,
			MarketPrice:   px,
			MarketValue:   pos.Size.Mul(px),
			AverageCost:   pos.Price,
			UnrealizedPNL: pos.Size.Mul(px.Sub(pos.Price)),
		})
	}
	cash := p.cash.StringFixed(2)
	return append(events,
		model.AccountValueEvent{Account: p.opt.Account, Key: "CashBalance", Value: cash, Currency: "BASE"},
		model.AccountValueEvent{Account: p.opt.Account, Key: "CashBalance", Value: cash, Currency: "USD"},
		model.AccountValueEvent{Account: p.opt.Account, Key: "NetLiquidation", Value: netLiq.StringFixed(2), Currency: "USD"},
		model.AccountValueEvent{Account: p.opt.Account, Key: "AccountType", Value: "INDIVIDUAL"},
	)
}

func (p *Paper) ReqAccountUpdates(ctx context.Context, subscribe bool, account string) error {
	p.mu.Lock()
	if err := p.checkLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.accountSub = subscribe
	var events []any
	if subscribe {
		events = append(p.accountLocked(), model.AccountDownloadEndEvent{Account: p.opt.Account})
	}
	p.mu.Unlock()
	return p.emit(ctx, events...)
}

func (p *Paper) ReqPositions(ctx context.Context) error {
	p.mu.Lock()
	if err := p.checkLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	events := make([]any, 0, len(p.positions))
	for conID, pos := range p.positions {
		events = append(events, model.PositionEvent{
			Account:  p.opt.Account,
			Contract: p.contracts[conID],
			Position: pos.Size,
			AvgCost:  pos.Price,
		})
	}
	p.mu.Unlock()
	return p.emit(ctx, events...)
}

func (p *Paper) ReqCurrentTime(ctx context.Context) error {
	if !p.IsConnected() {
		return exception.ErrNotConnected
	}
	return p.emit(ctx, model.CurrentTimeEvent{Time: p.now().Add(p.opt.ServerSkew)})
}

// ReqHistoricalData answers with a synthetic bar series covering
// [End - Duration, End].
func (p *Paper) ReqHistoricalData(ctx context.Context, req HistoricalRequest) error {
	dur, err := history.ParseDuration(req.Duration)
	if err != nil {
		return err
	}
	size, err := history.ParseBarSize(req.BarSize)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if err := p.checkLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.historical[req.ReqID] = struct{}{}
	base := toFloat(p.priceLocked(req.Contract.ConID))
	p.mu.Unlock()

	end := req.End
	if end.IsZero() {
		end = p.now()
	}
	begin := history.AddDuration(end, history.Duration{N: -dur.N, Unit: dur.Unit})

	events := syntheticBars(req, size, begin, end, base)
	events = append(events, model.HistoricalEndEvent{
		ReqID: req.ReqID,
		Start: history.FormatEnd(begin),
		End:   history.FormatEnd(end),
	})

	p.mu.Lock()
	_, live := p.historical[req.ReqID]
	delete(p.historical, req.ReqID)
	p.mu.Unlock()
	if !live {
		return nil
	}
	return p.emit(ctx, events...)
}

func syntheticBars(req HistoricalRequest, size history.BarSize, begin, end time.Time, base float64) []any {
	daily := size.TimeFrame >= enum.TimeFrameDays && req.FormatDate != 2
	step := func(t time.Time) time.Time {
		switch size.TimeFrame {
		case enum.TimeFrameSeconds:
			return t.Add(time.Duration(size.Compression) * time.Second)
		case enum.TimeFrameMinutes:
			return t.Add(time.Duration(size.Compression) * time.Minute)
		case enum.TimeFrameDays:
			return t.AddDate(0, 0, size.Compression)
		case enum.TimeFrameWeeks:
			return t.AddDate(0, 0, 7*size.Compression)
		default:
			return t.AddDate(0, size.Compression, 0)
		}
	}

	var t time.Time
	if size.TimeFrame >= enum.TimeFrameDays {
		y, m, d := begin.UTC().Date()
		t = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	} else {
		t = begin.Truncate(step(begin).Sub(begin))
	}
	t = step(t)

	var events []any
	for i := 0; !t.After(end) && i < _paperMaxBars; i++ {
		if size.TimeFrame == enum.TimeFrameDays && (t.Weekday() == time.Saturday || t.Weekday() == time.Sunday) {
			t = step(t)
			continue
		}
		wave := math.Sin(float64(t.Unix()) / 86400)
		px := base * (1 + wave/100)
		date := strconv.FormatInt(t.Unix(), 10)
		if daily {
			date = t.Format(_paperDailyLayout)
		}
		events = append(events, model.HistoricalBarEvent{
			ReqID:  req.ReqID,
			Date:   date,
			Open:   px,
			High:   px * 1.002,
			Low:    px * 0.998,
			Close:  px * 1.001,
			Volume: 1000 + float64(t.Unix()%500),
			WAP:    px,
			Count:  10,
		})
		t = step(t)
	}
	return events
}

func (p *Paper) CancelHistoricalData(ctx context.Context, reqID int64) error {
	p.mu.Lock()
	delete(p.historical, reqID)
	p.mu.Unlock()
	return nil
}

func (p *Paper) ticksLocked(reqID int64, price decimal.Decimal) []any {
	px := toFloat(price)
	spread := toFloat(_paperSpread)
	now := p.now()
	rtv := strings.Join([]string{
		strconv.FormatFloat(px, 'f', -1, 64),
		"100",
		strconv.FormatInt(now.UnixMilli(), 10),
		"10000",
		strconv.FormatFloat(px, 'f', -1, 64),
		"false",
	}, ";")
	return []any{
		model.TickPriceEvent{ReqID: reqID, Field: FieldBid, Price: px - spread},
		model.TickSizeEvent{ReqID: reqID, Field: FieldBidSize, Size: 100},
		model.TickPriceEvent{ReqID: reqID, Field: FieldAsk, Price: px + spread},
		model.TickSizeEvent{ReqID: reqID, Field: FieldAskSize, Size: 100},
		model.TickPriceEvent{ReqID: reqID, Field: FieldLast, Price: px},
		model.TickSizeEvent{ReqID: reqID, Field: FieldLastSize, Size: 100},
		model.TickStringEvent{ReqID: reqID, Field: FieldRTVolume, Value: rtv},
	}
}

func (p *Paper) ReqMktData(ctx context.Context, reqID int64, contract model.Contract, genericTicks string) error {
	p.mu.Lock()
	if err := p.checkLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.mktSubs[reqID] = contract
	events := p.ticksLocked(reqID, p.priceLocked(contract.ConID))
	p.mu.Unlock()
	return p.emit(ctx, events...)
}

func (p *Paper) CancelMktData(ctx context.Context, reqID int64) error {
	p.mu.Lock()
	delete(p.mktSubs, reqID)
	p.mu.Unlock()
	return nil
}

func (p *Paper) realtimeBarLocked(reqID int64, price decimal.Decimal) model.RealtimeBarEvent {
	px := toFloat(price)
	return model.RealtimeBarEvent{
		ReqID:  reqID,
		Time:   p.now().Truncate(5 * time.Second).Unix(),
		Open:   px,
		High:   px,
		Low:    px,
		Close:  px,
		Volume: 100,
		WAP:    px,
		Count:  1,
	}
}

func (p *Paper) ReqRealTimeBars(ctx context.Context, req RealtimeBarsRequest) error {
	p.mu.Lock()
	if err := p.checkLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.barSubs[req.ReqID] = req.Contract
	bar := p.realtimeBarLocked(req.ReqID, p.priceLocked(req.Contract.ConID))
	p.mu.Unlock()
	return p.emit(ctx, bar)
}

func (p *Paper) CancelRealTimeBars(ctx context.Context, reqID int64) error {
	p.mu.Lock()
	delete(p.barSubs, reqID)
	p.mu.Unlock()
	return nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
