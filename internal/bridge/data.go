package bridge

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"ibbridge/internal/broker"
	"ibbridge/internal/history"
	"ibbridge/internal/model"
	"ibbridge/internal/model/enum"
	"ibbridge/internal/router"
	"ibbridge/pkg/exception"
	"ibbridge/pkg/validate"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	_dailyLayout       = "20060102"
	_defaultSessionEnd = 23*time.Hour + 59*time.Minute + 59*time.Second
	_realtimeBarSize   = 5
)

// Stream is the caller handle of one data request. Its channel survives
// re-issues of the request under new ids.
type Stream struct {
	*router.Channel

	b    *Bridge
	kind router.RequestKind

	mu    sync.Mutex
	id    int64
	token uint64
	seg   history.Segment
	issue func(ctx context.Context, s *Stream, id int64) error
	halt  func(ctx context.Context, id int64) error
}

func (s *Stream) ID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Stream) Kind() router.RequestKind {
	return s.kind
}

func (s *Stream) segment() history.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seg
}

// Resubscribe re-issues the request under a fresh id bound to the same
// channel. A stream that already ended unregisters itself.
func (s *Stream) Resubscribe(ctx context.Context) error {
	id, ok := s.b.rebind(s)
	if !ok {
		s.b.super.Unregister(s.tokenID())
		return nil
	}
	if err := s.issue(ctx, s, id); err != nil {
		s.b.endStream(s, true)
		return errors.Wrapf(err, "reissue %s request %d", s.kind, id)
	}
	return nil
}

// Teardown ends the stream after the session was lost for good.
func (s *Stream) Teardown(context.Context) {
	s.b.endStream(s, true)
}

func (s *Stream) tokenID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// HistoricalQuery describes a historical bar request.
type HistoricalQuery struct {
	Contract model.Contract
	// Begin zero asks for the longest single request ending at End.
	Begin       time.Time
	End         time.Time
	TimeFrame   enum.TimeFrame
	Compression int
	What        string
	UseRTH      bool
	// SessionEnd is the time of day daily bars are stamped with.
	SessionEnd time.Duration
	Location   *time.Location
}

func (q HistoricalQuery) withDefaults() HistoricalQuery {
	if q.Compression <= 0 {
		q.Compression = 1
	}
	if q.What == "" {
		q.What = "TRADES"
		if q.Contract.IsCash() {
			q.What = "BID"
		}
	}
	if q.SessionEnd <= 0 {
		q.SessionEnd = _defaultSessionEnd
	}
	if q.Location == nil {
		q.Location = time.UTC
	}
	return q
}

func (b *Bridge) terminated() *Stream {
	return &Stream{Channel: router.Terminated(), b: b}
}

func (b *Bridge) stream(id int64) (*Stream, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[id]
	return s, ok
}

// Streams lists the open streams ordered by id.
func (b *Bridge) Streams() []*Stream {
	b.mu.Lock()
	out := make([]*Stream, 0, len(b.streams))
	for _, s := range b.streams {
		out = append(out, s)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (b *Bridge) open(meta router.Meta, seg history.Segment,
	issue func(context.Context, *Stream, int64) error, halt func(context.Context, int64) error,
) *Stream {
	id, ch := b.router.Allocate(meta)
	s := &Stream{Channel: ch, b: b, kind: meta.Kind, id: id, seg: seg, issue: issue, halt: halt}

	b.mu.Lock()
	b.streams[id] = s
	b.mu.Unlock()

	token := b.super.Register(s)
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return s
}

func (b *Bridge) rebind(s *Stream) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := s.ID()
	id, _, err := b.router.Bind(old)
	if err != nil {
		return 0, false
	}
	delete(b.streams, old)
	b.streams[id] = s
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
	return id, true
}

// endStream releases the binding of s and, when end is set, terminates its
// channel. It reports whether the binding was still live.
func (b *Bridge) endStream(s *Stream, end bool) bool {
	b.mu.Lock()
	id := s.ID()
	if cur, ok := b.streams[id]; ok && cur == s {
		delete(b.streams, id)
	}
	live := b.router.Cancel(id, end)
	b.mu.Unlock()

	b.super.Unregister(s.tokenID())
	return live
}

// endByID terminates the stream of id, preceded by a notice when code is set.
func (b *Bridge) endByID(id int64, code int) {
	if code != 0 {
		b.router.Deliver(id, router.Notice(code))
	}
	if s, ok := b.stream(id); ok {
		b.endStream(s, true)
		return
	}
	if !b.router.Cancel(id, true) {
		b.metrics.IncUnknownDrop()
	}
}

// CancelData ends a data request. The channel receives its end sentinel so a
// blocked reader wakes up.
func (b *Bridge) CancelData(ctx context.Context, s *Stream) error {
	if s == nil {
		return exception.ErrNilInstance
	}
	id := s.ID()
	if !b.endStream(s, true) || s.halt == nil || !b.client.IsConnected() {
		return nil
	}
	return s.halt(ctx, id)
}

// RequestHistoricalRange fetches [Begin, End] with as few broker requests as
// the duration grammar allows and stitches them into one channel. Requests
// that cannot be planned return an already terminated stream with the error.
func (b *Bridge) RequestHistoricalRange(ctx context.Context, q HistoricalQuery) (*Stream, error) {
	q = q.withDefaults()
	if err := validate.Struct(q.Contract); err != nil {
		return b.terminated(), err
	}
	seg, err := b.splitter.Plan(history.Request{
		Begin:       q.Begin,
		End:         q.End,
		TimeFrame:   q.TimeFrame,
		Compression: q.Compression,
	})
	if err != nil {
		return b.terminated(), err
	}
	return b.requestHistorical(ctx, q, seg)
}

// RequestHistorical issues one request of the given duration ending at End.
func (b *Bridge) RequestHistorical(ctx context.Context, q HistoricalQuery, duration history.Duration) (*Stream, error) {
	q = q.withDefaults()
	if err := validate.Struct(q.Contract); err != nil {
		return b.terminated(), err
	}
	barSize, ok := history.SizeString(q.TimeFrame, q.Compression)
	if !ok || !slices.Contains(history.BarSizes(duration), barSize) {
		return b.terminated(), errors.Wrapf(exception.ErrUnsupportedBarSize, "%s bars over %s", barSize, duration)
	}
	end := q.End
	if end.IsZero() {
		end = b.clock.Now()
	}
	q.Begin = time.Time{}
	return b.requestHistorical(ctx, q, history.Segment{End: end, Duration: duration, BarSize: barSize})
}

func (b *Bridge) requestHistorical(ctx context.Context, q HistoricalQuery, seg history.Segment) (*Stream, error) {
	if err := b.EnsureConnected(ctx); err != nil {
		return b.terminated(), err
	}

	daily := q.TimeFrame.IsDaily()
	meta := router.Meta{
		Kind:         router.KindHistorical,
		Contract:     q.Contract,
		What:         q.What,
		UseRTH:       q.UseRTH,
		Begin:        q.Begin,
		Daily:        daily,
		SessionEnd:   q.SessionEnd,
		Location:     q.Location,
		BarSize:      seg.BarSize,
		Continuation: seg.Next,
	}
	format := 2
	if daily {
		format = 1
	}

	issue := func(ctx context.Context, s *Stream, id int64) error {
		seg := s.segment()
		return b.client.ReqHistoricalData(ctx, broker.HistoricalRequest{
			ReqID:      id,
			Contract:   q.Contract,
			End:        seg.End,
			Duration:   seg.Duration.String(),
			BarSize:    seg.BarSize,
			What:       q.What,
			UseRTH:     q.UseRTH,
			FormatDate: format,
		})
	}
	s := b.open(meta, seg, issue, b.client.CancelHistoricalData)
	if err := issue(ctx, s, s.ID()); err != nil {
		b.endStream(s, true)
		return s, errors.Wrap(err, "request historical data")
	}
	return s, nil
}

// barTime converts a historical bar stamp. Daily bars are YYYYMMDD combined
// with the session end in the request location and never lie in the future.
func (b *Bridge) barTime(meta router.Meta, date string) (time.Time, error) {
	if meta.Daily && len(date) == len(_dailyLayout) {
		loc := meta.Location
		if loc == nil {
			loc = time.UTC
		}
		day, err := time.ParseInLocation(_dailyLayout, date, loc)
		if err != nil {
			return time.Time{}, errors.Wrapf(exception.ErrMalformedTick, "bar date %q", date)
		}
		t := day.Add(meta.SessionEnd)
		if now := b.clock.Now(); t.After(now) {
			t = now
		}
		return t, nil
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(date), 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(exception.ErrMalformedTick, "bar date %q", date)
	}
	return time.Unix(sec, 0).UTC(), nil
}

func (b *Bridge) onHistoricalBar(ev model.HistoricalBarEvent) {
	bd, err := b.router.Resolve(ev.ReqID)
	if err != nil || bd.Kind != router.KindHistorical {
		b.metrics.IncUnknownDrop()
		return
	}
	t, err := b.barTime(bd.Meta, ev.Date)
	if err != nil {
		logs.Warnf("historical bar for %d dropped, err: %+v", ev.ReqID, err)
		return
	}
	if !bd.Begin.IsZero() && t.Before(bd.Begin) {
		return
	}
	if !bd.LastBar.IsZero() && !t.After(bd.LastBar) {
		return
	}

	b.router.Update(ev.ReqID, func(m *router.Meta) { m.LastBar = t })
	b.router.Deliver(ev.ReqID, router.Data(model.Bar{
		Time:   t,
		Open:   ev.Open,
		High:   ev.High,
		Low:    ev.Low,
		Close:  ev.Close,
		Volume: ev.Volume,
		WAP:    ev.WAP,
		Count:  ev.Count,
	}))
}

// onHistoricalEnd either continues the range under a fresh id bound to the
// same channel or ends the stream.
func (b *Bridge) onHistoricalEnd(ev model.HistoricalEndEvent) {
	bd, err := b.router.Resolve(ev.ReqID)
	if err != nil {
		b.metrics.IncUnknownDrop()
		return
	}
	s, ok := b.stream(ev.ReqID)
	if !ok {
		b.router.Cancel(ev.ReqID, true)
		return
	}
	if bd.Continuation == nil {
		b.endStream(s, true)
		return
	}

	seg, err := b.splitter.Plan(bd.Continuation.Request())
	if err != nil {
		logs.Errorf("plan continuation of %d failed, err: %+v", ev.ReqID, err)
		b.endStream(s, true)
		return
	}
	id, ok := b.rebind(s)
	if !ok {
		return
	}
	b.router.Update(id, func(m *router.Meta) { m.Continuation = seg.Next })
	s.mu.Lock()
	s.seg = seg
	s.mu.Unlock()

	ctx := b.ctx()
	go func() {
		if err := s.issue(ctx, s, id); err != nil {
			logs.Errorf("continue historical request %d failed, err: %+v", id, err)
			b.endStream(s, true)
		}
	}()
}

// MarketDataOption selects how a stream is built.
type MarketDataOption struct {
	// What is BID or ASK for cash instruments, empty for the default.
	What string
}

func (b *Bridge) cashField(c model.Contract, what string) int {
	switch {
	case c.IsCash():
		if strings.EqualFold(what, "ASK") {
			return broker.FieldAsk
		}
		return broker.FieldBid
	case c.IsIndex() && b.opt.IndCash:
		return broker.FieldLast
	default:
		return 0
	}
}

// RequestMarketData subscribes a tick stream. Cash instruments stream the
// selected quote side, everything else streams RTVolume trades.
func (b *Bridge) RequestMarketData(ctx context.Context, contract model.Contract, opt MarketDataOption) (*Stream, error) {
	if err := validate.Struct(contract); err != nil {
		return b.terminated(), err
	}
	if err := b.EnsureConnected(ctx); err != nil {
		return b.terminated(), err
	}

	field := b.cashField(contract, opt.What)
	generic := broker.GenericRTVolume
	if field != 0 {
		generic = ""
	}
	issue := func(ctx context.Context, _ *Stream, id int64) error {
		return b.client.ReqMktData(ctx, id, contract, generic)
	}
	s := b.open(router.Meta{Kind: router.KindMarketData, Contract: contract, CashField: field, What: opt.What}, history.Segment{}, issue, b.client.CancelMktData)
	if err := issue(ctx, s, s.ID()); err != nil {
		b.endStream(s, true)
		return s, errors.Wrap(err, "request market data")
	}
	return s, nil
}

// RequestRealtimeBars subscribes five second bars.
func (b *Bridge) RequestRealtimeBars(ctx context.Context, contract model.Contract, what string, useRTH bool) (*Stream, error) {
	if err := validate.Struct(contract); err != nil {
		return b.terminated(), err
	}
	if err := b.EnsureConnected(ctx); err != nil {
		return b.terminated(), err
	}
	if what == "" {
		what = "TRADES"
		if contract.IsCash() {
			what = "MIDPOINT"
		}
	}

	issue := func(ctx context.Context, _ *Stream, id int64) error {
		return b.client.ReqRealTimeBars(ctx, broker.RealtimeBarsRequest{
			ReqID:    id,
			Contract: contract,
			BarSize:  _realtimeBarSize,
			What:     what,
			UseRTH:   useRTH,
		})
	}
	s := b.open(router.Meta{Kind: router.KindRealtimeBars, Contract: contract, What: what, UseRTH: useRTH}, history.Segment{}, issue, b.client.CancelRealTimeBars)
	if err := issue(ctx, s, s.ID()); err != nil {
		b.endStream(s, true)
		return s, errors.Wrap(err, "request real time bars")
	}
	return s, nil
}

func (b *Bridge) marketBinding(id int64) (router.Binding, bool) {
	bd, err := b.router.Resolve(id)
	if err != nil || bd.Kind != router.KindMarketData {
		b.metrics.IncUnknownDrop()
		return router.Binding{}, false
	}
	return bd, true
}

func (b *Bridge) onTickPrice(ev model.TickPriceEvent) {
	bd, ok := b.marketBinding(ev.ReqID)
	if !ok || bd.CashField == 0 || ev.Field != bd.CashField {
		return
	}
	if ev.Price < 0 {
		return
	}
	b.router.Deliver(ev.ReqID, router.Data(model.Tick{
		Kind:  model.TickPrice,
		Time:  b.clock.Now(),
		Field: ev.Field,
		Price: ev.Price,
	}))
}

func (b *Bridge) onTickSize(ev model.TickSizeEvent) {
	bd, ok := b.marketBinding(ev.ReqID)
	if !ok || bd.CashField != 0 {
		return
	}
	b.router.Deliver(ev.ReqID, router.Data(model.Tick{
		Kind:  model.TickSize,
		Time:  b.clock.Now(),
		Field: ev.Field,
		Size:  ev.Size,
	}))
}

func (b *Bridge) onTickString(ev model.TickStringEvent) {
	if ev.Field != broker.FieldRTVolume {
		return
	}
	bd, ok := b.marketBinding(ev.ReqID)
	if !ok || bd.CashField != 0 {
		return
	}
	tick, ok, err := ParseRTVolume(ev.Value)
	if err != nil {
		logs.Warnf("rtvolume for %d dropped, err: %+v", ev.ReqID, err)
		return
	}
	if !ok {
		return
	}
	if tick.Time.IsZero() {
		tick.Time = b.clock.Now()
	}
	b.router.Deliver(ev.ReqID, router.Data(tick))
}

// ParseRTVolume parses "price;size;ms;volume;vwap;single". It reports false
// for size-only updates that carry no price.
func ParseRTVolume(value string) (model.Tick, bool, error) {
	fields := strings.Split(value, ";")
	if len(fields) != 6 {
		return model.Tick{}, false, errors.Wrapf(exception.ErrMalformedTick, "rtvolume %q", value)
	}
	if fields[0] == "" {
		return model.Tick{}, false, nil
	}

	tick := model.Tick{Kind: model.TickRTVolume, Field: broker.FieldRTVolume}
	var err error
	if tick.Price, err = strconv.ParseFloat(fields[0], 64); err != nil {
		return model.Tick{}, false, errors.Wrapf(exception.ErrMalformedTick, "rtvolume price %q", fields[0])
	}
	if tick.Size, err = parseOptionalFloat(fields[1]); err != nil {
		return model.Tick{}, false, errors.Wrapf(exception.ErrMalformedTick, "rtvolume size %q", fields[1])
	}
	if fields[2] != "" {
		ms, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return model.Tick{}, false, errors.Wrapf(exception.ErrMalformedTick, "rtvolume time %q", fields[2])
		}
		tick.Time = time.UnixMilli(ms).UTC()
	}
	if tick.Volume, err = parseOptionalFloat(fields[3]); err != nil {
		return model.Tick{}, false, errors.Wrapf(exception.ErrMalformedTick, "rtvolume volume %q", fields[3])
	}
	if tick.VWAP, err = parseOptionalFloat(fields[4]); err != nil {
		return model.Tick{}, false, errors.Wrapf(exception.ErrMalformedTick, "rtvolume vwap %q", fields[4])
	}
	tick.Single = strings.EqualFold(fields[5], "true")
	return tick, true, nil
}

func parseOptionalFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func (b *Bridge) onRealtimeBar(ev model.RealtimeBarEvent) {
	bd, err := b.router.Resolve(ev.ReqID)
	if err != nil || bd.Kind != router.KindRealtimeBars {
		b.metrics.IncUnknownDrop()
		return
	}
	b.router.Deliver(ev.ReqID, router.Data(model.RealtimeBar{
		Time:   time.Unix(ev.Time, 0).UTC(),
		Open:   ev.Open,
		High:   ev.High,
		Low:    ev.Low,
		Close:  ev.Close,
		Volume: ev.Volume,
		WAP:    ev.WAP,
		Count:  ev.Count,
	}))
}
