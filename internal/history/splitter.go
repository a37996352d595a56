package history

import (
	"time"

	"ibbridge/internal/model/enum"
	"ibbridge/pkg/exception"

	"github.com/yanun0323/errors"
)

// EndLayout is the request end time format sent to the broker, in UTC.
const EndLayout = "20060102-15:04:05"

// FormatEnd renders t as a broker request end time.
func FormatEnd(t time.Time) string {
	return t.UTC().Format(EndLayout)
}

// Request is a historical range to fetch. A zero Begin asks for one request
// of the longest duration allowed for the bar size, ending at End.
type Request struct {
	Begin       time.Time
	End         time.Time
	TimeFrame   enum.TimeFrame
	Compression int
}

// Continuation describes the remainder still to fetch after a segment.
type Continuation struct {
	Begin       time.Time
	End         time.Time
	TimeFrame   enum.TimeFrame
	Compression int
}

// Request converts the continuation back into the next range to plan.
func (c Continuation) Request() Request {
	return Request{Begin: c.Begin, End: c.End, TimeFrame: c.TimeFrame, Compression: c.Compression}
}

// Segment is one broker-legal sub-request. Next is nil on the last segment.
type Segment struct {
	Begin    time.Time
	End      time.Time
	Duration Duration
	BarSize  string
	Next     *Continuation
}

// Splitter maps ranges onto the broker duration grammar.
type Splitter struct {
	// MinRangeTimeFrame is the finest timeframe accepted for two-date range
	// requests. Zero means daily bars.
	MinRangeTimeFrame enum.TimeFrame
}

func (s Splitter) minRange() enum.TimeFrame {
	if s.MinRangeTimeFrame == 0 {
		return enum.TimeFrameDays
	}
	return max(s.MinRangeTimeFrame, enum.TimeFrameSeconds)
}

// Plan resolves the first segment of r.
func (s Splitter) Plan(r Request) (Segment, error) {
	if r.TimeFrame < enum.TimeFrameSeconds {
		return Segment{}, errors.Wrapf(exception.ErrUnsupportedTimeframe, "%s", r.TimeFrame)
	}
	barSize, ok := SizeString(r.TimeFrame, r.Compression)
	if !ok {
		return Segment{}, errors.Wrapf(exception.ErrUnsupportedBarSize, "%s/%d", r.TimeFrame, r.Compression)
	}
	if r.End.IsZero() {
		r.End = time.Now()
	}

	if r.Begin.IsZero() {
		dur, ok := MaxDuration(r.TimeFrame, r.Compression)
		if !ok {
			return Segment{}, errors.Wrapf(exception.ErrUnsupportedBarSize, "%s", barSize)
		}
		return Segment{End: r.End, Duration: dur, BarSize: barSize}, nil
	}

	if r.TimeFrame < s.minRange() {
		return Segment{}, errors.Wrapf(exception.ErrUnsupportedTimeframe, "range request with %s bars", r.TimeFrame)
	}
	if r.Begin.After(r.End) {
		return Segment{}, errors.Wrapf(exception.ErrInvalidRange, "begin %s after end %s", r.Begin, r.End)
	}
	durations := Durations(r.TimeFrame, r.Compression)
	if len(durations) == 0 {
		return Segment{}, errors.Wrapf(exception.ErrUnsupportedBarSize, "%s", barSize)
	}

	for _, dur := range durations {
		if !AddDuration(r.Begin, dur).Before(r.End) {
			return Segment{Begin: r.Begin, End: r.End, Duration: dur, BarSize: barSize}, nil
		}
	}

	dur := durations[len(durations)-1]
	mid := AddDuration(r.Begin, dur)
	return Segment{
		Begin:    r.Begin,
		End:      mid,
		Duration: dur,
		BarSize:  barSize,
		Next: &Continuation{
			Begin:       mid,
			End:         r.End,
			TimeFrame:   r.TimeFrame,
			Compression: r.Compression,
		},
	}, nil
}

// Split plans the whole continuation chain of r.
func (s Splitter) Split(r Request) ([]Segment, error) {
	var out []Segment
	for {
		seg, err := s.Plan(r)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
		if seg.Next == nil {
			return out, nil
		}
		r = seg.Next.Request()
	}
}
