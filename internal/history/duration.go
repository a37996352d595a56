package history

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"ibbridge/internal/model/enum"
	"ibbridge/pkg/exception"

	"github.com/yanun0323/errors"
)

// Unit is the dimension letter of a broker duration string.
type Unit byte

const (
	UnitSeconds Unit = 'S'
	UnitDays    Unit = 'D'
	UnitWeeks   Unit = 'W'
	UnitMonths  Unit = 'M'
	UnitYears   Unit = 'Y'
)

var _unitTimeFrame = map[Unit]enum.TimeFrame{
	UnitSeconds: enum.TimeFrameSeconds,
	UnitDays:    enum.TimeFrameDays,
	UnitWeeks:   enum.TimeFrameWeeks,
	UnitMonths:  enum.TimeFrameMonths,
	UnitYears:   enum.TimeFrameYears,
}

// Duration is a broker duration such as "60 S" or "2 M".
type Duration struct {
	N    int
	Unit Unit
}

func (d Duration) String() string {
	if d.N == 0 {
		return ""
	}
	return strconv.Itoa(d.N) + " " + string(d.Unit)
}

func (d Duration) IsZero() bool {
	return d.N == 0
}

// less orders durations by real length.
func (d Duration) less(o Duration) bool {
	a, b := _unitTimeFrame[d.Unit], _unitTimeFrame[o.Unit]
	if a != b {
		return a < b
	}
	return d.N < o.N
}

// ParseDuration parses "N U".
func ParseDuration(s string) (Duration, error) {
	n, u, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok || len(u) != 1 {
		return Duration{}, errors.Wrapf(exception.ErrInvalidArgument, "duration %q", s)
	}
	v, err := strconv.Atoi(n)
	if err != nil || v <= 0 {
		return Duration{}, errors.Wrapf(exception.ErrInvalidArgument, "duration %q", s)
	}
	unit := Unit(u[0])
	if _, ok := _unitTimeFrame[unit]; !ok {
		return Duration{}, errors.Wrapf(exception.ErrInvalidArgument, "duration unit %q", s)
	}
	return Duration{N: v, Unit: unit}, nil
}

func mustDuration(s string) Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}

// AddDuration moves t forward by d. Calendar units keep the day of month,
// clamped to the last day of the target month.
func AddDuration(t time.Time, d Duration) time.Time {
	switch d.Unit {
	case UnitSeconds:
		return t.Add(time.Duration(d.N) * time.Second)
	case UnitDays:
		return t.AddDate(0, 0, d.N)
	case UnitWeeks:
		return t.AddDate(0, 0, 7*d.N)
	case UnitMonths:
		return addMonths(t, d.N)
	case UnitYears:
		return addMonths(t, 12*d.N)
	default:
		return t
	}
}

func addMonths(t time.Time, n int) time.Time {
	y, m, day := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// BarSize is a (timeframe, compression) pair.
type BarSize struct {
	TimeFrame   enum.TimeFrame
	Compression int
}

var _barUnits = map[string]BarSize{
	"secs":  {enum.TimeFrameSeconds, 1},
	"min":   {enum.TimeFrameMinutes, 1},
	"mins":  {enum.TimeFrameMinutes, 1},
	"hour":  {enum.TimeFrameMinutes, 60},
	"hours": {enum.TimeFrameMinutes, 60},
	"day":   {enum.TimeFrameDays, 1},
	"W":     {enum.TimeFrameWeeks, 1},
	"M":     {enum.TimeFrameMonths, 1},
}

// ParseBarSize converts a broker bar size string into its timeframe key.
func ParseBarSize(s string) (BarSize, error) {
	n, u, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok {
		return BarSize{}, errors.Wrapf(exception.ErrUnsupportedBarSize, "%q", s)
	}
	v, err := strconv.Atoi(n)
	if err != nil || v <= 0 {
		return BarSize{}, errors.Wrapf(exception.ErrUnsupportedBarSize, "%q", s)
	}
	base, ok := _barUnits[u]
	if !ok {
		return BarSize{}, errors.Wrapf(exception.ErrUnsupportedBarSize, "%q", s)
	}
	return BarSize{TimeFrame: base.TimeFrame, Compression: base.Compression * v}, nil
}

// SizeString renders the broker bar size for a timeframe and compression.
func SizeString(tf enum.TimeFrame, compression int) (string, bool) {
	c := compression
	switch tf {
	case enum.TimeFrameMonths:
		return strconv.Itoa(c) + " M", true
	case enum.TimeFrameWeeks:
		return strconv.Itoa(c) + " W", true
	case enum.TimeFrameDays:
		if c%7 == 0 {
			return strconv.Itoa(c/7) + " W", true
		}
		return strconv.Itoa(c) + " day", true
	case enum.TimeFrameMinutes:
		if c%60 == 0 {
			return plural(c/60, "hour"), true
		}
		return plural(c, "min"), true
	case enum.TimeFrameSeconds:
		return strconv.Itoa(c) + " secs", true
	default:
		return "", false
	}
}

func plural(n int, unit string) string {
	s := strconv.Itoa(n) + " " + unit
	if n > 1 {
		s += "s"
	}
	return s
}

var (
	_secs = []string{"1 secs", "5 secs", "10 secs", "15 secs", "30 secs"}
	_mins = []string{"1 min", "2 mins", "3 mins", "5 mins", "10 mins", "15 mins", "20 mins", "30 mins"}
	_hrs  = []string{"1 hour", "2 hours", "3 hours", "4 hours", "8 hours"}
	_long = []string{"1 day", "1 W", "1 M"}
)

func join(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// _durationTable is the broker's published duration to bar size table.
var _durationTable = []struct {
	duration string
	sizes    []string
}{
	{"60 S", join(_secs, _mins[:1])},
	{"120 S", join(_secs, _mins[:2])},
	{"180 S", join(_secs, _mins[:3])},
	{"300 S", join(_secs, _mins[:4])},
	{"600 S", join(_secs, _mins[:5])},
	{"900 S", join(_secs, _mins[:6])},
	{"1200 S", join(_secs, _mins[:7])},
	{"1800 S", join(_secs, _mins)},
	{"3600 S", join(_secs[1:], _mins, _hrs[:1])},
	{"7200 S", join(_secs[1:], _mins, _hrs[:2])},
	{"10800 S", join(_secs[2:], _mins, _hrs[:3])},
	{"14400 S", join(_secs[3:], _mins, _hrs[:4])},
	{"28800 S", join(_secs[4:], _mins, _hrs)},
	{"1 D", join(_mins, _hrs, _long[:1])},
	{"2 D", join(_mins[1:], _hrs, _long[:1])},
	{"1 W", join(_mins[2:], _hrs, _long[:2])},
	{"2 W", join(_mins[5:], _hrs, _long[:2])},
	{"1 M", join(_mins[7:], _hrs, _long)},
	{"2 M", _long},
	{"3 M", _long},
	{"4 M", _long},
	{"5 M", _long},
	{"6 M", _long},
	{"7 M", _long},
	{"8 M", _long},
	{"9 M", _long},
	{"10 M", _long},
	{"11 M", _long},
	{"1 Y", _long},
}

var (
	_sizesByDuration = map[Duration][]string{}
	_durationsBySize = map[BarSize][]Duration{}
)

func init() {
	for _, row := range _durationTable {
		d := mustDuration(row.duration)
		_sizesByDuration[d] = row.sizes
		for _, s := range row.sizes {
			key, err := ParseBarSize(s)
			if err != nil {
				panic(err)
			}
			_durationsBySize[key] = append(_durationsBySize[key], d)
		}
	}
	for key := range _durationsBySize {
		ds := _durationsBySize[key]
		sort.Slice(ds, func(i, j int) bool { return ds[i].less(ds[j]) })
	}
}

// Durations returns the broker durations allowed for a bar size, shortest first.
func Durations(tf enum.TimeFrame, compression int) []Duration {
	return _durationsBySize[BarSize{tf, compression}]
}

// MaxDuration returns the longest duration allowed for a bar size.
func MaxDuration(tf enum.TimeFrame, compression int) (Duration, bool) {
	ds := Durations(tf, compression)
	if len(ds) == 0 {
		return Duration{}, false
	}
	return ds[len(ds)-1], true
}

// BarSizes returns the bar sizes allowed for a duration. Month spans beyond
// two and any year span share the table rows of "2 M" and "1 Y".
func BarSizes(d Duration) []string {
	switch d.Unit {
	case UnitMonths:
		d.N = min(max(d.N, 1), 2)
	case UnitYears:
		d.N = 1
	}
	return _sizesByDuration[d]
}

var _coverSeconds = []int{60, 120, 180, 300, 600, 900, 1200, 1800, 3600, 7200, 10800, 14400, 28800}

// Covering returns the smallest table duration spanning [t1, t2]. Months up
// to 11 collapse to "2 M" and anything longer to "1 Y".
func Covering(t1, t2 time.Time) Duration {
	td := t2.Sub(t1)
	secs := td.Seconds()
	idx := sort.Search(len(_coverSeconds), func(i int) bool { return float64(_coverSeconds[i]) >= secs })
	if idx < len(_coverSeconds) {
		return Duration{N: _coverSeconds[idx], Unit: UnitSeconds}
	}

	days := int(td / (24 * time.Hour))
	extra := td%(24*time.Hour) != 0
	if days <= 2 {
		return Duration{N: days + b2i(extra), Unit: UnitDays}
	}

	weeks, rem := days/7, days%7
	weeks += b2i(rem != 0 || extra)
	if weeks <= 2 {
		return Duration{N: weeks, Unit: UnitWeeks}
	}

	y1, m1, _ := t1.Date()
	y2, m2, _ := t2.Date()
	months := (y2*12 + int(m2)) - (y1*12 + int(m1))
	if laterInMonth(t2, t1) {
		months++
	}
	switch {
	case months <= 1:
		return Duration{N: 1, Unit: UnitMonths}
	case months <= 11:
		return Duration{N: 2, Unit: UnitMonths}
	default:
		return Duration{N: 1, Unit: UnitYears}
	}
}

// laterInMonth compares the day-of-month and clock parts of a and b.
func laterInMonth(a, b time.Time) bool {
	ka := []int{a.Day(), a.Hour(), a.Minute(), a.Second(), a.Nanosecond()}
	kb := []int{b.Day(), b.Hour(), b.Minute(), b.Second(), b.Nanosecond()}
	for i := range ka {
		if ka[i] != kb[i] {
			return ka[i] > kb[i]
		}
	}
	return false
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
