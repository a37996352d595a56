package enum

import (
	"strings"

	"ibbridge/pkg/exception"

	"github.com/yanun0323/errors"
)

type TimeInForce uint8

const (
	_tif_beg TimeInForce = iota
	TimeInForceGTC
	TimeInForceDay
	TimeInForceGTD
	_tif_end
)

func (t TimeInForce) IsAvailable() bool {
	return t > _tif_beg && t < _tif_end
}

func (t TimeInForce) String() string {
	switch t {
	case TimeInForceGTC:
		return "GTC"
	case TimeInForceDay:
		return "DAY"
	case TimeInForceGTD:
		return "GTD"
	default:
		return ""
	}
}

func (t TimeInForce) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeInForce) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "", "GTC":
		*t = TimeInForceGTC
	case "DAY":
		*t = TimeInForceDay
	case "GTD":
		*t = TimeInForceGTD
	default:
		return errors.Wrapf(exception.ErrArgumentUnsupported, "time in force %q", string(text))
	}
	return nil
}
