package enum

import (
	"strings"

	"ibbridge/pkg/exception"

	"github.com/yanun0323/errors"
)

// ExecType is the closed set of order execution types.
type ExecType uint8

const (
	_exec_type_beg ExecType = iota
	ExecMarket
	ExecLimit
	ExecClose
	ExecStop
	ExecStopLimit
	ExecStopTrail
	ExecStopTrailLimit
	_exec_type_end
)

var _execTypeWire = map[ExecType]string{
	ExecMarket:         "MKT",
	ExecLimit:          "LMT",
	ExecClose:          "MOC",
	ExecStop:           "STP",
	ExecStopLimit:      "STPLMT",
	ExecStopTrail:      "TRAIL",
	ExecStopTrailLimit: "TRAIL LIMIT",
}

func (e ExecType) IsAvailable() bool {
	return e > _exec_type_beg && e < _exec_type_end
}

// String returns the broker order type.
func (e ExecType) String() string {
	return _execTypeWire[e]
}

// IsTrail reports whether the type carries a trailing amount or percent.
func (e ExecType) IsTrail() bool {
	return e == ExecStopTrail || e == ExecStopTrailLimit
}

func (e ExecType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *ExecType) UnmarshalText(text []byte) error {
	s := strings.ToUpper(strings.ReplaceAll(string(text), "_", " "))
	for k, v := range _execTypeWire {
		if v == s {
			*e = k
			return nil
		}
	}
	return errors.Wrapf(exception.ErrOrderUnsupportedType, "exec type %q", string(text))
}
