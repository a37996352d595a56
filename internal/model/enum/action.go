package enum

import (
	"strings"

	"ibbridge/pkg/exception"

	"github.com/yanun0323/errors"
)

// Action is the side of an order.
type Action uint8

const (
	_action_beg Action = iota
	ActionBuy
	ActionSell
	_action_end
)

func (a Action) IsAvailable() bool {
	return a > _action_beg && a < _action_end
}

// String returns the broker wire form.
func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	default:
		return ""
	}
}

// Sign is +1 for buys and -1 for sells.
func (a Action) Sign() int64 {
	switch a {
	case ActionBuy:
		return 1
	case ActionSell:
		return -1
	default:
		return 0
	}
}

// ActionFromSide maps an execution side ("BOT"/"SLD", "B"/"S") to an action.
func ActionFromSide(side string) Action {
	switch strings.ToUpper(side) {
	case "BOT", "B", "BUY":
		return ActionBuy
	case "SLD", "S", "SELL":
		return ActionSell
	default:
		return _action_beg
	}
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	v := ActionFromSide(string(text))
	if !v.IsAvailable() {
		return errors.Wrapf(exception.ErrArgumentUnsupported, "action %q", string(text))
	}
	*a = v
	return nil
}
