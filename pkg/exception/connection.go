package exception

import "github.com/yanun0323/errors"

var (
	ErrNotConnected       = errors.New("connection: not connected")
	ErrPermanentlyFailed  = errors.New("connection: permanently failed")
	ErrRetriesExhausted   = errors.New("connection: retries exhausted")
	ErrNilDialer          = errors.New("connection: nil dialer")
	ErrManagedAccountWait = errors.New("connection: managed accounts not announced")
)
