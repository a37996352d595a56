package exception

import "github.com/yanun0323/errors"

var (
	ErrUnsupportedTimeframe = errors.New("market data: unsupported timeframe")
	ErrUnsupportedBarSize   = errors.New("market data: unsupported bar size")
	ErrInvalidRange         = errors.New("market data: invalid range")
	ErrMalformedTick        = errors.New("market data: malformed tick")
)
