package exception

import "github.com/yanun0323/errors"

var (
	ErrRequestNotFound = errors.New("router: request id not found")
	ErrQueueFull       = errors.New("bus: event queue full")
	ErrQueueClosed     = errors.New("bus: event queue closed")
)
