package gateway

import "errors"

// Admission and cancellation error kinds.
var (
	ErrInvalidRequest   = errors.New("gateway: streamId and queryId are required")
	ErrDuplicateStream  = errors.New("gateway: streamId already active on this connection")
	ErrQueueFull        = errors.New("gateway: queue is full")
	ErrStreamNotFound   = errors.New("gateway: streamId not active")
	ErrConnectionClosed = errors.New("gateway: connection is closed")
)
