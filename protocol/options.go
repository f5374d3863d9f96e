package protocol

import (
	"time"

	"github.com/supalytics/streamgate/logging"
)

// Option tweaks a Server's functional-option constructors.
type Option func(*Server)

// WithMaxWorkers sets the worker count N handed to every accepted
// connection (default 3).
func WithMaxWorkers(n int) Option {
	return func(s *Server) { s.maxWorkers = n }
}

// WithQueueCapacity sets the bounded queue capacity Q handed to every
// accepted connection (default 100).
func WithQueueCapacity(n int) Option {
	return func(s *Server) { s.queueCapacity = n }
}

// WithMaxFrameBytes bounds inbound frame size (default 64KiB).
func WithMaxFrameBytes(n int64) Option {
	return func(s *Server) { s.maxFrameBytes = n }
}

// WithReadDeadline sets the liveness read deadline (default 60s); pings
// are sent at 0.9x this interval.
func WithReadDeadline(d time.Duration) Option {
	return func(s *Server) { s.readDeadline = d }
}

// WithLogFunc sets the logging callback threaded through the server and
// every connection it accepts.
func WithLogFunc(log logging.Func) Option {
	return func(s *Server) { s.log = log }
}
