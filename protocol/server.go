// Package protocol implements the websocket upgrade at /ws, inbound frame
// decode, liveness ping/pong, and an unauthenticated /health endpoint. One
// accepted connection owns exactly one gateway.Connection.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/supalytics/streamgate/gateway"
	"github.com/supalytics/streamgate/logging"
)

// Server upgrades incoming HTTP requests at /ws to a persistent transport
// and drives one gateway.Connection per accepted socket.
type Server struct {
	Resolve gateway.Resolve

	maxWorkers    int
	queueCapacity int
	maxFrameBytes int64
	readDeadline  time.Duration
	log           logging.Func

	upgrader websocket.Upgrader
}

// NewServer builds a Server around resolve (normally resolver.Resolve bound
// to a concrete metastore + driver registry), applying package defaults
// until overridden by opts.
func NewServer(resolve gateway.Resolve, opts ...Option) *Server {
	s := &Server{
		Resolve:       resolve,
		maxWorkers:    3,
		queueCapacity: 100,
		maxFrameBytes: 64 * 1024,
		readDeadline:  60 * time.Second,
		log:           logging.Discard,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeWS upgrades the request to a websocket transport, runs one
// gateway.Connection for its lifetime, and blocks until the transport
// closes.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log(logging.Warn, "websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	sink := newWSSink(conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	gwConn := gateway.New(ctx, s.queueCapacity, s.maxWorkers, s.Resolve, sink, s.log)
	gwConn.Start()
	defer gwConn.Close()

	conn.SetReadLimit(s.maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(s.readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readDeadline))
		return nil
	})

	pingInterval := time.Duration(float64(s.readDeadline) * 0.9)
	stopPing := make(chan struct{})
	go s.pingLoop(sink, pingInterval, stopPing)
	defer close(stopPing)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !s.handleInbound(gwConn, sink, raw) {
			return
		}
	}
}

// Health replies 200 "healthy", handled directly with net/http rather than
// a router.
func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "healthy")
}

func (s *Server) pingLoop(sink *wsSink, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := sink.ping(); err != nil {
				return
			}
		}
	}
}

// handleInbound decodes and routes one inbound frame. It returns false when
// the transport has no recoverable streamId to report against and must be
// closed, true otherwise.
func (s *Server) handleInbound(conn *gateway.Connection, sink *wsSink, raw []byte) bool {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.log(logging.Warn, "malformed frame: %v", err)
		return false
	}

	switch frame.Type {
	case "query":
		return s.handleQuery(conn, sink, frame)
	case "cancel":
		return s.handleCancel(conn, sink, frame)
	default:
		if frame.StreamID == "" {
			s.log(logging.Warn, "unknown frame type %q with no streamId", frame.Type)
			return false
		}
		sink.Send(gateway.Frame{
			Type:     "error",
			StreamID: frame.StreamID,
			Payload:  gateway.ErrorPayload{Error: fmt.Sprintf("unknown frame type %q", frame.Type), Code: "ProtocolError"},
		})
		return true
	}
}

func (s *Server) handleQuery(conn *gateway.Connection, sink *wsSink, frame InboundFrame) bool {
	if frame.StreamID == "" {
		s.log(logging.Warn, "query frame missing streamId")
		return false
	}
	if frame.QueryID == "" {
		s.sendAdmissionFailure(sink, frame.StreamID, gateway.ErrInvalidRequest, "InvalidRequest")
		return true
	}

	if err := conn.Admit(frame.StreamID, frame.QueryID, frame.TemplateData); err != nil {
		s.sendAdmissionFailure(sink, frame.StreamID, err, admissionCode(err))
	}
	return true
}

func (s *Server) handleCancel(conn *gateway.Connection, sink *wsSink, frame InboundFrame) bool {
	if frame.StreamID == "" {
		s.log(logging.Warn, "cancel frame missing streamId")
		return false
	}

	if err := conn.Cancel(frame.StreamID); err != nil {
		// Late/unknown cancellation: logging and discarding would also be
		// valid, but a non-fatal error frame costs the caller nothing.
		sink.Send(gateway.Frame{
			Type:     "error",
			StreamID: frame.StreamID,
			Payload:  gateway.ErrorPayload{Error: err.Error(), Code: "StreamNotFound"},
		})
	}
	return true
}

func (s *Server) sendAdmissionFailure(sink *wsSink, streamID string, err error, code string) {
	sink.Send(gateway.Frame{Type: "error", StreamID: streamID, Payload: gateway.ErrorPayload{Error: err.Error(), Code: code}})
	sink.Send(gateway.Frame{Type: "status", StreamID: streamID, Payload: gateway.StatusPayload{Status: "failed"}})
}

func admissionCode(err error) string {
	switch {
	case errors.Is(err, gateway.ErrDuplicateStream):
		return "DuplicateStream"
	case errors.Is(err, gateway.ErrQueueFull):
		return "QueueFull"
	default:
		return "InvalidRequest"
	}
}
