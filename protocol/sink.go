package protocol

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/supalytics/streamgate/gateway"
)

const writeWait = 10 * time.Second

// wsSink adapts a *websocket.Conn to gateway.Sink. gorilla/websocket permits
// only one concurrent writer per connection; wsSink's own mutex is the
// single point that enforces that, covering both the gateway's frame writes
// (already themselves serialized by Connection's write lock) and the
// server's independent ping goroutine.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{conn: conn}
}

// Send implements gateway.Sink.
func (s *wsSink) Send(f gateway.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}

// ping writes a control ping frame, serialized against Send the same way.
func (s *wsSink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}
