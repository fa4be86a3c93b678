package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meetmind-asr-relay/internal/models"
)

var errSinkClosed = errors.New("client connection closed")

// sink serializes writes to one client connection. gorilla/websocket allows
// only one concurrent writer and both the session and keepalive write.
type sink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newSink(conn *websocket.Conn, writeTimeout time.Duration) *sink {
	return &sink{conn: conn, writeTimeout: writeTimeout}
}

// Send writes one event as a JSON text frame.
func (s *sink) Send(ev models.ClientEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSinkClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(ev)
}

// Close sends a normal close frame and closes the connection.
func (s *sink) Close() error {
	return s.closeWith(websocket.CloseNormalClosure, "")
}

func (s *sink) closeWith(code int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	msg := websocket.FormatCloseMessage(code, text)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout))
	return s.conn.Close()
}

func (s *sink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSinkClosed
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

// keepAlive pings the client until done is closed or a ping fails.
func (s *sink) keepAlive(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.ping(); err != nil {
				return
			}
		}
	}
}
