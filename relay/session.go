// Package relay implements the connection-and-correlation engine: role-based
// session admission, forwarding of consumer requests to the single producer
// session, matching of asynchronous producer responses back to the
// originating consumer, timeout supervision, and cleanup of in-flight state
// on disconnect.
package relay

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jousa-sbrt/remote-bridge/errors"
	"github.com/jousa-sbrt/remote-bridge/protocol"
)

// Session is a single live websocket connection. A session has exactly one
// role for its lifetime once authenticated; the role never changes.
type Session struct {
	id   string
	conn *websocket.Conn
	role string // set once by the authenticator, before the role loop starts

	// Producer generation this session was registered under. Zero for
	// consumers and unregistered sessions.
	generation uint64

	// Gorilla permits one concurrent writer per connection.
	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession wraps an upgraded websocket connection.
func NewSession(conn *websocket.Conn) *Session {
	return &Session{
		id:   uuid.NewString(),
		conn: conn,
		done: make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Role returns the session's authenticated role, or "" before auth.
func (s *Session) Role() string {
	return s.role
}

// Send marshals and writes a message to the connection.
func (s *Session) Send(msg *protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.WrapInvalid(err, "Session", "Send", "marshal message")
	}
	return s.SendText(data)
}

// SendText writes raw text bytes to the connection. Used for verbatim
// forwarding of producer responses.
func (s *Session) SendText(data []byte) error {
	if s.closed.Load() {
		return errors.ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapTransient(err, "Session", "SendText", "write message")
	}
	return nil
}

// ReadMessage blocks until the next inbound message or a read error.
func (s *Session) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, errors.WrapTransient(err, "Session", "ReadMessage", "read message")
	}
	return data, nil
}

// CloseWithCode sends a close frame with the given code and reason, then
// closes the connection. Safe to call multiple times.
func (s *Session) CloseWithCode(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
		)
		s.writeMu.Unlock()

		_ = s.conn.Close()
	})
}

// Close closes the connection with a normal closure frame.
func (s *Session) Close() {
	s.CloseWithCode(websocket.CloseNormalClosure, "")
}

// startKeepalive launches the ping loop and installs the pong handler. The
// read deadline tolerates two missed keepalive intervals before the read
// loop fails the connection.
func (s *Session) startKeepalive(interval time.Duration) {
	pongWait := 2 * interval

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.writeMu.Lock()
				_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				err := s.conn.WriteMessage(websocket.PingMessage, nil)
				s.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
}
