package wsm

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn a session needs, so tests can
// substitute a fake transport without opening a real socket.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Session is one authenticated connection: single-threaded cooperative
// per-connection state, shared-nothing between sessions except the
// topic index the Hub owns, per spec.md §4.6.
type Session struct {
	ID        string
	Principal Principal
	conn      Conn

	mu     sync.Mutex
	topics map[string]struct{}

	lastPong time.Time

	outbound chan OutboundFrame
	closed   chan struct{}
	closeOnce sync.Once
}

func newSession(id string, principal Principal, conn Conn) *Session {
	return &Session{
		ID: id, Principal: principal, conn: conn,
		topics:   make(map[string]struct{}),
		lastPong: time.Now(),
		outbound: make(chan OutboundFrame, 64),
		closed:   make(chan struct{}),
	}
}

func (s *Session) subscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic] = struct{}{}
}

func (s *Session) unsubscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
}

func (s *Session) isSubscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.topics[topic]
	return ok
}

func (s *Session) subscriptionList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

func (s *Session) markPong() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPong = time.Now()
}

func (s *Session) lastPongAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPong
}

// enqueue attempts a non-blocking send; a full outbound buffer means the
// session is not keeping up and is treated as a send failure.
func (s *Session) enqueue(frame OutboundFrame) bool {
	select {
	case s.outbound <- frame:
		return true
	default:
		return false
	}
}

// writePump drains the outbound queue into the transport. Best-effort per
// spec.md §4.6: a write failure closes the session.
func (s *Session) writePump() {
	for {
		select {
		case <-s.closed:
			return
		case frame := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := s.conn.WriteJSON(frame); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// readRaw reads one client frame as raw JSON, surfacing decode errors to
// the caller so it can emit an INVALID_JSON error frame rather than
// closing the session outright.
func (s *Session) readRaw() (InboundFrame, error) {
	var raw json.RawMessage
	if err := s.conn.ReadJSON(&raw); err != nil {
		return InboundFrame{}, err
	}
	var frame InboundFrame
	err := json.Unmarshal(raw, &frame)
	return frame, err
}
