package wsm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn is a hand-rolled in-memory Conn, mirroring manager_test.go's
// scriptedDialer style of faking transport rather than pulling in a
// mocking library.
type fakeConn struct {
	mu      sync.Mutex
	written []OutboundFrame
	inbox   []InboundFrame
	pos     int
	closed  bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed conn")
	}
	frame, ok := v.(OutboundFrame)
	if !ok {
		return errors.New("unexpected outbound type")
	}
	c.written = append(c.written, frame)
	return nil
}

func (c *fakeConn) ReadJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos >= len(c.inbox) {
		return errors.New("no more scripted frames")
	}
	frame := c.inbox[c.pos]
	c.pos++
	raw, _ := json.Marshal(frame)
	ptr, ok := v.(*json.RawMessage)
	if !ok {
		return errors.New("unexpected read target")
	}
	*ptr = raw
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) frames() []OutboundFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]OutboundFrame, len(c.written))
	copy(out, c.written)
	return out
}

func testHub() *Hub {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Hour // don't let the ticker interfere with synchronous tests
	return NewHub(cfg)
}

func TestHandshakeRejectsWithoutRealtimeAccess(t *testing.T) {
	h := testHub()
	go h.Run(context.Background())

	_, err := h.Accept(Principal{ID: "p1", Permissions: []string{"race-data"}}, &fakeConn{})
	if err == nil {
		t.Fatalf("expected handshake rejection without realtime-access")
	}
}

func TestHandshakeRejectsAboveMaxConnections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	cfg.HeartbeatInterval = time.Hour
	h := NewHub(cfg)
	go h.Run(context.Background())

	p := Principal{ID: "p1", Permissions: []string{"realtime-access"}}
	if _, err := h.Accept(p, &fakeConn{}); err != nil {
		t.Fatalf("first connection should be accepted: %v", err)
	}
	if _, err := h.Accept(p, &fakeConn{}); err == nil {
		t.Fatalf("expected second connection to be rejected over maxConnections")
	}
}

func TestSubscribeRequiresTopicPermission(t *testing.T) {
	h := testHub()
	go h.Run(context.Background())

	p := Principal{ID: "p1", Permissions: []string{"realtime-access"}}
	conn := &fakeConn{}
	sess, err := h.Accept(p, conn)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	h.handleSubscribe(sess, []string{TopicRacePositions, TopicTeamTactics})
	if !sess.isSubscribed(TopicRacePositions) {
		t.Fatalf("expected wildcard subscription to fail-open topic without race-data to be rejected, not this one")
	}
	if sess.isSubscribed(TopicTeamTactics) {
		t.Fatalf("expected team.tactics subscription to be rejected without team-data permission")
	}
}

func TestAdminBypassesTopicTable(t *testing.T) {
	h := testHub()
	go h.Run(context.Background())

	p := Principal{ID: "admin", Permissions: []string{"realtime-access"}, Admin: true}
	sess, err := h.Accept(p, &fakeConn{})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	h.handleSubscribe(sess, []string{TopicTeamTactics})
	if !sess.isSubscribed(TopicTeamTactics) {
		t.Fatalf("expected admin to bypass the topic permission table")
	}
}

func TestBroadcastDeliversOnlyToSubscribedAndPermitted(t *testing.T) {
	h := testHub()
	go h.Run(context.Background())

	subscribed := Principal{ID: "s1", Permissions: []string{"realtime-access", "race-data"}}
	unsubscribed := Principal{ID: "s2", Permissions: []string{"realtime-access", "race-data"}}

	sessA, _ := h.Accept(subscribed, &fakeConn{})
	sessB, _ := h.Accept(unsubscribed, &fakeConn{})
	sessA.subscribe(TopicRacePositions)

	delivered := h.Broadcast(TopicRacePositions, map[string]any{"riderId": "r1"}, nil, "")
	if delivered != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", delivered)
	}
	_ = sessB
}

func TestRateLimitDropsExcessMessages(t *testing.T) {
	h := testHub()
	h.cfg.RateLimitMax = 1
	h.limiter = newSessionLimiter(time.Minute, 1)
	go h.Run(context.Background())

	p := Principal{ID: "s1", Permissions: []string{"realtime-access"}}
	conn := &fakeConn{inbox: []InboundFrame{
		{Type: TypeGetSubscriptions},
		{Type: TypeGetSubscriptions},
	}}
	sess, err := h.Accept(p, conn)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	h.Serve(ctx, sess)

	var rateLimitErrors int
	for _, f := range conn.frames() {
		if f.Type == TypeError && f.Code == ErrRateLimitExceeded {
			rateLimitErrors++
		}
	}
	if rateLimitErrors == 0 {
		t.Fatalf("expected at least one rate-limit error frame, got frames: %+v", conn.frames())
	}
}

func TestUnknownMessageTypeYieldsErrorFrame(t *testing.T) {
	h := testHub()
	go h.Run(context.Background())

	p := Principal{ID: "s1", Permissions: []string{"realtime-access"}}
	sess, err := h.Accept(p, &fakeConn{})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	h.dispatch(sess, InboundFrame{Type: "nonsense"})

	select {
	case frame := <-sess.outbound:
		if frame.Type != TypeError || frame.Code != ErrUnknownMessageType {
			t.Fatalf("expected UNKNOWN_MESSAGE_TYPE error frame, got %+v", frame)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for error frame")
	}
}
