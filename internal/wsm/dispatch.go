package wsm

import (
	"context"
	"time"

	"github.com/racepulse/core/internal/observability"
)

// Serve runs a session's read pump until the connection closes or ctx is
// done, the generalized analog of api_stream.go's handleDashboardStream
// read loop: one logical reader per connection, dispatching by message
// type instead of discarding every frame.
func (h *Hub) Serve(ctx context.Context, sess *Session) {
	defer h.Unregister(sess.ID)

	_ = sess.conn.SetReadDeadline(time.Now().Add(h.cfg.ConnectionTimeout))
	sess.markPong()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if sess.isClosed() {
			return
		}

		frame, err := sess.readRaw()
		if err != nil {
			return
		}
		_ = sess.conn.SetReadDeadline(time.Now().Add(h.cfg.ConnectionTimeout))
		sess.markPong() // any client frame counts as liveness, not just a native pong control frame

		if !h.limiter.allow(sess.ID) {
			h.rateLimitDrops.Add(1)
			observability.RateLimitViolations.WithLabelValues(sess.ID).Inc()
			sess.enqueue(OutboundFrame{Type: TypeError, Timestamp: time.Now(), ConnectionID: sess.ID, Code: ErrRateLimitExceeded, Message: "message rate exceeded"})
			continue
		}

		h.dispatch(sess, frame)
	}
}

func (h *Hub) dispatch(sess *Session, frame InboundFrame) {
	now := time.Now()
	switch frame.Type {
	case TypePing:
		sess.markPong()
		sess.enqueue(OutboundFrame{Type: TypePong, Timestamp: now, ConnectionID: sess.ID, PongTimestamp: timePtr(now)})
	case TypeSubscribe:
		h.handleSubscribe(sess, frame.Topics)
	case TypeUnsubscribe:
		h.handleUnsubscribe(sess, frame.Topics)
	case TypeGetSubscriptions:
		sess.enqueue(OutboundFrame{Type: TypeSubscriptions, Timestamp: now, ConnectionID: sess.ID, Subscriptions: sess.subscriptionList()})
	case TypeGetStats:
		if !sess.Principal.Admin {
			sess.enqueue(OutboundFrame{Type: TypeError, Timestamp: now, ConnectionID: sess.ID, Code: ErrUnknownMessageType, Message: "get-stats requires admin"})
			return
		}
		stats := h.stats()
		sess.enqueue(OutboundFrame{Type: TypeStats, Timestamp: now, ConnectionID: sess.ID, Stats: &stats})
	default:
		sess.enqueue(OutboundFrame{Type: TypeError, Timestamp: now, ConnectionID: sess.ID, Code: ErrUnknownMessageType, Message: "unrecognized message type"})
	}
}

func (h *Hub) handleSubscribe(sess *Session, topics []string) {
	now := time.Now()
	if len(topics) == 0 {
		sess.enqueue(OutboundFrame{Type: TypeError, Timestamp: now, ConnectionID: sess.ID, Code: ErrInvalidTopics, Message: "subscribe requires at least one topic"})
		return
	}

	var valid, invalid []string
	for _, t := range topics {
		if authorizeTopic(sess.Principal, t) {
			sess.subscribe(t)
			valid = append(valid, t)
		} else {
			invalid = append(invalid, t)
		}
	}

	sess.enqueue(OutboundFrame{
		Type: TypeSubscriptionResult, Timestamp: now, ConnectionID: sess.ID,
		ValidTopics: valid, InvalidTopics: invalid, TotalSubscriptions: len(sess.subscriptionList()),
	})
}

func (h *Hub) handleUnsubscribe(sess *Session, topics []string) {
	for _, t := range topics {
		sess.unsubscribe(t)
	}
	sess.enqueue(OutboundFrame{
		Type: TypeUnsubscriptionResult, Timestamp: time.Now(), ConnectionID: sess.ID,
		TotalSubscriptions: len(sess.subscriptionList()),
	})
}
