package wsm

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/racepulse/core/internal/observability"
)

// Config is the process-wide WSM tuning, read once at init per spec.md §6.
type Config struct {
	MaxConnections      int
	HeartbeatInterval   time.Duration
	ConnectionTimeout   time.Duration
	RateLimitWindow     time.Duration
	RateLimitMax        int
	ShutdownGraceWindow time.Duration
	ShutdownReconnectDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConnections:         200,
		HeartbeatInterval:      30 * time.Second,
		ConnectionTimeout:      60 * time.Second,
		RateLimitWindow:        time.Second,
		RateLimitMax:           20,
		ShutdownGraceWindow:    5 * time.Second,
		ShutdownReconnectDelay: 3 * time.Second,
	}
}

type registration struct {
	session *Session
	result  chan bool
}

// Hub is the single broadcaster: it owns the session table and the
// topic→session index, generalizing MetricsHub's single-ticker,
// register/unregister-channel pattern from one tenant-keyed metrics push
// into arbitrary topic-filtered broadcast.
type Hub struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session

	register   chan registration
	unregister chan string

	limiter        *sessionLimiter
	rateLimitDrops atomic.Int64

	shutdown chan struct{}
}

// NewHub builds a Hub with the given configuration.
func NewHub(cfg Config) *Hub {
	return &Hub{
		cfg:        cfg,
		sessions:   make(map[string]*Session),
		register:   make(chan registration),
		unregister: make(chan string),
		limiter:    newSessionLimiter(cfg.RateLimitWindow, cfg.RateLimitMax),
		shutdown:   make(chan struct{}),
	}
}

// Accept registers a new authenticated connection, rejecting the
// handshake for missing realtime-access or a full connection table, per
// spec.md §4.6.
func (h *Hub) Accept(principal Principal, conn Conn) (*Session, error) {
	if err := requireRealtimeAccess(principal); err != nil {
		return nil, err
	}

	h.mu.RLock()
	full := len(h.sessions) >= h.cfg.MaxConnections
	h.mu.RUnlock()
	if full {
		return nil, errMaxConnections
	}

	sess := newSession(uuid.NewString(), principal, conn)
	result := make(chan bool, 1)
	h.register <- registration{session: sess, result: result}
	if !<-result {
		return nil, errMaxConnections
	}

	go sess.writePump()
	sess.enqueue(OutboundFrame{
		Type:         TypeWelcome,
		Timestamp:    time.Now(),
		ConnectionID: sess.ID,
		ServerTime:   timePtr(time.Now()),
		Capabilities: []string{"subscribe", "unsubscribe", "get-subscriptions"},
	})
	observability.ActiveSessions.Inc()
	return sess, nil
}

// Run drives the hub's register/unregister/heartbeat loop, the topic-
// generalized analog of MetricsHub.Run's select loop.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdownAll()
			return
		case reg := <-h.register:
			h.mu.Lock()
			if len(h.sessions) >= h.cfg.MaxConnections {
				h.mu.Unlock()
				reg.result <- false
				continue
			}
			h.sessions[reg.session.ID] = reg.session
			h.mu.Unlock()
			reg.result <- true
			log.Printf("wsm: session %s registered for principal %s", reg.session.ID, reg.session.Principal.ID)
		case id := <-h.unregister:
			h.mu.Lock()
			if sess, ok := h.sessions[id]; ok {
				delete(h.sessions, id)
				sess.close()
			}
			h.mu.Unlock()
			h.limiter.forget(id)
			observability.ActiveSessions.Dec()
		case <-ticker.C:
			h.heartbeatAll()
		}
	}
}

// Unregister removes a session by id.
func (h *Hub) Unregister(id string) {
	h.unregister <- id
}

func (h *Hub) heartbeatAll() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	now := time.Now()
	for _, s := range sessions {
		if now.Sub(s.lastPongAt()) > h.cfg.ConnectionTimeout {
			s.enqueue(OutboundFrame{Type: TypeError, Timestamp: now, ConnectionID: s.ID, Code: "CONNECTION_TIMEOUT", Message: "no pong within connectionTimeout"})
			s.close()
			go h.Unregister(s.ID)
			continue
		}
		s.enqueue(OutboundFrame{Type: TypePing, Timestamp: now, ConnectionID: s.ID})
	}
}

// Broadcast publishes payload to topic, visiting every subscribed session
// filtered by allowList (nil/empty = no filter) and requiredPermission
// ("" = none), per spec.md §4.6's broadcast semantics.
func (h *Hub) Broadcast(topic string, payload any, allowList []string, requiredPermission string) int {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	allowed := toSet(allowList)
	delivered := 0
	now := time.Now()
	for _, s := range sessions {
		if !s.isSubscribed(topic) {
			continue
		}
		if len(allowed) > 0 && !allowed[s.Principal.ID] {
			continue
		}
		if requiredPermission != "" && !s.Principal.Admin && !s.Principal.Has(requiredPermission) {
			continue
		}
		ok := s.enqueue(OutboundFrame{Type: MessageType(topic), Timestamp: now, ConnectionID: s.ID, Payload: payload})
		if !ok {
			s.close()
			go h.Unregister(s.ID)
			observability.BroadcastFailures.WithLabelValues(topic).Inc()
			continue
		}
		delivered++
	}
	return delivered
}

// shutdownAll broadcasts server-shutdown then closes every session within
// the configured grace window, per spec.md §4.6.
func (h *Hub) shutdownAll() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	now := time.Now()
	for _, s := range sessions {
		s.enqueue(OutboundFrame{
			Type: "server-shutdown", Timestamp: now, ConnectionID: s.ID,
			Payload: map[string]any{"reconnectDelayMs": h.cfg.ShutdownReconnectDelay.Milliseconds()},
		})
	}
	time.Sleep(h.cfg.ShutdownGraceWindow)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		s.close()
	}
	h.sessions = make(map[string]*Session)
}

// stats returns a point-in-time snapshot for the admin get-stats frame.
func (h *Hub) stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := make(map[string]int)
	for _, s := range h.sessions {
		for _, t := range s.subscriptionList() {
			counts[t]++
		}
	}
	return Stats{ActiveSessions: len(h.sessions), TopicCounts: counts, RateLimitDrops: int(h.rateLimitDrops.Load())}
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

func timePtr(t time.Time) *time.Time { return &t }
