package dns

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/racepulse/core/internal/observability"
)

// Sink delivers a notification payload to one subscriber over a declared
// channel. WSM, SSE, and webhook transports each implement this so
// Dispatcher stays decoupled from any one fanout mechanism.
type Sink interface {
	Deliver(ctx context.Context, sub *Subscription, n Notification) error
}

// Dispatcher routes notifications to matching subscriptions and records
// delivery statistics, per spec.md §4.7.
type Dispatcher struct {
	registry *Registry
	sinks    map[Channel]Sink

	mu            sync.RWMutex
	notifications map[string]*Notification // retained until expiry, for Cleanup
}

// NewDispatcher builds a Dispatcher over registry, dispatching through
// the given per-channel sinks.
func NewDispatcher(registry *Registry, sinks map[Channel]Sink) *Dispatcher {
	return &Dispatcher{
		registry:      registry,
		sinks:         sinks,
		notifications: make(map[string]*Notification),
	}
}

// Send computes the deterministic target set and dispatches through each
// matching subscription's declared channel, per spec.md §4.7:
// {s | s.active ∧ category∈s.categories ∧ priority≥s.minPriority ∧
// (allow-list matches or is empty) ∧ not rate-limited}.
func (d *Dispatcher) Send(ctx context.Context, n Notification) Notification {
	start := time.Now()
	targets := d.targetSet(n)

	var successes, failures int
	var totalLatency time.Duration

	for _, sub := range targets {
		sink, ok := d.sinks[sub.Channel]
		if !ok {
			failures++
			continue
		}
		deliveryStart := time.Now()
		err := sink.Deliver(ctx, sub, n)
		totalLatency += time.Since(deliveryStart)
		if err != nil {
			log.Printf("dns: delivery to subscription %s failed: %v", sub.ID, err)
			failures++
			continue
		}
		successes++
		d.registry.markDelivered(sub.ID, start)
		observability.NotificationsDispatched.WithLabelValues(string(n.Category), string(sub.Channel)).Inc()
	}

	n.Stats = DeliveryStats{
		Recipients: len(targets),
		Successes:  successes,
		Failures:   failures,
	}
	if len(targets) > 0 {
		n.Stats.AverageLatency = totalLatency / time.Duration(len(targets))
	}

	d.mu.Lock()
	d.notifications[n.ID] = &n
	d.mu.Unlock()

	return n
}

func (d *Dispatcher) targetSet(n Notification) []*Subscription {
	var out []*Subscription
	for _, sub := range d.registry.Snapshot() {
		if !sub.Active {
			continue
		}
		if !sub.matchesCategory(n.Category) {
			continue
		}
		if n.Priority < sub.MinPriority {
			continue
		}
		if !sub.matchesAllowList(n) {
			continue
		}
		if d.registry.rateLimited(sub.ID) {
			observability.NotificationsRateLimited.Inc()
			continue
		}
		out = append(out, sub)
	}
	return out
}

// evictExpired removes every retained notification whose ExpiresAt has
// passed, returning the count removed.
func (d *Dispatcher) evictExpired(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for id, n := range d.notifications {
		if !n.ExpiresAt.IsZero() && now.After(n.ExpiresAt) {
			delete(d.notifications, id)
			removed++
		}
	}
	return removed
}

// Get returns a retained notification by ID, or nil if unknown/expired.
func (d *Dispatcher) Get(id string) *Notification {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifications[id]
	if !ok {
		return nil
	}
	cp := *n
	return &cp
}
