package dns

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Registry owns the subscription table, mutated only via its public
// operations, per spec.md §5's shared-resource ownership rule.
type Registry struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter // subscriptionID -> per-minute cap
}

func NewRegistry() *Registry {
	return &Registry{
		subscriptions: make(map[string]*Subscription),
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Add registers sub, replacing any prior subscription with the same ID.
func (r *Registry) Add(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions[sub.ID] = sub

	r.limMu.Lock()
	r.limiters[sub.ID] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(maxInt(sub.PerMinuteCap, 1))), maxInt(sub.PerMinuteCap, 1))
	r.limMu.Unlock()
}

// Remove deletes a subscription by ID.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.subscriptions, id)
	r.mu.Unlock()

	r.limMu.Lock()
	delete(r.limiters, id)
	r.limMu.Unlock()
}

// Get returns a snapshot copy of a subscription, or nil if unknown.
func (r *Registry) Get(id string) *Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subscriptions[id]
	if !ok {
		return nil
	}
	cp := *sub
	return &cp
}

// Snapshot returns a copy of every registered subscription, for deterministic
// target-set computation without holding the registry lock during dispatch.
func (r *Registry) Snapshot() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.subscriptions))
	for _, sub := range r.subscriptions {
		cp := *sub
		out = append(out, &cp)
	}
	return out
}

func (r *Registry) markDelivered(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subscriptions[id]; ok {
		sub.LastDelivery = at
	}
}

// rateLimited reports whether id has exceeded its per-minute cap.
func (r *Registry) rateLimited(id string) bool {
	r.limMu.Lock()
	lim, ok := r.limiters[id]
	r.limMu.Unlock()
	if !ok {
		return false
	}
	return !lim.Allow()
}

// idleSince reports how long id has gone without a delivery.
func (r *Registry) idleSince(id string, now time.Time) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subscriptions[id]
	if !ok {
		return 0
	}
	since := sub.CreatedAt
	if !sub.LastDelivery.IsZero() {
		since = sub.LastDelivery
	}
	return now.Sub(since)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
