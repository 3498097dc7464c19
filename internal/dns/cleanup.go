package dns

import (
	"context"
	"log"
	"time"
)

// Janitor periodically removes expired notifications and idle
// subscriptions, the scan-two-conditions-then-act shape of
// coordination.LockJanitor applied to notification bookkeeping instead
// of distributed locks: there fencing/staleness are the two conditions,
// here expiry/idleness are.
type Janitor struct {
	registry     *Registry
	dispatcher   *Dispatcher
	interval     time.Duration
	maxIdleTime  time.Duration
}

// NewJanitor builds a Janitor sweeping registry/dispatcher every interval,
// evicting subscriptions idle past maxIdleTime.
func NewJanitor(registry *Registry, dispatcher *Dispatcher, interval, maxIdleTime time.Duration) *Janitor {
	return &Janitor{registry: registry, dispatcher: dispatcher, interval: interval, maxIdleTime: maxIdleTime}
}

// Start launches the sweep loop in its own goroutine, mirroring
// LockJanitor.Start.
func (j *Janitor) Start(ctx context.Context) {
	go j.loop(ctx)
}

func (j *Janitor) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	now := time.Now()

	expired := j.dispatcher.evictExpired(now)
	if expired > 0 {
		log.Printf("dns: janitor removed %d expired notifications", expired)
	}

	idle := j.evictIdleSubscriptions(now)
	if idle > 0 {
		log.Printf("dns: janitor removed %d idle subscriptions (> %s)", idle, j.maxIdleTime)
	}
}

func (j *Janitor) evictIdleSubscriptions(now time.Time) int {
	removed := 0
	for _, sub := range j.registry.Snapshot() {
		if j.registry.idleSince(sub.ID, now) > j.maxIdleTime {
			j.registry.Remove(sub.ID)
			removed++
		}
	}
	return removed
}
