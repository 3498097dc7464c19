package eb

import (
	"context"
	"sync"
	"time"

	"github.com/racepulse/core/internal/observability"
	"github.com/racepulse/core/internal/perrors"
)

// DedupBackend is an optional durable store for producer-side idempotency
// keys, matching idempotency.Store's Backend interface shape (Redis in
// production, nil falls back to an in-memory map).
type DedupBackend interface {
	Set(ctx context.Context, key string, ttl time.Duration) (stored bool, err error) // true if newly stored (SETNX semantics)
}

// Producer publishes single or batched StreamEvents with bounded in-flight
// concurrency and idempotent writes to prevent duplicates on retry.
type Producer struct {
	bus    *Bus
	dedup  DedupBackend
	cache  sync.Map // key -> struct{}, used when dedup is nil

	inFlight chan struct{} // bounded semaphore

	maxAttempts int
	retryDelay  time.Duration
}

// NewProducer builds a Producer bound to bus with the given bounded
// in-flight limit and retry policy.
func NewProducer(bus *Bus, dedup DedupBackend, maxInFlight, maxAttempts int, retryDelay time.Duration) *Producer {
	return &Producer{
		bus: bus, dedup: dedup,
		inFlight:    make(chan struct{}, maxInFlight),
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
}

// Publish publishes a single event, retrying transient failures up to
// maxAttempts times. Acks are "all" by default in the sense that Publish
// only returns success once the event is durably appended to its
// partition.
func (p *Producer) Publish(ctx context.Context, topicName string, e StreamEvent) error {
	p.inFlight <- struct{}{}
	defer func() { <-p.inFlight }()

	if isNew, err := p.claim(ctx, e.ID); err != nil {
		return perrors.Wrap(perrors.KindTransientTransport, "eb.publish", "dedup check failed", err)
	} else if !isNew {
		return nil // already published, idempotent no-op
	}

	var lastErr error
	delay := p.retryDelay
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := p.bus.append(topicName, e); err != nil {
			lastErr = err
			continue
		}
		observability.EventsPublished.WithLabelValues(topicName).Inc()
		return nil
	}
	return perrors.Wrap(perrors.KindTransientTransport, "eb.publish", "exhausted publish retries", lastErr)
}

// PublishBatch publishes a slice of events; per-event failures are
// isolated and returned together, not aborting the rest of the batch.
func (p *Producer) PublishBatch(ctx context.Context, topicName string, events []StreamEvent) []error {
	errs := make([]error, len(events))
	for i, e := range events {
		errs[i] = p.Publish(ctx, topicName, e)
	}
	return errs
}

func (p *Producer) claim(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return true, nil
	}
	if p.dedup != nil {
		return p.dedup.Set(ctx, "eb:dedup:"+id, 24*time.Hour)
	}
	_, loaded := p.cache.LoadOrStore(id, struct{}{})
	return !loaded, nil
}
