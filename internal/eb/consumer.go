package eb

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/racepulse/core/internal/observability"
)

// HandlerFunc processes one StreamEvent. Returning an error routes the
// event to the dead-letter topic; the consumer then advances past it.
type HandlerFunc func(ctx context.Context, e StreamEvent) error

// ConsumerConfig is the subset of process configuration EB consumers use.
type ConsumerConfig struct {
	BatchSize            int
	BatchTimeout         time.Duration
	MaxConcurrentUpdates int
	HeartbeatTimeout     time.Duration
}

// ConsumerGroup is one logical subscriber: one delivery of each event per
// group, with per-event-type handler routing configured at subscribe
// time, per spec.md §4.5.
type ConsumerGroup struct {
	name      string
	bus       *Bus
	topicName string
	cfg       ConsumerConfig

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	lastProgress time.Time
	progressMu   sync.Mutex
}

// NewConsumerGroup builds a ConsumerGroup bound to one topic.
func NewConsumerGroup(bus *Bus, topicName, groupName string, cfg ConsumerConfig) *ConsumerGroup {
	return &ConsumerGroup{
		name: groupName, bus: bus, topicName: topicName, cfg: cfg,
		handlers:     make(map[string]HandlerFunc),
		lastProgress: time.Now(),
	}
}

// Subscribe routes events of eventType to handler.
func (c *ConsumerGroup) Subscribe(eventType string, handler HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = handler
}

// Run drives the consume loop: pull a batch per partition every
// BatchTimeout (or sooner once BatchSize fills), process with bounded
// concurrency, and isolate per-event failures to the dead-letter topic.
func (c *ConsumerGroup) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	heartbeat := time.NewTicker(c.cfg.HeartbeatTimeout)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			c.checkStall()
		case <-ticker.C:
			c.consumeOnce(ctx)
		}
	}
}

func (c *ConsumerGroup) checkStall() {
	c.progressMu.Lock()
	stalled := time.Since(c.lastProgress) > c.cfg.HeartbeatTimeout
	c.progressMu.Unlock()
	if stalled {
		log.Printf("eb: consumer group %s on %s has not progressed within heartbeat window, forcing a fresh poll", c.name, c.topicName)
	}
}

func (c *ConsumerGroup) consumeOnce(ctx context.Context) {
	t, ok := c.bus.topic(c.topicName)
	if !ok {
		return
	}

	t.mu.Lock()
	partitions := append([]*partition{}, t.partitions...)
	t.mu.Unlock()

	sem := make(chan struct{}, c.cfg.MaxConcurrentUpdates)
	var wg sync.WaitGroup

	for i, p := range partitions {
		events := p.pending(c.name, c.cfg.BatchSize)
		observability.ConsumerLagSeconds.WithLabelValues(c.topicName, fmt.Sprintf("%d", i)).Set(float64(p.lagFor(c.name)))
		if len(events) == 0 {
			continue
		}
		processed := 0
		for _, e := range events {
			sem <- struct{}{}
			wg.Add(1)
			go func(e StreamEvent) {
				defer wg.Done()
				defer func() { <-sem }()
				c.handleOne(ctx, e)
			}(e)
			processed++
		}
		p.advance(c.name, processed)
	}
	wg.Wait()

	c.progressMu.Lock()
	c.lastProgress = time.Now()
	c.progressMu.Unlock()
}

func (c *ConsumerGroup) handleOne(ctx context.Context, e StreamEvent) {
	c.mu.RLock()
	handler, ok := c.handlers[e.EventType]
	c.mu.RUnlock()
	if !ok {
		return
	}

	err := c.invoke(ctx, handler, e)
	if err != nil {
		c.bus.PublishDeadLetter(DeadLetterEntry{
			Topic: c.topicName, Event: e, Reason: err.Error(), FailedAt: time.Now(),
		})
		observability.DeadLettersTotal.WithLabelValues(c.topicName, err.Error()).Inc()
	}
}

// invoke calls handler with panic isolation, so one failing handler never
// aborts the rest of the batch, per spec.md §4.5's "shared failure
// isolation" and §7's Internal error kind.
func (c *ConsumerGroup) invoke(ctx context.Context, handler HandlerFunc, e StreamEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return handler(ctx, e)
}

type panicError struct{ v any }

func (p panicError) Error() string { return "eb: handler panicked" }
