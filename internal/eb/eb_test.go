package eb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testConsumerCfg() ConsumerConfig {
	return ConsumerConfig{
		BatchSize:            10,
		BatchTimeout:         5 * time.Millisecond,
		MaxConcurrentUpdates: 4,
		HeartbeatTimeout:     50 * time.Millisecond,
	}
}

func TestPartitionPreservesFIFOOrder(t *testing.T) {
	bus := NewBus()
	bus.RegisterTopic("positions", 1, time.Hour)
	p := NewProducer(bus, nil, 8, 1, time.Millisecond)

	for i := 0; i < 5; i++ {
		e := StreamEvent{ID: string(rune('a' + i)), EventType: "position", PartitionKey: "rider-1"}
		if err := p.Publish(context.Background(), "positions", e); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	topic, _ := bus.topic("positions")
	part := topic.partitionFor("rider-1")
	got := part.pending("readers", 10)
	if len(got) != 5 {
		t.Fatalf("expected 5 pending events, got %d", len(got))
	}
	for i, e := range got {
		want := string(rune('a' + i))
		if e.ID != want {
			t.Fatalf("position %d: expected id %s, got %s (order not FIFO)", i, want, e.ID)
		}
	}
}

func TestPublishIsIdempotentOnDuplicateID(t *testing.T) {
	bus := NewBus()
	bus.RegisterTopic("events", 2, time.Hour)
	p := NewProducer(bus, nil, 8, 1, time.Millisecond)

	e := StreamEvent{ID: "dup-1", EventType: "attack", PartitionKey: "race-1"}
	if err := p.Publish(context.Background(), "events", e); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := p.Publish(context.Background(), "events", e); err != nil {
		t.Fatalf("second publish: %v", err)
	}

	topic, _ := bus.topic("events")
	part := topic.partitionFor("race-1")
	got := part.pending("readers", 10)
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 delivered event after duplicate publish, got %d", len(got))
	}
}

// TestConsumerThatAlwaysFailsProducesExactlyOneDeadLetter is the
// quantified property: a handler that errors on every delivery of a
// given message eventually yields exactly one corresponding dead-letter
// entry, never zero and never more than one.
func TestConsumerThatAlwaysFailsProducesExactlyOneDeadLetter(t *testing.T) {
	bus := NewBus()
	bus.RegisterTopic("tactical_events", 1, time.Hour)
	bus.RegisterDeadLetterTopic("tactical_events", time.Hour)

	producer := NewProducer(bus, nil, 8, 1, time.Millisecond)
	poison := StreamEvent{ID: "poison-1", EventType: "crash", PartitionKey: "race-1"}
	if err := producer.Publish(context.Background(), "tactical_events", poison); err != nil {
		t.Fatalf("publish: %v", err)
	}

	group := NewConsumerGroup(bus, "tactical_events", "notifier", testConsumerCfg())
	group.Subscribe("crash", func(ctx context.Context, e StreamEvent) error {
		return errors.New("downstream notifier unavailable")
	})

	group.consumeOnce(context.Background())

	letters := bus.ListDeadLetters("tactical_events")
	if len(letters) != 1 {
		t.Fatalf("expected exactly 1 dead letter, got %d", len(letters))
	}
	if letters[0].Event.ID != "poison-1" {
		t.Fatalf("dead letter for wrong event: %s", letters[0].Event.ID)
	}

	// Re-running consumeOnce must not redeliver the already-advanced
	// offset, so the dead letter count stays at exactly one.
	group.consumeOnce(context.Background())
	letters = bus.ListDeadLetters("tactical_events")
	if len(letters) != 1 {
		t.Fatalf("expected dead letter count to remain 1 after re-poll, got %d", len(letters))
	}
}

func TestDeadLetterRepublishedOntoCompanionTopic(t *testing.T) {
	bus := NewBus()
	bus.RegisterTopic("events", 1, time.Hour)
	bus.RegisterDeadLetterTopic("events", time.Hour)

	producer := NewProducer(bus, nil, 8, 1, time.Millisecond)
	e := StreamEvent{ID: "bad-1", EventType: "mechanical", PartitionKey: "race-1"}
	_ = producer.Publish(context.Background(), "events", e)

	group := NewConsumerGroup(bus, "events", "g1", testConsumerCfg())
	group.Subscribe("mechanical", func(ctx context.Context, e StreamEvent) error {
		return errors.New("handler exploded")
	})
	group.consumeOnce(context.Background())

	dlqTopic, ok := bus.topic(DeadLetterTopicName("events"))
	if !ok {
		t.Fatalf("expected companion dead-letter topic to be registered")
	}
	republished := dlqTopic.partitionFor("race-1").pending("recovery", 10)
	if len(republished) != 1 || republished[0].ID != "bad-1" {
		t.Fatalf("expected republished event bad-1 on companion topic, got %+v", republished)
	}
}

func TestHandlerPanicIsolatedAsDeadLetter(t *testing.T) {
	bus := NewBus()
	bus.RegisterTopic("events", 1, time.Hour)
	producer := NewProducer(bus, nil, 8, 1, time.Millisecond)
	_ = producer.Publish(context.Background(), "events", StreamEvent{ID: "panicker", EventType: "sprint", PartitionKey: "race-1"})

	group := NewConsumerGroup(bus, "events", "g1", testConsumerCfg())
	group.Subscribe("sprint", func(ctx context.Context, e StreamEvent) error {
		panic("boom")
	})
	group.consumeOnce(context.Background())

	letters := bus.ListDeadLetters("events")
	if len(letters) != 1 {
		t.Fatalf("expected panic to be isolated into exactly 1 dead letter, got %d", len(letters))
	}
}

// TestBoundedInFlightProducerConcurrency is a scenario-style test
// mirroring spec.md §8 scenario 6: many concurrent publishes never
// exceed the configured in-flight limit and all eventually land.
func TestBoundedInFlightProducerConcurrency(t *testing.T) {
	bus := NewBus()
	bus.RegisterTopic("events", 4, time.Hour)
	producer := NewProducer(bus, nil, 2, 1, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := StreamEvent{ID: string(rune('A' + i%20)), EventType: "position", PartitionKey: "race-1"}
			if err := producer.Publish(context.Background(), "events", e); err != nil {
				t.Errorf("publish %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	topic, _ := bus.topic("events")
	total := 0
	for _, key := range []string{"race-1"} {
		total += len(topic.partitionFor(key).pending("auditor", 100))
	}
	if total != 20 {
		t.Fatalf("expected 20 delivered events, got %d", total)
	}
}

func TestBatcherFlushesOnSizeAndTimeout(t *testing.T) {
	b := NewBatcher(3, 20*time.Millisecond)

	if _, ready := b.Add(StreamEvent{ID: "1"}); ready {
		t.Fatalf("expected not ready after 1 of 3")
	}
	if _, ready := b.Add(StreamEvent{ID: "2"}); ready {
		t.Fatalf("expected not ready after 2 of 3")
	}
	batch, ready := b.Add(StreamEvent{ID: "3"})
	if !ready || len(batch) != 3 {
		t.Fatalf("expected size-triggered flush of 3, got ready=%v len=%d", ready, len(batch))
	}

	b.Add(StreamEvent{ID: "4"})
	time.Sleep(25 * time.Millisecond)
	flushed := b.FlushIfDue()
	if len(flushed) != 1 || flushed[0].ID != "4" {
		t.Fatalf("expected timeout-triggered flush of [4], got %+v", flushed)
	}
}
