package dns

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingSink is a hand-rolled fake Sink, in the manner of
// manager_test.go's scriptedDialer, rather than a mocking library.
type recordingSink struct {
	mu        sync.Mutex
	delivered []string
	failFor   map[string]bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{failFor: make(map[string]bool)}
}

func (s *recordingSink) Deliver(ctx context.Context, sub *Subscription, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[sub.ID] {
		return errors.New("delivery failed")
	}
	s.delivered = append(s.delivered, sub.ID)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func testSub(id string, categories ...Category) *Subscription {
	cats := make(map[Category]struct{}, len(categories))
	for _, c := range categories {
		cats[c] = struct{}{}
	}
	return &Subscription{
		ID: id, SubscriberID: id, Active: true,
		Categories: cats, MinPriority: PriorityInfo,
		Channel: ChannelWebSocket, PerMinuteCap: 100,
		CreatedAt: time.Now(),
	}
}

func TestSendDeliversOnlyToMatchingActiveSubscriptions(t *testing.T) {
	registry := NewRegistry()
	matching := testSub("s1", CategoryTactical)
	wrongCategory := testSub("s2", CategoryWeather)
	inactive := testSub("s3", CategoryTactical)
	inactive.Active = false

	registry.Add(matching)
	registry.Add(wrongCategory)
	registry.Add(inactive)

	sink := newRecordingSink()
	dispatcher := NewDispatcher(registry, map[Channel]Sink{ChannelWebSocket: sink})

	n := Notification{ID: "n1", Category: CategoryTactical, Priority: PriorityWarning, CreatedAt: time.Now()}
	result := dispatcher.Send(context.Background(), n)

	if result.Stats.Recipients != 1 || result.Stats.Successes != 1 {
		t.Fatalf("expected exactly 1 recipient/success, got %+v", result.Stats)
	}
	if sink.count() != 1 {
		t.Fatalf("expected sink to record exactly 1 delivery, got %d", sink.count())
	}
}

func TestSendRespectsMinPriority(t *testing.T) {
	registry := NewRegistry()
	sub := testSub("s1", CategoryTactical)
	sub.MinPriority = PriorityCritical
	registry.Add(sub)

	sink := newRecordingSink()
	dispatcher := NewDispatcher(registry, map[Channel]Sink{ChannelWebSocket: sink})

	n := Notification{ID: "n1", Category: CategoryTactical, Priority: PriorityWarning}
	result := dispatcher.Send(context.Background(), n)

	if result.Stats.Recipients != 0 {
		t.Fatalf("expected priority below subscriber's minPriority to be excluded, got %d recipients", result.Stats.Recipients)
	}
}

func TestSendRespectsAllowList(t *testing.T) {
	registry := NewRegistry()
	sub := testSub("s1", CategoryTactical)
	sub.AllowList = []string{"race-42"}
	registry.Add(sub)

	sink := newRecordingSink()
	dispatcher := NewDispatcher(registry, map[Channel]Sink{ChannelWebSocket: sink})

	nonMatching := dispatcher.Send(context.Background(), Notification{ID: "n1", Category: CategoryTactical, RaceID: "race-99"})
	if nonMatching.Stats.Recipients != 0 {
		t.Fatalf("expected allow-list mismatch to exclude the subscriber")
	}

	matching := dispatcher.Send(context.Background(), Notification{ID: "n2", Category: CategoryTactical, RaceID: "race-42"})
	if matching.Stats.Recipients != 1 {
		t.Fatalf("expected allow-list match to include the subscriber")
	}
}

func TestSendSkipsRateLimitedSubscription(t *testing.T) {
	registry := NewRegistry()
	sub := testSub("s1", CategoryTactical)
	sub.PerMinuteCap = 1
	registry.Add(sub)

	sink := newRecordingSink()
	dispatcher := NewDispatcher(registry, map[Channel]Sink{ChannelWebSocket: sink})

	first := dispatcher.Send(context.Background(), Notification{ID: "n1", Category: CategoryTactical})
	second := dispatcher.Send(context.Background(), Notification{ID: "n2", Category: CategoryTactical})

	if first.Stats.Recipients != 1 {
		t.Fatalf("expected first notification to be delivered")
	}
	if second.Stats.Recipients != 0 {
		t.Fatalf("expected second notification within the same window to be rate-limited")
	}
}

func TestJanitorEvictsExpiredNotificationsAndIdleSubscriptions(t *testing.T) {
	registry := NewRegistry()
	stale := testSub("stale", CategoryTactical)
	stale.CreatedAt = time.Now().Add(-time.Hour)
	fresh := testSub("fresh", CategoryTactical)
	fresh.CreatedAt = time.Now()
	registry.Add(stale)
	registry.Add(fresh)

	dispatcher := NewDispatcher(registry, map[Channel]Sink{ChannelWebSocket: newRecordingSink()})
	dispatcher.Send(context.Background(), Notification{
		ID: "expired", Category: CategoryTactical, ExpiresAt: time.Now().Add(-time.Minute),
	})

	janitor := NewJanitor(registry, dispatcher, time.Hour, 10*time.Minute)
	janitor.sweep()

	if dispatcher.Get("expired") != nil {
		t.Fatalf("expected expired notification to be evicted")
	}
	if registry.Get("stale") != nil {
		t.Fatalf("expected idle subscription to be evicted")
	}
	if registry.Get("fresh") == nil {
		t.Fatalf("expected fresh subscription to survive the sweep")
	}
}

func TestWebhookSinkRejectsMissingURL(t *testing.T) {
	sink := WebhookSink{}
	sub := testSub("s1", CategoryTactical)
	sub.Channel = ChannelWebhook
	err := sink.Deliver(context.Background(), sub, Notification{ID: "n1"})
	if err == nil {
		t.Fatalf("expected error for subscription with no webhook URL configured")
	}
}
