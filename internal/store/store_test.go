package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStorePositionRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := Position{RiderID: "r1", Latitude: 45.0, Longitude: 6.0, Speed: 12.5, Timestamp: time.Now()}
	if err := s.PutPosition(ctx, p); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.GetPosition(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.RiderID != "r1" || got.Speed != 12.5 {
		t.Fatalf("expected round-tripped position, got %+v", got)
	}
}

func TestMemoryStoreGetMissingPositionReturnsNil(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.GetPosition(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown rider, got %+v", got)
	}
}

func TestMemoryStorePositionsSinceFiltersAndOrders(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	_ = s.PutPosition(ctx, Position{RiderID: "old", Timestamp: base.Add(-time.Hour)})
	_ = s.PutPosition(ctx, Position{RiderID: "newer", Timestamp: base.Add(time.Minute)})
	_ = s.PutPosition(ctx, Position{RiderID: "newest", Timestamp: base.Add(2 * time.Minute)})

	got, err := s.PositionsSince(ctx, base)
	if err != nil {
		t.Fatalf("positions since: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 positions after cutoff, got %d", len(got))
	}
	if got[0].RiderID != "newer" || got[1].RiderID != "newest" {
		t.Fatalf("expected ascending timestamp order, got %+v", got)
	}
}

func TestMemoryStoreTacticalEventRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	e := TacticalEvent{EventID: "e1", EventType: "attack", RaceID: "race-1", Confidence: 0.8, Timestamp: time.Now()}

	if err := s.PutTacticalEvent(ctx, e); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.GetTacticalEvent(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.EventType != "attack" {
		t.Fatalf("expected round-tripped event, got %+v", got)
	}
}

func TestMemoryStoreWeatherKeyedByKindAndLocation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.PutWeather(ctx, WeatherObservation{LocationKey: "loc-1", Kind: "current", Payload: map[string]any{"tempC": 18.0}})
	_ = s.PutWeather(ctx, WeatherObservation{LocationKey: "loc-1", Kind: "forecast", Payload: map[string]any{"tempC": 22.0}})

	current, err := s.GetWeather(ctx, "current", "loc-1")
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if current == nil || current.Payload["tempC"] != 18.0 {
		t.Fatalf("expected current weather distinct from forecast, got %+v", current)
	}

	forecast, err := s.GetWeather(ctx, "forecast", "loc-1")
	if err != nil {
		t.Fatalf("get forecast: %v", err)
	}
	if forecast == nil || forecast.Payload["tempC"] != 22.0 {
		t.Fatalf("expected forecast weather distinct from current, got %+v", forecast)
	}
}

func TestRiderIDFromMemberStripsEpochSuffix(t *testing.T) {
	got := riderIDFromMember(positionsTimelineMember("rider-7", 123456))
	if got != "rider-7" {
		t.Fatalf("expected rider-7, got %s", got)
	}
}
