// Package store persists the position, tactical-event, and weather
// records the pipeline produces, behind a backend-agnostic interface —
// Redis-backed for production, in-memory for tests — the same
// Store-interface-over-swappable-backend shape as store/interface.go,
// store/redis.go, and store/memory.go.
package store

import "time"

// Position is the durable projection of a pt.RiderPosition, stored at
// position:<riderId> per spec.md §6.
type Position struct {
	RiderID   string
	Latitude  float64
	Longitude float64
	Speed     float64
	Timestamp time.Time
	RacePosition int
}

// TacticalEvent is the durable projection of a ted.TacticalEvent, stored
// at tactical_event:<eventId> per spec.md §6.
type TacticalEvent struct {
	EventID    string
	EventType  string
	RaceID     string
	Riders     []string
	Confidence float64
	Timestamp  time.Time
	Retention  time.Duration
}

// WeatherObservation backs the weather:current/forecast/route key family.
type WeatherObservation struct {
	LocationKey string
	Kind        string // "current", "forecast", "route"
	Payload     map[string]any
	ObservedAt  time.Time
}
