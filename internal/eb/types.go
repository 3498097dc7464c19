// Package eb implements the Event Bus: topic-partitioned publish/subscribe
// with batching, bounded retries, and dead-letter capture. The
// idempotency-backend-with-fallback shape follows idempotency.Store; the
// partition/FIFO queue is scheduler.TaskQueue's heap-backed bookkeeping
// reworked from priority-by-age into strict per-partition FIFO, since EB
// requires in-order delivery within a partition rather than priority
// scheduling.
package eb

import "time"

// Priority is the declared priority of a StreamEvent.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// StreamEvent is the immutable-post-publish unit carried on the bus.
type StreamEvent struct {
	ID            string
	EventType     string
	PartitionKey  string // e.g. <raceId>_<eventType>
	Payload       []byte
	OriginTimestamp time.Time
	Priority      Priority

	// on-wire record fields from spec.md §6
	Source       string
	RaceID       string
	SchemaVersion string
	Metadata     map[string]string
}

// Headers mirrors the transport header envelope spec.md §6 describes.
func (e StreamEvent) Headers() map[string]string {
	return map[string]string{
		"event-type": e.EventType,
		"source":     e.Source,
		"race-id":    e.RaceID,
		"priority":   string(e.Priority),
		"timestamp":  e.OriginTimestamp.Format(time.RFC3339Nano),
	}
}

// DeadLetterEntry is the terminal record for a poison message.
type DeadLetterEntry struct {
	Topic      string
	Event      StreamEvent
	Reason     string
	FailedAt   time.Time
	Attempts   int
}
