package store

import "fmt"

// Key builders for the opaque, sorted-set-backed persistence schema of
// spec.md §6, mirroring store/keys.go's TenantKey/TenantPrefix builders.

func positionKey(riderID string) string {
	return fmt.Sprintf("position:%s", riderID)
}

const positionsTimelineKey = "positions:timeline"

func positionsTimelineMember(riderID string, epochMillis int64) string {
	return fmt.Sprintf("%s:%d", riderID, epochMillis)
}

func tacticalEventKey(eventID string) string {
	return fmt.Sprintf("tactical_event:%s", eventID)
}

const tacticalEventsTimelineKey = "tactical_events:timeline"

func weatherKey(kind, locationKey string) string {
	return fmt.Sprintf("weather:%s:%s", kind, locationKey)
}
