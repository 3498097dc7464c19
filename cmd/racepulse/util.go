package main

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/racepulse/core/internal/crm"
	"github.com/racepulse/core/internal/pt"
	"github.com/racepulse/core/internal/ted"
	"github.com/racepulse/core/internal/wsm"
)

// crmRawFrame is the JSON wire shape accepted by POST /ingest, decoded
// into a crm.RawTelemetryFrame. Value is left as raw JSON since its
// concrete type depends on dataType (position, weather, tactical_event).
type crmRawFrame struct {
	ID         string          `json:"id"`
	SourceID   string          `json:"sourceId"`
	DataType   string          `json:"dataType"`
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	Timestamp  time.Time       `json:"timestamp"`
	Confidence float64         `json:"confidence"`
	Units      string          `json:"units"`
	Checksum   string          `json:"checksum"`
}

// toRawTelemetryFrame decodes Value into the concrete type the downstream
// resolved-point handler expects for dataType, so what comes back out of
// das.AggregatedPoint.ResolvedValue type-asserts cleanly rather than
// staying a generic map[string]any.
func (f crmRawFrame) toRawTelemetryFrame() crm.RawTelemetryFrame {
	var value any
	switch f.DataType {
	case "position":
		var rp pt.RiderPosition
		if err := json.Unmarshal(f.Value, &rp); err == nil {
			value = rp
		}
	case "tactical_event":
		var te ted.TacticalEvent
		if err := json.Unmarshal(f.Value, &te); err == nil {
			value = te
		}
	default:
		var generic any
		_ = json.Unmarshal(f.Value, &generic)
		value = generic
	}
	return crm.RawTelemetryFrame{
		ID:        f.ID,
		SourceID:  f.SourceID,
		DataType:  f.DataType,
		Key:       f.Key,
		Value:     value,
		Timestamp: f.Timestamp,
		Metadata:  crm.FrameMetadata{Confidence: f.Confidence, Units: f.Units},
		Checksum:  f.Checksum,
	}
}

func marshalPayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

func splitAndTrim(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// uuidOrKey derives a stable-enough event ID for a resolved point; real
// IDs would be carried end-to-end from the originating frame, but the
// aggregation key is the only identity GetAllResolved exposes here.
func uuidOrKey(key string) string {
	if key == "" {
		return uuid.NewString()
	}
	return key + ":" + uuid.NewString()[:8]
}

// wsmTopicFor maps an internal event type onto the public WSM topic
// table, defaulting to system.status for anything unrecognized rather
// than broadcasting on an ad hoc string.
func wsmTopicFor(eventType string) string {
	switch {
	case strings.HasPrefix(eventType, "position"):
		return wsm.TopicRacePositions
	case strings.HasPrefix(eventType, "weather"):
		return wsm.TopicRaceWeather
	case strings.HasPrefix(eventType, "tactical_event"):
		return wsm.TopicRaceTacticalEvents
	case strings.HasPrefix(eventType, "race_state"):
		return wsm.TopicRaceStatus
	default:
		return wsm.TopicSystemStatus
	}
}
