package main

import (
	"encoding/json"
	"testing"

	"github.com/racepulse/core/internal/pt"
	"github.com/racepulse/core/internal/wsm"
)

func TestWsmTopicForMapsKnownPrefixes(t *testing.T) {
	cases := map[string]string{
		"position.update":        wsm.TopicRacePositions,
		"weather.update":         wsm.TopicRaceWeather,
		"tactical_event.attack":  wsm.TopicRaceTacticalEvents,
		"race_state.update":      wsm.TopicRaceStatus,
		"something.unrecognized": wsm.TopicSystemStatus,
	}
	for eventType, want := range cases {
		if got := wsmTopicFor(eventType); got != want {
			t.Errorf("wsmTopicFor(%q) = %q, want %q", eventType, got, want)
		}
	}
}

func TestUuidOrKeyPrefixesTheKeyWhenPresent(t *testing.T) {
	got := uuidOrKey("rider-7")
	if len(got) <= len("rider-7:") {
		t.Fatalf("expected a suffixed ID, got %q", got)
	}
	if got[:len("rider-7:")] != "rider-7:" {
		t.Fatalf("expected key prefix preserved, got %q", got)
	}
}

func TestUuidOrKeyGeneratesRandomIDForEmptyKey(t *testing.T) {
	a := uuidOrKey("")
	b := uuidOrKey("")
	if a == b {
		t.Fatal("expected distinct generated IDs")
	}
}

func TestSplitAndTrimDropsEmptySegments(t *testing.T) {
	got := splitAndTrim(" a , b ,, c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestCrmRawFrameDecodesPositionValue(t *testing.T) {
	raw := crmRawFrame{
		DataType: "position",
		Value:    json.RawMessage(`{"RiderID":"r1","GroundSpeed":10.5}`),
	}
	frame := raw.toRawTelemetryFrame()
	rp, ok := frame.Value.(pt.RiderPosition)
	if !ok {
		t.Fatalf("expected frame.Value to decode into pt.RiderPosition, got %T", frame.Value)
	}
	if rp.RiderID != "r1" || rp.GroundSpeed != 10.5 {
		t.Fatalf("unexpected decoded position: %+v", rp)
	}
}
