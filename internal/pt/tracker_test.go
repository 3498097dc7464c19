package pt

import (
	"testing"
	"time"
)

func testCfg() Config {
	return Config{
		UpdateInterval:       time.Second,
		PositionTimeout:      30 * time.Second,
		GroupDistanceMeters:  50,
		GroupTimeThreshold:   5 * time.Second,
		MaxInterpolationTime: 10 * time.Second,
	}
}

// TestLastWriterWins is the quantified property from spec.md §8: for any
// two updates t1 < t2 applied in any order, PT stores the update with t2.
func TestLastWriterWins(t *testing.T) {
	tr := NewTracker(testCfg())
	now := time.Now()
	t1 := RiderPosition{RiderID: "r1", Timestamp: now, GroundSpeed: 5}
	t2 := RiderPosition{RiderID: "r1", Timestamp: now.Add(time.Second), GroundSpeed: 6}

	if err := tr.ApplyPosition(t2); err != nil {
		t.Fatalf("apply t2: %v", err)
	}
	if err := tr.ApplyPosition(t1); err != nil {
		t.Fatalf("apply t1: %v", err)
	}
	got, _ := tr.GetRider("r1")
	if !got.Timestamp.Equal(t2.Timestamp) {
		t.Fatalf("expected t2 to win regardless of application order, got %v", got.Timestamp)
	}
}

// TestDiscardsInvalidPositions is the quantified property from spec.md §8:
// speed > 27.78, position out of [1,300], or |timestamp-now| > 3600s are
// never stored.
func TestDiscardsInvalidPositions(t *testing.T) {
	tr := NewTracker(testCfg())
	now := time.Now()

	cases := []RiderPosition{
		{RiderID: "r2", Timestamp: now, GroundSpeed: 30},
		{RiderID: "r3", Timestamp: now, HasRacePosition: true, RacePosition: 301},
		{RiderID: "r4", Timestamp: now.Add(-2 * time.Hour)},
	}
	for _, p := range cases {
		if err := tr.ApplyPosition(p); err == nil {
			t.Fatalf("expected rejection for %+v", p)
		}
		if _, ok := tr.GetRider(p.RiderID); ok {
			t.Fatalf("rider %s should not have been stored", p.RiderID)
		}
	}
}

// TestGapToLeaderProperty is the quantified property from spec.md §8: for
// a rider with timeFromStart and position and no interpolation since last
// ingest, gapToLeader = timeFromStart - min(timeFromStart over all riders).
func TestGapToLeaderProperty(t *testing.T) {
	tr := NewTracker(testCfg())
	now := time.Now()
	riders := []struct {
		id  string
		tfs time.Duration
	}{
		{"leader", 100 * time.Second},
		{"chaser", 130 * time.Second},
	}
	for _, r := range riders {
		tr.ApplyPosition(RiderPosition{
			RiderID: r.id, Timestamp: now, HasRacePosition: true, RacePosition: 1,
			HasTimeFromStart: true, TimeFromStart: r.tfs,
		})
	}

	gaps := tr.GetRaceGaps()
	byID := make(map[string]RaceGap)
	for _, g := range gaps {
		byID[g.RiderID] = g
	}
	if byID["chaser"].GapToLeader != 30*time.Second {
		t.Fatalf("expected 30s gap to leader, got %v", byID["chaser"].GapToLeader)
	}
	if byID["leader"].GapToLeader != 0 {
		t.Fatalf("expected leader gap 0, got %v", byID["leader"].GapToLeader)
	}
}

// TestGroupFormationScenario is the literal scenario from spec.md §8:
// 6 riders split into two groups of 3 by timeFromStart clustering.
func TestGroupFormationScenario(t *testing.T) {
	now := time.Now()
	tfs := []time.Duration{100 * time.Second, 102 * time.Second, 103 * time.Second, 350 * time.Second, 351 * time.Second, 352 * time.Second}
	positions := make([]RiderPosition, len(tfs))
	for i, d := range tfs {
		positions[i] = RiderPosition{
			RiderID: riderName(i), Timestamp: now, HasRacePosition: true, RacePosition: i + 1,
			HasTimeFromStart: true, TimeFromStart: d,
		}
	}

	groups := detectGroups(positions, 50, 5*time.Second)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	for _, g := range groups {
		if len(g.RiderIDs) != 3 {
			t.Fatalf("expected 3 riders per group, got %d", len(g.RiderIDs))
		}
	}
}

func riderName(i int) string {
	return string(rune('a' + i))
}
