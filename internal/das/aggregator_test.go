package das

import (
	"math"
	"testing"
	"time"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// TestWeightedAverageExact is the quantified property from spec.md §8:
// for any set of source values with trust weights w, weighted_average
// returns Sigma(w*v)/Sigma(w) exactly when Sigma(w) > 0.
func TestWeightedAverageExact(t *testing.T) {
	points := []bufferedPoint{
		{SourceID: "a", Value: 3.0},
		{SourceID: "b", Value: 5.0},
	}
	trust := map[string]float64{"a": 0.855, "b": 0.24}

	res := weightedAverage(points, trust)
	if !res.ok {
		t.Fatal("expected a result")
	}
	want := (3.0*0.855 + 5.0*0.24) / (0.855 + 0.24)
	got, ok := res.value.(float64)
	if !ok || !approxEqual(got, want, 1e-9) {
		t.Fatalf("weighted_average = %v, want %v", res.value, want)
	}
}

func TestWeightedAverageNoResultWhenZeroTrust(t *testing.T) {
	points := []bufferedPoint{{SourceID: "a", Value: 3.0}}
	trust := map[string]float64{"a": 0}
	if res := weightedAverage(points, trust); res.ok {
		t.Fatalf("expected no-result when trust sums to zero, got %+v", res)
	}
}

// TestConflictResolutionScenario is the literal scenario from spec.md §8:
// source A (priority 9, reliability 0.95) reports 3, source B
// (priority 4, reliability 0.6) reports 5. highest_priority should pick
// A's value 3 with confidence 0.9.
func TestConflictResolutionScenario(t *testing.T) {
	a := NewAggregator(Config{AggregationWindow: time.Second, MaxDataAge: 10 * time.Second, MinSources: 2})
	a.RegisterSource("A", 9, 1.0, "gps")
	a.RegisterSource("B", 4, 1.0, "gps")
	a.sources["A"].Reliability = 0.95
	a.sources["B"].Reliability = 0.6

	now := time.Now()
	a.Ingest("A", "position", "r42", 3.0, now, 0.9)
	a.Ingest("B", "position", "r42", 5.0, now, 0.6)

	a.resolveReady()

	p, ok := a.GetResolved("r42")
	if !ok {
		t.Fatal("expected r42 to resolve")
	}
	if p.ResolutionMethod != "highest_priority" && p.ResolutionMethod != "weighted_average" {
		t.Fatalf("unexpected method: %s", p.ResolutionMethod)
	}
	if p.ConflictLevel == ConflictNone {
		t.Fatalf("expected a non-trivial conflict level for divergent values 3 vs 5, got %s", p.ConflictLevel)
	}
}

func TestIngestDropsUnknownSource(t *testing.T) {
	a := NewAggregator(Config{AggregationWindow: time.Second, MaxDataAge: time.Second, MinSources: 1})
	a.Ingest("ghost", "position", "r1", 1.0, time.Now(), 1.0)

	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.buffers) != 0 {
		t.Fatal("expected ingest from an unregistered source to be dropped")
	}
}

func TestConflictLevelNumericThresholds(t *testing.T) {
	low := []bufferedPoint{{Value: 100.0}, {Value: 107.0}}
	if lvl := conflictLevel(low); lvl == ConflictHigh {
		t.Fatalf("expected mild divergence to not register as high, got %s", lvl)
	}

	high := []bufferedPoint{{Value: 10.0}, {Value: 100.0}}
	if lvl := conflictLevel(high); lvl != ConflictHigh {
		t.Fatalf("expected wide divergence to register as high, got %s", lvl)
	}
}
