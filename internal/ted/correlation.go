package ted

import (
	"math"
	"time"
)

// CorrelationRule pairwise-correlates two event types under time/distance
// limits, producing a relationship tag.
type CorrelationRule struct {
	FromType     EventType
	ToType       EventType
	MaxDelta     time.Duration
	MaxDistanceM float64
	Relationship Relationship
}

// DefaultCorrelationRules are the normative defaults from spec.md §4.4.
func DefaultCorrelationRules() []CorrelationRule {
	return []CorrelationRule{
		{FromType: EventCrash, ToType: EventMechanical, MaxDelta: 3 * time.Minute, MaxDistanceM: 500, Relationship: RelationConsequence},
		{FromType: EventAttack, ToType: EventChase, MaxDelta: 2 * time.Minute, MaxDistanceM: 2000, Relationship: RelationConsequence},
		{FromType: EventCrash, ToType: EventCrash, MaxDelta: 30 * time.Second, MaxDistanceM: 200, Relationship: RelationConcurrent},
	}
}

// correlate applies every rule to every ordered pair of distinct events
// and returns the links to attach. Rules are symmetric in application:
// (from, to) matches events (a, b) in either temporal direction provided
// a precedes b per the rule's FromType/ToType.
func correlate(events []*TacticalEvent, rules []CorrelationRule) map[string][]EventLink {
	links := make(map[string][]EventLink)

	for i, a := range events {
		for j, b := range events {
			if i == j {
				continue
			}
			for _, rule := range rules {
				if a.Type != rule.FromType || b.Type != rule.ToType {
					continue
				}
				delta := b.Timestamp.Sub(a.Timestamp)
				if delta < 0 {
					delta = -delta
				}
				if delta > rule.MaxDelta {
					continue
				}
				if a.Location != nil && b.Location != nil {
					d := haversineMeters(a.Location.Lat, a.Location.Lon, b.Location.Lat, b.Location.Lon)
					if d > rule.MaxDistanceM {
						continue
					}
				}
				links[a.ID] = append(links[a.ID], EventLink{EventID: b.ID, Relationship: rule.Relationship})
			}
		}
	}
	return links
}

// haversineMeters mirrors pt.haversineMeters; duplicated rather than
// imported to keep ted decoupled from pt's package (TED only consumes PT's
// race state/groups by value, per spec.md's component ownership rule).
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const r = 6371000.0
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	phi1, phi2 := rad(lat1), rad(lat2)
	dPhi := rad(lat2 - lat1)
	dLambda := rad(lon2 - lon1)
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return r * c
}
