package pt

import "sort"

// computeGaps implements spec.md §4.3 step 4 and the quantified property
// in §8: gapToLeader = timeFromStart - min(timeFromStart over all riders);
// gapToPrevious = diff to the predecessor once riders are sorted by
// timeFromStart.
func computeGaps(positions []RiderPosition) []RaceGap {
	withTFS := make([]RiderPosition, 0, len(positions))
	for _, p := range positions {
		if p.HasTimeFromStart {
			withTFS = append(withTFS, p)
		}
	}
	if len(withTFS) == 0 {
		return nil
	}

	sort.Slice(withTFS, func(i, j int) bool { return withTFS[i].TimeFromStart < withTFS[j].TimeFromStart })
	leaderTFS := withTFS[0].TimeFromStart

	gaps := make([]RaceGap, len(withTFS))
	for i, p := range withTFS {
		gap := RaceGap{RiderID: p.RiderID, GapToLeader: p.TimeFromStart - leaderTFS}
		if i > 0 {
			gap.GapToPrevious = p.TimeFromStart - withTFS[i-1].TimeFromStart
		}
		gaps[i] = gap
	}
	return gaps
}

// positionDelta captures a rider's position movement over a recent window,
// used by race-state derivation's "attacking" rule.
type positionDelta struct {
	riderID string
	delta   int // positive = moved up (toward the front)
}

// raceStateInputs bundles everything deriveRaceState needs beyond the
// current groups, kept separate from Tracker so the derivation stays a
// pure function.
type raceStateInputs struct {
	positions       []RiderPosition
	groups          []RiderGroup
	positionDeltas  []positionDelta // movement over the last 30s window
	altitudeGain30s float64         // meters gained in the last 30s, recent climbers
	km              float64
	remainingKM     float64
}

// deriveRaceState implements spec.md §4.3 step 5's six rules, evaluated
// in the order listed, first match wins.
func deriveRaceState(in raceStateInputs, prevStatus RaceStatus) RaceState {
	state := RaceState{
		Status:      prevStatus,
		KM:          in.km,
		RemainingKM: in.remainingKM,
		TotalRiders: len(in.positions),
	}
	if state.Status == "" {
		state.Status = RaceNotStarted
	}

	active := 0
	var speedSum float64
	var speedCount int
	for _, p := range in.positions {
		if !p.Interpolated {
			active++
		}
		speedSum += p.GroundSpeed
		speedCount++
	}
	state.ActiveRiders = active
	if speedCount > 0 {
		state.AvgSpeed = speedSum / float64(speedCount)
	}

	if len(in.groups) > 0 {
		leading := in.groups[0]
		state.LeadingGroup = &leading
		for i := range in.groups {
			if in.groups[i].Type == GroupPeloton {
				p := in.groups[i]
				state.Peloton = &p
				break
			}
		}
	}

	movedUp := 0
	for _, d := range in.positionDeltas {
		if d.delta > 5 {
			movedUp++
		}
	}

	fastCount := 0
	for _, p := range in.positions {
		if p.GroundSpeed > 15 {
			fastCount++
		}
	}
	mainGroupRadius := mainGroupPositionSpread(in.groups)

	slowCount := 0
	for _, p := range in.positions {
		if p.GroundSpeed < 8 {
			slowCount++
		}
	}

	switch {
	case movedUp >= 4:
		state.TacticalSituation = SituationAttacking
	case fastCount > 10 && mainGroupRadius < 10:
		state.TacticalSituation = SituationSprint
	case speedCount > 0 && slowCount*2 > speedCount && in.altitudeGain30s > 50:
		state.TacticalSituation = SituationClimb
	case state.LeadingGroup != nil && state.LeadingGroup.Type == GroupBreakaway &&
		state.LeadingGroup.GapToNext != nil && *state.LeadingGroup.GapToNext > 60e9:
		state.TacticalSituation = SituationBreakaway
	case hasChaseGroup(in.groups):
		state.TacticalSituation = SituationChasing
	default:
		state.TacticalSituation = SituationStable
	}

	return state
}

// mainGroupPositionSpread approximates "main group radius is small" from
// spec.md's sprint rule as the spread in race position within the largest
// group, a proxy for physical compactness when GPS isn't available for
// every rider.
func mainGroupPositionSpread(groups []RiderGroup) float64 {
	if len(groups) == 0 {
		return 0
	}
	largest := groups[0]
	for _, g := range groups[1:] {
		if len(g.RiderIDs) > len(largest.RiderIDs) {
			largest = g
		}
	}
	return largest.AvgPosition
}

func hasChaseGroup(groups []RiderGroup) bool {
	for _, g := range groups {
		if g.Type == GroupChase {
			return true
		}
	}
	return false
}
