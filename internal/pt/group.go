package pt

import (
	"sort"
	"time"
)

const (
	breakawayMaxPosition = 10
	pelotonMinSize       = 50
	smallGroupMaxSize    = 5
	positionDiffThreshold = 5
)

// detectGroups implements spec.md §4.3 step 3: sort by race position,
// greedily partition into groups sharing time-from-start proximity, GPS
// proximity, or position proximity.
func detectGroups(positions []RiderPosition, groupDistanceMeters float64, groupTimeThreshold time.Duration) []RiderGroup {
	withPos := make([]RiderPosition, 0, len(positions))
	for _, p := range positions {
		if p.HasRacePosition {
			withPos = append(withPos, p)
		}
	}
	sort.Slice(withPos, func(i, j int) bool { return withPos[i].RacePosition < withPos[j].RacePosition })

	var groups []RiderGroup
	var memberSets [][]RiderPosition
	used := make([]bool, len(withPos))

	for i := range withPos {
		if used[i] {
			continue
		}
		members := []RiderPosition{withPos[i]}
		used[i] = true

		for j := i + 1; j < len(withPos); j++ {
			if used[j] {
				continue
			}
			if sharesGroup(members[len(members)-1], withPos[j], groupDistanceMeters, groupTimeThreshold) {
				members = append(members, withPos[j])
				used[j] = true
			}
		}

		groups = append(groups, buildGroup(members))
		memberSets = append(memberSets, members)
	}

	annotateGaps(groups, memberSets)
	return groups
}

func sharesGroup(a, b RiderPosition, groupDistanceMeters float64, groupTimeThreshold time.Duration) bool {
	if a.HasTimeFromStart && b.HasTimeFromStart {
		delta := a.TimeFromStart - b.TimeFromStart
		if delta < 0 {
			delta = -delta
		}
		if delta <= groupTimeThreshold {
			return true
		}
	}
	if a.HasGPS && b.HasGPS {
		d := haversineMeters(a.GPS.Lat, a.GPS.Lon, b.GPS.Lat, b.GPS.Lon)
		if d <= groupDistanceMeters {
			return true
		}
	}
	if a.HasRacePosition && b.HasRacePosition {
		diff := a.RacePosition - b.RacePosition
		if diff < 0 {
			diff = -diff
		}
		if diff <= positionDiffThreshold {
			return true
		}
	}
	return false
}

func buildGroup(members []RiderPosition) RiderGroup {
	ids := make([]string, len(members))
	minPos := members[0].RacePosition
	var speedSum, posSum float64
	for i, m := range members {
		ids[i] = m.RiderID
		speedSum += m.GroundSpeed
		posSum += float64(m.RacePosition)
		if m.RacePosition < minPos {
			minPos = m.RacePosition
		}
	}
	n := len(members)
	g := RiderGroup{
		RiderIDs:    ids,
		AvgPosition: posSum / float64(n),
		AvgSpeed:    speedSum / float64(n),
	}
	switch {
	case n == 1:
		g.Type = GroupSolo
	case n < smallGroupMaxSize:
		g.Type = GroupSmall
	case minPos <= breakawayMaxPosition:
		g.Type = GroupBreakaway
	case n > pelotonMinSize:
		g.Type = GroupPeloton
	default:
		g.Type = GroupChase
	}
	return g
}

// annotateGaps fills GapToNext on each group using the minimum
// time-from-start within each group (groups are already ordered by
// ascending race position), per spec.md §4.3 step 4's "inter-group gap
// uses min timeFromStart per group".
func annotateGaps(groups []RiderGroup, memberSets [][]RiderPosition) {
	minTFS := make([]time.Duration, len(groups))
	has := make([]bool, len(groups))
	for i, members := range memberSets {
		minTFS[i], has[i] = groupMinTimeFromStart(members)
	}

	for i := range groups {
		if i+1 >= len(groups) || !has[i] || !has[i+1] {
			continue
		}
		gap := minTFS[i+1] - minTFS[i]
		groups[i].GapToNext = &gap
	}
	for i := range groups {
		if i == 0 || !has[i] || !has[i-1] {
			continue
		}
		gap := minTFS[i] - minTFS[i-1]
		groups[i].GapToPrevious = &gap
	}
}

// groupMinTimeFromStart finds the minimum TimeFromStart among members of
// a group, used to compute inter-group gaps.
func groupMinTimeFromStart(members []RiderPosition) (time.Duration, bool) {
	found := false
	var min time.Duration
	for _, m := range members {
		if !m.HasTimeFromStart {
			continue
		}
		if !found || m.TimeFromStart < min {
			min = m.TimeFromStart
			found = true
		}
	}
	return min, found
}
