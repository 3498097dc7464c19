// Package pt implements the Position Tracker: the authoritative per-rider
// view, plus derived groups, gaps, and race state. The bookkeeping shape
// (RWMutex-guarded maps, copy-on-read snapshots, bounded history) follows
// store/memory.go and timeline/store.go; the race dynamics math is new
// domain logic grounded directly on spec.md §4.3.
package pt

import "time"

// GPS is an optional geographic fix on a RiderPosition.
type GPS struct {
	Lat, Lon, Altitude float64
}

// RiderPosition is one observation of a rider's state at a point in time.
type RiderPosition struct {
	RiderID   string
	Timestamp time.Time

	RacePosition      int  // 1..N, 0 = not present
	HasRacePosition   bool
	GPS               GPS
	HasGPS            bool
	GroundSpeed       float64 // m/s
	Heading           float64 // degrees
	DistanceFromStart float64 // meters
	TimeFromStart     time.Duration
	HasTimeFromStart  bool
	SourceID          string
	AccuracyTier      string
	Confidence        float64
	GroupID           string
	Interpolated      bool
}

const historyLimit = 100

// riderState is the tracker's internal bookkeeping for one rider: current
// position plus a bounded ring of history, mirroring the teacher's
// bounded-history convention.
type riderState struct {
	current RiderPosition
	history []RiderPosition // append-only ring, capped at historyLimit
}

func (rs *riderState) pushHistory(p RiderPosition) {
	rs.history = append(rs.history, p)
	if len(rs.history) > historyLimit {
		rs.history = rs.history[len(rs.history)-historyLimit:]
	}
}

// GroupType classifies a derived RiderGroup.
type GroupType string

const (
	GroupSolo       GroupType = "solo"
	GroupSmall      GroupType = "small_group"
	GroupChase      GroupType = "chase_group"
	GroupPeloton    GroupType = "peloton"
	GroupBreakaway  GroupType = "breakaway"
)

// RiderGroup is a derived cluster of riders close in time and/or space.
type RiderGroup struct {
	RiderIDs     []string
	AvgPosition  float64
	AvgSpeed     float64
	Type         GroupType
	GapToNext    *time.Duration
	GapToPrevious *time.Duration
}

// RaceStatus is the overall phase of the race.
type RaceStatus string

const (
	RaceNotStarted RaceStatus = "not_started"
	RaceRacing     RaceStatus = "racing"
	RaceNeutralized RaceStatus = "neutralized"
	RaceFinished   RaceStatus = "finished"
)

// TacticalSituation summarizes current race dynamics.
type TacticalSituation string

const (
	SituationStable    TacticalSituation = "stable"
	SituationAttacking TacticalSituation = "attacking"
	SituationChasing   TacticalSituation = "chasing"
	SituationBreakaway TacticalSituation = "breakaway"
	SituationSprint    TacticalSituation = "sprint"
	SituationClimb     TacticalSituation = "climb"
)

// RaceState is the PT-derived snapshot of overall race dynamics.
type RaceState struct {
	Status            RaceStatus
	KM                float64
	RemainingKM       float64
	AvgSpeed          float64
	TotalRiders       int
	ActiveRiders       int
	TacticalSituation TacticalSituation
	LeadingGroup      *RiderGroup
	Peloton           *RiderGroup
}

// RaceGap is the gap-to-leader / gap-to-previous view for one rider.
type RaceGap struct {
	RiderID      string
	GapToLeader  time.Duration
	GapToPrevious time.Duration
}
