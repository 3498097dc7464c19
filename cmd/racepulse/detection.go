package main

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/racepulse/core/internal/pt"
	"github.com/racepulse/core/internal/ted"
)

// positionSampleWindow is how far back runDetectionTick looks into a
// rider's history to derive the delta facts TED's attack/crash/mechanical
// patterns match against, mirroring the 30s lookback PT's own
// "attacking" rule already uses in snapshotWithDeltas.
const positionSampleWindow = 30 * time.Second

// runDetectionLoop drives TED off PT's derived state every
// DetectionInterval until ctx is cancelled: this is the PT->TED edge of
// spec.md §2's dataflow diagram, the part of the pipeline that actually
// feeds Detector.OnPositionBatch/OnRaceState instead of only exercising
// them from unit tests.
func (p *Pipeline) runDetectionLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.DetectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runDetectionTick(ctx)
		}
	}
}

func (p *Pipeline) runDetectionTick(ctx context.Context) {
	now := time.Now()
	groups := p.pt.GetGroups()
	race := p.pt.GetRaceState()

	p.ted.OnPositionBatch(p.buildPositionSamples(now, groups))
	p.ted.OnRaceState(p.buildGroupSamples(now, groups, race), now)

	p.publishNewTacticalEvents(ctx)
}

// buildPositionSamples derives one ted.PositionSample per tracked rider
// from PT's current position and recent history, per spec.md §4.4's
// attack/crash/mechanical conditions.
func (p *Pipeline) buildPositionSamples(now time.Time, groups []pt.RiderGroup) []ted.PositionSample {
	riderGroupGapSecs := make(map[string]float64, len(groups))
	for _, g := range groups {
		if g.GapToNext == nil {
			continue
		}
		gap := g.GapToNext.Seconds()
		for _, rid := range g.RiderIDs {
			riderGroupGapSecs[rid] = gap
		}
	}

	positions := p.pt.GetAllPositions()
	samples := make([]ted.PositionSample, 0, len(positions))
	for _, cur := range positions {
		hist := p.pt.GetRiderHistory(cur.RiderID, 0)
		if len(hist) == 0 {
			continue
		}

		earliest, ok := earliestWithinWindow(hist, now, positionSampleWindow)
		if !ok {
			continue
		}

		deltaSpeed := cur.GroundSpeed - earliest.GroundSpeed
		var deltaPosition float64
		if cur.HasRacePosition && earliest.HasRacePosition {
			deltaPosition = float64(earliest.RacePosition - cur.RacePosition)
		}

		var loc *ted.Location
		if cur.HasGPS {
			loc = &ted.Location{Lat: cur.GPS.Lat, Lon: cur.GPS.Lon}
		}

		samples = append(samples, ted.PositionSample{
			RiderID:            cur.RiderID,
			Timestamp:          cur.Timestamp,
			DeltaSpeed:         deltaSpeed,
			DeltaPosition:      deltaPosition,
			GapToGroupSeconds:  riderGroupGapSecs[cur.RiderID],
			SteadyDeceleration: deltaSpeed < 0 && isMonotonicDeceleration(hist),
			Location:           loc,
		})
	}
	return samples
}

// buildGroupSamples derives one ted.GroupSample per current PT group, per
// spec.md §4.4's breakaway/sprint/chase conditions. SustainedSeconds and
// GapDecreasing need state across ticks (how long has this exact rider
// set persisted, is its gap shrinking), tracked in Pipeline keyed by a
// sorted-member signature since groups carry no id of their own.
func (p *Pipeline) buildGroupSamples(now time.Time, groups []pt.RiderGroup, race pt.RaceState) []ted.GroupSample {
	positions := make(map[string]pt.RiderPosition, len(p.pt.GetAllPositions()))
	for _, rp := range p.pt.GetAllPositions() {
		positions[rp.RiderID] = rp
	}

	samples := make([]ted.GroupSample, 0, len(groups))
	active := make(map[string]struct{}, len(groups))

	for _, g := range groups {
		sig := groupSignature(g.RiderIDs)
		active[sig] = struct{}{}

		firstSeen, ok := p.groupFirstSeen[sig]
		if !ok {
			firstSeen = now
			p.groupFirstSeen[sig] = firstSeen
		}

		var gapToPelotonSecs float64
		var gapDecreasing bool
		if g.GapToNext != nil {
			gapSecs := g.GapToNext.Seconds()
			gapToPelotonSecs = gapSecs
			if prev, ok := p.groupLastGapSecs[sig]; ok {
				gapDecreasing = gapSecs < prev
			}
			p.groupLastGapSecs[sig] = gapSecs
		}

		var loc *ted.Location
		if len(g.RiderIDs) > 0 {
			if first, ok := positions[g.RiderIDs[0]]; ok && first.HasGPS {
				loc = &ted.Location{Lat: first.GPS.Lat, Lon: first.GPS.Lon}
			}
		}

		samples = append(samples, ted.GroupSample{
			RiderIDs:            g.RiderIDs,
			Size:                len(g.RiderIDs),
			GapToPelotonSeconds: gapToPelotonSecs,
			SustainedSeconds:    now.Sub(firstSeen).Seconds(),
			AvgSpeed:            g.AvgSpeed,
			CompactnessMeters:   groupCompactnessMeters(g.RiderIDs, positions),
			DistanceToFinishKM:  race.RemainingKM,
			GapDecreasing:       gapDecreasing,
			Location:            loc,
		})
	}

	for sig := range p.groupFirstSeen {
		if _, ok := active[sig]; !ok {
			delete(p.groupFirstSeen, sig)
			delete(p.groupLastGapSecs, sig)
		}
	}

	return samples
}

// publishNewTacticalEvents diffs TED's active set against what this
// pipeline has already published and dispatches (publish+archive+notify)
// anything new, so a TED-detected event reaches EB/DNS/WSM exactly once.
func (p *Pipeline) publishNewTacticalEvents(ctx context.Context) {
	for _, ev := range p.ted.GetActive() {
		if _, seen := p.seenTacticalEvents[ev.ID]; seen {
			continue
		}
		p.seenTacticalEvents[ev.ID] = struct{}{}
		p.dispatchTacticalEvent(ctx, p.raceID, ev)
	}
}

func earliestWithinWindow(history []pt.RiderPosition, now time.Time, window time.Duration) (pt.RiderPosition, bool) {
	var earliest pt.RiderPosition
	found := false
	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		if now.Sub(h.Timestamp) > window {
			break
		}
		earliest = h
		found = true
	}
	return earliest, found
}

// isMonotonicDeceleration reports whether ground speed never rose (beyond
// noise) across history, feeding the mechanical pattern's
// steadyDeceleration condition.
func isMonotonicDeceleration(history []pt.RiderPosition) bool {
	if len(history) < 2 {
		return false
	}
	const noise = 0.1
	for i := 1; i < len(history); i++ {
		if history[i].GroundSpeed > history[i-1].GroundSpeed+noise {
			return false
		}
	}
	return true
}

// groupSignature builds a stable key for a rider set so group persistence
// can be tracked tick-over-tick even though RiderGroup carries no id.
func groupSignature(riderIDs []string) string {
	sorted := append([]string(nil), riderIDs...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// groupCompactnessMeters is the largest pairwise haversine distance among
// a group's GPS-equipped members, the physical-compactness proxy the
// sprint pattern's compactnessMeters condition needs.
func groupCompactnessMeters(riderIDs []string, positions map[string]pt.RiderPosition) float64 {
	var withGPS []pt.RiderPosition
	for _, id := range riderIDs {
		if rp, ok := positions[id]; ok && rp.HasGPS {
			withGPS = append(withGPS, rp)
		}
	}
	var maxDist float64
	for i := 0; i < len(withGPS); i++ {
		for j := i + 1; j < len(withGPS); j++ {
			d := pt.HaversineMeters(withGPS[i].GPS.Lat, withGPS[i].GPS.Lon, withGPS[j].GPS.Lat, withGPS[j].GPS.Lon)
			if d > maxDist {
				maxDist = d
			}
		}
	}
	return maxDist
}
