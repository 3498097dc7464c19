package pt

import (
	"math"
	"time"

	"github.com/racepulse/core/internal/observability"
)

// RunLoop drives the PT processing loop every UpdateInterval until stop is
// closed: prune stale riders, interpolate recent-but-silent ones, detect
// groups, compute gaps, and derive race state, per spec.md §4.3.
func (t *Tracker) RunLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Tracker) tick() {
	now := timeNow()

	t.pruneStale(now)
	t.interpolateSilent(now)

	positions, deltas, altitudeGain30s := t.snapshotWithDeltas(now)

	groups := detectGroups(positions, t.cfg.GroupDistanceMeters, t.cfg.GroupTimeThreshold)

	t.mu.Lock()
	t.groups = groups
	prevStatus := t.race.Status
	t.race = deriveRaceState(raceStateInputs{
		positions:       positions,
		groups:          groups,
		positionDeltas:  deltas,
		altitudeGain30s: altitudeGain30s,
		km:              t.race.KM,
		remainingKM:     t.race.RemainingKM,
	}, prevStatus)
	t.mu.Unlock()

	observability.GroupsDetected.Set(float64(len(groups)))
}

// GetRaceGaps returns the current gap-to-leader / gap-to-previous view.
func (t *Tracker) GetRaceGaps() []RaceGap {
	t.mu.RLock()
	positions := make([]RiderPosition, 0, len(t.riders))
	for _, rs := range t.riders {
		positions = append(positions, rs.current)
	}
	t.mu.RUnlock()
	return computeGaps(positions)
}

// pruneStale removes riders whose newest position is older than
// PositionTimeout.
func (t *Tracker) pruneStale(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, rs := range t.riders {
		if now.Sub(rs.current.Timestamp) > t.cfg.PositionTimeout {
			delete(t.riders, id)
		}
	}
	observability.RidersTracked.Set(float64(len(t.riders)))
}

// interpolateSilent projects riders whose last update age falls in
// (5s, maxInterpolationTime] forward along heading at last known speed,
// storing the result as current with confidence x0.8; it is never pushed
// into history as ground truth.
func (t *Tracker) interpolateSilent(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, rs := range t.riders {
		age := now.Sub(rs.current.Timestamp)
		if age <= interpolateAfter || age > t.cfg.MaxInterpolationTime {
			continue
		}
		dt := age.Seconds()
		p := rs.current
		if p.HasGPS {
			distance := p.GroundSpeed * dt
			p.GPS.Lat, p.GPS.Lon = projectLatLon(p.GPS.Lat, p.GPS.Lon, p.Heading, distance)
		}
		p.Confidence *= 0.8
		p.Interpolated = true
		rs.current = p
	}
}

// projectLatLon moves a lat/lon point distanceMeters along heading
// (degrees, 0=north, clockwise), using the same WGS-84 sphere as haversine.
func projectLatLon(lat, lon, headingDeg, distanceMeters float64) (float64, float64) {
	heading := headingDeg * math.Pi / 180
	angularDistance := distanceMeters / earthRadiusMeters

	lat1 := lat * math.Pi / 180
	lon1 := lon * math.Pi / 180

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(angularDistance) +
		math.Cos(lat1)*math.Sin(angularDistance)*math.Cos(heading))
	lon2 := lon1 + math.Atan2(
		math.Sin(heading)*math.Sin(angularDistance)*math.Cos(lat1),
		math.Cos(angularDistance)-math.Sin(lat1)*math.Sin(lat2))

	return lat2 * 180 / math.Pi, lon2 * 180 / math.Pi
}

// snapshotWithDeltas returns current positions, each rider's position
// movement over the last 30s of history (feeding the "attacking" rule),
// and the mean altitude gained over the same window across riders with a
// GPS fix (feeding the "climb" rule).
func (t *Tracker) snapshotWithDeltas(now time.Time) ([]RiderPosition, []positionDelta, float64) {
	const window = 30 * time.Second

	t.mu.RLock()
	defer t.mu.RUnlock()

	positions := make([]RiderPosition, 0, len(t.riders))
	deltas := make([]positionDelta, 0, len(t.riders))
	var altGainSum float64
	var altSamples int

	for id, rs := range t.riders {
		positions = append(positions, rs.current)
		if rs.current.HasRacePosition {
			var earliest *RiderPosition
			for i := len(rs.history) - 1; i >= 0; i-- {
				h := rs.history[i]
				if now.Sub(h.Timestamp) > window {
					break
				}
				if h.HasRacePosition {
					earliest = &rs.history[i]
				}
			}
			if earliest != nil {
				deltas = append(deltas, positionDelta{
					riderID: id,
					delta:   earliest.RacePosition - rs.current.RacePosition,
				})
			}
		}
		if rs.current.HasGPS {
			var earliestAlt float64
			found := false
			for i := len(rs.history) - 1; i >= 0; i-- {
				h := rs.history[i]
				if now.Sub(h.Timestamp) > window {
					break
				}
				if h.HasGPS {
					earliestAlt = h.GPS.Altitude
					found = true
				}
			}
			if found {
				altGainSum += rs.current.GPS.Altitude - earliestAlt
				altSamples++
			}
		}
	}

	var altitudeGain30s float64
	if altSamples > 0 {
		altitudeGain30s = altGainSum / float64(altSamples)
	}
	return positions, deltas, altitudeGain30s
}
