package pt

import (
	"sync"
	"time"

	"github.com/racepulse/core/internal/observability"
)

// Config is the subset of process configuration PT consumes.
type Config struct {
	UpdateInterval       time.Duration
	PositionTimeout      time.Duration
	GroupDistanceMeters  float64
	GroupTimeThreshold   time.Duration
	MaxInterpolationTime time.Duration
}

const (
	maxSpeedMPS        = 27.78
	minRacePosition    = 1
	maxRacePosition    = 300
	maxTimestampSkew   = time.Hour
	interpolateAfter   = 5 * time.Second
)

// Tracker holds the authoritative per-rider state and derives groups,
// gaps, and race state.
type Tracker struct {
	cfg Config

	mu      sync.RWMutex
	riders  map[string]*riderState
	groups  []RiderGroup
	race    RaceState
}

// NewTracker builds an empty Tracker.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:    cfg,
		riders: make(map[string]*riderState),
		race:   RaceState{Status: RaceNotStarted},
	}
}

// ApplyPosition validates and stores a new RiderPosition, discarding it if
// invalid or not newer than the currently stored position, per spec.md §4.3
// and the quantified properties in §8.
func (t *Tracker) ApplyPosition(p RiderPosition) error {
	if reason, invalid := validate(p); invalid {
		observability.PositionsDiscarded.WithLabelValues(reason).Inc()
		return errInvalidPosition(reason)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.riders[p.RiderID]
	if !ok {
		rs = &riderState{}
		t.riders[p.RiderID] = rs
	} else if !p.Timestamp.After(rs.current.Timestamp) {
		observability.PositionsDiscarded.WithLabelValues("stale_timestamp").Inc()
		return nil
	}

	rs.current = p
	if !p.Interpolated {
		rs.pushHistory(p)
	}
	observability.RidersTracked.Set(float64(len(t.riders)))
	return nil
}

// validate implements spec.md §4.3's discard rules.
func validate(p RiderPosition) (reason string, invalid bool) {
	if p.RiderID == "" || p.Timestamp.IsZero() {
		return "missing_field", true
	}
	if d := p.Timestamp.Sub(timeNow()); d > maxTimestampSkew || -d > maxTimestampSkew {
		return "timestamp_skew", true
	}
	if p.HasRacePosition && (p.RacePosition < minRacePosition || p.RacePosition > maxRacePosition) {
		return "position_out_of_range", true
	}
	if p.HasGPS && (p.GPS.Lat < -90 || p.GPS.Lat > 90 || p.GPS.Lon < -180 || p.GPS.Lon > 180) {
		return "gps_out_of_range", true
	}
	if p.GroundSpeed > maxSpeedMPS {
		return "speed_out_of_range", true
	}
	return "", false
}

// timeNow is a seam for deterministic tests.
var timeNow = time.Now

type errInvalidPosition string

func (e errInvalidPosition) Error() string { return "pt: invalid position: " + string(e) }

// GetRider returns the current position of a rider.
func (t *Tracker) GetRider(id string) (RiderPosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rs, ok := t.riders[id]
	if !ok {
		return RiderPosition{}, false
	}
	return rs.current, true
}

// GetAllPositions returns the current position of every tracked rider.
func (t *Tracker) GetAllPositions() []RiderPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RiderPosition, 0, len(t.riders))
	for _, rs := range t.riders {
		out = append(out, rs.current)
	}
	return out
}

// GetRiderHistory returns up to limit of the most recent ground-truth
// positions for a rider, oldest first.
func (t *Tracker) GetRiderHistory(id string, limit int) []RiderPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rs, ok := t.riders[id]
	if !ok {
		return nil
	}
	h := rs.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]RiderPosition, len(h))
	copy(out, h)
	return out
}

// GetGroups returns the last computed group partition.
func (t *Tracker) GetGroups() []RiderGroup {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RiderGroup, len(t.groups))
	copy(out, t.groups)
	return out
}

// GetRaceState returns the last derived race state.
func (t *Tracker) GetRaceState() RaceState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.race
}
