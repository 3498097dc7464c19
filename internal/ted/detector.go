package ted

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/racepulse/core/internal/observability"
)

// Config is the subset of process configuration TED consumes.
type Config struct {
	DetectionInterval   time.Duration
	ConfidenceThreshold float64
	EventRetention      time.Duration
}

const (
	mergeMaxDelta    = 60 * time.Second
	mergeMaxDistance = 500.0
)

// PositionSample is the short-tail per-rider window TED consumes from PT,
// carrying precomputed deltas rather than raw positions so TED stays a
// pure consumer of PT's state (per spec.md §4.4, "inputs consumed, not
// owned").
type PositionSample struct {
	RiderID            string
	Timestamp          time.Time
	DeltaSpeed         float64 // m/s change over the sample's time window
	DeltaPosition       float64 // race-position places gained
	GapToGroupSeconds  float64
	SteadyDeceleration bool
	Location           *Location
}

// GroupSample is a derived group observation, feeding breakaway/sprint/
// chase pattern facts.
type GroupSample struct {
	RiderIDs           []string
	Size               int
	GapToPelotonSeconds float64
	SustainedSeconds    float64
	AvgSpeed            float64
	CompactnessMeters   float64
	DistanceToFinishKM  float64
	GapDecreasing       bool
	Location            *Location
}

// Detector is the Tactical Event Detector.
type Detector struct {
	cfg Config

	mu       sync.RWMutex
	patterns map[string]Pattern
	active   map[string]*TacticalEvent
	rules    []CorrelationRule
}

// NewDetector builds a Detector seeded with the default pattern table and
// correlation rules.
func NewDetector(cfg Config) *Detector {
	d := &Detector{
		cfg:      cfg,
		patterns: make(map[string]Pattern),
		active:   make(map[string]*TacticalEvent),
		rules:    DefaultCorrelationRules(),
	}
	for _, p := range DefaultPatterns() {
		d.patterns[p.Name] = p
	}
	return d
}

// AddPattern registers or replaces a named pattern.
func (d *Detector) AddPattern(name string, p Pattern) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns[name] = p
}

// OnPositionBatch matches the attack/crash/mechanical patterns (the
// per-rider patterns) against a batch of position samples.
func (d *Detector) OnPositionBatch(batch []PositionSample) {
	for _, s := range batch {
		facts := map[string]any{
			"deltaSpeed":         s.DeltaSpeed,
			"deltaPosition":      s.DeltaPosition,
			"gapToGroup":         s.GapToGroupSeconds,
			"steadyDeceleration": s.SteadyDeceleration,
		}
		d.evaluateAndEmit([]string{"attack", "crash", "mechanical"}, facts, []string{s.RiderID}, s.Timestamp, s.Location)
	}
}

// OnRaceState matches the breakaway/sprint/chase patterns (the
// group-level patterns) against a derived race-state group list.
func (d *Detector) OnRaceState(groups []GroupSample, now time.Time) {
	for _, g := range groups {
		facts := map[string]any{
			"size":               float64(g.Size),
			"gapToPeloton":       g.GapToPelotonSeconds,
			"sustainedSeconds":   g.SustainedSeconds,
			"avgSpeed":           g.AvgSpeed,
			"compactnessMeters":  g.CompactnessMeters,
			"distanceToFinishKM": g.DistanceToFinishKM,
			"gapDecreasing":      g.GapDecreasing,
			"deltaSpeed":         g.AvgSpeed, // chase also checks deltaSpeed>2; reuse avgSpeed momentum proxy
		}
		d.evaluateAndEmit([]string{"breakaway", "sprint", "chase"}, facts, g.RiderIDs, now, g.Location)
	}
}

func (d *Detector) evaluateAndEmit(patternNames []string, facts map[string]any, riders []string, ts time.Time, loc *Location) {
	d.mu.RLock()
	var candidates []Pattern
	for _, name := range patternNames {
		if p, ok := d.patterns[name]; ok {
			candidates = append(candidates, p)
		}
	}
	d.mu.RUnlock()

	for _, p := range candidates {
		matched, confidence := matchPattern(p, facts)
		if !matched || confidence < d.cfg.ConfidenceThreshold {
			continue
		}

		ev := &TacticalEvent{
			ID:             uuid.NewString(),
			Type:           EventType(p.Name),
			Severity:       p.Severity,
			Confidence:     confidence,
			Timestamp:      ts,
			Location:       loc,
			InvolvedRiders: riders,
			TriggerData:    facts,
			Verification:   StatusUnverified,
		}
		ev.Impact = computeImpact(*ev)

		d.mergeOrAdd(ev)
	}
}

// mergeOrAdd merges ev into an existing event sharing type, within 60s,
// within 500m (if both have location), and sharing >=1 rider; otherwise
// adds it as new, per spec.md §4.4.
func (d *Detector) mergeOrAdd(ev *TacticalEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.active {
		if !d.shouldMerge(existing, ev) {
			continue
		}
		existing.InvolvedRiders = unionRiders(existing.InvolvedRiders, ev.InvolvedRiders)
		existing.Confidence = (existing.Confidence + ev.Confidence) / 2
		for k, v := range ev.TriggerData {
			if existing.TriggerData == nil {
				existing.TriggerData = make(map[string]any)
			}
			existing.TriggerData[k] = v
		}
		existing.Impact = computeImpact(*existing)
		observability.EventsMerged.Inc()
		return
	}

	d.active[ev.ID] = ev
	observability.EventsEmitted.WithLabelValues(string(ev.Type), string(ev.Severity)).Inc()
}

func (d *Detector) shouldMerge(existing, ev *TacticalEvent) bool {
	if existing.Type != ev.Type {
		return false
	}
	delta := ev.Timestamp.Sub(existing.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	if delta > mergeMaxDelta {
		return false
	}
	if existing.Location != nil && ev.Location != nil {
		if haversineMeters(existing.Location.Lat, existing.Location.Lon, ev.Location.Lat, ev.Location.Lon) > mergeMaxDistance {
			return false
		}
	}
	for _, r := range ev.InvolvedRiders {
		if existing.hasRider(r) {
			return true
		}
	}
	return false
}

// Verify updates an event's verification status.
func (d *Detector) Verify(eventID string, status VerificationStatus) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev, ok := d.active[eventID]
	if !ok {
		return false
	}
	ev.Verification = status
	return true
}

// GetActive returns every event not past its retention TTL, ranked by
// severity-weighted confidence (highest first).
func (d *Detector) GetActive() []TacticalEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]TacticalEvent, 0, len(d.active))
	for _, e := range d.active {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Confidence*severityMultiplier(out[i].Severity) > out[j].Confidence*severityMultiplier(out[j].Severity)
	})
	return out
}

// GetByType returns up to limit events of the given type, most recent first.
func (d *Detector) GetByType(t EventType, limit int) []TacticalEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []TacticalEvent
	for _, e := range d.active {
		if e.Type == t {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetByRider returns up to limit events involving rider id, most recent first.
func (d *Detector) GetByRider(id string, limit int) []TacticalEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []TacticalEvent
	for _, e := range d.active {
		if e.hasRider(id) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RunCorrelationLoop periodically links correlated event pairs until stop
// is closed.
func (d *Detector) RunCorrelationLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(d.cfg.DetectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.correlateActive()
		}
	}
}

func (d *Detector) correlateActive() {
	d.mu.Lock()
	defer d.mu.Unlock()

	events := make([]*TacticalEvent, 0, len(d.active))
	for _, e := range d.active {
		events = append(events, e)
	}
	links := correlate(events, d.rules)
	for _, e := range events {
		if l, ok := links[e.ID]; ok {
			e.RelatedEvents = l
		}
	}
}

// RunRetentionSweep removes events older than EventRetention every
// DetectionInterval, grounded on coordination.LockJanitor's
// scan-and-clean shape.
func (d *Detector) RunRetentionSweep(stop <-chan struct{}) {
	ticker := time.NewTicker(d.cfg.DetectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.sweepExpired()
		}
	}
}

func (d *Detector) sweepExpired() {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := time.Now().Add(-d.cfg.EventRetention)
	removed := 0
	for id, e := range d.active {
		if e.Timestamp.Before(cutoff) {
			delete(d.active, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("ted: retention sweep removed %d expired events", removed)
	}
}
