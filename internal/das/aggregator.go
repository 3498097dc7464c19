package das

import (
	"log"
	"sync"
	"time"

	"github.com/racepulse/core/internal/observability"
)

// Config is the subset of process configuration DAS consumes.
type Config struct {
	AggregationWindow time.Duration
	MaxDataAge        time.Duration
	ConflictThreshold float64
	MinSources        int
}

// defaultStrategyOrder is the ordered list of strategies tried for any
// data type without an explicit override, in the order spec.md §4.2 lists
// them.
var defaultStrategyOrder = []string{
	"weighted_average", "highest_priority", "majority_vote",
	"confidence_weighted", "temporal_priority", "source_reliability",
}

// Aggregator is the Data Aggregation Service.
type Aggregator struct {
	cfg Config

	mu       sync.RWMutex
	sources  map[string]*DataSource
	buffers  map[string][]bufferedPoint // "<dataType>:<key>" -> points
	resolved map[string]*AggregatedPoint

	strategyOrder map[string][]string // dataType -> override order
}

// NewAggregator builds an Aggregator.
func NewAggregator(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:           cfg,
		sources:       make(map[string]*DataSource),
		buffers:       make(map[string][]bufferedPoint),
		resolved:      make(map[string]*AggregatedPoint),
		strategyOrder: make(map[string][]string),
	}
}

// RegisterSource adds or reactivates a data source.
func (a *Aggregator) RegisterSource(id string, priority int, accuracy float64, sourceType string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if src, ok := a.sources[id]; ok {
		src.Priority = priority
		src.Accuracy = accuracy
		src.Type = sourceType
		src.Active = true
		return
	}

	a.sources[id] = &DataSource{
		ID: id, Priority: priority, Accuracy: accuracy, Type: sourceType,
		Reliability: 1.0, Active: true, Uptime: 1.0,
		RegisteredAt: time.Now(),
	}
}

// Ingest appends a raw sample to the buffer for <dataType>:<key>. Unknown
// or inactive sources are dropped with a log, per spec.md §4.2.
func (a *Aggregator) Ingest(sourceID, dataType, key string, value any, timestamp time.Time, confidence float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	src, ok := a.sources[sourceID]
	if !ok || !src.Active {
		log.Printf("das: dropping ingest from unknown/inactive source %s", sourceID)
		return
	}
	src.LastIngestAt = time.Now()

	bufKey := dataType + ":" + key
	a.buffers[bufKey] = append(a.buffers[bufKey], bufferedPoint{
		SourceID: sourceID, Value: value, SourceTimestamp: timestamp,
		IngestionTimestamp: time.Now(), Confidence: confidence,
	})
}

// GetResolved returns the resolved AggregatedPoint for key, if present.
func (a *Aggregator) GetResolved(key string) (AggregatedPoint, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.resolved[key]
	if !ok {
		return AggregatedPoint{}, false
	}
	return *p, true
}

// GetAllResolved returns a snapshot of every resolved point.
func (a *Aggregator) GetAllResolved() []AggregatedPoint {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]AggregatedPoint, 0, len(a.resolved))
	for _, p := range a.resolved {
		out = append(out, *p)
	}
	return out
}

// RunResolutionLoop drives the processing loop every AggregationWindow
// until ctx is cancelled.
func (a *Aggregator) RunResolutionLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(a.cfg.AggregationWindow)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.resolveReady()
		}
	}
}

// resolveReady resolves every buffered key whose distinct-source count has
// reached MinSources or whose oldest point exceeds MaxDataAge.
func (a *Aggregator) resolveReady() {
	now := time.Now()

	a.mu.Lock()
	ready := make(map[string][]bufferedPoint)
	for bufKey, points := range a.buffers {
		distinct := make(map[string]struct{})
		oldest := now
		for _, p := range points {
			distinct[p.SourceID] = struct{}{}
			if p.SourceTimestamp.Before(oldest) {
				oldest = p.SourceTimestamp
			}
		}
		if len(distinct) >= a.cfg.MinSources || now.Sub(oldest) > a.cfg.MaxDataAge {
			ready[bufKey] = points
			delete(a.buffers, bufKey)
		}
	}
	trust := make(map[string]float64, len(a.sources))
	sourcesCopy := make(map[string]*DataSource, len(a.sources))
	for id, s := range a.sources {
		trust[id] = s.TrustScore(now, a.cfg.MaxDataAge)
		sourcesCopy[id] = s
	}
	a.mu.Unlock()

	for bufKey, points := range ready {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("das: resolution panic for %s recovered: %v", bufKey, r)
				}
			}()
			a.resolveOne(bufKey, points, trust, sourcesCopy, now)
		}()
	}
}

func (a *Aggregator) resolveOne(bufKey string, points []bufferedPoint, trust map[string]float64, sources map[string]*DataSource, now time.Time) {
	dataType := bufKey
	if idx := indexOfColon(bufKey); idx >= 0 {
		dataType = bufKey[:idx]
	}

	order := defaultStrategyOrder
	a.mu.RLock()
	if custom, ok := a.strategyOrder[dataType]; ok {
		order = custom
	}
	a.mu.RUnlock()

	best := strategyResult{confidence: -1}
	for _, name := range order {
		var res strategyResult
		switch name {
		case "weighted_average":
			res = weightedAverage(points, trust)
		case "highest_priority":
			res = highestPriority(points, trust, sources)
		case "majority_vote":
			res = majorityVote(points, trust)
		case "confidence_weighted":
			res = confidenceWeighted(points, trust)
		case "temporal_priority":
			res = temporalPriority(points, now, a.cfg.MaxDataAge)
		case "source_reliability":
			res = sourceReliability(points, sources)
		}
		if res.ok && res.confidence > best.confidence {
			best = res
		}
	}

	if best.confidence < 0 {
		best = strategyResult{value: points[0].Value, confidence: 0.5, method: "fallback", ok: true}
	}

	bySource := make(map[string]SourceValue, len(points))
	earliest := points[0].SourceTimestamp
	for _, p := range points {
		bySource[p.SourceID] = SourceValue{Value: p.Value, SourceTimestamp: p.SourceTimestamp, IngestionTimestamp: p.IngestionTimestamp}
		if p.SourceTimestamp.Before(earliest) {
			earliest = p.SourceTimestamp
		}
	}

	level := conflictLevel(points)

	idx := indexOfColon(bufKey)
	key := bufKey
	if idx >= 0 {
		key = bufKey[idx+1:]
	}

	point := &AggregatedPoint{
		DataType: dataType, Key: key, Sources: bySource,
		EarliestOriginTimestamp: earliest,
		ResolvedValue:           best.value,
		Confidence:              best.confidence,
		ConflictLevel:           level,
		ResolutionMethod:        best.method,
		ResolvedAt:              now,
	}

	a.mu.Lock()
	a.resolved[bufKey] = point
	a.mu.Unlock()

	observability.PointsResolved.WithLabelValues(best.method, dataType).Inc()
	observability.ConflictLevel.WithLabelValues(string(level), dataType).Inc()
}

func indexOfColon(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// RunHealthLoop marks sources inactive when silent for MaxDataAge and
// recomputes the aggregate data quality score every AggregationWindow.
func (a *Aggregator) RunHealthLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(a.cfg.AggregationWindow)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.refreshHealth()
		}
	}
}

func (a *Aggregator) refreshHealth() {
	now := time.Now()

	a.mu.Lock()
	var reliabilitySum, uptimeSum float64
	var active, registered int
	for _, src := range a.sources {
		registered++
		if !src.LastIngestAt.IsZero() && now.Sub(src.LastIngestAt) > a.cfg.MaxDataAge {
			src.Active = false
		}
		if src.Active {
			active++
		}
		reliabilitySum += src.Reliability
		uptimeSum += src.Uptime
	}
	a.mu.Unlock()

	if registered == 0 {
		observability.DataQualityScore.Set(0)
		return
	}
	meanReliability := reliabilitySum / float64(registered)
	meanUptime := uptimeSum / float64(registered)
	activeRatio := float64(active) / float64(registered)
	observability.DataQualityScore.Set(meanReliability * meanUptime * activeRatio)
}
