package das

import (
	"math"
	"time"
)

// strategyResult is what a resolution strategy returns; ok=false means the
// strategy declined (e.g. no numeric values to average).
type strategyResult struct {
	value      any
	confidence float64
	method     string
	ok         bool
}

// asFloat converts a buffered value to float64 when possible.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// weightedAverage: Sigma(value*trust)/Sigma(trust); confidence =
// min(0.95, Sigma(trust)/N). Per spec.md §9's open question, the
// confidence formula sums trust without normalizing by source count and
// is implemented exactly as specified, not "fixed".
func weightedAverage(points []bufferedPoint, trust map[string]float64) strategyResult {
	var weightedSum, trustSum float64
	n := 0
	for _, p := range points {
		v, ok := asFloat(p.Value)
		if !ok {
			continue
		}
		t := trust[p.SourceID]
		weightedSum += v * t
		trustSum += t
		n++
	}
	if n == 0 || trustSum <= 0 {
		return strategyResult{}
	}
	conf := trustSum / float64(n)
	if conf > 0.95 {
		conf = 0.95
	}
	return strategyResult{value: weightedSum / trustSum, confidence: conf, method: "weighted_average", ok: true}
}

// highestPriority: value from the source with the maximum declared
// priority among contributing points.
func highestPriority(points []bufferedPoint, trust map[string]float64, sources map[string]*DataSource) strategyResult {
	var best *bufferedPoint
	bestPriority := -1
	for i := range points {
		src, ok := sources[points[i].SourceID]
		if !ok {
			continue
		}
		if src.Priority > bestPriority {
			bestPriority = src.Priority
			best = &points[i]
		}
	}
	if best == nil {
		return strategyResult{}
	}
	conf := float64(bestPriority) / 10
	if conf > 0.9 {
		conf = 0.9
	}
	return strategyResult{value: best.Value, confidence: conf, method: "highest_priority", ok: true}
}

// majorityVote: value with the maximum count*Sigma(trust of voters);
// confidence = min(0.95, score/N).
func majorityVote(points []bufferedPoint, trust map[string]float64) strategyResult {
	if len(points) == 0 {
		return strategyResult{}
	}
	type tally struct {
		count     int
		trustSum  float64
		value     any
	}
	byValue := make(map[any]*tally)
	for _, p := range points {
		key := valueKey(p.Value)
		t, ok := byValue[key]
		if !ok {
			t = &tally{value: p.Value}
			byValue[key] = t
		}
		t.count++
		t.trustSum += trust[p.SourceID]
	}

	var bestKey any
	bestScore := -1.0
	for k, t := range byValue {
		score := float64(t.count) * t.trustSum
		if score > bestScore {
			bestScore = score
			bestKey = k
		}
	}
	winner := byValue[bestKey]
	conf := bestScore / float64(len(points))
	if conf > 0.95 {
		conf = 0.95
	}
	return strategyResult{value: winner.value, confidence: conf, method: "majority_vote", ok: true}
}

// valueKey maps an arbitrary value to a comparable map key.
func valueKey(v any) any {
	if f, ok := asFloat(v); ok {
		return f
	}
	return v
}

// confidenceWeighted: value maximizing metadata.confidence * trustScore.
func confidenceWeighted(points []bufferedPoint, trust map[string]float64) strategyResult {
	var best *bufferedPoint
	bestScore := -1.0
	for i := range points {
		score := points[i].Confidence * trust[points[i].SourceID]
		if score > bestScore {
			bestScore = score
			best = &points[i]
		}
	}
	if best == nil || bestScore <= 0 {
		return strategyResult{}
	}
	return strategyResult{value: best.Value, confidence: bestScore, method: "confidence_weighted", ok: true}
}

// temporalPriority: newest-timestamp value; confidence decays linearly
// from 1 at age 0 to 0.1 at maxDataAge.
func temporalPriority(points []bufferedPoint, now time.Time, maxDataAge time.Duration) strategyResult {
	if len(points) == 0 {
		return strategyResult{}
	}
	newest := points[0]
	for _, p := range points[1:] {
		if p.SourceTimestamp.After(newest.SourceTimestamp) {
			newest = p
		}
	}
	age := now.Sub(newest.SourceTimestamp)
	frac := 0.0
	if maxDataAge > 0 {
		frac = float64(age) / float64(maxDataAge)
	}
	if frac > 1 {
		frac = 1
	}
	conf := 1 - 0.9*frac
	return strategyResult{value: newest.Value, confidence: conf, method: "temporal_priority", ok: true}
}

// sourceReliability: value from the source with the maximum reliability;
// confidence = min(0.9, reliability).
func sourceReliability(points []bufferedPoint, sources map[string]*DataSource) strategyResult {
	var best *bufferedPoint
	bestReliability := -1.0
	for i := range points {
		src, ok := sources[points[i].SourceID]
		if !ok {
			continue
		}
		if src.Reliability > bestReliability {
			bestReliability = src.Reliability
			best = &points[i]
		}
	}
	if best == nil {
		return strategyResult{}
	}
	conf := bestReliability
	if conf > 0.9 {
		conf = 0.9
	}
	return strategyResult{value: best.Value, confidence: conf, method: "source_reliability", ok: true}
}

// conflictLevel computes the dispersion of points per spec.md §4.2: for
// numeric vectors use the coefficient of variation with thresholds
// 0.05/0.10/0.20; for non-numeric use (|unique|-1)/N with thresholds
// 0/0.3/0.5.
func conflictLevel(points []bufferedPoint) ConflictLevel {
	if len(points) < 2 {
		return ConflictNone
	}

	values := make([]float64, 0, len(points))
	allNumeric := true
	for _, p := range points {
		v, ok := asFloat(p.Value)
		if !ok {
			allNumeric = false
			break
		}
		values = append(values, v)
	}

	if allNumeric {
		mean := 0.0
		for _, v := range values {
			mean += v
		}
		mean /= float64(len(values))
		if mean == 0 {
			return ConflictNone
		}
		var variance float64
		for _, v := range values {
			d := v - mean
			variance += d * d
		}
		variance /= float64(len(values))
		cv := math.Sqrt(variance) / math.Abs(mean)
		switch {
		case cv < 0.05:
			return ConflictNone
		case cv < 0.10:
			return ConflictLow
		case cv < 0.20:
			return ConflictMedium
		default:
			return ConflictHigh
		}
	}

	unique := make(map[any]struct{})
	for _, p := range points {
		unique[p.Value] = struct{}{}
	}
	ratio := float64(len(unique)-1) / float64(len(points))
	switch {
	case ratio <= 0:
		return ConflictNone
	case ratio <= 0.3:
		return ConflictLow
	case ratio <= 0.5:
		return ConflictMedium
	default:
		return ConflictHigh
	}
}
