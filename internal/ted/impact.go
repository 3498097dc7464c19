package ted

import "time"

// computeImpact derives an event's impact from its type, severity, rider
// count, and tags — a pure function with no external state, per
// spec.md §4.4.
func computeImpact(e TacticalEvent) Impact {
	affected := len(e.InvolvedRiders)

	var raceFlow, significance, gc string
	var delay time.Duration
	groupSplit := false

	switch e.Type {
	case EventCrash:
		raceFlow = "disrupted"
		significance = "high"
		delay = 30 * time.Second
		groupSplit = affected > 1
		gc = "possible_time_loss"
	case EventMechanical:
		raceFlow = "disrupted"
		significance = "medium"
		delay = 15 * time.Second
		gc = "possible_time_loss"
	case EventAttack:
		raceFlow = "accelerating"
		significance = "high"
		groupSplit = true
		gc = "contenders_only"
	case EventBreakaway:
		raceFlow = "splitting"
		significance = "high"
		groupSplit = true
		gc = "watch_gap"
	case EventChase:
		raceFlow = "consolidating"
		significance = "medium"
		gc = "watch_gap"
	case EventSprint:
		raceFlow = "accelerating"
		significance = "high"
		gc = "stage_result_only"
	default:
		raceFlow = "stable"
		significance = "low"
		gc = "none"
	}

	if e.Severity == SeverityCritical {
		significance = "critical"
	}

	return Impact{
		RaceFlow:             raceFlow,
		TacticalSignificance: significance,
		AffectedRiders:       affected,
		EstimatedTimeDelay:   delay,
		GroupSplit:           groupSplit,
		GCImpact:             gc,
	}
}
