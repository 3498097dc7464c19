// Package observability exposes package-level Prometheus collectors for
// every pipeline stage, following the promauto convention.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// === CRM ===

	EndpointHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rp_crm_endpoint_health",
		Help: "Health score (0-100) of a registered endpoint",
	}, []string{"endpoint_id"})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rp_crm_circuit_state",
		Help: "Circuit breaker state per endpoint (0=closed, 1=half_open, 2=open)",
	}, []string{"endpoint_id"})

	FailoverTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rp_crm_failover_total",
		Help: "Total number of failovers performed",
	}, []string{"from_endpoint", "to_endpoint"})

	FramesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rp_crm_frames_rejected_total",
		Help: "Frames rejected by the integrity hook",
	}, []string{"reason"})

	ServiceDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rp_crm_service_degraded",
		Help: "1 when no endpoint is available to serve telemetry",
	})

	// === DAS ===

	PointsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rp_das_points_resolved_total",
		Help: "Aggregated points resolved by strategy",
	}, []string{"strategy", "data_type"})

	ConflictLevel = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rp_das_conflict_level_total",
		Help: "Resolved points by conflict level",
	}, []string{"level", "data_type"})

	DataQualityScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rp_das_data_quality_score",
		Help: "Aggregate data quality score across registered sources",
	})

	// === PT ===

	RidersTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rp_pt_riders_tracked",
		Help: "Current number of riders with a live position",
	})

	PositionsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rp_pt_positions_discarded_total",
		Help: "Positions discarded by validation reason",
	}, []string{"reason"})

	GroupsDetected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rp_pt_groups_detected",
		Help: "Current number of derived rider groups",
	})

	// === TED ===

	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rp_ted_events_emitted_total",
		Help: "Tactical events emitted by type",
	}, []string{"type", "severity"})

	EventsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rp_ted_events_merged_total",
		Help: "Tactical events merged into an existing event",
	})

	// === EB ===

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rp_eb_events_published_total",
		Help: "Events published by topic",
	}, []string{"topic"})

	DeadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rp_eb_dead_letters_total",
		Help: "Events routed to the dead-letter topic",
	}, []string{"topic", "reason"})

	ConsumerLagSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rp_eb_consumer_lag_seconds",
		Help: "Age of the oldest unacked message per partition",
	}, []string{"topic", "partition"})

	// === WSM ===

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rp_wsm_active_sessions",
		Help: "Current number of authenticated subscriber sessions",
	})

	RateLimitViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rp_wsm_rate_limit_violations_total",
		Help: "Messages dropped for exceeding the per-session rate limit",
	}, []string{"session_id"})

	BroadcastFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rp_wsm_broadcast_failures_total",
		Help: "Send failures during topic broadcast",
	}, []string{"topic"})

	// === DNS ===

	NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rp_dns_notifications_dispatched_total",
		Help: "Notifications dispatched by category and channel",
	}, []string{"category", "channel"})

	NotificationsRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rp_dns_notifications_rate_limited_total",
		Help: "Notification deliveries skipped for exceeding a subscription's rate cap",
	})

	// === Store ===

	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rp_store_operation_latency_seconds",
		Help:    "Durable store operation latency by operation name",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)
