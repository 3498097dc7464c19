// Package crm implements the Connection Resilience Manager: a pool of
// upstream telemetry endpoints guarded by per-endpoint circuit breakers,
// health scoring, and failover, grounded on the teacher's
// scheduler.CircuitBreaker / NodeHealth shapes.
package crm

import "time"

// Role is the declared purpose of an endpoint in the pool.
type Role string

const (
	RolePrimary  Role = "primary"
	RoleFallback Role = "fallback"
)

// Status is the lifecycle state of an Endpoint as driven by the manager.
type Status string

const (
	StatusInactive   Status = "inactive"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusFailed     Status = "failed"
)

// RawTelemetryFrame is the unit the CRM accepts from an upstream endpoint
// and the unit DAS ingests downstream.
type RawTelemetryFrame struct {
	ID        string
	SourceID  string
	DataType  string // position, weather, race_state, timing, tactical_event
	Key       string // opaque aggregation key
	Value     any
	Timestamp time.Time
	Metadata  FrameMetadata
	Checksum  string // optional MD5 hex of Value, caller-supplied
}

// FrameMetadata carries the confidence/units envelope spec.md §3 requires
// on every RawTelemetryFrame.
type FrameMetadata struct {
	Confidence float64
	Units      string
}

// Endpoint is a registered upstream telemetry source.
type Endpoint struct {
	ID     string
	Address string
	Role   Role
	Weight float64

	Status      Status
	HealthScore float64 // [0,100]
	Latency     time.Duration
	MessageCount int64
	ErrorCount   int64
	LastProbe    time.Time

	Breaker *CircuitBreaker
}

// Snapshot is an immutable, lock-free copy of an Endpoint for readers,
// mirroring the teacher's copy-on-read convention in store/memory.go.
type Snapshot struct {
	ID           string
	Address      string
	Role         Role
	Weight       float64
	Status       Status
	HealthScore  float64
	Latency      time.Duration
	MessageCount int64
	ErrorCount   int64
	BreakerState CircuitState
}
