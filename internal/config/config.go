// Package config loads the process-wide numeric configuration described in
// the platform's external interface contract, read once at init.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds every tunable the pipeline needs. All fields carry sane
// defaults, can be layered with a YAML file (LoadFile), and finally
// overridden by environment variable.
type Config struct {
	// CRM
	HealthCheckInterval   time.Duration `yaml:"healthCheckInterval"`
	ConnectionTimeout     time.Duration `yaml:"connectionTimeout"`
	FailoverTimeout       time.Duration `yaml:"failoverTimeout"`
	MaxRetryAttempts      int           `yaml:"maxRetryAttempts"`
	RetryDelay            time.Duration `yaml:"retryDelay"`
	BackoffMultiplier     float64       `yaml:"backoffMultiplier"`
	MaxRetryDelay         time.Duration `yaml:"maxRetryDelay"`
	FailureThreshold      int           `yaml:"failureThreshold"`
	CircuitBreakerTimeout time.Duration `yaml:"circuitBreakerTimeout"`
	DuplicateWindow       time.Duration `yaml:"duplicateWindow"`

	// DAS
	AggregationWindow time.Duration `yaml:"aggregationWindow"`
	MaxDataAge        time.Duration `yaml:"maxDataAge"`
	ConflictThreshold float64       `yaml:"conflictThreshold"`
	MinSources        int           `yaml:"minSources"`

	// PT
	UpdateInterval       time.Duration `yaml:"updateInterval"`
	PositionTimeout      time.Duration `yaml:"positionTimeout"`
	GroupDistanceMeters  float64       `yaml:"groupDistanceMeters"`
	GroupTimeThreshold   time.Duration `yaml:"groupTimeThreshold"`
	MaxInterpolationTime time.Duration `yaml:"maxInterpolationTime"`

	// TED
	DetectionInterval   time.Duration `yaml:"detectionInterval"`
	ConfidenceThreshold float64       `yaml:"confidenceThreshold"`
	EventRetention      time.Duration `yaml:"eventRetention"`

	// WSM
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	RateLimitWindow   time.Duration `yaml:"rateLimitWindow"`
	RateLimitMax      int           `yaml:"rateLimitMax"`
	MaxConnections    int           `yaml:"maxConnections"`

	// EB
	BatchSize            int           `yaml:"batchSize"`
	BatchTimeout         time.Duration `yaml:"batchTimeout"`
	MaxConcurrentUpdates int           `yaml:"maxConcurrentUpdates"`
}

// Default returns production-sane defaults, matching spec.md §6.
func Default() Config {
	return Config{
		HealthCheckInterval:   10 * time.Second,
		ConnectionTimeout:     30 * time.Second,
		FailoverTimeout:       5 * time.Second,
		MaxRetryAttempts:      5,
		RetryDelay:            500 * time.Millisecond,
		BackoffMultiplier:     2.0,
		MaxRetryDelay:         30 * time.Second,
		FailureThreshold:      3,
		CircuitBreakerTimeout: 30 * time.Second,
		DuplicateWindow:       5 * time.Second,

		AggregationWindow: 2 * time.Second,
		MaxDataAge:        10 * time.Second,
		ConflictThreshold: 0.1,
		MinSources:        2,

		UpdateInterval:       1 * time.Second,
		PositionTimeout:      30 * time.Second,
		GroupDistanceMeters:  50,
		GroupTimeThreshold:   5 * time.Second,
		MaxInterpolationTime: 10 * time.Second,

		DetectionInterval:   2 * time.Second,
		ConfidenceThreshold: 0.6,
		EventRetention:      24 * time.Hour,

		HeartbeatInterval: 15 * time.Second,
		RateLimitWindow:   60 * time.Second,
		RateLimitMax:      100,
		MaxConnections:    1000,

		BatchSize:            100,
		BatchTimeout:         500 * time.Millisecond,
		MaxConcurrentUpdates: 16,
	}
}

// FromEnv layers environment variable overrides on top of Default(), the
// same way control_plane/main.go reads SCHEDULER_CONCURRENCY and
// CIRCUIT_BREAKER_THRESHOLD: read once, parse with fmt.Sscanf, ignore
// malformed values rather than failing startup.
func FromEnv() Config {
	c := Default()
	applyEnvOverrides(&c)
	return c
}

// applyEnvOverrides layers RP_* environment variables on top of whatever
// c already holds, shared by FromEnv and LoadFile so env vars always win
// over both defaults and a config file.
func applyEnvOverrides(c *Config) {
	durationEnv(&c.HealthCheckInterval, "RP_HEALTH_CHECK_INTERVAL")
	durationEnv(&c.ConnectionTimeout, "RP_CONNECTION_TIMEOUT")
	durationEnv(&c.FailoverTimeout, "RP_FAILOVER_TIMEOUT")
	intEnv(&c.MaxRetryAttempts, "RP_MAX_RETRY_ATTEMPTS")
	durationEnv(&c.RetryDelay, "RP_RETRY_DELAY")
	floatEnv(&c.BackoffMultiplier, "RP_BACKOFF_MULTIPLIER")
	durationEnv(&c.MaxRetryDelay, "RP_MAX_RETRY_DELAY")
	intEnv(&c.FailureThreshold, "RP_FAILURE_THRESHOLD")
	durationEnv(&c.CircuitBreakerTimeout, "RP_CIRCUIT_BREAKER_TIMEOUT")
	durationEnv(&c.DuplicateWindow, "RP_DUPLICATE_WINDOW")

	durationEnv(&c.AggregationWindow, "RP_AGGREGATION_WINDOW")
	durationEnv(&c.MaxDataAge, "RP_MAX_DATA_AGE")
	floatEnv(&c.ConflictThreshold, "RP_CONFLICT_THRESHOLD")
	intEnv(&c.MinSources, "RP_MIN_SOURCES")

	durationEnv(&c.UpdateInterval, "RP_UPDATE_INTERVAL")
	durationEnv(&c.PositionTimeout, "RP_POSITION_TIMEOUT")
	floatEnv(&c.GroupDistanceMeters, "RP_GROUP_DISTANCE_METERS")
	durationEnv(&c.GroupTimeThreshold, "RP_GROUP_TIME_THRESHOLD")
	durationEnv(&c.MaxInterpolationTime, "RP_MAX_INTERPOLATION_TIME")

	durationEnv(&c.DetectionInterval, "RP_DETECTION_INTERVAL")
	floatEnv(&c.ConfidenceThreshold, "RP_CONFIDENCE_THRESHOLD")
	durationEnv(&c.EventRetention, "RP_EVENT_RETENTION")

	durationEnv(&c.HeartbeatInterval, "RP_HEARTBEAT_INTERVAL")
	durationEnv(&c.RateLimitWindow, "RP_RATE_LIMIT_WINDOW")
	intEnv(&c.RateLimitMax, "RP_RATE_LIMIT_MAX")
	intEnv(&c.MaxConnections, "RP_MAX_CONNECTIONS")

	intEnv(&c.BatchSize, "RP_BATCH_SIZE")
	durationEnv(&c.BatchTimeout, "RP_BATCH_TIMEOUT")
	intEnv(&c.MaxConcurrentUpdates, "RP_MAX_CONCURRENT_UPDATES")
}

func intEnv(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			*dst = n
		}
	}
}

func floatEnv(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			*dst = f
		}
	}
}

func durationEnv(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
