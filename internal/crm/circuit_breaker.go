package crm

import (
	"sync"
	"time"
)

// CircuitState is one of the three states of a per-endpoint breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half_open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker is a failure-count gated FSM: closed → open after
// failureThreshold consecutive failures, open → half-open after
// circuitBreakerTimeout elapses, half-open decides on a single probe.
// The FSM shape (state + mutex + cooldown timer) follows
// scheduler.CircuitBreaker; the admission signal here is consecutive
// failure count rather than queue depth/saturation, per spec.md §4.1.
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureThreshold int
	cooldown         time.Duration

	consecutiveFailures int
	openedAt            time.Time
	nextAttempt         time.Time
}

// NewCircuitBreaker builds a closed breaker with the given threshold and
// cooldown.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// Allow reports whether a connect attempt should proceed now. It also
// performs the open → half-open transition when the cooldown has elapsed.
func (cb *CircuitBreaker) Allow(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if now.Before(cb.nextAttempt) {
			return false
		}
		cb.state = CircuitHalfOpen
		return true
	case CircuitHalfOpen:
		// A single probe is in flight at a time in half-open.
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker (from closed or half-open) and resets
// the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.state = CircuitClosed
}

// RecordFailure records a failed attempt. From half-open, any failure
// reopens the breaker immediately. From closed, the breaker opens once
// consecutiveFailures reaches failureThreshold.
func (cb *CircuitBreaker) RecordFailure(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.open(now)
		return
	}

	cb.consecutiveFailures++
	if cb.consecutiveFailures >= cb.failureThreshold {
		cb.open(now)
	}
}

func (cb *CircuitBreaker) open(now time.Time) {
	cb.state = CircuitOpen
	cb.openedAt = now
	cb.nextAttempt = now.Add(cb.cooldown)
	cb.consecutiveFailures = 0
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// NextAttempt returns when an open breaker will next admit a probe.
func (cb *CircuitBreaker) NextAttempt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.nextAttempt
}
