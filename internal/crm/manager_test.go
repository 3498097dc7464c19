package crm

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedDialer answers Dial calls according to an address->error table,
// a hand-rolled test double in the teacher's no-mocking-library style.
type scriptedDialer struct {
	fail map[string]int // address -> number of remaining failures
}

func (d *scriptedDialer) Dial(ctx context.Context, address string) (time.Duration, error) {
	if n, ok := d.fail[address]; ok && n > 0 {
		d.fail[address]--
		return 0, errors.New("simulated dial failure")
	}
	return 5 * time.Millisecond, nil
}

func testConfig() Config {
	return Config{
		HealthCheckInterval:   time.Second,
		ConnectionTimeout:     time.Second,
		FailoverTimeout:       time.Second,
		MaxRetryAttempts:      1,
		RetryDelay:            time.Millisecond,
		BackoffMultiplier:     2,
		MaxRetryDelay:         10 * time.Millisecond,
		FailureThreshold:      3,
		CircuitBreakerTimeout: 50 * time.Millisecond,
		DuplicateWindow:       time.Second,
	}
}

// TestFailoverScenario is the literal end-to-end scenario from spec.md §8:
// P fails failureThreshold times, breaker opens, selectBest returns F.
func TestFailoverScenario(t *testing.T) {
	dialer := &scriptedDialer{fail: map[string]int{"addr-p": 99}}
	m := NewManager(testConfig(), dialer)
	m.Register("P", "addr-p", RolePrimary, 100)
	m.Register("F", "addr-f", RoleFallback, 50)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := m.Connect(ctx, "P"); err == nil {
			t.Fatalf("attempt %d: expected failure", i)
		}
	}

	m.mu.RLock()
	state := m.endpoints["P"].Breaker.State()
	m.mu.RUnlock()
	if state != CircuitOpen {
		t.Fatalf("expected breaker open after %d failures, got %s", testConfig().FailureThreshold, state)
	}

	best, ok := m.SelectBest()
	if !ok || best != "F" {
		t.Fatalf("expected selectBest to return F, got %q (ok=%v)", best, ok)
	}

	if err := m.Connect(ctx, "F"); err != nil {
		t.Fatalf("connect(F) should succeed: %v", err)
	}

	health := m.Health()
	if health.CurrentEndpoint != "F" {
		t.Fatalf("expected current endpoint F, got %s", health.CurrentEndpoint)
	}
}

// TestCircuitOpenRejectsWithoutIO is the quantified property from spec.md
// §8: F consecutive failures leave the breaker open, and the next attempt
// before next-attempt returns CircuitOpen without performing I/O.
func TestCircuitOpenRejectsWithoutIO(t *testing.T) {
	cfg := testConfig()
	cb := NewCircuitBreaker(cfg.FailureThreshold, cfg.CircuitBreakerTimeout)
	now := time.Now()

	for i := 0; i < cfg.FailureThreshold; i++ {
		if !cb.Allow(now) {
			t.Fatalf("attempt %d should be allowed before breaker opens", i)
		}
		cb.RecordFailure(now)
	}

	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after %d failures, got %s", cfg.FailureThreshold, cb.State())
	}
	if cb.Allow(now) {
		t.Fatal("expected breaker to reject before cooldown elapses")
	}
}

func TestVerifyIntegrityRejectsDuplicate(t *testing.T) {
	m := NewManager(testConfig(), nil)
	f := RawTelemetryFrame{ID: "f1", DataType: "position", Timestamp: time.Now()}

	if err := m.VerifyIntegrity(f); err != nil {
		t.Fatalf("first frame should pass: %v", err)
	}
	if err := m.VerifyIntegrity(f); err == nil {
		t.Fatal("duplicate frame should be rejected")
	}
}

func TestVerifyIntegrityRejectsMissingFields(t *testing.T) {
	m := NewManager(testConfig(), nil)
	if err := m.VerifyIntegrity(RawTelemetryFrame{ID: "f2"}); err == nil {
		t.Fatal("frame with zero timestamp and empty type should be rejected")
	}
}

func TestSelectBestPrefersHigherComposite(t *testing.T) {
	m := NewManager(testConfig(), nil)
	m.Register("A", "a", RolePrimary, 100)
	m.Register("B", "b", RolePrimary, 10)
	m.endpoints["A"].HealthScore = 90
	m.endpoints["A"].Status = StatusConnected
	m.endpoints["B"].HealthScore = 90
	m.endpoints["B"].Status = StatusConnected

	best, ok := m.SelectBest()
	if !ok || best != "A" {
		t.Fatalf("expected A (higher weight) to win, got %q", best)
	}
}
