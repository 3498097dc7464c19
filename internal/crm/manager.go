package crm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/racepulse/core/internal/observability"
	"github.com/racepulse/core/internal/perrors"
)

// Dialer performs the actual network connect to an endpoint. Production
// wiring supplies a real transport; tests supply a scripted fake, following
// the teacher's pattern of narrow interfaces for hand-rolled test doubles.
type Dialer interface {
	Dial(ctx context.Context, address string) (latency time.Duration, err error)
}

// Config is the subset of the process configuration CRM consumes.
type Config struct {
	HealthCheckInterval   time.Duration
	ConnectionTimeout     time.Duration
	FailoverTimeout       time.Duration
	MaxRetryAttempts      int
	RetryDelay            time.Duration
	BackoffMultiplier     float64
	MaxRetryDelay         time.Duration
	FailureThreshold      int
	CircuitBreakerTimeout time.Duration
	DuplicateWindow       time.Duration
}

type dedupEntry struct {
	seenAt time.Time
}

// Manager is the Connection Resilience Manager: endpoint pool, circuit
// breakers, health scoring, and failover, grounded on scheduler.Scheduler's
// admission pipeline shape and NodeHealth scoring.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	current   string // id of the endpoint currently serving traffic
	degraded  bool

	dialer Dialer

	dedupMu sync.Mutex
	dedup   map[string]dedupEntry // id or type+timestamp -> seen

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager builds a Manager. dialer may be nil for tests that only
// exercise registration/selection logic.
func NewManager(cfg Config, dialer Dialer) *Manager {
	return &Manager{
		cfg:       cfg,
		endpoints: make(map[string]*Endpoint),
		dialer:    dialer,
		dedup:     make(map[string]dedupEntry),
		stopCh:    make(chan struct{}),
	}
}

// Register adds an endpoint to the pool. Idempotent by id: re-registering
// an existing id updates role/weight/address but leaves breaker/status
// alone, mirroring the teacher's idempotent task admission.
func (m *Manager) Register(id, address string, role Role, weight float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ep, ok := m.endpoints[id]; ok {
		ep.Address = address
		ep.Role = role
		ep.Weight = weight
		return
	}

	m.endpoints[id] = &Endpoint{
		ID:      id,
		Address: address,
		Role:    role,
		Weight:  weight,
		Status:  StatusInactive,
		Breaker: NewCircuitBreaker(m.cfg.FailureThreshold, m.cfg.CircuitBreakerTimeout),
	}
}

// Connect attempts to bring an endpoint to connected state with exponential
// backoff, honoring the circuit breaker.
func (m *Manager) Connect(ctx context.Context, id string) error {
	m.mu.RLock()
	ep, ok := m.endpoints[id]
	m.mu.RUnlock()
	if !ok {
		return perrors.New(perrors.KindInternal, "crm.connect", "unknown endpoint "+id)
	}

	if !ep.Breaker.Allow(time.Now()) {
		return perrors.New(perrors.KindCircuitOpen, "crm.connect", "breaker open for "+id)
	}

	m.setStatus(ep, StatusConnecting)

	delay := m.cfg.RetryDelay
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * m.cfg.BackoffMultiplier)
			if delay > m.cfg.MaxRetryDelay {
				delay = m.cfg.MaxRetryDelay
			}
		}

		latency, err := m.dial(ctx, ep.Address)
		if err == nil {
			ep.Breaker.RecordSuccess()
			m.mu.Lock()
			ep.Status = StatusConnected
			ep.Latency = latency
			ep.LastProbe = time.Now()
			m.current = id
			m.degraded = false
			m.mu.Unlock()
			observability.CircuitState.WithLabelValues(id).Set(float64(ep.Breaker.State()))
			return nil
		}
		lastErr = err
		ep.Breaker.RecordFailure(time.Now())
		if ep.Breaker.State() == CircuitOpen {
			break
		}
	}

	m.setStatus(ep, StatusFailed)
	observability.CircuitState.WithLabelValues(id).Set(float64(ep.Breaker.State()))
	return perrors.Wrap(perrors.KindTransientTransport, "crm.connect", "exhausted retries for "+id, lastErr)
}

func (m *Manager) dial(ctx context.Context, address string) (time.Duration, error) {
	if m.dialer == nil {
		return 0, fmt.Errorf("crm: no dialer configured")
	}
	return m.dialer.Dial(ctx, address)
}

func (m *Manager) setStatus(ep *Endpoint, s Status) {
	m.mu.Lock()
	ep.Status = s
	m.mu.Unlock()
}

// SelectBest returns the id of the non-failed, non-open-breaker endpoint
// maximizing the composite score. It reports false when no candidate
// qualifies.
func (m *Manager) SelectBest() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var bestID string
	bestScore := -1.0
	found := false

	for id, ep := range m.endpoints {
		if ep.Status == StatusFailed || ep.Breaker.State() == CircuitOpen {
			continue
		}
		score := compositeScore(ep)
		if !found || score > bestScore {
			bestID, bestScore, found = id, score, true
		}
	}
	return bestID, found
}

// compositeScore implements the weighted formula from spec.md §4.1:
// 0.4*health + 0.3*(100 - latency/10, floored at 0) + 0.3*priorityWeight,
// generalizing NodeHealth.CalculateCompositeScore's weighted-sum shape.
func compositeScore(ep *Endpoint) float64 {
	latencyTerm := 100 - float64(ep.Latency.Milliseconds())/10
	if latencyTerm < 0 {
		latencyTerm = 0
	}
	return 0.4*ep.HealthScore + 0.3*latencyTerm + 0.3*ep.Weight
}

// FailoverResult reports the outcome of a Failover call.
type FailoverResult struct {
	NewEndpointID string
	Degraded      bool
}

// Failover marks failedID failed, selects an alternative, and attempts to
// connect to it within failoverTimeout.
func (m *Manager) Failover(ctx context.Context, failedID string) FailoverResult {
	m.mu.Lock()
	if ep, ok := m.endpoints[failedID]; ok {
		ep.Status = StatusFailed
	}
	m.mu.Unlock()

	altID, ok := m.SelectBest()
	if !ok {
		m.mu.Lock()
		m.degraded = true
		m.mu.Unlock()
		observability.ServiceDegraded.Set(1)
		log.Printf("crm: failover from %s found no alternative, service degraded", failedID)
		return FailoverResult{Degraded: true}
	}

	fctx, cancel := context.WithTimeout(ctx, m.cfg.FailoverTimeout)
	defer cancel()

	if err := m.Connect(fctx, altID); err != nil {
		m.mu.Lock()
		m.degraded = true
		m.mu.Unlock()
		observability.ServiceDegraded.Set(1)
		log.Printf("crm: failover from %s to %s failed: %v", failedID, altID, err)
		return FailoverResult{NewEndpointID: altID, Degraded: true}
	}

	observability.FailoverTotal.WithLabelValues(failedID, altID).Inc()
	observability.ServiceDegraded.Set(0)
	return FailoverResult{NewEndpointID: altID}
}

// HealthSnapshot is the CRM's degraded-status view, the concrete form of
// spec.md §4.1's "ServiceDegraded surfaced upward", shaped after
// resilience.DegradedMode.HealthCheck.
type HealthSnapshot struct {
	Degraded       bool
	CurrentEndpoint string
	Endpoints      []Snapshot
}

// Health returns the manager's current health snapshot.
func (m *Manager) Health() HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		snaps = append(snaps, Snapshot{
			ID: ep.ID, Address: ep.Address, Role: ep.Role, Weight: ep.Weight,
			Status: ep.Status, HealthScore: ep.HealthScore, Latency: ep.Latency,
			MessageCount: ep.MessageCount, ErrorCount: ep.ErrorCount,
			BreakerState: ep.Breaker.State(),
		})
	}
	return HealthSnapshot{Degraded: m.degraded, CurrentEndpoint: m.current, Endpoints: snaps}
}

// RunHealthLoop probes every active endpoint every HealthCheckInterval
// until ctx is cancelled, a single-task serial periodic loop per spec.md §5.
func (m *Manager) RunHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
			m.sweepDedup()
		}
	}
}

func (m *Manager) probeAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.endpoints))
	for id, ep := range m.endpoints {
		if ep.Status == StatusConnected {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.mu.RLock()
		ep := m.endpoints[id]
		m.mu.RUnlock()

		latency, err := m.dial(ctx, ep.Address)

		m.mu.Lock()
		if err != nil {
			ep.HealthScore -= 10
			ep.ErrorCount++
		} else if latency < m.cfg.ConnectionTimeout/2 {
			if ep.HealthScore < 100 {
				ep.HealthScore++
			}
			ep.Latency = latency
			ep.LastProbe = time.Now()
		} else {
			ep.HealthScore -= 5
		}
		if ep.HealthScore < 0 {
			ep.HealthScore = 0
		}
		health := ep.HealthScore
		lastProbe := ep.LastProbe
		m.mu.Unlock()

		observability.EndpointHealth.WithLabelValues(id).Set(health)

		stale := !lastProbe.IsZero() && time.Since(lastProbe) > m.cfg.ConnectionTimeout
		if health < 10 || stale {
			m.Failover(ctx, id)
		}
	}
}

// VerifyIntegrity runs the message integrity hook from spec.md §4.1: it
// rejects frames with a null timestamp/type, rejects duplicates seen within
// DuplicateWindow, and optionally validates an attached MD5 checksum.
// Rejections are counted but never open the breaker.
func (m *Manager) VerifyIntegrity(f RawTelemetryFrame) error {
	if f.Timestamp.IsZero() || f.DataType == "" {
		observability.FramesRejected.WithLabelValues("missing_field").Inc()
		return perrors.New(perrors.KindValidationFailure, "crm.verifyIntegrity", "missing timestamp or type")
	}

	dedupKey := f.ID
	if dedupKey == "" {
		dedupKey = fmt.Sprintf("%s|%d", f.DataType, f.Timestamp.UnixNano())
	}
	if m.seenRecently(dedupKey) {
		observability.FramesRejected.WithLabelValues("duplicate").Inc()
		return perrors.New(perrors.KindValidationFailure, "crm.verifyIntegrity", "duplicate frame "+dedupKey)
	}

	if f.Checksum != "" {
		sum := md5.Sum(mustMarshal(f.Value))
		if hex.EncodeToString(sum[:]) != f.Checksum {
			observability.FramesRejected.WithLabelValues("checksum").Inc()
			return perrors.New(perrors.KindValidationFailure, "crm.verifyIntegrity", "checksum mismatch")
		}
	}

	m.markSeen(dedupKey)
	return nil
}

func (m *Manager) seenRecently(key string) bool {
	m.dedupMu.Lock()
	defer m.dedupMu.Unlock()
	e, ok := m.dedup[key]
	if !ok {
		return false
	}
	return time.Since(e.seenAt) <= m.cfg.DuplicateWindow
}

func (m *Manager) markSeen(key string) {
	m.dedupMu.Lock()
	defer m.dedupMu.Unlock()
	m.dedup[key] = dedupEntry{seenAt: time.Now()}
}

// sweepDedup discards dedup entries older than the window; call
// periodically alongside the health loop to bound memory.
func (m *Manager) sweepDedup() {
	m.dedupMu.Lock()
	defer m.dedupMu.Unlock()
	cutoff := time.Now().Add(-m.cfg.DuplicateWindow)
	for k, e := range m.dedup {
		if e.seenAt.Before(cutoff) {
			delete(m.dedup, k)
		}
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
