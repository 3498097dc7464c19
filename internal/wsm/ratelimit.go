package wsm

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sessionLimiter is a per-session sliding window rate limiter, directly
// generalizing scheduler.TokenBucketLimiter's per-key map of
// *rate.Limiter into per-session inbound-message throttling.
type sessionLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    time.Duration
	burst    int
}

func newSessionLimiter(window time.Duration, max int) *sessionLimiter {
	return &sessionLimiter{
		limiters: make(map[string]*rate.Limiter),
		every:    window,
		burst:    max,
	}
}

// allow reports whether connectionID may send another message now.
func (l *sessionLimiter) allow(connectionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[connectionID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.every/time.Duration(l.burst+1)), l.burst)
		l.limiters[connectionID] = lim
	}
	return lim.Allow()
}

// forget drops the limiter state for a closed session.
func (l *sessionLimiter) forget(connectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, connectionID)
}
