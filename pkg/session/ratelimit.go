package session

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter budgets inbound triggers per session.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	perSecond float64
	burst     int
}

// NewRateLimiter creates a limiter allowing perSecond triggers per session with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		perSecond: perSecond,
		burst:     burst,
	}
}

// Allow reports whether one more trigger for the session fits its budget.
func (rl *RateLimiter) Allow(sessionID string) bool {
	return rl.limiter(sessionID).Allow()
}

// Forget drops the session's limiter.
func (rl *RateLimiter) Forget(sessionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limiters, sessionID)
}

func (rl *RateLimiter) limiter(sessionID string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[sessionID]
	rl.mu.RUnlock()
	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, exists := rl.limiters[sessionID]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(rl.perSecond), rl.burst)
	rl.limiters[sessionID] = limiter
	return limiter
}
