package infrastructure

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ServiceRateLimiter keeps one token bucket per caller key.
type ServiceRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewServiceRateLimiter allows rps requests per second per key with the
// given burst. rps <= 0 means unlimited.
func NewServiceRateLimiter(rps float64, burst int) *ServiceRateLimiter {
	if burst < 1 {
		burst = 1
	}
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	return &ServiceRateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    burst,
		idleTTL:  10 * time.Minute,
	}
}

// Allow consumes one token for key.
func (rl *ServiceRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// RetryAfter estimates how long key must wait for its next token.
func (rl *ServiceRateLimiter) RetryAfter(key string) time.Duration {
	rl.mu.Lock()
	entry, exists := rl.limiters[key]
	rl.mu.Unlock()
	if !exists || rl.rate == rate.Inf {
		return 0
	}
	r := entry.limiter.Reserve()
	defer r.Cancel()
	return r.Delay()
}

// Run evicts idle buckets until ctx is done.
func (rl *ServiceRateLimiter) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.evictIdle(now)
		}
	}
}

func (rl *ServiceRateLimiter) evictIdle(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > rl.idleTTL {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// Stats reports limiter state for the health endpoint.
func (rl *ServiceRateLimiter) Stats() map[string]any {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return map[string]any{
		"active_callers": len(rl.limiters),
		"rate":           float64(rl.rate),
		"burst":          rl.burst,
	}
}
