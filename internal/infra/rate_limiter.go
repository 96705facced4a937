package infra

import (
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter. Push-notification
// providers throttle aggressively, so every outbound delivery passes
// through one of these. Thread-safe.
type RateLimiter struct {
	mu          sync.Mutex
	tokens      float64
	maxTokens   float64
	refillRate  float64 // tokens per second
	lastRefill  time.Time
	lastRequest time.Time
}

// NewRateLimiter creates a new rate limiter.
// maxBurst: maximum burst size
// perSecond: refill rate (requests per second)
func NewRateLimiter(maxBurst int, perSecond float64) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		tokens:      float64(maxBurst),
		maxTokens:   float64(maxBurst),
		refillRate:  perSecond,
		lastRefill:  now,
		lastRequest: now.Add(-time.Hour), // Allow immediate first request
	}
}

// Wait blocks until a token is available.
// Returns immediately if a token is available.
func (r *RateLimiter) Wait() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	for r.tokens < 1 {
		waitTime := time.Duration(float64(time.Second) / r.refillRate)
		r.mu.Unlock()
		time.Sleep(waitTime)
		r.mu.Lock()
		r.refill()
	}

	r.tokens--
	r.lastRequest = time.Now()
}

// TryAcquire attempts to acquire a token without blocking.
// Returns true if a token was acquired, false otherwise.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1 {
		r.tokens--
		r.lastRequest = time.Now()
		return true
	}
	return false
}

// refill adds tokens based on elapsed time.
// Must be called with mutex held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate

	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}

	r.lastRefill = now
}
