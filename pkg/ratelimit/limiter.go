package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// MultiLimiter manages multiple rate limiters for different services
type MultiLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewMultiLimiter creates a new multi-limiter
func NewMultiLimiter() *MultiLimiter {
	return &MultiLimiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

// AddLimiter adds a new rate limiter for a service
// requestsPerSecond: the rate limit (e.g., 10 means 10 requests per second)
// burst: maximum burst size
func (m *MultiLimiter) AddLimiter(name string, requestsPerSecond float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Wait blocks until the limiter allows an event
func (m *MultiLimiter) Wait(ctx context.Context, name string) error {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("limiter %s not found", name)
	}

	return limiter.Wait(ctx)
}

// Allow reports whether an event may happen now
func (m *MultiLimiter) Allow(name string) bool {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()

	if !ok {
		return false
	}

	return limiter.Allow()
}

// Default rate limiter names
const (
	LimiterMastodon = "mastodon"
	LimiterBluesky  = "bluesky"
	LimiterFeed     = "feed"
)

// NewDefaultLimiter creates a limiter with default rate limits.
// These guard the outbound API calls of a single dispatch run; the
// one-post-per-hour policy is enforced separately against the store.
func NewDefaultLimiter() *MultiLimiter {
	m := NewMultiLimiter()

	// Mastodon: 300 requests per 5 min = 1 per second, burst 10
	m.AddLimiter(LimiterMastodon, 1, 10)

	// Bluesky: 3000 requests per 5 min, but a dispatch run only needs a
	// handful - 2 per second, burst 10
	m.AddLimiter(LimiterBluesky, 2, 10)

	// Own-site feed polling: be polite - 1 per second, burst 5
	m.AddLimiter(LimiterFeed, 1, 5)

	return m
}
