package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kojibai/pbi-enterprise-api-sub002/internal/apperr"
)

// InMemoryRateLimiter is a coarse, per-process sliding-window limiter
// used ahead of (or instead of) the per-tenant quota engine — it
// bounds raw request volume regardless of billing outcome, so a
// misbehaving client can't busy-loop the advisory-lock path even when
// every request would otherwise 402.
type InMemoryRateLimiter struct {
	window   time.Duration
	limit    int
	mu       sync.Mutex
	requests map[string][]time.Time
}

// NewInMemoryRateLimiter creates a limiter allowing up to limit
// requests per key within window.
func NewInMemoryRateLimiter(limit int, window time.Duration) *InMemoryRateLimiter {
	l := &InMemoryRateLimiter{window: window, limit: limit, requests: make(map[string][]time.Time)}
	go l.cleanup()
	return l
}

// Allow records a request for key at now, returning whether it fits
// within the window's limit.
func (l *InMemoryRateLimiter) Allow(key string) bool {
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.requests[key][:0]
	for _, ts := range l.requests[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.limit {
		l.requests[key] = kept
		return false
	}
	l.requests[key] = append(kept, now)
	return true
}

func (l *InMemoryRateLimiter) cleanup() {
	ticker := time.NewTicker(l.window * 3)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-l.window * 3)
		l.mu.Lock()
		for key, timestamps := range l.requests {
			kept := timestamps[:0]
			for _, ts := range timestamps {
				if ts.After(cutoff) {
					kept = append(kept, ts)
				}
			}
			if len(kept) == 0 {
				delete(l.requests, key)
			} else {
				l.requests[key] = kept
			}
		}
		l.mu.Unlock()
	}
}

// RateLimit keys each request off the authenticated tenant (falling
// back to the client IP when no tenant is set, e.g. a public route)
// and rejects with rate_limited once the window is exhausted.
func RateLimit(limiter *InMemoryRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if tenant := TenantFromContext(c); tenant != nil {
			key = tenant.ID
		}
		if !limiter.Allow(key) {
			apperr.Respond(c, apperr.New(apperr.KindRateLimited, "rate limit exceeded"))
			return
		}
		c.Next()
	}
}
