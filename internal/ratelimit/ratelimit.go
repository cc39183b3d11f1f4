// Package ratelimit throttles write traffic per user token.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter hands out one token-bucket limiter per user. Buckets are created
// lazily and never evicted; the user population is small enough that the map
// is not a concern.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// New creates a Limiter allowing requestsPerHour sustained writes per user,
// with a burst of the same size so a client can flush a backlog.
func New(requestsPerHour int) *Limiter {
	if requestsPerHour <= 0 {
		requestsPerHour = 1000
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(requestsPerHour) / 3600),
		burst:    requestsPerHour,
	}
}

// Allow reports whether the user may perform another write now.
func (l *Limiter) Allow(userID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
