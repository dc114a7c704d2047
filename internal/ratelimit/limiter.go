package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// WindowDuration is the period the limit applies to
	WindowDuration = time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a per-client token bucket: limit requests per minute, with a
// burst of the full limit.
type Limiter struct {
	limit   int // max requests per window (0 = disabled)
	buckets map[string]*bucket
	now     func() time.Time
	mu      sync.Mutex
}

// New creates a new rate limiter. limit <= 0 disables limiting.
func New(limit int) *Limiter {
	return &Limiter{
		limit:   limit,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Enabled reports whether requests are limited at all
func (l *Limiter) Enabled() bool {
	return l.limit > 0
}

// Limit returns the configured requests per window
func (l *Limiter) Limit() int {
	return l.limit
}

func (l *Limiter) get(clientID string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[clientID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(WindowDuration/time.Duration(l.limit)), l.limit)}
		l.buckets[clientID] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Allow reports whether a request from clientID may proceed, consuming a token if so
func (l *Limiter) Allow(clientID string) bool {
	if !l.Enabled() {
		return true
	}
	now := l.now()
	return l.get(clientID, now).AllowN(now, 1)
}

// Remaining returns how many requests clientID could make right now, -1 when unlimited
func (l *Limiter) Remaining(clientID string) int {
	if !l.Enabled() {
		return -1
	}
	now := l.now()
	tokens := int(l.get(clientID, now).TokensAt(now))
	if tokens < 0 {
		return 0
	}
	return tokens
}

// RetryAfter returns how long clientID must wait for the next token
func (l *Limiter) RetryAfter(clientID string) time.Duration {
	if !l.Enabled() {
		return 0
	}
	now := l.now()
	r := l.get(clientID, now).ReserveN(now, 1)
	defer r.CancelAt(now)
	return r.DelayFrom(now)
}

// Prune drops clients not seen for idle and returns how many were removed.
// A bucket idle for a full window has refilled, so dropping it loses nothing.
func (l *Limiter) Prune(idle time.Duration) int {
	cutoff := l.now().Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
			removed++
		}
	}
	return removed
}

// Clients returns how many clients are being tracked
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
