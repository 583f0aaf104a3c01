// Package ratelimit implements fixed-window request admission per client key.
// Admission runs before any session or lock work, so rejected requests never
// touch conversational state.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// window tracks one client's request count inside the current fixed window.
type window struct {
	count int
	start time.Time
}

// Limiter admits up to Limit requests per client key per Window. Independent
// keys never contend beyond the map mutex; state is process-local only.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// New creates a Limiter allowing limit requests per windowDuration.
func New(limit int, windowDuration time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  windowDuration,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// WithClock overrides the time source. Tests use this to advance the window
// without sleeping.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow records one request for clientID and reports whether it is admitted.
// When rejected, retryAfter is the remaining time in the current window,
// rounded up to whole seconds for use in a Retry-After header.
func (l *Limiter) Allow(clientID string) (admitted bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, exists := l.windows[clientID]
	if !exists || now.Sub(w.start) >= l.window {
		l.windows[clientID] = &window{count: 1, start: now}
		return true, 0
	}

	w.count++
	if w.count > l.limit {
		remaining := l.window - now.Sub(w.start)
		seconds := math.Ceil(remaining.Seconds())
		return false, time.Duration(seconds) * time.Second
	}
	return true, 0
}

// Forget drops the window for clientID. Called when a session is evicted so
// the limiter map does not grow without bound.
func (l *Limiter) Forget(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, clientID)
}
