// Package ratelimit implements the fixed-window per-key limiter used to
// throttle session creation by client IP.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = 60 * time.Second

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window counter keyed by an opaque string (the relay uses
// client IPs). Each key gets at most MaxRequests accepted calls per window;
// the window starts at the first accepted call after the previous window
// expired.
//
// Unlike a token bucket, a fixed window has an explicit reset boundary, which
// is what the HTTP surface needs to report Retry-After and X-RateLimit-*.
type Limiter struct {
	window time.Duration
	max    int
	clock  Clock

	mu      sync.Mutex
	entries map[string]*entry
}

func NewLimiter(window time.Duration, max int, clock Clock) *Limiter {
	if clock == nil {
		clock = RealClock{}
	}
	return &Limiter{
		window:  window,
		max:     max,
		clock:   clock,
		entries: make(map[string]*entry),
	}
}

// Check records a request for key and reports whether it is admitted. A fresh
// or expired window admits and starts a new window; within a live window,
// requests are admitted until the count reaches the limit.
func (l *Limiter) Check(key string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || !now.Before(e.resetAt) {
		l.entries[key] = &entry{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if e.count >= l.max {
		return false
	}
	e.count++
	return true
}

// Info returns the remaining budget and the window reset time for key without
// consuming a request. A fresh or expired window reports the full budget and
// a reset one window from now.
func (l *Limiter) Info(key string) (remaining int, resetAt time.Time) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || !now.Before(e.resetAt) {
		return l.max, now.Add(l.window)
	}
	remaining = l.max - e.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, e.resetAt
}

// Sweep deletes entries whose window has passed, bounding memory for churny
// key sets.
func (l *Limiter) Sweep() {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, key)
		}
	}
}

// Run sweeps expired entries every minute until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
