// Package ratelimit paces calls to the external price source.
//
// Limiter admits at most Limit acquisitions inside any trailing Window. Unlike
// a token bucket with burst Limit, it never lets a refill stack on top of a
// full burst, so the bound holds for every rolling window and not just on
// average.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a sliding-window log limiter shared by all scanner workers.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	grants []time.Time
	now    func() time.Time
}

// New builds a limiter admitting limit acquisitions per window.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		panic("ratelimit: limit must be positive")
	}
	if window <= 0 {
		panic("ratelimit: window must be positive")
	}
	return &Limiter{
		limit:  limit,
		window: window,
		grants: make([]time.Time, 0, limit),
		now:    time.Now,
	}
}

// Acquire blocks until a slot is free, then consumes it. A caller whose ctx
// ends while waiting returns ctx.Err() without consuming anything.
func (l *Limiter) Acquire(ctx context.Context) error {
	_, err := l.acquire(ctx)
	return err
}

func (l *Limiter) acquire(ctx context.Context) (time.Time, error) {
	for {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}

		granted, wait := l.reserve()
		if wait <= 0 {
			return granted, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Time{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a slot if one is free, otherwise reports how long until the
// oldest grant leaves the window.
func (l *Limiter) reserve() (time.Time, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	expired := 0
	for expired < len(l.grants) && !l.grants[expired].After(cutoff) {
		expired++
	}
	if expired > 0 {
		l.grants = append(l.grants[:0], l.grants[expired:]...)
	}

	if len(l.grants) < l.limit {
		l.grants = append(l.grants, now)
		return now, 0
	}
	return time.Time{}, l.grants[0].Add(l.window).Sub(now)
}

// Available reports how many slots are free right now.
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	inWindow := 0
	for _, g := range l.grants {
		if g.After(cutoff) {
			inWindow++
		}
	}
	return l.limit - inWindow
}
