// Package ratelimit gates the launch of producer invocations so the
// shared downstream quota (LLM/API) is respected. Limiter state is the
// only mutable state shared across concurrent runs, so every policy here
// keeps its clock and bucket behind a single mutex.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter blocks until the next protected call may start.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// IntervalLimiter enforces a minimum interval between the starts of
// successive Acquire-protected calls. The first Acquire passes
// immediately.
type IntervalLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time // earliest permitted start for the next caller
	now      func() time.Time
}

// NewIntervalLimiter creates a limiter with the given minimum interval.
// A non-positive interval disables the gate.
func NewIntervalLimiter(interval time.Duration) *IntervalLimiter {
	return &IntervalLimiter{
		interval: interval,
		now:      time.Now,
	}
}

// Acquire reserves the next start slot and sleeps until it arrives.
// The reservation happens under the mutex, the wait does not, so
// concurrent callers queue up at interval-spaced slots without ever
// blocking each other on the lock. Cancellation during the wait gives
// the slot up as consumed; the next caller still waits its own interval.
func (l *IntervalLimiter) Acquire(ctx context.Context) error {
	if l.interval <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := l.now()
	start := l.next
	if start.Before(now) {
		start = now
	}
	l.next = start.Add(l.interval)
	l.mu.Unlock()

	wait := start.Sub(now)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TokenBucket permits bursts up to its capacity and refills at a steady
// rate. It generalizes IntervalLimiter for bounded-concurrency phases
// where several producer calls may be in flight at once.
type TokenBucket struct {
	mu       sync.Mutex
	capacity float64
	tokens   float64
	rate     float64 // tokens per second
	last     time.Time
	now      func() time.Time
}

// NewTokenBucket creates a bucket that starts full.
func NewTokenBucket(capacity int, refillPerSecond float64) *TokenBucket {
	return &TokenBucket{
		capacity: float64(capacity),
		tokens:   float64(capacity),
		rate:     refillPerSecond,
		now:      time.Now,
	}
}

// Acquire takes one token, waiting for a refill when the bucket is empty.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := b.now()
		if !b.last.IsZero() {
			b.tokens += now.Sub(b.last).Seconds() * b.rate
			if b.tokens > b.capacity {
				b.tokens = b.capacity
			}
		}
		b.last = now

		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return ctx.Err()
		}
		deficit := 1 - b.tokens
		b.mu.Unlock()

		wait := time.Duration(deficit / b.rate * float64(time.Second))
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
}

// Registry hands out one limiter per downstream dependency. Runs share
// limiters by dependency name, never by run, so cross-run traffic to the
// same downstream stays inside its quota.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]Limiter
	factory  func() Limiter
}

// NewRegistry creates a registry that builds missing limiters with the
// given factory.
func NewRegistry(factory func() Limiter) *Registry {
	return &Registry{
		limiters: make(map[string]Limiter),
		factory:  factory,
	}
}

// For returns the limiter for a dependency, creating it on first use.
func (r *Registry) For(dependency string) Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[dependency]
	if !ok {
		l = r.factory()
		r.limiters[dependency] = l
	}
	return l
}
