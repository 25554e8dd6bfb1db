// Package ratelimit gates outbound provider calls behind a per-module token
// bucket. Each limiter is owned by exactly one module and is never shared, so
// two modules can never contend on the same bucket.
package ratelimit

import (
	"context"
	"time"

	"github.com/juju/ratelimit"
)

// Limiter wraps a token bucket with the module name it is bound to. The
// bucket holds capacity tokens and refills one token every window/capacity,
// which keeps the steady-state call rate at capacity per window.
type Limiter struct {
	name     string
	capacity int64
	window   time.Duration
	bucket   *ratelimit.Bucket
}

// New returns a limiter for the named module allowing capacity requests per
// window. A capacity of 1 degenerates to a strict one-request-per-window gate.
func New(name string, capacity int, window time.Duration) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		name:     name,
		capacity: int64(capacity),
		window:   window,
		bucket:   ratelimit.NewBucketWithQuantum(window/time.Duration(capacity), int64(capacity), 1),
	}
}

// Name returns the module this limiter is bound to.
func (l *Limiter) Name() string {
	return l.name
}

// Capacity returns the number of requests permitted per window.
func (l *Limiter) Capacity() int64 {
	return l.capacity
}

// Window returns the refill window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Available returns the number of tokens currently available without waiting.
func (l *Limiter) Available() int64 {
	return l.bucket.Available()
}

// Acquire blocks until a token is available or the context is canceled. When
// the context ends first the reserved token is forfeited, which only matters
// during shutdown when no further requests will be made anyway.
func (l *Limiter) Acquire(ctx context.Context) error {
	d := l.bucket.Take(1)
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TryAcquire takes a token if one is immediately available and reports
// whether the caller may proceed.
func (l *Limiter) TryAcquire() bool {
	return l.bucket.TakeAvailable(1) == 1
}
