// Package ratelimit implements the global token-bucket governor of
// spec.md §4.2 (component C2) atop golang.org/x/time/rate, already an
// indirect dependency of the teacher's go.mod and promoted here to a
// direct one.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a process-global, concurrency-safe token bucket.
type Limiter struct {
	l *rate.Limiter
}

// New builds a Limiter with the given requests-per-second refill rate
// and burst capacity. requestsPerSecond == 0 makes Acquire a no-op, as
// required by spec.md §4.2 and tested by boundary 8.
func New(requestsPerSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if requestsPerSecond <= 0 {
		return &Limiter{l: rate.NewLimiter(rate.Inf, burst)}
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Acquire blocks the caller until one token is available, or until
// ctx is cancelled.
func (lim *Limiter) Acquire(ctx context.Context) error {
	return lim.l.Wait(ctx)
}
