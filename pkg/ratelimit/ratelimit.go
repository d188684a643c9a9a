// Package ratelimit provides the token-bucket limiter shared by all tasks
// in a replica. Limits are process-local: replicas do not share quota, so
// configured rates must be conservative relative to replica count times
// the provider ceiling.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket keyed by one external service.
type Limiter struct {
	name       string
	limiter    *rate.Limiter
	rejections atomic.Int64
}

// Stats is a point-in-time snapshot of limiter state.
type Stats struct {
	Name       string  `json:"name"`
	Tokens     float64 `json:"tokens"`
	RefillRate float64 `json:"refill_per_second"`
	Rejections int64   `json:"rejections"`
}

// PerMinute builds a limiter refilling at n tokens per minute with a burst
// of one minute's quota.
func PerMinute(name string, n int) *Limiter {
	if n <= 0 {
		n = 1
	}
	return &Limiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(float64(n)/60.0), n),
	}
}

// PerHour builds a limiter refilling at n tokens per hour. Burst stays
// small so a fresh replica cannot drain an hourly quota instantly.
func PerHour(name string, n int) *Limiter {
	if n <= 0 {
		n = 1
	}
	burst := n / 10
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(float64(n)/3600.0), burst),
	}
}

// Acquire blocks cooperatively until tokens are available or the context
// deadline elapses. A deadline miss returns false rather than an error.
func (l *Limiter) Acquire(ctx context.Context, tokens int) bool {
	if tokens <= 0 {
		tokens = 1
	}
	if err := l.limiter.WaitN(ctx, tokens); err != nil {
		l.rejections.Add(1)
		return false
	}
	return true
}

// TryAcquire takes tokens without blocking.
func (l *Limiter) TryAcquire(tokens int) bool {
	if tokens <= 0 {
		tokens = 1
	}
	if !l.limiter.AllowN(time.Now(), tokens) {
		l.rejections.Add(1)
		return false
	}
	return true
}

// Stats returns current tokens, refill rate, and rejection count.
func (l *Limiter) Stats() Stats {
	return Stats{
		Name:       l.name,
		Tokens:     l.limiter.Tokens(),
		RefillRate: float64(l.limiter.Limit()),
		Rejections: l.rejections.Load(),
	}
}
