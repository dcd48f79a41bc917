package reliability

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimiter paces operations to a steady rate with a burst allowance
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing perSecond operations per second.
// A perSecond of zero or less means unlimited.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until an operation is allowed or ctx is done
func (l *RateLimiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return nil
}

// Allow reports whether an operation may happen now
func (l *RateLimiter) Allow() bool {
	return l.limiter.Allow()
}

// Limit returns the configured operations per second
func (l *RateLimiter) Limit() float64 {
	return float64(l.limiter.Limit())
}
