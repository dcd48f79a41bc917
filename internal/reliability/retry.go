package reliability

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Decision is what happens to a work item whose processing failed
type Decision int

const (
	// DecisionRetry republishes the item with an incremented counter
	DecisionRetry Decision = iota
	// DecisionDeadLetter rejects the item to the dead-letter queue
	DecisionDeadLetter
)

func (d Decision) String() string {
	switch d {
	case DecisionRetry:
		return "retry"
	case DecisionDeadLetter:
		return "dead-letter"
	default:
		return "unknown"
	}
}

// RetryPolicy decides the fate of a failed work item
type RetryPolicy interface {
	// Decide is called with the counter carried by the failed delivery
	Decide(retryCount int, err error) Decision
	// MaxRetries returns the total number of processing attempts allowed
	MaxRetries() int
}

// MaxAttempts allows Max processing attempts per item. An item is republished
// while retryCount+1 < Max; the attempt that makes it reach Max dead-letters it.
// Non-retryable errors dead-letter on the first failure.
type MaxAttempts struct {
	Max int
}

// DefaultMaxRetries is the attempt bound used when none is configured
const DefaultMaxRetries = 5

// NewMaxAttempts creates an attempt-bounded policy. Values below 1 mean DefaultMaxRetries.
func NewMaxAttempts(max int) *MaxAttempts {
	if max < 1 {
		max = DefaultMaxRetries
	}
	return &MaxAttempts{Max: max}
}

// Decide implements RetryPolicy
func (p *MaxAttempts) Decide(retryCount int, err error) Decision {
	if !IsRetryableError(err) {
		return DecisionDeadLetter
	}
	if retryCount+1 < p.Max {
		return DecisionRetry
	}
	return DecisionDeadLetter
}

// MaxRetries implements RetryPolicy
func (p *MaxAttempts) MaxRetries() int {
	return p.Max
}

// ExponentialBackoff spaces out retries of a broker operation
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	Jitter          bool
}

// NewExponentialBackoff creates a new exponential backoff policy
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxAttempts:     maxRetries,
		Jitter:          true,
	}
}

// ShouldRetry reports whether attempt (zero based) may be followed by another and after what delay
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= e.MaxAttempts || !IsRetryableError(err) {
		return false, 0
	}
	return true, e.NextDelay(attempt)
}

// NextDelay calculates the delay after the given attempt
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))

	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	// ±15%
	if e.Jitter {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}

// Retry runs fn until it succeeds, the backoff gives up or ctx is done.
// Exhaustion returns a *RetryError wrapping the last failure.
func Retry(ctx context.Context, op string, backoff *ExponentialBackoff, fn func() error) error {
	start := time.Now()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		retry, delay := backoff.ShouldRetry(attempt, err)
		if !retry {
			if attempt == 0 && backoff.MaxAttempts == 0 {
				return err
			}
			return &RetryError{
				Op:          op,
				Attempts:    attempt + 1,
				MaxAttempts: backoff.MaxAttempts + 1,
				LastError:   err,
				Duration:    time.Since(start),
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
