package reliability

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxAttempts(t *testing.T) {
	t.Run("defaults below one", func(t *testing.T) {
		assert.Equal(t, DefaultMaxRetries, NewMaxAttempts(0).MaxRetries())
		assert.Equal(t, DefaultMaxRetries, NewMaxAttempts(-3).MaxRetries())
		assert.Equal(t, 2, NewMaxAttempts(2).MaxRetries())
	})

	t.Run("Decide bounds attempts", func(t *testing.T) {
		policy := NewMaxAttempts(5)
		failure := errors.New("processing failed")

		tests := []struct {
			retryCount int
			expected   Decision
		}{
			{0, DecisionRetry},
			{1, DecisionRetry},
			{2, DecisionRetry},
			{3, DecisionRetry},
			{4, DecisionDeadLetter},
			{5, DecisionDeadLetter},
			{42, DecisionDeadLetter},
		}

		for _, tt := range tests {
			t.Run(fmt.Sprintf("retryCount=%d", tt.retryCount), func(t *testing.T) {
				assert.Equal(t, tt.expected, policy.Decide(tt.retryCount, failure))
			})
		}
	})

	t.Run("single attempt never retries", func(t *testing.T) {
		policy := NewMaxAttempts(1)
		assert.Equal(t, DecisionDeadLetter, policy.Decide(0, errors.New("x")))
	})

	t.Run("non-retryable errors dead-letter immediately", func(t *testing.T) {
		policy := NewMaxAttempts(5)

		assert.Equal(t, DecisionDeadLetter, policy.Decide(0, RetryableError{Err: errors.New("bad input"), Retryable: false}))
		assert.Equal(t, DecisionDeadLetter, policy.Decide(0, fmt.Errorf("wrapped: %w", ErrNonRetryable)))
		assert.Equal(t, DecisionRetry, policy.Decide(0, RetryableError{Err: errors.New("timeout"), Retryable: true}))
	})

	t.Run("decision names", func(t *testing.T) {
		assert.Equal(t, "retry", DecisionRetry.String())
		assert.Equal(t, "dead-letter", DecisionDeadLetter.String())
		assert.Equal(t, "unknown", Decision(9).String())
	})
}

func TestExponentialBackoff(t *testing.T) {
	t.Run("creates with correct defaults", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 3)

		assert.Equal(t, 100*time.Millisecond, eb.InitialInterval)
		assert.Equal(t, 5*time.Second, eb.MaxInterval)
		assert.Equal(t, 2.0, eb.Multiplier)
		assert.Equal(t, 3, eb.MaxAttempts)
		assert.True(t, eb.Jitter)
	})

	t.Run("ShouldRetry respects max retries", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 1*time.Second, 2.0, 3)

		for i := 0; i < 3; i++ {
			shouldRetry, delay := eb.ShouldRetry(i, errors.New("test"))
			assert.True(t, shouldRetry)
			assert.Greater(t, delay, time.Duration(0))
		}

		shouldRetry, delay := eb.ShouldRetry(3, errors.New("test"))
		assert.False(t, shouldRetry)
		assert.Equal(t, time.Duration(0), delay)
	})

	t.Run("NextDelay calculates exponential backoff", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0, 5)
		eb.Jitter = false

		tests := []struct {
			attempt  int
			expected time.Duration
		}{
			{0, 100 * time.Millisecond},
			{1, 200 * time.Millisecond},
			{2, 400 * time.Millisecond},
			{3, 800 * time.Millisecond},
			{10, 10 * time.Second},
		}

		for _, tt := range tests {
			t.Run(fmt.Sprintf("attempt=%d", tt.attempt), func(t *testing.T) {
				assert.Equal(t, tt.expected, eb.NextDelay(tt.attempt))
			})
		}
	})

	t.Run("NextDelay with jitter stays within 15%", func(t *testing.T) {
		eb := NewExponentialBackoff(1*time.Second, 10*time.Second, 2.0, 5)

		for i := 0; i < 20; i++ {
			delay := eb.NextDelay(0)
			assert.GreaterOrEqual(t, delay, 850*time.Millisecond)
			assert.LessOrEqual(t, delay, 1150*time.Millisecond)
		}
	})

	t.Run("respects non-retryable errors", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 1*time.Second, 2.0, 3)

		shouldRetry, _ := eb.ShouldRetry(0, RetryableError{Err: errors.New("auth"), Retryable: false})
		assert.False(t, shouldRetry)
	})
}

func TestRetry(t *testing.T) {
	fast := func(retries int) *ExponentialBackoff {
		eb := NewExponentialBackoff(time.Millisecond, 5*time.Millisecond, 2.0, retries)
		eb.Jitter = false
		return eb
	}

	t.Run("succeeds on first attempt", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), "dial", fast(3), func() error {
			attempts++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("retries on failure", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), "dial", fast(3), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary error")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("returns RetryError after max retries", func(t *testing.T) {
		cause := errors.New("persistent error")
		attempts := 0
		err := Retry(context.Background(), "dial", fast(2), func() error {
			attempts++
			return cause
		})

		var retryErr *RetryError
		require.ErrorAs(t, err, &retryErr)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, 3, retryErr.Attempts)
		assert.Equal(t, "dial", retryErr.Op)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("zero retries returns the error untouched", func(t *testing.T) {
		cause := errors.New("refused")
		err := Retry(context.Background(), "dial", fast(0), func() error { return cause })
		assert.Equal(t, cause, err)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), "dial", fast(5), func() error {
			attempts++
			return fmt.Errorf("access refused: %w", ErrNonRetryable)
		})

		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		eb := NewExponentialBackoff(time.Second, time.Second, 1.0, 5)
		ctx, cancel := context.WithCancel(context.Background())

		attempts := int32(0)
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		err := Retry(ctx, "dial", eb, func() error {
			atomic.AddInt32(&attempts, 1)
			return errors.New("error")
		})

		assert.Equal(t, context.Canceled, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	})
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(errors.New("x")))
	assert.False(t, IsRetryableError(ErrNonRetryable))
	assert.False(t, IsRetryableError(ErrMaxRetriesExceeded))
	assert.False(t, IsRetryableError(fmt.Errorf("wrap: %w", RetryableError{Err: errors.New("x")})))
	assert.True(t, IsRetryableError(RetryableError{Err: errors.New("x"), Retryable: true}))
}
