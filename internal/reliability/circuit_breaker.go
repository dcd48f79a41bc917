package reliability

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// State represents the circuit breaker state
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateOpen     = gobreaker.StateOpen
	StateHalfOpen = gobreaker.StateHalfOpen
)

// CircuitBreaker trips after a run of consecutive failures and refuses calls
// until the reset timeout has passed
type CircuitBreaker struct {
	cb               *gobreaker.CircuitBreaker
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenRequests uint32
	name             string
	logger           *slog.Logger
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets how many consecutive failures open the circuit
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = threshold
	}
}

// WithResetTimeout sets how long the circuit stays open
func WithResetTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.resetTimeout = timeout
	}
}

// WithHalfOpenRequests sets the max requests let through while half-open
func WithHalfOpenRequests(requests uint32) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.halfOpenRequests = requests
	}
}

// WithName sets the circuit breaker name for identification
func WithName(name string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// WithBreakerLogger sets the logger that receives state changes
func WithBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if logger != nil {
			cb.logger = logger
		}
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		failureThreshold: 5,
		resetTimeout:     30 * time.Second,
		halfOpenRequests: 1,
		name:             "default",
		logger:           slog.Default(),
	}

	for _, opt := range options {
		opt(cb)
	}

	threshold := uint32(cb.failureThreshold)
	cb.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cb.name,
		MaxRequests: cb.halfOpenRequests,
		Interval:    0,
		Timeout:     cb.resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			cb.logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return cb
}

// Execute runs fn through the breaker. A refused call returns a
// *CircuitBreakerError wrapping ErrCircuitOpen or ErrCircuitHalfOpenLimit.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	_, err := cb.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return cb.refused(ErrCircuitOpen)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return cb.refused(ErrCircuitHalfOpenLimit)
	}
	return err
}

func (cb *CircuitBreaker) refused(err error) *CircuitBreakerError {
	return &CircuitBreakerError{
		Name:     cb.name,
		State:    cb.cb.State(),
		Failures: cb.cb.Counts().ConsecutiveFailures,
		Err:      err,
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	return cb.cb.State()
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}
