package messaging

import (
	"log/slog"
	"time"

	"github.com/glimte/retryq/internal/reliability"
)

// consumerOptions are shared by RetryConsumer and DrainConsumer
type consumerOptions struct {
	logger  *slog.Logger
	metrics MetricsCollector
	policy  reliability.RetryPolicy
	now     func() time.Time
}

func defaultConsumerOptions() consumerOptions {
	return consumerOptions{
		logger:  slog.Default(),
		metrics: NoOpMetricsCollector{},
		policy:  reliability.NewMaxAttempts(reliability.DefaultMaxRetries),
		now:     time.Now,
	}
}

// ConsumerOption configures a consumer
type ConsumerOption func(*consumerOptions)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(o *consumerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the outcome collector
func WithMetrics(metrics MetricsCollector) ConsumerOption {
	return func(o *consumerOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithMaxRetries bounds the number of processing attempts per item. Default 5.
func WithMaxRetries(maxRetries int) ConsumerOption {
	return func(o *consumerOptions) {
		o.policy = reliability.NewMaxAttempts(maxRetries)
	}
}

// WithRetryPolicy replaces the attempt-bounded policy
func WithRetryPolicy(policy reliability.RetryPolicy) ConsumerOption {
	return func(o *consumerOptions) {
		if policy != nil {
			o.policy = policy
		}
	}
}

// WithClock sets the time source used for durations and audit timestamps
func WithClock(now func() time.Time) ConsumerOption {
	return func(o *consumerOptions) {
		if now != nil {
			o.now = now
		}
	}
}
