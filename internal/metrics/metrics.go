// Package metrics exports delivery outcomes through OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/glimte/retryq"

// Recorder holds the instruments fed by the consumers
type Recorder struct {
	deliveries metric.Int64Counter
	duration   metric.Float64Histogram
}

// Option configures the Recorder
type Option func(*options)

type options struct {
	provider metric.MeterProvider
}

// WithMeterProvider uses provider instead of the global one
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// NewRecorder creates the instruments. Without WithMeterProvider the global
// provider is used, which is a no-op until the host installs one.
func NewRecorder(opts ...Option) (*Recorder, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.provider == nil {
		o.provider = otel.GetMeterProvider()
	}

	meter := o.provider.Meter(meterName)
	r := &Recorder{}

	var err error
	r.deliveries, err = meter.Int64Counter(
		"retryq.deliveries.total",
		metric.WithDescription("Deliveries resolved by consumers, by final outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deliveries counter: %w", err)
	}

	r.duration, err = meter.Float64Histogram(
		"retryq.processing.duration",
		metric.WithDescription("Time from receiving a delivery to resolving it"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create processing duration histogram: %w", err)
	}

	return r, nil
}

// RecordOutcome counts one resolved delivery and its handling time
func (r *Recorder) RecordOutcome(ctx context.Context, queue string, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("outcome", outcome),
	)
	r.deliveries.Add(ctx, 1, attrs)
	r.duration.Record(ctx, duration.Seconds(), attrs)
}
