package messaging

import (
	"context"
	"time"

	"github.com/glimte/retryq/envelope"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Processor does the business work for one item. A nil error acks the item;
// any other error counts as a failed attempt. Wrap with Permanent to skip
// the remaining attempts.
type Processor interface {
	Process(ctx context.Context, item envelope.WorkItem) error
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(ctx context.Context, item envelope.WorkItem) error

// Process implements Processor
func (f ProcessorFunc) Process(ctx context.Context, item envelope.WorkItem) error {
	return f(ctx, item)
}

// AMQPPublisher publishes raw messages. *rabbitmq.Publisher implements it.
type AMQPPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// DeliverySource starts and stops manual-ack consumers. *rabbitmq.Consumer implements it.
type DeliverySource interface {
	Consume(ctx context.Context, queue string) (<-chan amqp.Delivery, error)
	Cancel(queue string) error
}

// EnvelopePublisher republishes an item with a given counter. *Producer implements it.
type EnvelopePublisher interface {
	PublishWithRetries(ctx context.Context, item envelope.WorkItem, retryCount int) error
}

// MetricsCollector records delivery outcomes
type MetricsCollector interface {
	RecordOutcome(ctx context.Context, queue string, outcome string, duration time.Duration)
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// RecordOutcome does nothing
func (NoOpMetricsCollector) RecordOutcome(context.Context, string, string, time.Duration) {}
