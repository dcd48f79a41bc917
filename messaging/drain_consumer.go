package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/glimte/retryq/internal/audit"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DrainConsumer empties the dead-letter queue into an audit sink. A dead
// letter is acked only after the sink accepted its record.
type DrainConsumer struct {
	source DeliverySource
	sink   audit.Sink
	queue  string
	consumerOptions
}

// NewDrainConsumer creates a consumer of the dead-letter queue
func NewDrainConsumer(source DeliverySource, sink audit.Sink, queue string, options ...ConsumerOption) *DrainConsumer {
	c := &DrainConsumer{
		source:          source,
		sink:            sink,
		queue:           queue,
		consumerOptions: defaultConsumerOptions(),
	}

	for _, opt := range options {
		opt(&c.consumerOptions)
	}

	return c
}

// Run drains until ctx is cancelled, the sink fails or the broker fails.
// Cancellation returns nil.
func (c *DrainConsumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(ctx, c.queue)
	if err != nil {
		return &BrokerError{Op: "consume", Queue: c.queue, Err: err}
	}
	defer func() {
		if err := c.source.Cancel(c.queue); err != nil {
			c.logger.Debug("consumer cancel failed", "queue", c.queue, "error", err)
		}
	}()

	c.logger.Info("draining dead-letter queue", "queue", c.queue)

	handleCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return &BrokerError{Op: "consume", Queue: c.queue, Err: ErrDeliveriesClosed}
			}
			if _, err := c.Handle(handleCtx, d); err != nil {
				return err
			}
		}
	}
}

// Handle writes the audit record of one dead letter and acks it. When the
// sink fails the delivery is requeued and the sink error returned.
func (c *DrainConsumer) Handle(ctx context.Context, d amqp.Delivery) (audit.Record, error) {
	start := c.now()
	h := NewDeliveryHandle(d)
	rec := audit.NewRecord(d, c.queue, start)

	if err := c.sink.Write(ctx, rec); err != nil {
		c.logger.Error("audit sink failed, returning dead letter to queue",
			"queue", c.queue,
			"auditId", rec.ID,
			"error", err)
		sinkErr := fmt.Errorf("messaging: audit sink: %w", err)
		if nackErr := h.Requeue(); nackErr != nil {
			return rec, errors.Join(sinkErr, &BrokerError{Op: "requeue", Queue: c.queue, DeliveryTag: d.DeliveryTag, Err: nackErr})
		}
		return rec, sinkErr
	}

	if err := h.Ack(); err != nil {
		return rec, &BrokerError{Op: "ack", Queue: c.queue, DeliveryTag: d.DeliveryTag, Err: err}
	}

	c.metrics.RecordOutcome(ctx, c.queue, OutcomeDrained.String(), c.now().Sub(start))
	return rec, nil
}
