package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/glimte/retryq/envelope"
	"github.com/glimte/retryq/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RetryConsumer processes the main queue. Failed items are republished with
// an incremented counter until the retry policy gives up, then rejected to
// the dead-letter exchange.
type RetryConsumer struct {
	source      DeliverySource
	republisher EnvelopePublisher
	processor   Processor
	queue       string
	consumerOptions
}

// NewRetryConsumer creates a consumer of queue. republisher receives the
// copies of failed items; it should publish to the same queue.
func NewRetryConsumer(source DeliverySource, republisher EnvelopePublisher, processor Processor, queue string, options ...ConsumerOption) *RetryConsumer {
	c := &RetryConsumer{
		source:          source,
		republisher:     republisher,
		processor:       processor,
		queue:           queue,
		consumerOptions: defaultConsumerOptions(),
	}

	for _, opt := range options {
		opt(&c.consumerOptions)
	}

	return c
}

// Run consumes until ctx is cancelled or the broker fails. Cancellation is
// observed between deliveries and returns nil; broker failures return a
// *BrokerError. Processing failures never end the loop.
func (c *RetryConsumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(ctx, c.queue)
	if err != nil {
		return &BrokerError{Op: "consume", Queue: c.queue, Err: err}
	}
	defer c.cancel()

	c.logger.Info("waiting for work items", "queue", c.queue, "maxRetries", c.policy.MaxRetries())

	// The current delivery is resolved even if ctx is cancelled mid-way.
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

func (c *RetryConsumer) cancel() {
	if err := c.source.Cancel(c.queue); err != nil {
		c.logger.Debug("consumer cancel failed", "queue", c.queue, "error", err)
	}
}

// Handle runs one delivery through the state machine and resolves it exactly once.
// The returned error is non-nil only for broker failures.
func (c *RetryConsumer) Handle(ctx context.Context, d amqp.Delivery) (Outcome, error) {
	start := c.now()
	h := NewDeliveryHandle(d)

	item, retryCount, err := envelope.Decode(d.Body)
	if err != nil {
		c.logger.Warn("poison message rejected to dead-letter queue",
			"queue", c.queue,
			"deliveryTag", d.DeliveryTag,
			"messageId", d.MessageId,
			"error", err)
		return c.finish(ctx, h, OutcomePoisoned, start, "reject", h.Reject)
	}

	procErr := c.processor.Process(ctx, item)
	if procErr == nil {
		c.logger.Info("work item processed",
			"queue", c.queue,
			"message", item.Message,
			"retries", retryCount)
		return c.finish(ctx, h, OutcomeSucceeded, start, "ack", h.Ack)
	}

	if c.policy.Decide(retryCount, procErr) == reliability.DecisionDeadLetter {
		c.logger.Warn("work item moved to dead-letter queue",
			"queue", c.queue,
			"message", item.Message,
			"retries", retryCount,
			"attempts", retryCount+1,
			"permanent", errors.Is(procErr, ErrPermanentFailure),
			"error", procErr)
		return c.finish(ctx, h, OutcomeDeadLettered, start, "reject", h.Reject)
	}

	next := retryCount + 1
	if err := c.republisher.PublishWithRetries(ctx, item, next); err != nil {
		c.logger.Error("retry republish failed, returning item to queue",
			"queue", c.queue,
			"message", item.Message,
			"retries", retryCount,
			"error", err)
		brokerErr := &BrokerError{Op: "republish", Queue: c.queue, DeliveryTag: d.DeliveryTag, Err: err}
		if _, nackErr := c.finish(ctx, h, OutcomeRequeued, start, "requeue", h.Requeue); nackErr != nil {
			brokerErr.Err = errors.Join(err, nackErr)
		}
		return OutcomeRequeued, brokerErr
	}

	c.logger.Info("retry attempt scheduled",
		"queue", c.queue,
		"message", item.Message,
		"attempt", next,
		"maxRetries", c.policy.MaxRetries(),
		"error", procErr)
	return c.finish(ctx, h, OutcomeRetried, start, "ack", h.Ack)
}

// finish resolves the handle and records the outcome. A second resolution
// is logged and dropped; a broker failure is returned.
func (c *RetryConsumer) finish(ctx context.Context, h *DeliveryHandle, outcome Outcome, start time.Time, op string, resolve func() error) (Outcome, error) {
	err := resolve()
	if errors.Is(err, ErrDoubleResolution) {
		c.logger.Error("dropping second resolution", "queue", c.queue, "error", err)
		return outcome, nil
	}
	if err != nil {
		return outcome, &BrokerError{Op: op, Queue: c.queue, DeliveryTag: h.DeliveryTag(), Err: err}
	}

	c.metrics.RecordOutcome(ctx, c.queue, outcome.String(), c.now().Sub(start))
	return outcome, nil
}
