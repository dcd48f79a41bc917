package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/retryq/envelope"
	"github.com/glimte/retryq/internal/reliability"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Producer publishes work items to the main queue through the default exchange
type Producer struct {
	publisher AMQPPublisher
	queue     string
	limiter   *reliability.RateLimiter
	breaker   *reliability.CircuitBreaker
	logger    *slog.Logger
	now       func() time.Time
}

// ProducerOption configures the producer
type ProducerOption func(*Producer)

// WithProducerLogger sets the logger. A nil logger keeps the default.
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRateLimiter paces Publish. Retry republishes are not paced.
func WithRateLimiter(limiter *reliability.RateLimiter) ProducerOption {
	return func(p *Producer) {
		p.limiter = limiter
	}
}

// WithCircuitBreaker fails publishes fast while the broker keeps refusing them
func WithCircuitBreaker(breaker *reliability.CircuitBreaker) ProducerOption {
	return func(p *Producer) {
		p.breaker = breaker
	}
}

// NewProducer creates a producer for queue
func NewProducer(publisher AMQPPublisher, queue string, options ...ProducerOption) *Producer {
	p := &Producer{
		publisher: publisher,
		queue:     queue,
		logger:    slog.Default(),
		now:       time.Now,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Queue returns the routing key the producer publishes to
func (p *Producer) Queue() string {
	return p.queue
}

// Publish sends a new work item with a zero retry counter. Failures are
// returned to the caller; nothing is retried here.
func (p *Producer) Publish(ctx context.Context, item envelope.WorkItem) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return p.PublishWithRetries(ctx, item, 0)
}

// PublishWithRetries sends item carrying retryCount
func (p *Producer) PublishWithRetries(ctx context.Context, item envelope.WorkItem, retryCount int) error {
	body, err := envelope.Encode(item, retryCount)
	if err != nil {
		return fmt.Errorf("messaging: encode work item: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  envelope.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    p.now(),
		Body:         body,
	}

	publish := func() error {
		return p.publisher.Publish(ctx, "", p.queue, msg)
	}

	if p.breaker != nil {
		err = p.breaker.Execute(publish)
	} else {
		err = publish()
	}
	if err != nil {
		return err
	}

	p.logger.Debug("work item published",
		"queue", p.queue,
		"messageId", msg.MessageId,
		"retries", retryCount)
	return nil
}
