package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer starts manual-acknowledgment consumers, one dedicated channel per queue
type Consumer struct {
	pool          *ChannelPool
	prefetchCount int
	exclusive     bool
	consumerTag   string
	logger        *slog.Logger

	mu     sync.Mutex
	active map[string]*activeConsumer
}

type activeConsumer struct {
	channel *PooledChannel
	tag     string
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithExclusive sets exclusive consumer mode
func WithExclusive(exclusive bool) ConsumerOption {
	return func(c *Consumer) {
		c.exclusive = exclusive
	}
}

// WithConsumerTag sets the consumer tag prefix
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer creates a new consumer
func NewConsumer(pool *ChannelPool, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		pool:          pool,
		prefetchCount: 10,
		logger:        slog.Default(),
		active:        make(map[string]*activeConsumer),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Consume starts delivering messages from queue. Deliveries must be
// acknowledged by the caller. The channel closes when the consumer is
// cancelled or the broker connection is lost.
func (c *Consumer) Consume(ctx context.Context, queue string) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.active[queue]; exists {
		return nil, c.consumerError(queue, "", "consume", ErrAlreadyConsuming)
	}

	ch, err := c.pool.Get(ctx)
	if err != nil {
		return nil, c.consumerError(queue, "", "consume", err)
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		c.pool.Discard(ch)
		return nil, c.consumerError(queue, "", "set qos", err)
	}

	tag := c.tagFor(queue)
	deliveries, err := ch.Consume(
		queue,
		tag,
		false, // auto-ack
		c.exclusive,
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		c.pool.Discard(ch)
		return nil, c.consumerError(queue, tag, "consume", err)
	}

	c.active[queue] = &activeConsumer{channel: ch, tag: tag}

	c.logger.Info("consuming from queue",
		"queue", queue,
		"consumerTag", tag,
		"prefetchCount", c.prefetchCount)

	return deliveries, nil
}

// Cancel stops the consumer on queue and closes its channel. Unacknowledged
// deliveries are returned to the queue by the broker.
func (c *Consumer) Cancel(queue string) error {
	c.mu.Lock()
	ac, ok := c.active[queue]
	delete(c.active, queue)
	c.mu.Unlock()

	if !ok {
		return c.consumerError(queue, "", "cancel", ErrNotConsuming)
	}

	var cancelErr error
	if !ac.channel.IsClosed() {
		if err := ac.channel.Cancel(ac.tag, false); err != nil {
			cancelErr = c.consumerError(queue, ac.tag, "cancel", err)
		}
	}
	c.pool.Discard(ac.channel)

	c.logger.Info("consumer stopped", "queue", queue, "consumerTag", ac.tag)
	return cancelErr
}

// ActiveQueues returns the queues with a running consumer
func (c *Consumer) ActiveQueues() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	queues := make([]string, 0, len(c.active))
	for q := range c.active {
		queues = append(queues, q)
	}
	return queues
}

func (c *Consumer) tagFor(queue string) string {
	prefix := c.consumerTag
	if prefix == "" {
		prefix = "retryq"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, queue, uuid.New().String()[:8])
}

func (c *Consumer) consumerError(queue, tag, op string, err error) *ConsumerError {
	return &ConsumerError{
		Queue:       queue,
		ConsumerTag: tag,
		Op:          op,
		Err:         err,
		Timestamp:   time.Now(),
	}
}
