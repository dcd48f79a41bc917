// Package retryq wires a RabbitMQ retry pipeline together: a main work queue
// that dead-letters into a fanout exchange, a producer, a retry-aware
// consumer and a drain consumer for the dead-letter queue.
package retryq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/retryq/config"
	"github.com/glimte/retryq/health"
	"github.com/glimte/retryq/internal/audit"
	"github.com/glimte/retryq/internal/metrics"
	"github.com/glimte/retryq/internal/rabbitmq"
	"github.com/glimte/retryq/internal/reliability"
	"github.com/glimte/retryq/messaging"
	"go.opentelemetry.io/otel/metric"
)

// ErrNotConnected is returned by operations that need a broker before Connect succeeded
var ErrNotConnected = errors.New("retryq: client not connected")

// Client owns the broker connection and builds the pipeline components
type Client struct {
	cfg      *config.Config
	logger   *slog.Logger
	conn     *rabbitmq.ConnectionManager
	recorder *metrics.Recorder
	backoff  *reliability.ExponentialBackoff

	mu        sync.Mutex
	pool      *rabbitmq.ChannelPool
	topology  *rabbitmq.TopologyManager
	producer  *messaging.Producer
	consumers []*rabbitmq.Consumer
}

// clientConfig holds client configuration
type clientConfig struct {
	logger        *slog.Logger
	meterProvider metric.MeterProvider
	backoff       *reliability.ExponentialBackoff
}

// Option configures the client
type Option func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider used for consumer metrics
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(cfg *clientConfig) {
		cfg.meterProvider = provider
	}
}

// WithConnectBackoff overrides the spacing of initial dial attempts.
// The attempt count always comes from broker.connect_retries.
func WithConnectBackoff(initial, max time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.backoff = reliability.NewExponentialBackoff(initial, max, 2.0, 0)
	}
}

// New validates cfg and prepares a client. No connection is made until Connect.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cc := &clientConfig{
		logger:  slog.Default(),
		backoff: reliability.NewExponentialBackoff(500*time.Millisecond, 10*time.Second, 2.0, 0),
	}
	for _, opt := range opts {
		opt(cc)
	}
	cc.backoff.MaxAttempts = cfg.Broker.ConnectRetries

	var metricOpts []metrics.Option
	if cc.meterProvider != nil {
		metricOpts = append(metricOpts, metrics.WithMeterProvider(cc.meterProvider))
	}
	recorder, err := metrics.NewRecorder(metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics recorder: %w", err)
	}

	conn := rabbitmq.NewConnectionManager(cfg.Broker.URL(),
		rabbitmq.WithLogger(cc.logger),
		rabbitmq.WithDialTimeout(cfg.Broker.DialTimeout),
	)

	return &Client{
		cfg:      cfg,
		logger:   cc.logger,
		conn:     conn,
		recorder: recorder,
		backoff:  cc.backoff,
	}, nil
}

// Config returns the configuration the client was built with
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Connect dials the broker, retrying a failed dial broker.connect_retries
// times, and prepares the channel pool and publisher
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		return nil
	}

	err := reliability.Retry(ctx, "connect", c.backoff, func() error {
		err := c.conn.Connect(ctx)
		if err != nil {
			c.logger.Warn("failed to connect to RabbitMQ", "error", err)
		}
		return err
	})
	if err != nil {
		return err
	}

	pool, err := rabbitmq.NewChannelPool(c.conn)
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel pool: %w", err)
	}

	publisher := rabbitmq.NewPublisher(pool,
		rabbitmq.WithConfirms(c.cfg.Publisher.Confirms),
		rabbitmq.WithPublishTimeout(c.cfg.Publisher.Timeout),
		rabbitmq.WithPublisherLogger(c.logger),
	)

	producerOpts := []messaging.ProducerOption{
		messaging.WithProducerLogger(c.logger),
		messaging.WithRateLimiter(reliability.NewRateLimiter(c.cfg.Publisher.Rate, c.cfg.Publisher.Burst)),
	}
	if c.cfg.Publisher.Breaker.FailureThreshold > 0 {
		producerOpts = append(producerOpts, messaging.WithCircuitBreaker(reliability.NewCircuitBreaker(
			reliability.WithName("publish"),
			reliability.WithFailureThreshold(c.cfg.Publisher.Breaker.FailureThreshold),
			reliability.WithResetTimeout(c.cfg.Publisher.Breaker.ResetTimeout),
			reliability.WithBreakerLogger(c.logger),
		)))
	}

	c.pool = pool
	c.topology = rabbitmq.NewTopologyManager(pool, c.cfg.Queues.DeadLetterExchange,
		rabbitmq.WithTopologyLogger(c.logger))
	c.producer = messaging.NewProducer(publisher, c.cfg.Queues.Main, producerOpts...)
	return nil
}

// EnsureTopology declares the dead-letter exchange and queue, then the main queue
func (c *Client) EnsureTopology(ctx context.Context) error {
	c.mu.Lock()
	topology := c.topology
	c.mu.Unlock()

	if topology == nil {
		return ErrNotConnected
	}

	return topology.EnsurePipeline(ctx, rabbitmq.PipelineTopology{
		MainQueue:          c.cfg.Queues.Main,
		DeadLetterQueue:    c.cfg.Queues.DeadLetter,
		DeadLetterExchange: c.cfg.Queues.DeadLetterExchange,
		MaxLength:          c.cfg.Queues.MaxLength,
	})
}

// Producer returns the producer for the main queue
func (c *Client) Producer() (*messaging.Producer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.producer == nil {
		return nil, ErrNotConnected
	}
	return c.producer, nil
}

// NewRetryConsumer builds a consumer of the main queue that runs processor
func (c *Client) NewRetryConsumer(processor messaging.Processor) (*messaging.RetryConsumer, error) {
	source, err := c.newSource()
	if err != nil {
		return nil, err
	}
	producer, err := c.Producer()
	if err != nil {
		return nil, err
	}

	return messaging.NewRetryConsumer(source, producer, processor, c.cfg.Queues.Main,
		messaging.WithLogger(c.logger),
		messaging.WithMetrics(c.recorder),
		messaging.WithMaxRetries(c.cfg.Retry.MaxRetries),
	), nil
}

// NewDrainConsumer builds a consumer of the dead-letter queue that writes to sink
func (c *Client) NewDrainConsumer(sink audit.Sink) (*messaging.DrainConsumer, error) {
	source, err := c.newSource()
	if err != nil {
		return nil, err
	}

	return messaging.NewDrainConsumer(source, sink, c.cfg.Queues.DeadLetter,
		messaging.WithLogger(c.logger),
		messaging.WithMetrics(c.recorder),
	), nil
}

func (c *Client) newSource() (*rabbitmq.Consumer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool == nil {
		return nil, ErrNotConnected
	}

	consumer := rabbitmq.NewConsumer(c.pool,
		rabbitmq.WithPrefetchCount(c.cfg.Consumer.Prefetch),
		rabbitmq.WithConsumerTag(c.cfg.Consumer.Tag),
		rabbitmq.WithConsumerLogger(c.logger),
	)
	c.consumers = append(c.consumers, consumer)
	return consumer, nil
}

// HealthCheck reports on the broker connection and both pipeline queues
func (c *Client) HealthCheck(ctx context.Context) health.Report {
	c.mu.Lock()
	pool, topology := c.pool, c.topology
	c.mu.Unlock()

	if pool == nil {
		return health.Run(ctx, health.NewCheckerFunc("rabbitmq", func(ctx context.Context) health.CheckResult {
			return health.CheckResult{
				Name:      "rabbitmq",
				Status:    health.StatusUnhealthy,
				Message:   "Client not connected",
				Timestamp: time.Now(),
				Error:     ErrNotConnected.Error(),
			}
		}))
	}

	return health.Run(ctx,
		health.NewBrokerChecker(c.conn, pool, c.logger),
		health.NewQueueChecker(c.cfg.Queues.Main, c.cfg.Queues.MaxLength, topology),
		health.NewQueueChecker(c.cfg.Queues.DeadLetter, 0, topology),
	)
}

// Close cancels active consumers and closes the channel pool and connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, consumer := range c.consumers {
		for _, queue := range consumer.ActiveQueues() {
			if err := consumer.Cancel(queue); err != nil && !errors.Is(err, rabbitmq.ErrNotConsuming) {
				errs = append(errs, err)
			}
		}
	}
	c.consumers = nil

	if c.pool != nil {
		if err := c.pool.Close(); err != nil {
			errs = append(errs, err)
		}
		c.pool = nil
		c.topology = nil
		c.producer = nil
	}

	if err := c.conn.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
