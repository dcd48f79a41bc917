package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DegradedFillRatio is the queue fill level, relative to its max length,
// at which a queue is reported degraded
const DegradedFillRatio = 0.9

// ConnectionStatus reports whether the broker connection is open.
// *rabbitmq.ConnectionManager implements it.
type ConnectionStatus interface {
	IsConnected() bool
}

// ChannelRunner runs a function on a broker channel. *rabbitmq.ChannelPool implements it.
type ChannelRunner interface {
	Execute(ctx context.Context, fn func(*amqp.Channel) error) error
}

// QueueInspector reads a queue's depth. *rabbitmq.TopologyManager implements it.
type QueueInspector interface {
	InspectQueue(ctx context.Context, name string) (amqp.Queue, error)
}

// BrokerChecker checks that the connection is open and a channel can be used
type BrokerChecker struct {
	conn   ConnectionStatus
	pool   ChannelRunner
	logger *slog.Logger
}

// NewBrokerChecker creates a new broker health checker
func NewBrokerChecker(conn ConnectionStatus, pool ChannelRunner, logger *slog.Logger) *BrokerChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrokerChecker{
		conn:   conn,
		pool:   pool,
		logger: logger,
	}
}

func (c *BrokerChecker) Name() string {
	return "rabbitmq"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	if !c.conn.IsConnected() {
		result.Status = StatusUnhealthy
		result.Message = "Connection is closed"
		result.Duration = time.Since(start)
		return result
	}

	err := c.pool.Execute(ctx, func(ch *amqp.Channel) error {
		return ch.ExchangeDeclarePassive("amq.direct", amqp.ExchangeDirect, true, false, false, false, nil)
	})
	if err != nil {
		c.logger.Debug("broker health check failed", "error", err)
		result.Status = StatusUnhealthy
		result.Message = "Failed to use a channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusHealthy
	result.Message = "Connection is healthy"
	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// QueueChecker checks that a queue is accessible and not close to its length bound
type QueueChecker struct {
	queueName string
	maxLength int
	inspector QueueInspector
}

// NewQueueChecker creates a queue checker. A maxLength of zero disables the depth check.
func NewQueueChecker(queueName string, maxLength int, inspector QueueInspector) *QueueChecker {
	return &QueueChecker{
		queueName: queueName,
		maxLength: maxLength,
		inspector: inspector,
	}
}

func (c *QueueChecker) Name() string {
	return fmt.Sprintf("queue_%s", c.queueName)
}

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	queue, err := c.inspector.InspectQueue(ctx, c.queueName)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Queue %s not accessible", c.queueName)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("Queue %s is accessible", c.queueName)
	result.Duration = time.Since(start)
	result.Details["message_count"] = queue.Messages
	result.Details["consumer_count"] = queue.Consumers

	if c.maxLength > 0 {
		result.Details["max_length"] = c.maxLength
		if float64(queue.Messages) >= DegradedFillRatio*float64(c.maxLength) {
			result.Status = StatusDegraded
			result.Message = fmt.Sprintf("Queue %s is near its max length (%d/%d)", c.queueName, queue.Messages, c.maxLength)
		}
	}

	return result
}
