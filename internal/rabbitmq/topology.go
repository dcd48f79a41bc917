package rabbitmq

import (
	"context"
	"log/slog"
	"math"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ArgDeadLetterExchange names the exchange rejected and overflowed messages go to
	ArgDeadLetterExchange = "x-dead-letter-exchange"
	// ArgMaxLength bounds the number of ready messages in a queue
	ArgMaxLength = "x-max-length"

	// DeadLetterExchangeKind is fanout so dead letters reach the DLQ
	// whatever routing key they were published with.
	DeadLetterExchangeKind = amqp.ExchangeFanout
)

// TopologyChannel is the part of *amqp.Channel used to declare topology
type TopologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// PipelineTopology names the queues and exchange of a retry pipeline
type PipelineTopology struct {
	MainQueue          string
	DeadLetterQueue    string
	DeadLetterExchange string
	MaxLength          int
}

// MainQueueDeclaration builds the descriptor of a work queue that dead-letters into dlx
func MainQueueDeclaration(name, deadLetterExchange string, maxLength int) QueueDeclaration {
	return QueueDeclaration{
		Name:       name,
		Durable:    true,
		AutoDelete: false,
		Exclusive:  false,
		Arguments: amqp.Table{
			ArgDeadLetterExchange: deadLetterExchange,
			ArgMaxLength:          int32(maxLength),
		},
	}
}

// TopologyManager declares the pipeline topology. Declarations are idempotent.
type TopologyManager struct {
	deadLetterExchange string
	logger             *slog.Logger
	exec               func(ctx context.Context, fn func(TopologyChannel) error) error
}

// TopologyOption configures the TopologyManager
type TopologyOption func(*TopologyManager)

// WithTopologyLogger sets the logger
func WithTopologyLogger(logger *slog.Logger) TopologyOption {
	return func(tm *TopologyManager) {
		if logger != nil {
			tm.logger = logger
		}
	}
}

// NewTopologyManager creates a topology manager whose dead-letter queues
// are bound to deadLetterExchange
func NewTopologyManager(pool *ChannelPool, deadLetterExchange string, options ...TopologyOption) *TopologyManager {
	tm := &TopologyManager{
		deadLetterExchange: deadLetterExchange,
		logger:             slog.Default(),
		exec: func(ctx context.Context, fn func(TopologyChannel) error) error {
			return pool.Execute(ctx, func(ch *amqp.Channel) error {
				return fn(ch)
			})
		},
	}

	for _, opt := range options {
		opt(tm)
	}

	return tm
}

// EnsureMainQueue declares the durable work queue with its dead-letter
// exchange and length bound. Redeclaring with different arguments fails
// with an error matching ErrTopologyMismatch.
func (tm *TopologyManager) EnsureMainQueue(ctx context.Context, name, deadLetterExchange string, maxLength int) error {
	if name == "" || deadLetterExchange == "" || maxLength < 1 || maxLength > math.MaxInt32 {
		return newTopologyError("queue", name, "declare", ErrInvalidConfiguration)
	}

	decl := MainQueueDeclaration(name, deadLetterExchange, maxLength)
	err := tm.exec(ctx, func(ch TopologyChannel) error {
		_, err := declareQueue(ch, decl)
		return err
	})
	if err != nil {
		return err
	}

	tm.logger.Info("main queue ready",
		"queue", name,
		"deadLetterExchange", deadLetterExchange,
		"maxLength", maxLength)
	return nil
}

// EnsureDeadLetterQueue declares the dead-letter exchange, the durable DLQ
// and the binding between them
func (tm *TopologyManager) EnsureDeadLetterQueue(ctx context.Context, name string) error {
	if name == "" || tm.deadLetterExchange == "" {
		return newTopologyError("queue", name, "declare", ErrInvalidConfiguration)
	}

	exchange := ExchangeDeclaration{
		Name:    tm.deadLetterExchange,
		Type:    DeadLetterExchangeKind,
		Durable: true,
	}
	queue := QueueDeclaration{
		Name:    name,
		Durable: true,
	}
	binding := Binding{
		Queue:    name,
		Exchange: tm.deadLetterExchange,
	}

	err := tm.exec(ctx, func(ch TopologyChannel) error {
		if err := declareExchange(ch, exchange); err != nil {
			return err
		}
		if _, err := declareQueue(ch, queue); err != nil {
			return err
		}
		return bindQueue(ch, binding)
	})
	if err != nil {
		return err
	}

	tm.logger.Info("dead-letter queue ready",
		"queue", name,
		"exchange", tm.deadLetterExchange)
	return nil
}

// EnsurePipeline declares the dead-letter side before the main queue, so
// the main queue never dead-letters into an unbound exchange
func (tm *TopologyManager) EnsurePipeline(ctx context.Context, topo PipelineTopology) error {
	if topo.DeadLetterExchange != tm.deadLetterExchange {
		return newTopologyError("exchange", topo.DeadLetterExchange, "declare", ErrInvalidConfiguration)
	}
	if topo.MaxLength < 1 || topo.MaxLength > math.MaxInt32 {
		return newTopologyError("queue", topo.MainQueue, "declare", ErrInvalidConfiguration)
	}
	if err := tm.EnsureDeadLetterQueue(ctx, topo.DeadLetterQueue); err != nil {
		return err
	}
	return tm.EnsureMainQueue(ctx, topo.MainQueue, topo.DeadLetterExchange, topo.MaxLength)
}

// InspectQueue returns the current depth and consumer count of a queue
func (tm *TopologyManager) InspectQueue(ctx context.Context, name string) (amqp.Queue, error) {
	var q amqp.Queue
	err := tm.exec(ctx, func(ch TopologyChannel) error {
		var err error
		q, err = ch.QueueDeclarePassive(name, true, false, false, false, nil)
		if err != nil {
			return newTopologyError("queue", name, "inspect", err)
		}
		return nil
	})
	return q, err
}

// declareExchange declares an exchange on the given channel
func declareExchange(ch TopologyChannel, exchange ExchangeDeclaration) error {
	err := ch.ExchangeDeclare(
		exchange.Name,
		exchange.Type,
		exchange.Durable,
		exchange.AutoDelete,
		false, // internal
		false, // no-wait
		exchange.Arguments,
	)
	if err != nil {
		return newTopologyError("exchange", exchange.Name, "declare", err)
	}
	return nil
}

// declareQueue declares a queue on the given channel
func declareQueue(ch TopologyChannel, queue QueueDeclaration) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		queue.Name,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // no-wait
		queue.Arguments,
	)
	if err != nil {
		return q, newTopologyError("queue", queue.Name, "declare", err)
	}
	return q, nil
}

// bindQueue binds a queue to an exchange on the given channel
func bindQueue(ch TopologyChannel, binding Binding) error {
	err := ch.QueueBind(
		binding.Queue,
		binding.RoutingKey,
		binding.Exchange,
		false, // no-wait
		binding.Arguments,
	)
	if err != nil {
		return newTopologyError("binding", binding.Queue+"->"+binding.Exchange, "create", err)
	}
	return nil
}
