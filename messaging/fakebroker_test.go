package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeBroker is an in-memory stand-in for the pipeline topology: a main
// queue whose rejected or overflowed messages go to a dead-letter queue.
type fakeBroker struct {
	mu sync.Mutex

	mainQueue  string
	deadLetter string
	maxLength  int

	queues  map[string][]amqp.Publishing
	unacked map[uint64]inflight
	nextTag uint64

	published  []amqp.Publishing
	acked      []uint64
	rejected   []uint64
	requeued   []uint64
	publishErr error
	ackErr     error
}

type inflight struct {
	queue string
	msg   amqp.Publishing
}

func newFakeBroker(mainQueue, deadLetter string, maxLength int) *fakeBroker {
	return &fakeBroker{
		mainQueue:  mainQueue,
		deadLetter: deadLetter,
		maxLength:  maxLength,
		queues:     make(map[string][]amqp.Publishing),
		unacked:    make(map[uint64]inflight),
	}
}

// Publish implements AMQPPublisher on the default exchange
func (b *fakeBroker) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.publishErr != nil {
		return b.publishErr
	}
	if exchange != "" {
		return errors.New("fake broker only routes through the default exchange")
	}

	b.published = append(b.published, msg)
	b.queues[routingKey] = append(b.queues[routingKey], msg)

	if routingKey == b.mainQueue && b.maxLength > 0 && len(b.queues[routingKey]) > b.maxLength {
		head := b.queues[routingKey][0]
		b.queues[routingKey] = b.queues[routingKey][1:]
		b.deadLetterLocked(routingKey, head, "maxlen")
	}
	return nil
}

// next hands out the head of queue as an unacknowledged delivery
func (b *fakeBroker) next(queue string) (amqp.Delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msgs := b.queues[queue]
	if len(msgs) == 0 {
		return amqp.Delivery{}, false
	}
	msg := msgs[0]
	b.queues[queue] = msgs[1:]

	b.nextTag++
	b.unacked[b.nextTag] = inflight{queue: queue, msg: msg}

	return amqp.Delivery{
		Acknowledger: b,
		DeliveryTag:  b.nextTag,
		RoutingKey:   queue,
		MessageId:    msg.MessageId,
		ContentType:  msg.ContentType,
		DeliveryMode: msg.DeliveryMode,
		Headers:      msg.Headers,
		Body:         msg.Body,
	}, true
}

func (b *fakeBroker) depth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

func (b *fakeBroker) Ack(tag uint64, multiple bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ackErr != nil {
		return b.ackErr
	}
	if _, ok := b.unacked[tag]; !ok {
		return errors.New("PRECONDITION_FAILED - unknown delivery tag")
	}
	delete(b.unacked, tag)
	b.acked = append(b.acked, tag)
	return nil
}

func (b *fakeBroker) Nack(tag uint64, multiple bool, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	in, ok := b.unacked[tag]
	if !ok {
		return errors.New("PRECONDITION_FAILED - unknown delivery tag")
	}
	delete(b.unacked, tag)

	if requeue {
		b.requeued = append(b.requeued, tag)
		b.queues[in.queue] = append([]amqp.Publishing{in.msg}, b.queues[in.queue]...)
		return nil
	}
	b.rejected = append(b.rejected, tag)
	b.deadLetterLocked(in.queue, in.msg, "rejected")
	return nil
}

func (b *fakeBroker) Reject(tag uint64, requeue bool) error {
	return b.Nack(tag, false, requeue)
}

func (b *fakeBroker) deadLetterLocked(queue string, msg amqp.Publishing, reason string) {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if _, ok := headers["x-first-death-queue"]; !ok {
		headers["x-first-death-queue"] = queue
		headers["x-first-death-reason"] = reason
		headers["x-first-death-exchange"] = ""
	}
	headers["x-death"] = []interface{}{
		amqp.Table{
			"count":        int64(1),
			"reason":       reason,
			"queue":        queue,
			"time":         time.Now().Truncate(time.Second),
			"exchange":     "",
			"routing-keys": []interface{}{queue},
		},
	}
	msg.Headers = headers
	b.queues[b.deadLetter] = append(b.queues[b.deadLetter], msg)
}

// chanSource is a DeliverySource fed by the test
type chanSource struct {
	mu         sync.Mutex
	deliveries chan amqp.Delivery
	consumeErr error
	consumed   []string
	cancelled  []string
}

func newChanSource() *chanSource {
	return &chanSource{deliveries: make(chan amqp.Delivery, 16)}
}

func (s *chanSource) Consume(ctx context.Context, queue string) (<-chan amqp.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	s.consumed = append(s.consumed, queue)
	return s.deliveries, nil
}

func (s *chanSource) Cancel(queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, queue)
	return nil
}

func (s *chanSource) cancelledQueues() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

// mockAcknowledger records how a single delivery was resolved
type mockAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	rejects int
	requeue bool
	err     error
}

func (m *mockAcknowledger) Ack(tag uint64, multiple bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks++
	return m.err
}

func (m *mockAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nacks++
	m.requeue = requeue
	return m.err
}

func (m *mockAcknowledger) Reject(tag uint64, requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejects++
	m.requeue = requeue
	return m.err
}

func (m *mockAcknowledger) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks + m.nacks + m.rejects
}
