package messaging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/glimte/retryq/envelope"
	"github.com/glimte/retryq/internal/audit"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	records []audit.Record
	err     error
}

func (s *memorySink) Write(ctx context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) all() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Record(nil), s.records...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestDrainConsumerHandle(t *testing.T) {
	ctx := context.Background()
	drainedAt := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return drainedAt }

	t.Run("end to end: five failures produce one audited dead letter", func(t *testing.T) {
		p := newPipeline(t, &countingProcessor{err: alwaysFail})
		require.NoError(t, p.producer.Publish(ctx, envelope.NewWorkItem("Hello RabbitMQ!")))
		p.drainMain(t)

		sink := &memorySink{}
		drain := NewDrainConsumer(nil, sink, testDLQ, WithClock(clock), WithLogger(quietLogger()))

		d, ok := p.broker.next(testDLQ)
		require.True(t, ok)
		rec, err := drain.Handle(ctx, d)
		require.NoError(t, err)

		assert.Equal(t, 0, p.broker.depth(testDLQ))
		require.Len(t, sink.all(), 1)
		assert.Equal(t, rec, sink.all()[0])
		assert.Equal(t, "Hello RabbitMQ!", rec.Message)
		assert.Equal(t, 4, rec.Retries)
		assert.Equal(t, 5, rec.Attempts)
		assert.Equal(t, testDLQ, rec.Queue)
		assert.Equal(t, testMainQueue, rec.OriginalQueue)
		assert.Equal(t, drainedAt, rec.DrainedAt)
		assert.Equal(t, int32(5), p.processor.calls)
	})

	t.Run("malformed dead letter is audited with its body", func(t *testing.T) {
		p := newPipeline(t, &countingProcessor{})
		require.NoError(t, p.broker.Publish(ctx, "", testMainQueue, amqp.Publishing{Body: []byte("oops")}))
		p.drainMain(t)

		sink := &memorySink{}
		drain := NewDrainConsumer(nil, sink, testDLQ, WithLogger(quietLogger()))

		d, ok := p.broker.next(testDLQ)
		require.True(t, ok)
		rec, err := drain.Handle(ctx, d)
		require.NoError(t, err)

		assert.True(t, rec.Malformed)
		assert.Equal(t, "oops", rec.Body)
		assert.Equal(t, 1, rec.Attempts)
	})

	t.Run("overflowed items are audited as maxlen", func(t *testing.T) {
		broker := newFakeBroker(testMainQueue, testDLQ, 2)
		producer := NewProducer(broker, testMainQueue)
		for _, msg := range []string{"a", "b", "c"} {
			require.NoError(t, producer.Publish(ctx, envelope.NewWorkItem(msg)))
		}
		assert.Equal(t, 2, broker.depth(testMainQueue))

		sink := &memorySink{}
		drain := NewDrainConsumer(nil, sink, testDLQ, WithLogger(quietLogger()))
		d, ok := broker.next(testDLQ)
		require.True(t, ok)
		rec, err := drain.Handle(ctx, d)
		require.NoError(t, err)

		assert.Equal(t, "a", rec.Message)
		assert.Equal(t, audit.ReasonMaxLen, rec.Reason)
		assert.Equal(t, 0, rec.Attempts)
	})

	t.Run("sink failure requeues and propagates", func(t *testing.T) {
		sinkErr := errors.New("disk full")
		ack := &mockAcknowledger{}
		drain := NewDrainConsumer(nil, &memorySink{err: sinkErr}, testDLQ, WithLogger(quietLogger()))

		_, err := drain.Handle(ctx, amqp.Delivery{Acknowledger: ack, Body: []byte(`{"message":"m","retries":4}`)})

		assert.ErrorIs(t, err, sinkErr)
		assert.Equal(t, 1, ack.nacks)
		assert.True(t, ack.requeue)
		assert.Zero(t, ack.acks)
	})

	t.Run("ack failure is a broker error", func(t *testing.T) {
		ack := &mockAcknowledger{err: amqp.ErrClosed}
		drain := NewDrainConsumer(nil, &memorySink{}, testDLQ, WithLogger(quietLogger()))

		_, err := drain.Handle(ctx, amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`{"message":"m"}`)})

		var brokerErr *BrokerError
		require.ErrorAs(t, err, &brokerErr)
		assert.Equal(t, "ack", brokerErr.Op)
	})

	t.Run("records drained outcome", func(t *testing.T) {
		metrics := &mockMetrics{}
		metrics.On("RecordOutcome", testDLQ, "drained").Once()
		drain := NewDrainConsumer(nil, &memorySink{}, testDLQ, WithMetrics(metrics), WithLogger(quietLogger()))

		_, err := drain.Handle(ctx, amqp.Delivery{Acknowledger: &mockAcknowledger{}, Body: []byte(`{"message":"m"}`)})
		require.NoError(t, err)
		metrics.AssertExpectations(t)
	})
}

func TestDrainConsumerRun(t *testing.T) {
	t.Run("drains until cancelled", func(t *testing.T) {
		source := newChanSource()
		sink := &memorySink{}
		drain := NewDrainConsumer(source, sink, testDLQ, WithLogger(quietLogger()))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- drain.Run(ctx) }()

		ack := &mockAcknowledger{}
		source.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte(`{"message":"a","retries":4}`)}
		source.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte(`{"message":"b","retries":4}`)}

		require.Eventually(t, func() bool { return len(sink.all()) == 2 }, time.Second, 5*time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Run did not stop after cancel")
		}
		assert.Equal(t, 2, ack.total())
		assert.Equal(t, []string{testDLQ}, source.cancelledQueues())
	})

	t.Run("sink failure ends the loop", func(t *testing.T) {
		source := newChanSource()
		sinkErr := errors.New("store closed")
		drain := NewDrainConsumer(source, &memorySink{err: sinkErr}, testDLQ, WithLogger(quietLogger()))

		source.deliveries <- amqp.Delivery{Acknowledger: &mockAcknowledger{}, Body: []byte(`{"message":"a"}`)}

		err := drain.Run(context.Background())
		assert.ErrorIs(t, err, sinkErr)
	})

	t.Run("closed delivery channel is a broker error", func(t *testing.T) {
		source := newChanSource()
		close(source.deliveries)
		drain := NewDrainConsumer(source, &memorySink{}, testDLQ, WithLogger(quietLogger()))

		assert.ErrorIs(t, drain.Run(context.Background()), ErrDeliveriesClosed)
	})
}
