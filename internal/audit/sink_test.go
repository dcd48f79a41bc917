package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := sink.Write(context.Background(), Record{
		ID:       "a1",
		Queue:    "dead_letter_queue",
		Reason:   ReasonRejected,
		Message:  "Hello",
		Retries:  4,
		Attempts: 5,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"dead letter drained"`)
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"attempts":5`)
	assert.Contains(t, out, `"message":"Hello"`)
	assert.NotContains(t, out, `"malformed"`)
}

func TestLogSinkMalformed(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, sink.Write(context.Background(), Record{ID: "a2", Malformed: true, Body: "garbage", Attempts: 1}))
	assert.Contains(t, buf.String(), "malformed=true")
	assert.Contains(t, buf.String(), "body=garbage")
}

func TestMultiSink(t *testing.T) {
	ctx := context.Background()
	rec := Record{ID: "r1"}

	t.Run("writes to every sink", func(t *testing.T) {
		var got []string
		multi := MultiSink{
			SinkFunc(func(_ context.Context, r Record) error { got = append(got, "a:"+r.ID); return nil }),
			SinkFunc(func(_ context.Context, r Record) error { got = append(got, "b:"+r.ID); return nil }),
		}

		require.NoError(t, multi.Write(ctx, rec))
		assert.Equal(t, []string{"a:r1", "b:r1"}, got)
	})

	t.Run("joins failures and still attempts every sink", func(t *testing.T) {
		errA := errors.New("disk full")
		called := false
		multi := MultiSink{
			SinkFunc(func(context.Context, Record) error { return errA }),
			SinkFunc(func(context.Context, Record) error { called = true; return nil }),
		}

		err := multi.Write(ctx, rec)
		assert.ErrorIs(t, err, errA)
		assert.True(t, called)
	})

	t.Run("empty multi sink is a no-op", func(t *testing.T) {
		assert.NoError(t, MultiSink{}.Write(ctx, rec))
	})
}
