package audit

import (
	"context"
	"errors"
	"log/slog"
)

// Sink receives drained dead-letter records
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, rec Record) error

// Write implements Sink
func (f SinkFunc) Write(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// LogSink writes every record to a structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink. A nil logger means slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Write implements Sink
func (s *LogSink) Write(ctx context.Context, rec Record) error {
	attrs := []slog.Attr{
		slog.String("auditId", rec.ID),
		slog.String("queue", rec.Queue),
		slog.String("originalQueue", rec.OriginalQueue),
		slog.String("reason", rec.Reason),
		slog.Int("attempts", rec.Attempts),
		slog.Int("deathCount", rec.DeathCount),
	}
	if rec.Malformed {
		attrs = append(attrs,
			slog.Bool("malformed", true),
			slog.String("cause", rec.MalformedCause),
			slog.String("body", rec.Body))
	} else {
		attrs = append(attrs,
			slog.String("message", rec.Message),
			slog.Int("retries", rec.Retries))
	}
	if rec.MessageID != "" {
		attrs = append(attrs, slog.String("messageId", rec.MessageID))
	}

	s.logger.LogAttrs(ctx, slog.LevelWarn, "dead letter drained", attrs...)
	return nil
}

// MultiSink writes each record to every sink, in order
type MultiSink []Sink

// Write implements Sink. All sinks are attempted; failures are joined.
func (m MultiSink) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
