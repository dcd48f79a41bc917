package messaging

import (
	"context"
	"log/slog"

	"github.com/glimte/retryq/envelope"
)

// LogProcessor logs every item and succeeds. It stands in for business logic.
type LogProcessor struct {
	logger *slog.Logger
}

// NewLogProcessor creates a log processor. A nil logger means slog.Default().
func NewLogProcessor(logger *slog.Logger) *LogProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProcessor{logger: logger}
}

// Process implements Processor
func (p *LogProcessor) Process(ctx context.Context, item envelope.WorkItem) error {
	p.logger.InfoContext(ctx, "processing work item", "message", item.Message, "fields", len(item.Fields))
	return nil
}
