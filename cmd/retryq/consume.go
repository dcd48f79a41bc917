package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/glimte/retryq/envelope"
	"github.com/glimte/retryq/messaging"
	"github.com/spf13/cobra"
)

// errInjected is returned by failRateProcessor for the items it fails
var errInjected = errors.New("injected failure")

// failRateProcessor fails a fraction of items before handing the rest to next
type failRateProcessor struct {
	rate float64
	roll func() float64
	next messaging.Processor
}

func newFailRateProcessor(rate float64, next messaging.Processor) *failRateProcessor {
	return &failRateProcessor{rate: rate, roll: rand.Float64, next: next}
}

func (p *failRateProcessor) Process(ctx context.Context, item envelope.WorkItem) error {
	if p.roll() < p.rate {
		return errInjected
	}
	return p.next.Process(ctx, item)
}

func newConsumeCmd(a *app) *cobra.Command {
	var failRate float64

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Process the main queue with bounded retries",
		Long: `Consume work items from the main queue. Failed items are republished with
an incremented retry counter until retry.max_retries attempts, then rejected
to the dead-letter exchange.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if failRate < 0 || failRate > 1 {
				return fmt.Errorf("--fail-rate must be between 0 and 1, got %g", failRate)
			}

			ctx := cmd.Context()
			client, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			var processor messaging.Processor = messaging.NewLogProcessor(a.logger)
			if failRate > 0 {
				a.logger.Warn("failure injection enabled", "failRate", failRate)
				processor = newFailRateProcessor(failRate, processor)
			}

			consumer, err := client.NewRetryConsumer(processor)
			if err != nil {
				return err
			}
			return consumer.Run(ctx)
		},
	}
	cmd.Flags().Float64Var(&failRate, "fail-rate", 0, "Fraction of items (0-1) that fail processing, for demonstrations")

	return cmd
}
