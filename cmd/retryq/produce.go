package main

import (
	"fmt"

	"github.com/glimte/retryq/envelope"
	"github.com/spf13/cobra"
)

const defaultMessage = "Hello RabbitMQ!"

func newProduceCmd(a *app) *cobra.Command {
	var (
		count int
		rate  float64
	)

	cmd := &cobra.Command{
		Use:   "produce [message...]",
		Short: "Publish work items to the main queue",
		Long:  "Publish each message as a new work item. Without arguments a single greeting is sent.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1, got %d", count)
			}
			if cmd.Flags().Changed("rate") {
				a.cfg.Publisher.Rate = rate
				if err := a.cfg.Validate(); err != nil {
					return err
				}
			}

			messages := args
			if len(messages) == 0 {
				messages = []string{defaultMessage}
			}

			ctx := cmd.Context()
			client, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			producer, err := client.Producer()
			if err != nil {
				return err
			}

			for i := 0; i < count; i++ {
				for _, msg := range messages {
					if err := producer.Publish(ctx, envelope.NewWorkItem(msg)); err != nil {
						return fmt.Errorf("failed to publish %q: %w", msg, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Sent: %s\n", msg)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of times each message is published")
	cmd.Flags().Float64Var(&rate, "rate", 0, "Messages per second (0 for unlimited); overrides publisher.rate")

	return cmd
}
