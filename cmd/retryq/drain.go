package main

import (
	"fmt"

	"github.com/glimte/retryq/internal/audit"
	"github.com/spf13/cobra"
)

func newDrainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Drain the dead-letter queue into the audit store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := audit.Open(a.cfg.Audit.Path)
			if err != nil {
				return fmt.Errorf("failed to open audit store: %w", err)
			}
			defer store.Close()

			ctx := cmd.Context()
			client, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			drain, err := client.NewDrainConsumer(audit.MultiSink{audit.NewLogSink(a.logger), store})
			if err != nil {
				return err
			}
			return drain.Run(ctx)
		},
	}
}
