package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTopologyCmd(a *app) *cobra.Command {
	topologyCmd := &cobra.Command{
		Use:   "topology",
		Short: "Manage the pipeline exchange and queues",
	}

	declareCmd := &cobra.Command{
		Use:   "declare",
		Short: "Declare the dead-letter exchange, dead-letter queue and main queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			q := a.cfg.Queues
			fmt.Fprintf(cmd.OutOrStdout(), "Declared %s -> %s (fanout) -> %s\n", q.Main, q.DeadLetterExchange, q.DeadLetter)
			return nil
		},
	}

	topologyCmd.AddCommand(declareCmd)
	return topologyCmd
}
