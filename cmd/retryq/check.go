package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/glimte/retryq"
	"github.com/glimte/retryq/health"
	"github.com/spf13/cobra"
)

func newCheckCmd(a *app) *cobra.Command {
	var (
		output  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check broker and queue health",
		Long:  "Check the broker connection and both pipeline queues. Exits non-zero unless healthy or degraded.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := retryq.New(a.cfg, retryq.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := cmd.Context()
			if err := client.Connect(ctx); err != nil {
				a.logger.Debug("connect failed", "error", err)
			}

			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			report := client.HealthCheck(checkCtx)

			if output == "table" {
				printHealth(cmd.OutOrStdout(), report)
			} else if err := writeOutput(cmd.OutOrStdout(), output, report); err != nil {
				return err
			}

			if report.Status == health.StatusUnhealthy {
				return fmt.Errorf("pipeline is %s", report.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Time allowed for all checks")

	return cmd
}

func printHealth(w io.Writer, report health.Report) {
	fmt.Fprintf(w, "Status: %s (%s)\n", strings.ToUpper(string(report.Status)), report.Duration.Round(time.Millisecond))
	fmt.Fprintln(w, strings.Repeat("-", 80))

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		check := report.Checks[name]
		fmt.Fprintf(w, "%-30s %-10s %s\n", truncate(name, 30), check.Status, check.Message)
		if check.Error != "" {
			fmt.Fprintf(w, "%-30s %-10s error: %s\n", "", "", check.Error)
		}
	}
}
