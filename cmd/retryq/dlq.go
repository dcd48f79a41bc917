package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/glimte/retryq/internal/audit"
	"github.com/spf13/cobra"
)

func newDLQCmd(a *app) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect drained dead letters",
	}

	var (
		filter string
		limit  int
		output string
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters recorded by drain",
		Long: `List audit records in drain order. --filter takes a CEL expression over
id, reason, queue, original_queue, message, fields, retries, attempts,
malformed, death_count and drained_at_ms, for example:

  retryq dlq list --filter 'reason == "rejected" && attempts >= 5'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := audit.NewFilter(filter, limit)
			if err != nil {
				return err
			}

			store, err := audit.Open(a.cfg.Audit.Path)
			if err != nil {
				return fmt.Errorf("failed to open audit store: %w", err)
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("failed to list dead letters: %w", err)
			}

			if output == "table" {
				printRecords(cmd.OutOrStdout(), records)
				return nil
			}
			if records == nil {
				records = []audit.Record{}
			}
			return writeOutput(cmd.OutOrStdout(), output, records)
		},
	}
	listCmd.Flags().StringVarP(&filter, "filter", "f", "", "CEL expression selecting records")
	listCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of records (0 for all)")
	listCmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")

	dlqCmd.AddCommand(listCmd)
	return dlqCmd
}

func printRecords(w io.Writer, records []audit.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No dead letters found")
		return
	}

	fmt.Fprintf(w, "%-36s %-10s %-8s %-8s %-20s %-30s\n", "ID", "Reason", "Retries", "Attempts", "Drained At", "Message")
	fmt.Fprintln(w, strings.Repeat("-", 117))
	for _, r := range records {
		msg := r.Message
		if r.Malformed {
			msg = "(malformed) " + r.Body
		}
		fmt.Fprintf(w, "%-36s %-10s %-8d %-8d %-20s %-30s\n",
			r.ID,
			r.Reason,
			r.Retries,
			r.Attempts,
			r.DrainedAt.Format("2006-01-02 15:04:05"),
			truncate(msg, 30),
		)
	}
}
