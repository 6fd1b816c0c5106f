package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/ledgersafe/cli/pkg/output"
)

var deadLettersCmd = &cobra.Command{
	Use:     "dead-letters",
	Aliases: []string{"dlq"},
	Short:   "Inspect requests the ingest service could not store",
}

var deadLettersListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List dead-lettered requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		dl, err := newClient(cmd).DeadLetters(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("failed to list dead letters: %w", err)
		}

		if format == output.FormatTable && len(dl.Events) == 0 {
			output.Info("Dead-letter queue is empty")
			return nil
		}

		return output.Print(format, dl, func() *output.Table {
			table := output.NewTable([]string{"When", "Reason", "Tenant", "Event", "Error"})
			for _, e := range dl.Events {
				table.AddRow([]string{
					e.Timestamp.Format("2006-01-02 15:04:05"),
					e.Reason,
					e.TenantID,
					e.EventID,
					e.Error,
				})
			}
			return table
		})
	},
}

func init() {
	deadLettersListCmd.Flags().Int("limit", 100, "maximum entries")

	deadLettersCmd.AddCommand(deadLettersListCmd)
	rootCmd.AddCommand(deadLettersCmd)
}
