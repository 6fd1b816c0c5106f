package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/ledgersafe/cli/pkg/output"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect idempotency ledger rows",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show [tenant] [idempotency-key]",
	Short: "Show the ledger row for one idempotency key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		st, err := newClient(cmd).GetLedger(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to get ledger row: %w", err)
		}
		if format == output.FormatTable {
			format = output.FormatYAML
		}
		return output.Print(format, st, nil)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [tenant]",
	Short: "Show rolling ingest counters for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		stats, err := newClient(cmd).TenantStats(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get tenant stats: %w", err)
		}
		if format == output.FormatTable {
			format = output.FormatYAML
		}
		return output.Print(format, stats, nil)
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerShowCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(statsCmd)
}
