package cmd

import (
	"github.com/spf13/cobra"
	"github.com/telhawk-systems/ledgersafe/cli/pkg/output"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show ingest service health and table counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		h, err := newClient(cmd).Health(cmd.Context())
		if err != nil {
			return err
		}

		if format != output.FormatTable {
			return output.Print(format, h, nil)
		}

		if h.Status == "ok" {
			output.Success("status: %s (db %s)", h.Status, h.DB)
		} else {
			output.Warn("status: %s (db %s): %s", h.Status, h.DB, h.Error)
		}
		if h.Counts != nil {
			output.Info("raw events:      %d", h.Counts.RawEvents)
			output.Info("open exceptions: %d", h.Counts.OpenExceptions)
			output.Info("ledger:          processed=%d quarantined=%d ignored=%d",
				h.Counts.Ledger.Processed, h.Counts.Ledger.Quarantined, h.Counts.Ledger.Ignored)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
