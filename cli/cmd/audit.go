package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/ledgersafe/cli/pkg/output"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List audit entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		objectType, _ := cmd.Flags().GetString("object-type")
		objectID, _ := cmd.Flags().GetString("object-id")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := newClient(cmd).ListAudit(cmd.Context(), objectType, objectID, limit)
		if err != nil {
			return fmt.Errorf("failed to list audit entries: %w", err)
		}

		if format == output.FormatTable && len(entries) == 0 {
			output.Info("No audit entries found")
			return nil
		}

		err = output.Print(format, entries, func() *output.Table {
			table := output.NewTable([]string{"When", "Actor", "Action", "Object", "Verified"})
			for _, e := range entries {
				verified := "yes"
				if !e.Verified {
					verified = "NO"
				}
				table.AddRow([]string{
					e.OccurredAt.Format("2006-01-02 15:04:05"),
					e.Actor,
					e.Action,
					e.ObjectType + "/" + e.ObjectID,
					verified,
				})
			}
			return table
		})
		if err != nil {
			return err
		}

		for _, e := range entries {
			if !e.Verified {
				output.Warn("audit entry %s failed signature verification", e.AuditID)
			}
		}
		return nil
	},
}

func init() {
	auditListCmd.Flags().String("object-type", "", "exception or events_processed")
	auditListCmd.Flags().String("object-id", "", "only this object")
	auditListCmd.Flags().Int("limit", 0, "maximum entries (server default when 0)")

	auditCmd.AddCommand(auditListCmd)
	rootCmd.AddCommand(auditCmd)
}
