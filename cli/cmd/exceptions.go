package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/ledgersafe/cli/internal/client"
	"github.com/telhawk-systems/ledgersafe/cli/pkg/output"
)

var exceptionsCmd = &cobra.Command{
	Use:     "exceptions",
	Aliases: []string{"exc"},
	Short:   "Triage and resolve quarantined events",
}

var exceptionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List exceptions, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		tenant, _ := cmd.Flags().GetString("tenant")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		list, err := newClient(cmd).ListExceptions(cmd.Context(), client.ListOptions{
			Status:   status,
			TenantID: tenant,
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			return fmt.Errorf("failed to list exceptions: %w", err)
		}

		if format == output.FormatTable && len(list.Exceptions) == 0 {
			output.Info("No exceptions found")
			return nil
		}

		return output.Print(format, list, func() *output.Table {
			table := output.NewTable([]string{"ID", "Tenant", "Key", "Reason", "Status", "Assignee", "Replays", "Created"})
			for _, e := range list.Exceptions {
				table.AddRow([]string{
					e.ExceptionID,
					e.TenantID,
					e.IdempotencyKey,
					e.ReasonCode,
					e.Status,
					deref(e.Assignee),
					strconv.Itoa(e.ReplayAttempts),
					e.CreatedAt.Format("2006-01-02 15:04"),
				})
			}
			return table
		})
	},
}

var exceptionsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show an exception with its ledger row and raw events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		detail, err := newClient(cmd).GetException(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get exception: %w", err)
		}

		// Nested documents read better as YAML than as a table.
		if format == output.FormatTable {
			format = output.FormatYAML
		}
		return output.Print(format, detail, nil)
	},
}

var exceptionsResolveCmd = &cobra.Command{
	Use:   "resolve [id]",
	Short: "Resolve an open exception",
	Long: `Resolve an open exception.

Actions:
  resolve_no_replay    close the exception and mark the key ignored
  resolve_and_replay   apply the chosen raw event, optionally patched, and
                       mark the key processed`,
	Example: `  lsctl exceptions resolve 0190... --action resolve_no_replay --notes "test traffic"
  lsctl exceptions resolve 0190... --action resolve_and_replay --raw-id 42 \
      --patch '{"amount":12.5}' --notes "corrected"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		req, err := resolveRequestFromFlags(cmd)
		if err != nil {
			return err
		}

		exc, err := newClient(cmd).Resolve(cmd.Context(), args[0], *req)
		if err != nil {
			return fmt.Errorf("failed to resolve exception: %w", err)
		}

		if format != output.FormatTable {
			return output.Print(format, exc, nil)
		}
		output.Success("Exception %s resolved (%s)", args[0], req.Action)
		if result, ok := exc["last_replay_result"].(string); ok {
			output.Info("Replay result: %s", result)
		}
		return nil
	},
}

func resolveRequestFromFlags(cmd *cobra.Command) (*client.ResolveRequest, error) {
	action, _ := cmd.Flags().GetString("action")
	notes, _ := cmd.Flags().GetString("notes")
	patch, _ := cmd.Flags().GetString("patch")
	patchFile, _ := cmd.Flags().GetString("patch-file")

	if action == "" {
		return nil, errors.New("--action is required")
	}
	if notes == "" {
		return nil, errors.New("--notes is required")
	}

	req := &client.ResolveRequest{
		Action: action,
		Actor:  activeProfile(cmd).Actor,
		Notes:  notes,
	}

	if cmd.Flags().Changed("raw-id") {
		id, _ := cmd.Flags().GetInt64("raw-id")
		req.CanonicalRawID = &id
	}

	switch {
	case patch != "" && patchFile != "":
		return nil, errors.New("use either --patch or --patch-file, not both")
	case patchFile != "":
		data, err := os.ReadFile(patchFile)
		if err != nil {
			return nil, err
		}
		patch = string(data)
	}
	if patch != "" {
		if !json.Valid([]byte(patch)) {
			return nil, errors.New("override patch is not valid JSON")
		}
		req.OverridePatch = json.RawMessage(patch)
	}
	return req, nil
}

var exceptionsAssignCmd = &cobra.Command{
	Use:   "assign [id] [assignee]",
	Short: "Assign an open exception to an operator",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		exc, err := newClient(cmd).Assign(cmd.Context(), args[0], args[1], activeProfile(cmd).Actor)
		if err != nil {
			return fmt.Errorf("failed to assign exception: %w", err)
		}

		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		if format != output.FormatTable {
			return output.Print(format, exc, nil)
		}
		output.Success("Exception %s assigned to %s", args[0], args[1])
		return nil
	},
}

func init() {
	exceptionsListCmd.Flags().String("status", "open", "open, resolved or all")
	exceptionsListCmd.Flags().String("tenant", "", "only this tenant")
	exceptionsListCmd.Flags().Int("limit", 0, "page size (server default when 0)")
	exceptionsListCmd.Flags().Int("offset", 0, "rows to skip")

	exceptionsResolveCmd.Flags().String("action", "", "resolve_no_replay or resolve_and_replay")
	exceptionsResolveCmd.Flags().String("notes", "", "resolution notes (required)")
	exceptionsResolveCmd.Flags().Int64("raw-id", 0, "raw event to replay instead of the triggering one")
	exceptionsResolveCmd.Flags().String("patch", "", "JSON merge patch (RFC 7396) applied before replay")
	exceptionsResolveCmd.Flags().String("patch-file", "", "file holding the merge patch")

	exceptionsCmd.AddCommand(exceptionsListCmd)
	exceptionsCmd.AddCommand(exceptionsShowCmd)
	exceptionsCmd.AddCommand(exceptionsResolveCmd)
	exceptionsCmd.AddCommand(exceptionsAssignCmd)
	rootCmd.AddCommand(exceptionsCmd)
}
