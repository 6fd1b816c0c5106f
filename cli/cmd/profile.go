package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/ledgersafe/cli/internal/config"
	"github.com/telhawk-systems/ledgersafe/cli/pkg/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage API endpoints and operator identities",
}

var profileSetCmd = &cobra.Command{
	Use:   "set [name]",
	Short: "Create or update a profile and make it current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := &config.Profile{APIURL: config.DefaultAPIURL}
		if existing, err := cfg.GetProfile(args[0]); err == nil {
			*p = *existing
		}

		if v, _ := cmd.Flags().GetString("api-url"); v != "" {
			p.APIURL = v
		}
		if v, _ := cmd.Flags().GetString("token"); v != "" {
			p.Token = v
		}
		if cmd.Flags().Changed("actor") {
			p.Actor, _ = cmd.Flags().GetString("actor")
		}

		if err := cfg.SaveProfile(args[0], p); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		output.Success("Profile %s saved to %s", args[0], cfg.Path())
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show a profile (default: the current one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := cfg.CurrentProfile
		if len(args) == 1 {
			name = args[0]
		}
		p, err := cfg.GetProfile(name)
		if err != nil {
			return err
		}

		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		masked := *p
		if masked.Token != "" {
			masked.Token = "********"
		}
		if format == output.FormatTable {
			format = output.FormatYAML
		}
		return output.Print(format, map[string]interface{}{name: masked}, nil)
	},
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := cfg.ProfileNames()
		if len(names) == 0 {
			output.Info("No profiles configured; using %s", config.DefaultAPIURL)
			return nil
		}

		table := output.NewTable([]string{"", "Name", "API URL", "Actor"})
		for _, n := range names {
			current := ""
			if n == cfg.CurrentProfile {
				current = "*"
			}
			p := cfg.Profiles[n]
			table.AddRow([]string{current, n, p.APIURL, p.Actor})
		}
		table.Render()
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:     "remove [name]",
	Aliases: []string{"rm"},
	Short:   "Delete a profile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}
		output.Success("Profile %s removed", args[0])
		return nil
	},
}

func init() {
	profileSetCmd.Flags().String("actor", "", "operator name recorded on resolutions")

	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileRemoveCmd)
	rootCmd.AddCommand(profileCmd)
}
