package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/ledgersafe/cli/internal/client"
	"github.com/telhawk-systems/ledgersafe/cli/internal/config"
	"github.com/telhawk-systems/ledgersafe/cli/pkg/output"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "lsctl",
	Short: "Ledger-safe ingestion CLI",
	Long: `lsctl is the operator console for the ledger-safe ingest service.

Send events, triage quarantined exceptions, resolve them with or without
replay, and inspect the idempotency ledger and audit trail.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		output.Error("%v", err)
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			output.Warn("server asked to retry after %s", apiErr.RetryAfter)
		}
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.lsctl/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().String("api-url", "", "ingest API base URL, overrides the profile")
	rootCmd.PersistentFlags().String("token", "", "operator bearer token, overrides the profile")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

// activeProfile merges the selected profile with command-line overrides.
// A missing profile is not an error; the defaults point at a local service.
func activeProfile(cmd *cobra.Command) *config.Profile {
	p := &config.Profile{APIURL: config.DefaultAPIURL}

	name, _ := cmd.Flags().GetString("profile")
	if cfg != nil {
		if stored, err := cfg.GetProfile(name); err == nil {
			*p = *stored
		}
	}
	if p.APIURL == "" {
		p.APIURL = config.DefaultAPIURL
	}
	if v, _ := cmd.Flags().GetString("api-url"); v != "" {
		p.APIURL = v
	}
	if v, _ := cmd.Flags().GetString("token"); v != "" {
		p.Token = v
	}
	return p
}

func newClient(cmd *cobra.Command) *client.Client {
	p := activeProfile(cmd)
	return client.New(p.APIURL, p.Token)
}

func outputFormat(cmd *cobra.Command) (output.Format, error) {
	v, _ := cmd.Flags().GetString("output")
	return output.ParseFormat(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
