package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/ledgersafe/cli/pkg/output"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Send point-of-sale events",
}

var eventsSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one event document",
	Long: `Send one event document to POST /v1/events.

The document is read from --file ("-" for stdin) or given inline with --json.`,
	Example: `  lsctl events send --file sale.json
  cat sale.json | lsctl events send --file -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		body, err := readEventBody(cmd)
		if err != nil {
			return err
		}

		res, err := newClient(cmd).SendEvent(cmd.Context(), body)
		if err != nil {
			return fmt.Errorf("failed to send event: %w", err)
		}

		if format != output.FormatTable {
			return output.Print(format, res, nil)
		}

		switch res.Outcome {
		case "processed", "duplicate":
			output.Success("%s: %s (raw_id %d)", res.IdempotencyKey, res.Outcome, res.RawID)
		default:
			output.Warn("%s: %s (raw_id %d) exception %s reason %s",
				res.IdempotencyKey, res.Outcome, res.RawID, deref(res.ExceptionID), deref(res.ReasonCode))
		}
		return nil
	},
}

func readEventBody(cmd *cobra.Command) ([]byte, error) {
	inline, _ := cmd.Flags().GetString("json")
	file, _ := cmd.Flags().GetString("file")

	var body []byte
	switch {
	case inline != "" && file != "":
		return nil, errors.New("use either --json or --file, not both")
	case inline != "":
		body = []byte(inline)
	case file == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		body = data
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		body = data
	default:
		return nil, errors.New("an event is required: pass --file or --json")
	}

	if !json.Valid(body) {
		return nil, errors.New("event is not valid JSON")
	}
	return body, nil
}

func init() {
	eventsSendCmd.Flags().StringP("file", "f", "", "path to the event JSON, - for stdin")
	eventsSendCmd.Flags().String("json", "", "inline event JSON")

	eventsCmd.AddCommand(eventsSendCmd)
	rootCmd.AddCommand(eventsCmd)
}
