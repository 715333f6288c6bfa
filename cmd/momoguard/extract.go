package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/momoguard/internal/extract"
)

func extractCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract [text]",
		Short: "Parse an SMS and print the payment as JSON",
		Long: `Parse a mobile money SMS with the configured extraction cascade.
The text is read from stdin when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			if len(args) == 1 {
				text = args[0]
			} else {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				text = string(raw)
			}

			x, err := extract.New(a.cfg.Extractor)
			if err != nil {
				return err
			}

			parsed := x.Extract(strings.TrimSpace(text))
			if parsed == nil {
				return fmt.Errorf("no payment found in message")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(parsed)
		},
	}
}
