package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a skill file shared by someone else",
		Long: `Import validates an externally produced skill file, checks its base
URL against the network safety rules, and stores it re-signed with
this machine's key. Imported files keep an "imported" provenance so
their origin stays visible.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := bootApp()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading skill file: %w", err)
			}
			f, err := application.Skills.Import(data, func(baseURL string) error {
				res := application.Validator.Validate(context.Background(), baseURL)
				if !res.Safe {
					return fmt.Errorf("base URL rejected: %s", res.Reason)
				}
				return nil
			})
			if err != nil {
				return err
			}
			cmd.Printf("Imported %s with %d endpoint(s).\n", f.Domain, len(f.Endpoints))
			return nil
		},
	}
}
