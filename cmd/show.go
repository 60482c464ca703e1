package cmd

import (
	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <domain>",
		Short: "Print the stored skill file for a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := bootApp()
			if err != nil {
				return err
			}
			f, err := application.Skills.Load(args[0])
			if err != nil {
				return err
			}
			return printJSON(f)
		},
	}
}
