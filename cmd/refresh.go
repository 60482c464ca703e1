package cmd

import (
	"github.com/spf13/cobra"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <domain>",
		Short: "Refresh stored credentials for a domain",
		Long: `Refresh renews the credentials stored for a domain, preferring a
silent OAuth token refresh and falling back to a browser session when
the skill file declares one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := bootApp()
			if err != nil {
				return err
			}
			f, err := application.Skills.Load(args[0])
			if err != nil {
				return err
			}
			result, err := application.Refresher.Refresh(cmd.Context(), f)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(result)
			}
			if result.Refreshed {
				cmd.Printf("Refreshed credentials for %s via %s.\n", args[0], result.Method)
			} else {
				cmd.Printf("Nothing to refresh for %s.\n", args[0])
			}
			return nil
		},
	}
}
