package cmd

import (
	"github.com/spf13/cobra"

	"apitap/internal/browse"
)

func newBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse <url>",
		Short: "Fetch a URL through stored skills or discovery",
		Long: `Browse resolves the URL's domain against stored skill files,
falling back to API discovery, picks the best matching endpoint, and
replays it. When neither source knows the domain it suggests a
capture instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := bootApp()
			if err != nil {
				return err
			}
			result, err := application.Browse.Browse(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !flagJSON && result.Suggestion == browse.SuggestionCapture {
				cmd.Printf("No skills or discoverable API for this domain; run 'apitap capture %s' first.\n", args[0])
				return nil
			}
			return printJSON(result)
		},
	}
}
