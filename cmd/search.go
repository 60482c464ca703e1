package cmd

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored endpoints across all domains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := bootApp()
			if err != nil {
				return err
			}
			matches, err := application.Skills.Search(args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(matches)
			}
			if len(matches) == 0 {
				cmd.Printf("No endpoints match %q.\n", args[0])
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"DOMAIN", "ENDPOINT", "METHOD", "PATH", "TIER"})
			for _, m := range matches {
				t.AppendRow(table.Row{m.Domain, m.Endpoint.ID, m.Endpoint.Method, m.Endpoint.Path, m.Endpoint.Replayability.Tier})
			}
			t.Render()
			return nil
		},
	}
}
