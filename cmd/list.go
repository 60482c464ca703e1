package cmd

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored skill files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := bootApp()
			if err != nil {
				return err
			}
			stats, err := application.Skills.Stats()
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(stats)
			}
			if len(stats) == 0 {
				cmd.Println("No skill files stored. Run 'apitap capture <url>' to create one.")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"DOMAIN", "ENDPOINTS", "VERIFIED", "CAPTURED", "PROVENANCE"})
			for _, ds := range stats {
				t.AppendRow(table.Row{ds.Domain, ds.Endpoints, ds.Verified, ds.CapturedAt, ds.Provenance})
			}
			t.Render()
			return nil
		},
	}
}
