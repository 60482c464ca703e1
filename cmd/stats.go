package cmd

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"apitap/internal/skill"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show replayability tier counts per domain",
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
				cmd.Println("No skill files stored.")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"DOMAIN", "ENDPOINTS", "VERIFIED", "GREEN", "YELLOW", "ORANGE", "RED", "UNKNOWN"})
			totals := skill.DomainStats{Tiers: map[skill.Tier]int{}}
			for _, ds := range stats {
				t.AppendRow(table.Row{
					ds.Domain, ds.Endpoints, ds.Verified,
					ds.Tiers[skill.TierGreen], ds.Tiers[skill.TierYellow],
					ds.Tiers[skill.TierOrange], ds.Tiers[skill.TierRed],
					ds.Tiers[skill.TierUnknown],
				})
				totals.Endpoints += ds.Endpoints
				totals.Verified += ds.Verified
				for tier, count := range ds.Tiers {
					totals.Tiers[tier] += count
				}
			}
			t.AppendFooter(table.Row{
				"TOTAL", totals.Endpoints, totals.Verified,
				totals.Tiers[skill.TierGreen], totals.Tiers[skill.TierYellow],
				totals.Tiers[skill.TierOrange], totals.Tiers[skill.TierRed],
				totals.Tiers[skill.TierUnknown],
			})
			t.Render()
			return nil
		},
	}
}
