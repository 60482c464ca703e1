package cmd

import (
	"github.com/spf13/cobra"

	"apitap/internal/skill"
)

var discoverSave bool

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover <url>",
		Short: "Probe a site for framework fingerprints and API specs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := bootApp()
			if err != nil {
				return err
			}
			result, err := application.Discovery.Discover(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if discoverSave && result.SkillFile != nil {
				if err := application.Skills.Save(result.SkillFile, skill.ProvenanceSelf); err != nil {
					return err
				}
			}
			return printJSON(result)
		},
	}
	cmd.Flags().BoolVar(&discoverSave, "save", false, "Store the discovered skeleton as a skill file")
	return cmd
}
