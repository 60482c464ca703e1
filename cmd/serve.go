package cmd

import (
	"github.com/spf13/cobra"

	"apitap/internal/mcpserver"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve [domain]",
		Short: "Serve skills to agents over MCP on stdio",
		Long: `Serve exposes the stored skills as MCP tools over stdio. With a
domain argument the server is scoped: only that domain's skills are
listed and replayable.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := bootApp()
			if err != nil {
				return err
			}
			domain := ""
			if len(args) == 1 {
				domain = args[0]
			}
			return mcpserver.New(application, GetVersion(), domain).Start(cmd.Context())
		},
	}
}
