package cmd

import (
	"github.com/spf13/cobra"
)

func newPeekCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peek <url>",
		Short: "Fetch the first couple of kilobytes of a page as text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := bootApp()
			if err != nil {
				return err
			}
			text, err := application.Content.Peek(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Println(text)
			return nil
		},
	}
}
