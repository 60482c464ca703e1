package cmd

import (
	"github.com/spf13/cobra"
)

var readMaxBytes int

func newReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <url>",
		Short: "Fetch a page and print its visible text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := bootApp()
			if err != nil {
				return err
			}
			text, err := application.Content.Read(cmd.Context(), args[0], readMaxBytes)
			if err != nil {
				return err
			}
			cmd.Println(text)
			return nil
		},
	}
	cmd.Flags().IntVar(&readMaxBytes, "max-bytes", 0, "Limit the returned text to this many bytes")
	return cmd
}
