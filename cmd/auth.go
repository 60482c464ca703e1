package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	authList  bool
	authClear bool
	authAll   bool
	authURL   string
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth [domain]",
		Short: "Manage stored credentials",
		Long: `Auth opens a visible browser window so you can log in to the domain
yourself; closing the window ends the handoff and the observed session
is stored locally. With --list it shows which domains have stored
credentials, and --clear removes them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAuth,
	}
	cmd.Flags().BoolVar(&authList, "list", false, "List domains with stored credentials")
	cmd.Flags().BoolVar(&authClear, "clear", false, "Remove stored credentials for the domain")
	cmd.Flags().BoolVar(&authAll, "all", false, "With --clear, remove credentials for every domain")
	cmd.Flags().StringVar(&authURL, "url", "", "Login page to open (default https://<domain>)")
	return cmd
}

func runAuth(cmd *cobra.Command, args []string) error {
	application, err := bootApp()
	if err != nil {
		return err
	}

	if authList {
		domains, err := application.Creds.ListDomains()
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(domains)
		}
		if len(domains) == 0 {
			cmd.Println("No stored credentials.")
			return nil
		}
		names := make([]string, 0, len(domains))
		for domain := range domains {
			names = append(names, domain)
		}
		sort.Strings(names)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"DOMAIN", "UPDATED"})
		for _, domain := range names {
			t.AppendRow(table.Row{domain, domains[domain].Format("2006-01-02 15:04:05")})
		}
		t.Render()
		return nil
	}

	if authClear {
		if authAll {
			if err := application.Creds.ClearAll(); err != nil {
				return err
			}
			cmd.Println("Cleared all stored credentials.")
			return nil
		}
		if len(args) == 0 {
			return fmt.Errorf("a domain is required with --clear (or pass --all)")
		}
		if err := application.Creds.Clear(args[0]); err != nil {
			return err
		}
		cmd.Printf("Cleared credentials for %s.\n", args[0])
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("a domain is required")
	}
	domain := args[0]
	loginURL := authURL
	if loginURL == "" {
		loginURL = "https://" + domain
	}

	cmd.Printf("Opening %s; log in and close the window when done.\n", loginURL)
	result, err := application.Handoff.Run(cmd.Context(), domain, loginURL)
	if err != nil {
		return err
	}
	if result.Refreshed {
		cmd.Printf("Stored credentials for %s.\n", domain)
	} else {
		cmd.Printf("No credentials observed for %s.\n", domain)
	}
	return nil
}
