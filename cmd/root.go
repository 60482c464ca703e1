// Package cmd implements the apitap command line interface.
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"apitap/internal/api"
	"apitap/internal/apiterr"
	"apitap/internal/app"
	"apitap/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates authentication is required but not
	// available or no longer valid.
	ExitCodeAuthRequired = 2
)

var (
	flagDebug    bool
	flagJSON     bool
	flagDataPath string

	// newBrowser supplies the live-capture browser adapter. It stays
	// nil until an adapter build wires one in; HAR import and all
	// replay paths work without it.
	newBrowser func() api.Browser
)

var rootCmd = &cobra.Command{
	Use:   "apitap",
	Short: "Capture browser API traffic and replay it without a browser",
	Long: `apitap distills API calls observed during a browser session into
per-domain skill files, and replays those endpoints directly over HTTP
with locally stored credentials.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command, injected from the
// main package at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the build version.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the entry point for the CLI, called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "apitap version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps error categories to semantic exit codes for
// scripting.
func getExitCode(err error) int {
	var authRequired *apiterr.AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}
	return ExitCodeError
}

// bootApp wires the application graph for a command invocation.
func bootApp() (*app.Application, error) {
	level := logging.LevelWarn
	if flagDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	return app.NewApplication(app.Options{
		DataPath:    flagDataPath,
		ToolVersion: rootCmd.Version,
		NewBrowser:  newBrowser,
		ForceHeaded: captureHeaded,
	})
}

// printJSON writes an indented JSON document to stdout.
func printJSON(value interface{}) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Emit machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&flagDataPath, "data-dir", "", "Data directory (default $APITAP_DIR or ~/.apitap)")

	rootCmd.AddCommand(newCaptureCmd())
	rootCmd.AddCommand(newDiscoverCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newRefreshCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newBrowseCmd())
	rootCmd.AddCommand(newPeekCmd())
	rootCmd.AddCommand(newReadCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
