package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"apitap/internal/capture"
	"apitap/internal/skill"
)

var (
	captureHAR         string
	captureDuration    time.Duration
	captureNoVerify    bool
	captureVerifyPosts bool
	captureHeaded      bool
	captureAllDomains  bool
)

func newCaptureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture [url]",
		Short: "Capture API traffic into skill files",
		Long: `Capture records API calls and distills them into per-domain skill
files. With --har the traffic comes from a HAR export; otherwise a live
browser session is opened at the given URL and recorded until the
window is closed or --duration elapses.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCapture,
	}
	cmd.Flags().StringVar(&captureHAR, "har", "", "Import traffic from a HAR file instead of a live browser")
	cmd.Flags().DurationVar(&captureDuration, "duration", 0, "Stop a live capture after this long (default: until the window closes)")
	cmd.Flags().BoolVar(&captureNoVerify, "no-verify", false, "Skip the one-shot endpoint verification pass")
	cmd.Flags().BoolVar(&captureVerifyPosts, "verify-posts", false, "Also verify endpoints with request bodies (may have side effects)")
	cmd.Flags().BoolVar(&captureHeaded, "headed", false, "Run the capture browser with a visible window")
	cmd.Flags().BoolVar(&captureAllDomains, "all-domains", false, "Keep skill files for every domain seen, not just the start URL's")
	return cmd
}

func runCapture(cmd *cobra.Command, args []string) error {
	application, err := bootApp()
	if err != nil {
		return err
	}
	opts := capture.FinishOptions{Verify: !captureNoVerify, VerifyPosts: captureVerifyPosts}

	if captureHAR != "" {
		data, err := os.ReadFile(captureHAR)
		if err != nil {
			return fmt.Errorf("reading HAR file: %w", err)
		}
		exchanges, err := capture.ParseHAR(data)
		if err != nil {
			return err
		}
		files, err := application.Capture.IngestExchanges(cmd.Context(), exchanges, opts)
		if err != nil {
			return err
		}
		return reportCapture(cmd, files)
	}

	if len(args) == 0 {
		return fmt.Errorf("a start URL is required for live capture (or use --har)")
	}
	startURL := args[0]
	if !captureAllDomains {
		u, err := url.Parse(startURL)
		if err != nil {
			return fmt.Errorf("invalid start URL: %w", err)
		}
		opts.OnlyDomain = strings.ToLower(u.Hostname())
	}

	session, err := application.Capture.Start(cmd.Context(), startURL)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Capturing %s (session %s); close the browser window to finish.\n", startURL, session.ID)

	var timeout <-chan time.Time
	if captureDuration > 0 {
		timer := time.NewTimer(captureDuration)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-session.Browser.Closed():
	case <-timeout:
	case <-cmd.Context().Done():
		_ = application.Capture.Abort(cmd.Context(), session.ID)
		return cmd.Context().Err()
	}

	files, err := application.Capture.Finish(cmd.Context(), session.ID, opts)
	if err != nil {
		return err
	}
	return reportCapture(cmd, files)
}

func reportCapture(cmd *cobra.Command, files []*skill.File) error {
	if flagJSON {
		return printJSON(files)
	}
	if len(files) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No API traffic captured.")
		return nil
	}
	for _, f := range files {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d endpoint(s) (captured %d, filtered %d)\n",
			f.Domain, len(f.Endpoints), f.Metadata.CaptureCount, f.Metadata.FilteredCount)
	}
	return nil
}
