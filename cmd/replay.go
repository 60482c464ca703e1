package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"apitap/internal/apiterr"
	"apitap/internal/replay"
)

var (
	replayParams   []string
	replayFresh    bool
	replayMaxBytes int
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <domain> <endpoint-id> [name=value...]",
		Short: "Replay a captured endpoint over HTTP",
		Long: `Replay sends a captured endpoint directly over HTTP with the
credentials stored for its domain. Path and query parameters come from
trailing name=value arguments (or --param flags); anything the
endpoint needs but was not given falls back to the captured example
values.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runReplay,
	}
	cmd.Flags().StringArrayVar(&replayParams, "param", nil, "Parameter as name=value (repeatable)")
	cmd.Flags().BoolVar(&replayFresh, "fresh", false, "Refresh credentials before sending")
	cmd.Flags().IntVar(&replayMaxBytes, "max-bytes", 0, "Truncate the response body to this many bytes")
	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	application, err := bootApp()
	if err != nil {
		return err
	}

	params, err := parseParams(append(args[2:], replayParams...))
	if err != nil {
		return err
	}
	outcome, err := application.Engine.Do(cmd.Context(), replay.Request{
		Domain:     args[0],
		EndpointID: args[1],
		Params:     params,
		Fresh:      replayFresh,
		MaxBytes:   replayMaxBytes,
	})
	if err != nil {
		return err
	}

	if err := printJSON(outcome); err != nil {
		return err
	}
	if outcome.AuthError != nil {
		return &apiterr.AuthRequiredError{
			Domain:     outcome.Domain,
			Suggestion: outcome.AuthError.Suggestion,
		}
	}
	return nil
}

func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --param %q, expected name=value", pair)
		}
		params[name] = value
	}
	return params, nil
}
