package cmd

import (
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"apitap/internal/apiterr"
	"apitap/internal/generator"
	"apitap/internal/skill"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <url>",
		Short: "Show which stored endpoint a URL maps to",
		Long: `Inspect resolves a URL against the stored skill file for its domain
and prints the endpoint records whose path matches. Placeholder
segments like :id match any value.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := bootApp()
			if err != nil {
				return err
			}

			rawURL := args[0]
			if !strings.Contains(rawURL, "://") {
				rawURL = "https://" + rawURL
			}
			u, err := url.Parse(rawURL)
			if err != nil || u.Hostname() == "" {
				return &apiterr.ValidationError{Reason: "invalid URL " + args[0]}
			}

			f, err := application.Skills.Load(strings.ToLower(u.Hostname()))
			if err != nil {
				return err
			}
			if u.Path == "" || u.Path == "/" {
				return printJSON(f)
			}

			var matches []skill.Endpoint
			for _, ep := range f.Endpoints {
				if pathMatches(ep.Path, u.Path) {
					matches = append(matches, ep)
				}
			}
			if len(matches) == 0 {
				return &apiterr.NotFoundError{Kind: "endpoint for path", Name: u.Path, Alternatives: f.EndpointIDs()}
			}
			return printJSON(matches)
		},
	}
}

// pathMatches compares a parameterized endpoint path against a
// concrete one; placeholder segments match any non-empty value.
func pathMatches(pattern, concrete string) bool {
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	cs := strings.Split(strings.Trim(concrete, "/"), "/")
	if len(ps) != len(cs) {
		return false
	}
	for i := range ps {
		if generator.IsPlaceholder(ps[i]) {
			if cs[i] == "" {
				return false
			}
			continue
		}
		if ps[i] != cs[i] {
			return false
		}
	}
	return true
}
