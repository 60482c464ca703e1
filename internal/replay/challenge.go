package replay

import (
	"regexp"
	"strings"
)

// AuthChallenge is the parsed WWW-Authenticate header of a rejected
// replay, surfaced so callers can tell an expired token from a wrong
// scope without reading the raw response.
type AuthChallenge struct {
	Scheme           string `json:"scheme"`
	Realm            string `json:"realm,omitempty"`
	Scope            string `json:"scope,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"errorDescription,omitempty"`
}

var challengeParamRe = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseAuthChallenge parses a WWW-Authenticate header value. Returns
// nil when the header is empty or has no scheme.
func ParseAuthChallenge(header string) *AuthChallenge {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	scheme, rest, _ := strings.Cut(header, " ")
	if scheme == "" {
		return nil
	}
	challenge := &AuthChallenge{Scheme: scheme}

	for _, match := range challengeParamRe.FindAllStringSubmatch(rest, -1) {
		value := match[2]
		switch strings.ToLower(match[1]) {
		case "realm":
			challenge.Realm = value
		case "scope":
			challenge.Scope = value
		case "error":
			challenge.Error = value
		case "error_description":
			challenge.ErrorDescription = value
		}
	}
	return challenge
}
