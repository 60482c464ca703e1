// Package verifier upgrades heuristic replayability tiers by replaying
// endpoints once against the live origin.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"apitap/internal/skill"
	"apitap/internal/ssrf"
	"apitap/pkg/logging"
)

// requestTimeout bounds each verification call.
const requestTimeout = 30 * time.Second

// maxVerifyBody caps how much of a verification response is read.
const maxVerifyBody = 1 << 20

// Options control a verification pass.
type Options struct {
	// VerifyPosts opts into replaying POST endpoints, which may have
	// side effects. Without it only GETs are verified.
	VerifyPosts bool
}

// Verifier performs one live call per endpoint and records the
// observed signals.
type Verifier struct {
	client    *http.Client
	validator *ssrf.Validator
}

// New creates a Verifier.
func New(validator *ssrf.Validator) *Verifier {
	return &Verifier{
		client: &http.Client{
			Timeout: requestTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		validator: validator,
	}
}

// VerifyFile verifies every eligible endpoint in the file, mutating
// replayability in place.
func (v *Verifier) VerifyFile(ctx context.Context, f *skill.File, opts Options) {
	for i := range f.Endpoints {
		v.VerifyEndpoint(ctx, f, &f.Endpoints[i], opts)
	}
}

// VerifyEndpoint replays one endpoint and upgrades its tier from
// heuristic to verified. Ineligible endpoints (POST without opt-in or
// without a body template) keep their heuristic classification.
func (v *Verifier) VerifyEndpoint(ctx context.Context, f *skill.File, ep *skill.Endpoint, opts Options) {
	if ep.Method != http.MethodGet {
		if !opts.VerifyPosts || ep.RequestBody == nil || len(ep.RequestBody.Template) == 0 {
			return
		}
	}

	target := v.requestURL(f, ep)
	if res := v.validator.Validate(ctx, target); !res.Safe {
		logging.Warn("verifier", "Skipping %s: %s", ep.ID, res.Reason)
		return
	}

	status, body, err := v.dispatch(ctx, ep, target)
	if err != nil {
		demote(ep, "network-error")
		return
	}

	switch {
	case status >= 500:
		demote(ep, fmt.Sprintf("status-%d", status))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		// The origin is alive; it just wants credentials.
		ep.Replayability.Tier = skill.TierYellow
		ep.Replayability.Verified = true
		addSignal(ep, "auth-required")
	case status >= 400:
		demote(ep, fmt.Sprintf("status-%d", status))
	default:
		v.confirm(ep, status, body)
	}
}

func (v *Verifier) confirm(ep *skill.Endpoint, status int, body []byte) {
	ep.Replayability.Verified = true
	if status == http.StatusOK {
		addSignal(ep, "status-match")
	} else {
		addSignal(ep, "status-class-match")
	}

	if len(body) == 0 {
		addSignal(ep, "empty-body")
		return
	}

	if ep.ResponseShape != nil {
		var decoded interface{}
		if err := json.Unmarshal(body, &decoded); err == nil {
			live := skill.ShapeOf(decoded)
			if live.Type == ep.ResponseShape.Type {
				addSignal(ep, "shape-match")
			} else {
				demote(ep, "shape-mismatch")
				return
			}
		}
	}

	// A clean verified call with no credential placeholders is green.
	if ep.Replayability.Tier == skill.TierUnknown {
		ep.Replayability.Tier = skill.TierGreen
	}
}

func (v *Verifier) dispatch(ctx context.Context, ep *skill.Endpoint, target string) (int, []byte, error) {
	var bodyReader io.Reader
	if ep.Method != http.MethodGet && ep.RequestBody != nil {
		var literal string
		if err := json.Unmarshal(ep.RequestBody.Template, &literal); err == nil {
			bodyReader = strings.NewReader(literal)
		} else {
			bodyReader = strings.NewReader(string(ep.RequestBody.Template))
		}
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, target, bodyReader)
	if err != nil {
		return 0, nil, err
	}
	for name, value := range ep.Headers {
		if value == skill.StoredPlaceholder {
			continue
		}
		req.Header.Set(name, value)
	}
	if bodyReader != nil && ep.RequestBody != nil {
		req.Header.Set("Content-Type", ep.RequestBody.ContentType)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVerifyBody))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// requestURL rebuilds a concrete URL from the endpoint's captured
// example, falling back to baseUrl + path.
func (v *Verifier) requestURL(f *skill.File, ep *skill.Endpoint) string {
	if ep.Examples != nil && ep.Examples.Request.URL != "" {
		return ep.Examples.Request.URL
	}
	base := strings.TrimSuffix(f.BaseURL, "/")
	u := base + ep.Path
	if len(ep.QueryParams) > 0 {
		values := url.Values{}
		for name, qp := range ep.QueryParams {
			if qp.Example != "" {
				values.Set(name, qp.Example)
			}
		}
		if encoded := values.Encode(); encoded != "" {
			u += "?" + encoded
		}
	}
	return u
}

func demote(ep *skill.Endpoint, signal string) {
	ep.Replayability.Tier = skill.TierOrange
	ep.Replayability.Verified = true
	addSignal(ep, signal)
}

func addSignal(ep *skill.Endpoint, signal string) {
	for _, s := range ep.Replayability.Signals {
		if s == signal {
			return
		}
	}
	ep.Replayability.Signals = append(ep.Replayability.Signals, signal)
}
