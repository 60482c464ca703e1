// Package refresh obtains fresh credentials for a domain: OAuth grant
// flows against a captured token endpoint, or a browser-driven reload
// that intercepts outgoing requests to harvest declared token values.
// At most one refresh per domain is in flight; concurrent callers
// attach to the same result.
package refresh

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"apitap/internal/api"
	"apitap/internal/credstore"
	"apitap/internal/skill"
	"apitap/pkg/logging"
)

// DefaultTimeout bounds a refresh attempt end to end.
const DefaultTimeout = 60 * time.Second

// captchaTimeout replaces the default when a captcha interstitial is
// detected and a human may need to intervene.
const captchaTimeout = 5 * time.Minute

// Result reports what a refresh accomplished.
type Result struct {
	// Refreshed is true when new credentials were stored.
	Refreshed bool
	// Method is "oauth", "browser", or "" when nothing applied.
	Method string
	// CaptchaKind is set when an anti-bot interstitial was detected:
	// "cloudflare", "recaptcha", or "hcaptcha".
	CaptchaKind string
}

// Orchestrator coordinates credential refreshes.
type Orchestrator struct {
	creds      *credstore.Store
	newBrowser func() api.Browser
	httpClient *http.Client
	timeout    time.Duration
	group      singleflight.Group
}

// New creates an Orchestrator. newBrowser may be nil when no browser
// adapter is available; OAuth refreshes still work.
func New(creds *credstore.Store, newBrowser func() api.Browser) *Orchestrator {
	return &Orchestrator{
		creds:      creds,
		newBrowser: newBrowser,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		timeout:    DefaultTimeout,
	}
}

// SetTimeout overrides the refresh deadline.
func (o *Orchestrator) SetTimeout(d time.Duration) {
	o.timeout = d
}

// Refresh obtains fresh credentials for the skill file's domain.
// Concurrent calls for the same domain share one in-flight refresh;
// only one outbound token request is ever emitted per cycle.
func (o *Orchestrator) Refresh(ctx context.Context, f *skill.File) (Result, error) {
	value, err, _ := o.group.Do(f.Domain, func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()
		return o.refresh(refreshCtx, f)
	})
	if err != nil {
		return Result{}, err
	}
	return value.(Result), nil
}

func (o *Orchestrator) refresh(ctx context.Context, f *skill.File) (Result, error) {
	// OAuth first: cheapest, no browser.
	if cfg := oauthConfigOf(f); cfg != nil {
		done, err := o.refreshOAuth(ctx, f.Domain, cfg)
		if err != nil {
			logging.Warn("refresh", "OAuth refresh failed for %s: %v", f.Domain, err)
		}
		if done {
			return Result{Refreshed: true, Method: "oauth"}, nil
		}
	}

	// Browser-driven capture when endpoints declare refreshable tokens
	// or the file names a refresh URL.
	if o.needsBrowserRefresh(f) {
		return o.refreshViaBrowser(ctx, f)
	}

	return Result{}, nil
}

func (o *Orchestrator) needsBrowserRefresh(f *skill.File) bool {
	if o.newBrowser == nil {
		return false
	}
	if f.Auth != nil && f.Auth.RefreshURL != "" {
		return true
	}
	for i := range f.Endpoints {
		rb := f.Endpoints[i].RequestBody
		if rb != nil && len(rb.RefreshableTokens) > 0 {
			return true
		}
	}
	return false
}

func oauthConfigOf(f *skill.File) *skill.OAuthConfig {
	if f.Auth == nil {
		return nil
	}
	return f.Auth.OAuthConfig
}
