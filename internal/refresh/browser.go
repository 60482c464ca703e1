package refresh

import (
	"context"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"apitap/internal/api"
	"apitap/internal/credstore"
	"apitap/internal/skill"
	"apitap/pkg/logging"
)

// captchaMarkers map interstitial fingerprints in page content to the
// provider name reported back to the caller.
var captchaMarkers = []struct {
	marker string
	kind   string
}{
	{"cf-challenge", "cloudflare"},
	{"challenges.cloudflare.com", "cloudflare"},
	{"checking your browser", "cloudflare"},
	{"g-recaptcha", "recaptcha"},
	{"www.google.com/recaptcha", "recaptcha"},
	{"hcaptcha.com", "hcaptcha"},
	{"h-captcha", "hcaptcha"},
}

// refreshViaBrowser reloads the site in a real browser and intercepts
// its own requests to harvest the token values the skill file declares
// as refreshable. Session cookies are snapshotted afterwards so that
// cookie-auth endpoints replay too.
func (o *Orchestrator) refreshViaBrowser(ctx context.Context, f *skill.File) (Result, error) {
	wanted := refreshableTokenNames(f)

	browser := o.newBrowser()
	startURL := f.BaseURL
	if f.Auth != nil && f.Auth.RefreshURL != "" {
		startURL = f.Auth.RefreshURL
	}

	headless := true
	if f.Auth != nil && f.Auth.BrowserMode == "headed" {
		headless = false
	}
	if _, err := browser.Start(ctx, startURL, api.BrowserOptions{Headless: headless}); err != nil {
		return Result{}, err
	}
	defer func() {
		if _, err := browser.Finish(context.WithoutCancel(ctx)); err != nil {
			logging.Debug("refresh", "Browser finish: %v", err)
		}
	}()

	result := Result{}
	deadline := time.NewTimer(o.timeout)
	defer deadline.Stop()

	if kind := o.detectCaptcha(ctx, browser); kind != "" {
		// A human may have to click through; give them time.
		result.CaptchaKind = kind
		deadline.Reset(captchaTimeout)
		logging.Info("refresh", "Captcha (%s) detected for %s, waiting for manual completion", kind, f.Domain)
	}

	harvested := map[string]string{}
	exchanges := browser.Exchanges()

collect:
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-deadline.C:
			break collect
		case <-browser.Closed():
			break collect
		case ex, ok := <-exchanges:
			if !ok {
				break collect
			}
			o.harvestExchange(f.Domain, ex, wanted, harvested)
			if len(wanted) > 0 && len(harvested) == len(wanted) {
				break collect
			}
		}
	}

	if len(harvested) > 0 {
		if err := o.creds.StoreTokens(f.Domain, harvested); err != nil {
			return result, err
		}
		result.Refreshed = true
		result.Method = "browser"
		logging.Info("refresh", "Captured %d token value(s) for %s", len(harvested), f.Domain)
	}

	if o.snapshotSession(ctx, browser, f.Domain) && !result.Refreshed {
		result.Refreshed = true
		result.Method = "browser"
	}
	return result, nil
}

// harvestExchange pulls declared token values out of one intercepted
// request. Tokens live either in a JSON request body (looked up by the
// name the generator recorded) or in the authorization header.
func (o *Orchestrator) harvestExchange(domain string, ex api.Exchange, wanted map[string]bool, harvested map[string]string) {
	if ex.Request.PostData != "" && gjson.Valid(ex.Request.PostData) {
		for name := range wanted {
			if harvested[name] != "" {
				continue
			}
			if value := gjson.Get(ex.Request.PostData, name); value.Exists() && value.Type == gjson.String {
				harvested[name] = value.String()
			}
		}
	}

	for name, value := range ex.Request.Headers {
		if strings.EqualFold(name, "authorization") && strings.HasPrefix(value, "Bearer ") {
			auth := &credstore.Auth{Type: "bearer", Header: "authorization", Value: value}
			if err := o.creds.Store(domain, auth); err != nil {
				logging.Warn("refresh", "Storing intercepted bearer for %s: %v", domain, err)
			}
			return
		}
	}
}

func (o *Orchestrator) detectCaptcha(ctx context.Context, browser api.Browser) string {
	content, err := browser.PageContent(ctx)
	if err != nil {
		return ""
	}
	lowered := strings.ToLower(content)
	for _, m := range captchaMarkers {
		if strings.Contains(lowered, m.marker) {
			return m.kind
		}
	}
	return ""
}

func (o *Orchestrator) snapshotSession(ctx context.Context, browser api.Browser, domain string) bool {
	cookies, err := browser.Cookies(ctx)
	if err != nil || len(cookies) == 0 {
		return false
	}
	session := &credstore.Session{SavedAt: time.Now()}
	for _, c := range cookies {
		session.Cookies = append(session.Cookies, credstore.Cookie{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
		})
	}
	if err := o.creds.StoreSession(domain, session); err != nil {
		logging.Warn("refresh", "Storing session snapshot for %s: %v", domain, err)
		return false
	}
	return true
}

func refreshableTokenNames(f *skill.File) map[string]bool {
	names := map[string]bool{}
	for i := range f.Endpoints {
		rb := f.Endpoints[i].RequestBody
		if rb == nil {
			continue
		}
		for _, name := range rb.RefreshableTokens {
			names[name] = true
		}
	}
	return names
}
