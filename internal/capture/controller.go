// Package capture turns observed browser traffic into skill files. It
// drives live browser sessions through the browser adapter and also
// ingests HAR exports for browserless capture.
package capture

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"apitap/internal/api"
	"apitap/internal/apiterr"
	"apitap/internal/credstore"
	"apitap/internal/generator"
	"apitap/internal/session"
	"apitap/internal/skill"
	"apitap/internal/verifier"
	"apitap/pkg/logging"
)

// FinishOptions control what happens when a capture ends.
type FinishOptions struct {
	// Verify replays captured GET endpoints once to upgrade tiers.
	Verify bool
	// VerifyPosts extends verification to endpoints with bodies.
	VerifyPosts bool
	// OnlyDomain keeps skill files for this domain only; third-party
	// traffic observed during the session is discarded.
	OnlyDomain string
}

// Controller owns live capture sessions and the generation pipeline.
type Controller struct {
	table       *session.Table
	newBrowser  func() api.Browser
	skills      *skill.Store
	creds       *credstore.Store
	verifier    *verifier.Verifier
	toolVersion string
	headless    bool

	mu   sync.Mutex
	live map[string]*liveSession
}

type liveSession struct {
	capture *session.Capture
	browser api.Browser

	genMu sync.Mutex
	gen   *generator.Generator

	pumpDone chan struct{}
}

// NewController creates a Controller. newBrowser may be nil; HAR
// ingestion still works.
func NewController(table *session.Table, newBrowser func() api.Browser, skills *skill.Store, creds *credstore.Store, v *verifier.Verifier, toolVersion string, headless bool) *Controller {
	return &Controller{
		table:       table,
		newBrowser:  newBrowser,
		skills:      skills,
		creds:       creds,
		verifier:    v,
		toolVersion: toolVersion,
		headless:    headless,
		live:        map[string]*liveSession{},
	}
}

// Start opens a browser at the URL and begins recording exchanges.
func (c *Controller) Start(ctx context.Context, startURL string) (*session.Capture, error) {
	if c.newBrowser == nil {
		return nil, &noBrowserError{}
	}

	browser := c.newBrowser()
	capture, err := c.table.Add(browser, startURL)
	if err != nil {
		return nil, err
	}

	opts := api.BrowserOptions{Headless: c.headless}
	// Warm-start with a stored session so the user is not logged out.
	if domain := hostnameOf(startURL); domain != "" {
		if stored, err := c.creds.RetrieveSessionWithFallback(domain); err == nil && stored != nil {
			for _, cookie := range stored.Cookies {
				opts.Cookies = append(opts.Cookies, api.BrowserCookie{
					Name: cookie.Name, Value: cookie.Value, Domain: cookie.Domain, Path: cookie.Path,
				})
			}
		}
	}

	if _, err := browser.Start(ctx, startURL, opts); err != nil {
		c.table.Remove(capture.ID)
		return nil, err
	}

	live := &liveSession{
		capture:  capture,
		browser:  browser,
		gen:      generator.New(c.toolVersion),
		pumpDone: make(chan struct{}),
	}
	c.mu.Lock()
	c.live[capture.ID] = live
	c.mu.Unlock()

	go c.pump(live)
	logging.Info("capture", "Capture session %s started at %s", capture.ID, startURL)
	return capture, nil
}

// pump feeds intercepted exchanges into the generator until the
// browser closes its channel.
func (c *Controller) pump(live *liveSession) {
	defer close(live.pumpDone)
	filtered := map[string]int{}
	for ex := range live.browser.Exchanges() {
		c.table.Touch(live.capture.ID)
		domain := hostnameOf(ex.Request.URL)
		if !IsAPIExchange(ex) {
			filtered[domain]++
			continue
		}
		live.genMu.Lock()
		live.gen.Add(ex)
		live.genMu.Unlock()
	}
	live.genMu.Lock()
	for domain, count := range filtered {
		live.gen.SetFilteredCount(domain, count)
	}
	live.genMu.Unlock()
}

// Interact forwards one action to the session's browser and resets its
// idle timer.
func (c *Controller) Interact(ctx context.Context, id string, action api.Action) (*api.InteractionResult, error) {
	live, err := c.liveSession(id)
	if err != nil {
		return nil, err
	}
	c.table.Touch(id)
	return live.browser.Interact(ctx, action)
}

// Finish ends a capture session: the browser reports per-domain
// summaries, the generator emits skill files, and extracted
// credentials land in the store.
func (c *Controller) Finish(ctx context.Context, id string, opts FinishOptions) ([]*skill.File, error) {
	live, err := c.liveSession(id)
	if err != nil {
		return nil, err
	}
	c.table.Remove(id)
	c.mu.Lock()
	delete(c.live, id)
	c.mu.Unlock()

	summaries, err := live.browser.Finish(ctx)
	if err != nil {
		logging.Warn("capture", "Browser finish for session %s: %v", id, err)
	}
	<-live.pumpDone

	live.genMu.Lock()
	defer live.genMu.Unlock()
	for _, summary := range summaries {
		live.gen.ApplySummary(summary)
	}

	files, err := c.emit(ctx, live.gen, opts)
	if err != nil {
		return nil, err
	}
	c.snapshotCookies(ctx, live.browser)
	return files, nil
}

// Abort discards a capture session without generating anything.
func (c *Controller) Abort(ctx context.Context, id string) error {
	live, err := c.liveSession(id)
	if err != nil {
		return err
	}
	c.table.Remove(id)
	c.mu.Lock()
	delete(c.live, id)
	c.mu.Unlock()
	return live.browser.Abort(ctx)
}

// IngestExchanges runs the generation pipeline over already-captured
// exchanges, e.g. from a HAR import.
func (c *Controller) IngestExchanges(ctx context.Context, exchanges []api.Exchange, opts FinishOptions) ([]*skill.File, error) {
	gen := generator.New(c.toolVersion)
	filtered := map[string]int{}
	for _, ex := range exchanges {
		if !IsAPIExchange(ex) {
			filtered[hostnameOf(ex.Request.URL)]++
			continue
		}
		gen.Add(ex)
	}
	for domain, count := range filtered {
		gen.SetFilteredCount(domain, count)
	}
	return c.emit(ctx, gen, opts)
}

func (c *Controller) emit(ctx context.Context, gen *generator.Generator, opts FinishOptions) ([]*skill.File, error) {
	all, findings := gen.ToSkillFiles()
	files := all[:0]
	for _, f := range all {
		if opts.OnlyDomain != "" && f.Domain != opts.OnlyDomain {
			continue
		}
		files = append(files, f)
	}
	for _, f := range files {
		if opts.Verify && c.verifier != nil {
			c.verifier.VerifyFile(ctx, f, verifier.Options{VerifyPosts: opts.VerifyPosts})
		}
		if err := c.skills.Save(f, skill.ProvenanceSelf); err != nil {
			return nil, err
		}
		logging.Info("capture", "Saved skill file for %s with %d endpoint(s)", f.Domain, len(f.Endpoints))

		found := findings[f.Domain]
		if found == nil {
			continue
		}
		if found.Auth != nil {
			if err := c.creds.Store(f.Domain, found.Auth); err != nil {
				return nil, err
			}
		}
		if found.Credentials != nil {
			if err := c.creds.StoreOAuthCredentials(f.Domain, found.Credentials); err != nil {
				return nil, err
			}
		}
	}
	return files, nil
}

func (c *Controller) snapshotCookies(ctx context.Context, browser api.Browser) {
	cookies, err := browser.Cookies(ctx)
	if err != nil || len(cookies) == 0 {
		return
	}
	byDomain := map[string][]credstore.Cookie{}
	for _, cookie := range cookies {
		domain := strings.TrimPrefix(strings.ToLower(cookie.Domain), ".")
		if domain == "" {
			continue
		}
		byDomain[domain] = append(byDomain[domain], credstore.Cookie{
			Name: cookie.Name, Value: cookie.Value, Domain: cookie.Domain, Path: cookie.Path,
		})
	}
	for domain, domainCookies := range byDomain {
		session := &credstore.Session{Cookies: domainCookies, SavedAt: time.Now()}
		if err := c.creds.StoreSession(domain, session); err != nil {
			logging.Warn("capture", "Storing session for %s: %v", domain, err)
		}
	}
}

func (c *Controller) liveSession(id string) (*liveSession, error) {
	if _, err := c.table.Get(id); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	live, ok := c.live[id]
	if !ok {
		return nil, &apiterr.NotFoundError{Kind: "capture session", Name: id}
	}
	return live, nil
}

// IsAPIExchange separates API traffic from page assets: JSON (or
// JSON-ish) responses count, documents, scripts, and media do not.
func IsAPIExchange(ex api.Exchange) bool {
	contentType := strings.ToLower(ex.Response.ContentType)
	if strings.Contains(contentType, "application/json") || strings.Contains(contentType, "+json") {
		return true
	}
	if contentType == "" && ex.Response.Body != "" {
		trimmed := strings.TrimSpace(ex.Response.Body)
		return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
	}
	return false
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

type noBrowserError struct{}

func (*noBrowserError) Error() string {
	return "no browser adapter is available; use a HAR import instead"
}
