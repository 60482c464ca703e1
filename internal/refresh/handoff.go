package refresh

import (
	"context"
	"strings"
	"sync"
	"time"

	"apitap/internal/api"
	"apitap/internal/apiterr"
	"apitap/internal/credstore"
	"apitap/pkg/logging"
)

// handoffTimeout caps how long an interactive login may take.
const handoffTimeout = 10 * time.Minute

// Handoff opens a headed browser for a manual login and harvests
// whatever credentials the session produces. The user closing the
// browser window is the completion signal; everything captured up to
// that point is stored.
type Handoff struct {
	creds      *credstore.Store
	newBrowser func() api.Browser

	mu     sync.Mutex
	active map[string]bool
}

// NewHandoff creates a Handoff coordinator.
func NewHandoff(creds *credstore.Store, newBrowser func() api.Browser) *Handoff {
	return &Handoff{
		creds:      creds,
		newBrowser: newBrowser,
		active:     map[string]bool{},
	}
}

// Run performs one interactive login for the domain. A second call for
// the same domain while one is in progress is rejected.
func (h *Handoff) Run(ctx context.Context, domain, loginURL string) (Result, error) {
	if h.newBrowser == nil {
		return Result{}, &noBrowserError{}
	}

	h.mu.Lock()
	if h.active[domain] {
		h.mu.Unlock()
		return Result{}, &apiterr.ValidationError{Reason: "an auth handoff for " + domain + " is already in progress"}
	}
	h.active[domain] = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.active, domain)
		h.mu.Unlock()
	}()

	browser := h.newBrowser()
	if _, err := browser.Start(ctx, loginURL, api.BrowserOptions{Headless: false}); err != nil {
		return Result{}, err
	}

	logging.Info("refresh", "Waiting for login at %s (close the browser window when done)", loginURL)

	result := Result{Method: "browser"}
	timeout := time.NewTimer(handoffTimeout)
	defer timeout.Stop()
	exchanges := browser.Exchanges()

	var bearer string
	for {
		select {
		case <-ctx.Done():
			_ = browser.Abort(context.WithoutCancel(ctx))
			return Result{}, ctx.Err()
		case <-timeout.C:
			_ = browser.Abort(context.WithoutCancel(ctx))
			return Result{}, &apiterr.ValidationError{Reason: "login window was not closed within " + handoffTimeout.String()}
		case ex := <-exchanges:
			if value := bearerOf(ex); value != "" {
				bearer = value
			}
		case <-browser.Closed():
			return h.finish(ctx, browser, domain, bearer, result)
		}
	}
}

func (h *Handoff) finish(ctx context.Context, browser api.Browser, domain, bearer string, result Result) (Result, error) {
	ctx = context.WithoutCancel(ctx)

	cookies, err := browser.Cookies(ctx)
	if err == nil && len(cookies) > 0 {
		session := &credstore.Session{SavedAt: time.Now()}
		for _, c := range cookies {
			session.Cookies = append(session.Cookies, credstore.Cookie{
				Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			})
		}
		if err := h.creds.StoreSession(domain, session); err != nil {
			return result, err
		}
		result.Refreshed = true
	}

	if bearer != "" {
		auth := &credstore.Auth{Type: "bearer", Header: "authorization", Value: bearer}
		if err := h.creds.Store(domain, auth); err != nil {
			return result, err
		}
		result.Refreshed = true
	}

	if _, err := browser.Finish(ctx); err != nil {
		logging.Debug("refresh", "Browser finish after handoff: %v", err)
	}
	if !result.Refreshed {
		logging.Warn("refresh", "Login window closed but no credentials were captured for %s", domain)
	}
	return result, nil
}

type noBrowserError struct{}

func (*noBrowserError) Error() string {
	return "no browser adapter is available for an interactive login"
}

func bearerOf(ex api.Exchange) string {
	for name, value := range ex.Request.Headers {
		if strings.EqualFold(name, "authorization") && strings.HasPrefix(value, "Bearer ") {
			return value
		}
	}
	return ""
}
