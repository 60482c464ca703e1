// Package api defines the contracts between the core and its external
// collaborators: the browser automation layer, discovery probes, and
// content readers. The core consumes these interfaces; concrete
// implementations live outside this repository and plug in at the CLI
// or MCP shell.
package api

import (
	"context"
	"time"

	"apitap/internal/skill"
)

// Exchange is one captured request/response pair emitted by the
// browser adapter and consumed by the skill generator. Only exchanges
// already accepted by the capture scorer reach the generator.
type Exchange struct {
	Request   ExchangeRequest  `json:"request"`
	Response  ExchangeResponse `json:"response"`
	Timestamp time.Time        `json:"timestamp"`
	// CaptchaRisk is set when the enclosing capture session observed
	// anti-bot interstitials.
	CaptchaRisk bool `json:"captchaRisk,omitempty"`
}

// ExchangeRequest is the outbound half of a captured exchange.
type ExchangeRequest struct {
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers,omitempty"`
	PostData string            `json:"postData,omitempty"`
}

// ExchangeResponse is the inbound half of a captured exchange.
type ExchangeResponse struct {
	Status      int               `json:"status"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
}

// ActionKind enumerates browser interactions.
type ActionKind string

const (
	ActionSnapshot ActionKind = "snapshot"
	ActionClick    ActionKind = "click"
	ActionType     ActionKind = "type"
	ActionSelect   ActionKind = "select"
	ActionNavigate ActionKind = "navigate"
	ActionScroll   ActionKind = "scroll"
	ActionWait     ActionKind = "wait"
)

// Action is one browser interaction request. Fields are interpreted
// per Kind.
type Action struct {
	Kind      ActionKind `json:"kind"`
	Ref       string     `json:"ref,omitempty"`
	Text      string     `json:"text,omitempty"`
	Submit    bool       `json:"submit,omitempty"`
	Value     string     `json:"value,omitempty"`
	URL       string     `json:"url,omitempty"`
	Direction string     `json:"direction,omitempty"`
	Seconds   int        `json:"seconds,omitempty"`
}

// InteractionResult is the outcome of one browser action.
type InteractionResult struct {
	Success  bool   `json:"success"`
	Snapshot string `json:"snapshot,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DomainSummary reports what a finished capture session collected for
// one domain.
type DomainSummary struct {
	Domain        string `json:"domain"`
	CaptureCount  int    `json:"captureCount"`
	FilteredCount int    `json:"filteredCount"`
	DOMBytes      int64  `json:"domBytes,omitempty"`
}

// BrowserOptions configure a browser session.
type BrowserOptions struct {
	Headless bool
	// Cookies warm-start the browser context from a stored session.
	Cookies []BrowserCookie
}

// BrowserCookie seeds the browser's cookie jar.
type BrowserCookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Browser is the browser automation adapter. One browser per capture
// session; interaction is serialized within a session.
type Browser interface {
	// Start opens the browser at url and returns the initial page
	// snapshot.
	Start(ctx context.Context, url string, opts BrowserOptions) (string, error)
	// Interact performs one action.
	Interact(ctx context.Context, action Action) (*InteractionResult, error)
	// Exchanges streams captured request/response pairs. The channel
	// closes when the session finishes or aborts.
	Exchanges() <-chan Exchange
	// PageContent returns the current page's text, used for captcha
	// marker detection.
	PageContent(ctx context.Context) (string, error)
	// Cookies snapshots the browser context's cookies.
	Cookies(ctx context.Context) ([]BrowserCookie, error)
	// Finish ends the session and reports per-domain summaries.
	Finish(ctx context.Context) ([]DomainSummary, error)
	// Abort tears the session down without summaries.
	Abort(ctx context.Context) error
	// Closed is signalled when the user closes the browser window.
	Closed() <-chan struct{}
}

// DiscoveryConfidence grades a discovery result.
type DiscoveryConfidence string

const (
	ConfidenceLow    DiscoveryConfidence = "low"
	ConfidenceMedium DiscoveryConfidence = "medium"
	ConfidenceHigh   DiscoveryConfidence = "high"
)

// DiscoveryResult is what a framework/OpenAPI probe found for a URL.
type DiscoveryResult struct {
	Confidence DiscoveryConfidence `json:"confidence"`
	Frameworks []string            `json:"frameworks,omitempty"`
	Specs      []string            `json:"specs,omitempty"`
	Probes     []string            `json:"probes,omitempty"`
	SkillFile  *skill.File         `json:"skillFile,omitempty"`
	Hints      []string            `json:"hints,omitempty"`
}

// Discovery probes a site for framework fingerprints and API specs.
type Discovery interface {
	Discover(ctx context.Context, url string) (*DiscoveryResult, error)
}

// ContentReader fetches page content through the side-channel
// decoders. Implementations must pass their URLs through the SSRF
// validator before any fetch.
type ContentReader interface {
	Peek(ctx context.Context, url string) (string, error)
	Read(ctx context.Context, url string, maxBytes int) (string, error)
}
