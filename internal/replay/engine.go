// Package replay re-executes captured endpoints with live credentials.
// The engine resolves path and body parameters, fills stored credential
// placeholders, refreshes expired auth, and reports contract drift
// between the captured response schema and the live one.
package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/sjson"

	"apitap/internal/apiterr"
	"apitap/internal/credstore"
	"apitap/internal/generator"
	"apitap/internal/refresh"
	"apitap/internal/skill"
	"apitap/internal/ssrf"
	"apitap/pkg/logging"
)

const (
	// DefaultMaxBytes bounds the response payload returned to callers.
	DefaultMaxBytes = 50 * 1024

	requestTimeout = 30 * time.Second

	// refreshSkew refreshes credentials that expire within this window
	// instead of racing the deadline.
	refreshSkew = 30 * time.Second

	maxAuthErrorPreview = 2 << 10
	maxResponseBody     = 10 << 20
)

// Refresher obtains fresh credentials for a skill file's domain.
type Refresher interface {
	Refresh(ctx context.Context, f *skill.File) (refresh.Result, error)
}

// URLValidator screens outbound targets, including redirect hops.
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) ssrf.Result
}

// Request identifies one endpoint invocation.
type Request struct {
	Domain     string
	EndpointID string
	// Params feed path placeholders, declared body variables, and
	// query parameters, matched by name in that order.
	Params map[string]string
	// Fresh forces a credential refresh before dispatch.
	Fresh    bool
	MaxBytes int
}

// AuthError is the structured envelope returned when the origin
// rejects the replay's credentials even after a refresh.
type AuthError struct {
	Error            string         `json:"error"`
	Suggestion       string         `json:"suggestion"`
	Domain           string         `json:"domain"`
	OriginalResponse string         `json:"originalResponse,omitempty"`
	Challenge        *AuthChallenge `json:"challenge,omitempty"`
}

// Outcome is the result of one replay.
type Outcome struct {
	EndpointID     string      `json:"endpointId"`
	Domain         string      `json:"domain"`
	Status         int         `json:"status"`
	Data           interface{} `json:"data,omitempty"`
	Refreshed      bool        `json:"refreshed"`
	Truncated      bool        `json:"truncated,omitempty"`
	ContractIssues []Issue     `json:"contractIssues,omitempty"`
	AuthError      *AuthError  `json:"authError,omitempty"`
}

// Engine replays endpoints from stored skill files.
type Engine struct {
	skills    *skill.Store
	creds     *credstore.Store
	validator URLValidator
	refresher Refresher
	client    *http.Client
	now       func() time.Time
}

// NewEngine creates an Engine. refresher may be nil; expired
// credentials then surface as auth errors instead of being renewed.
func NewEngine(skills *skill.Store, creds *credstore.Store, validator URLValidator, refresher Refresher) *Engine {
	return &Engine{
		skills:    skills,
		creds:     creds,
		validator: validator,
		refresher: refresher,
		client: &http.Client{
			Timeout: requestTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		now: time.Now,
	}
}

// Do replays one endpoint from the stored skill file.
func (e *Engine) Do(ctx context.Context, req Request) (*Outcome, error) {
	return e.do(ctx, req, e.skills.Load)
}

// DoFile replays one endpoint of an in-memory skill file, bypassing
// the store. Discovery skeletons are never persisted, so the browse
// path hands its resolved file straight in.
func (e *Engine) DoFile(ctx context.Context, f *skill.File, req Request) (*Outcome, error) {
	return e.do(ctx, req, func(string) (*skill.File, error) { return f, nil })
}

func (e *Engine) do(ctx context.Context, req Request, load func(string) (*skill.File, error)) (*Outcome, error) {
	f, err := load(req.Domain)
	if err != nil {
		return nil, err
	}
	ep := f.FindEndpoint(req.EndpointID)
	if ep == nil {
		return nil, &apiterr.NotFoundError{Kind: "endpoint", Name: req.EndpointID, Alternatives: f.EndpointIDs()}
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	outcome := &Outcome{EndpointID: ep.ID, Domain: f.Domain}

	// Pre-flight refresh: forced, or the stored credential expires
	// inside the skew window.
	auth, err := e.retrieveAuth(f.Domain, ep)
	if err != nil {
		return nil, err
	}
	if e.refresher != nil && (req.Fresh || authExpiring(auth, e.now())) {
		result, err := e.refresher.Refresh(ctx, f)
		if err != nil {
			logging.Warn("replay", "Pre-flight refresh for %s failed: %v", f.Domain, err)
		}
		if result.Refreshed {
			outcome.Refreshed = true
		}
	}

	resp, err := e.send(ctx, f, ep, req)
	if err != nil {
		return nil, err
	}

	// Reactive refresh: one retry after renewing credentials.
	if (resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden) && e.refresher != nil && !outcome.Refreshed {
		result, refreshErr := e.refresher.Refresh(ctx, f)
		if refreshErr != nil {
			logging.Warn("replay", "Reactive refresh for %s failed: %v", f.Domain, refreshErr)
		}
		if result.Refreshed {
			outcome.Refreshed = true
			resp, err = e.send(ctx, f, ep, req)
			if err != nil {
				return nil, err
			}
		}
	}

	outcome.Status = resp.status
	if resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden {
		outcome.AuthError = &AuthError{
			Error:            fmt.Sprintf("authentication failed with status %d", resp.status),
			Suggestion:       "run 'apitap auth " + f.Domain + "' to re-authenticate",
			Domain:           f.Domain,
			OriginalResponse: previewOf(resp.body),
			Challenge:        ParseAuthChallenge(resp.authenticate),
		}
		return outcome, nil
	}

	e.decorate(outcome, ep, resp.body, resp.contentType, req.MaxBytes)
	return outcome, nil
}

// decorate decodes the body, diffs the contract, and truncates.
func (e *Engine) decorate(outcome *Outcome, ep *skill.Endpoint, body []byte, contentType string, maxBytes int) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	var data interface{}
	if len(body) > 0 && isJSONContent(contentType) {
		if err := json.Unmarshal(body, &data); err != nil {
			data = string(body)
		}
	} else if len(body) > 0 {
		data = string(body)
	}

	if ep.ResponseSchema != nil && data != nil {
		if _, ok := data.(map[string]interface{}); ok {
			outcome.ContractIssues = DiffSchemas(ep.ResponseSchema, skill.SchemaOf(data))
		}
	}

	outcome.Data, outcome.Truncated = Truncate(data, maxBytes)
}

// send builds and dispatches the request, following at most one
// redirect hop after re-validating the target.
func (e *Engine) send(ctx context.Context, f *skill.File, ep *skill.Endpoint, req Request) (*wireResponse, error) {
	consumed := map[string]bool{}

	path, err := resolvePath(ep, req.Params, consumed)
	if err != nil {
		return nil, err
	}
	body, bodyContentType, err := e.renderBody(f.Domain, ep, req.Params, consumed)
	if err != nil {
		return nil, err
	}
	query := buildQuery(ep, req.Params, consumed)

	target := strings.TrimSuffix(f.BaseURL, "/") + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	headers, err := e.buildHeaders(f.Domain, ep)
	if err != nil {
		return nil, err
	}
	if body != nil && bodyContentType != "" {
		headers.Set("Content-Type", bodyContentType)
	}

	resp, err := e.dispatch(ctx, ep.Method, target, headers, body)
	if err != nil {
		return nil, err
	}
	if resp.location == "" {
		return resp, nil
	}

	// One redirect hop, re-validated and downgraded to GET.
	redirected, err := resolveRedirect(target, resp.location)
	if err != nil {
		return nil, err
	}
	if res := e.validator.Validate(ctx, redirected); !res.Safe {
		return nil, &apiterr.ValidationError{Reason: "Redirect blocked: " + res.Reason}
	}
	resp, err = e.dispatch(ctx, http.MethodGet, redirected, headers, nil)
	if err != nil {
		return nil, err
	}
	if resp.location != "" {
		return nil, &apiterr.ValidationError{Reason: "Redirect blocked: more than one redirect hop"}
	}
	return resp, nil
}

// wireResponse is what one dispatched request came back with.
type wireResponse struct {
	status       int
	body         []byte
	contentType  string
	location     string
	authenticate string
}

func (e *Engine) dispatch(ctx context.Context, method, target string, headers http.Header, body []byte) (*wireResponse, error) {
	if res := e.validator.Validate(ctx, target); !res.Safe {
		return nil, &apiterr.ValidationError{Reason: "unsafe URL: " + res.Reason}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	for name, values := range headers {
		httpReq.Header[name] = values
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}

	wire := &wireResponse{
		status:       resp.StatusCode,
		body:         respBody,
		contentType:  resp.Header.Get("Content-Type"),
		authenticate: resp.Header.Get("WWW-Authenticate"),
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		wire.location = resp.Header.Get("Location")
	}
	return wire, nil
}

// resolvePath substitutes :name placeholders from params, falling back
// to the segment captured in the example URL.
func resolvePath(ep *skill.Endpoint, params map[string]string, consumed map[string]bool) (string, error) {
	segments := strings.Split(ep.Path, "/")

	var exampleSegments []string
	if ep.Examples != nil && ep.Examples.Request.URL != "" {
		if u, err := url.Parse(ep.Examples.Request.URL); err == nil {
			exampleSegments = strings.Split(u.Path, "/")
		}
	}

	for i, segment := range segments {
		if !generator.IsPlaceholder(segment) {
			continue
		}
		name := strings.TrimPrefix(segment, ":")
		if value, ok := params[name]; ok {
			segments[i] = url.PathEscape(value)
			consumed[name] = true
			continue
		}
		if i < len(exampleSegments) && exampleSegments[i] != "" {
			segments[i] = exampleSegments[i]
			continue
		}
		return "", &apiterr.ValidationError{Reason: "missing value for path parameter " + segment + " of " + ep.ID}
	}
	return strings.Join(segments, "/"), nil
}

// renderBody fills declared variables and refreshable tokens into the
// captured body template.
func (e *Engine) renderBody(domain string, ep *skill.Endpoint, params map[string]string, consumed map[string]bool) ([]byte, string, error) {
	rb := ep.RequestBody
	if rb == nil || len(rb.Template) == 0 || ep.Method == http.MethodGet {
		return nil, "", nil
	}

	var tokens map[string]credstore.Token
	if len(rb.RefreshableTokens) > 0 {
		var err error
		tokens, err = e.creds.RetrieveTokens(domain)
		if err != nil {
			return nil, "", err
		}
	}

	if isJSONContent(rb.ContentType) {
		// Stored templates are pretty-printed inside the skill file;
		// the wire body is always compact.
		body := []byte(rb.Template)
		var compact bytes.Buffer
		if err := json.Compact(&compact, body); err == nil {
			body = append([]byte(nil), compact.Bytes()...)
		}
		var err error
		for _, path := range rb.Variables {
			value, name, ok := lookupParam(params, path)
			if !ok {
				continue
			}
			if body, err = sjson.SetBytes(body, path, value); err != nil {
				return nil, "", err
			}
			consumed[name] = true
		}
		for _, path := range rb.RefreshableTokens {
			token, ok := tokens[path]
			if !ok || token.Value == "" {
				continue
			}
			if body, err = sjson.SetBytes(body, path, token.Value); err != nil {
				return nil, "", err
			}
		}
		return body, rb.ContentType, nil
	}

	// Form bodies are stored as a JSON-encoded string.
	var literal string
	if err := json.Unmarshal(rb.Template, &literal); err != nil {
		literal = string(rb.Template)
	}
	values, err := url.ParseQuery(literal)
	if err != nil {
		return []byte(literal), rb.ContentType, nil
	}
	for _, name := range rb.Variables {
		if value, ok := params[name]; ok {
			values.Set(name, value)
			consumed[name] = true
		}
	}
	for _, name := range rb.RefreshableTokens {
		if token, ok := tokens[name]; ok && token.Value != "" {
			values.Set(name, token.Value)
		}
	}
	return []byte(values.Encode()), rb.ContentType, nil
}

// lookupParam matches a body variable path against user params by full
// gjson path first, then by its last element.
func lookupParam(params map[string]string, path string) (string, string, bool) {
	if value, ok := params[path]; ok {
		return value, path, true
	}
	short := lastPathElement(path)
	if short != path {
		if value, ok := params[short]; ok {
			return value, short, true
		}
	}
	return "", "", false
}

func lastPathElement(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' && (i == 0 || path[i-1] != '\\') {
			return path[i+1:]
		}
	}
	return path
}

// buildQuery seeds captured query parameters with their examples, then
// applies user overrides. Params not consumed elsewhere become extra
// query parameters.
func buildQuery(ep *skill.Endpoint, params map[string]string, consumed map[string]bool) url.Values {
	values := url.Values{}
	for name, qp := range ep.QueryParams {
		if value, ok := params[name]; ok && !consumed[name] {
			values.Set(name, value)
			consumed[name] = true
			continue
		}
		if qp.Example != "" {
			values.Set(name, qp.Example)
		}
	}
	for name, value := range params {
		if !consumed[name] {
			values.Set(name, value)
		}
	}
	return values
}

// buildHeaders copies replay-safe captured headers and resolves stored
// credential placeholders. A placeholder that cannot be resolved is
// omitted; the literal marker never goes on the wire.
func (e *Engine) buildHeaders(domain string, ep *skill.Endpoint) (http.Header, error) {
	auth, err := e.retrieveAuth(domain, ep)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for name, value := range ep.Headers {
		lower := strings.ToLower(name)
		if value == skill.StoredPlaceholder {
			if lower == "cookie" {
				if cookie := e.cookieHeader(domain, ep); cookie != "" {
					headers.Set("Cookie", cookie)
				}
				continue
			}
			if auth != nil && strings.EqualFold(auth.Header, lower) {
				headers.Set(name, auth.Value)
			}
			continue
		}
		if blockedHeader(lower) {
			continue
		}
		headers.Set(name, value)
	}
	return headers, nil
}

func (e *Engine) retrieveAuth(domain string, ep *skill.Endpoint) (*credstore.Auth, error) {
	if ep.IsolatedAuth {
		return e.creds.Retrieve(domain)
	}
	return e.creds.RetrieveWithFallback(domain)
}

func (e *Engine) cookieHeader(domain string, ep *skill.Endpoint) string {
	var session *credstore.Session
	var err error
	if ep.IsolatedAuth {
		session, err = e.creds.RetrieveSession(domain)
	} else {
		session, err = e.creds.RetrieveSessionWithFallback(domain)
	}
	if err != nil || session == nil {
		return ""
	}
	pairs := make([]string, 0, len(session.Cookies))
	for _, c := range session.Cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; ")
}

// blockedHeader reports whether a captured header must not be replayed
// verbatim: connection management, payload framing, browser-controlled
// fingerprinting, and proxy forwarding headers.
func blockedHeader(name string) bool {
	switch name {
	case "host", "connection", "keep-alive", "transfer-encoding", "upgrade",
		"te", "trailer", "content-length", "accept-encoding",
		"cookie", "set-cookie", "authorization", "forwarded", "via":
		return true
	}
	return strings.HasPrefix(name, "proxy-") ||
		strings.HasPrefix(name, "sec-") ||
		strings.HasPrefix(name, "x-forwarded-")
}

func resolveRedirect(target, location string) (string, error) {
	base, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", &apiterr.ValidationError{Reason: "Redirect blocked: unparseable location"}
	}
	return base.ResolveReference(loc).String(), nil
}

// authExpiring reports whether the stored credential expires within
// the refresh skew. JWTs carry their own expiry claim.
func authExpiring(auth *credstore.Auth, now time.Time) bool {
	if auth == nil {
		return false
	}
	deadline := now.Add(refreshSkew)
	if auth.ExpiresAt != nil && auth.ExpiresAt.Before(deadline) {
		return true
	}
	raw := strings.TrimPrefix(auth.Value, "Bearer ")
	if strings.Count(raw, ".") != 2 {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Time.Before(deadline)
}

func previewOf(body []byte) string {
	if len(body) > maxAuthErrorPreview {
		body = body[:maxAuthErrorPreview]
	}
	return string(body)
}

func isJSONContent(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "application/json") || strings.Contains(contentType, "+json")
}

var (
	_ Refresher    = (*refresh.Orchestrator)(nil)
	_ URLValidator = (*ssrf.Validator)(nil)
)
