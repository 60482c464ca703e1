// Package generator distills captured request/response exchanges into
// per-domain skill files: deduplicated, parameterized endpoints with
// extracted auth, body variables, response schemas, and a heuristic
// replayability classification.
package generator

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"apitap/internal/api"
	"apitap/internal/credstore"
	"apitap/internal/skill"
	"apitap/pkg/logging"
)

// maxBodySamples bounds how many body samples per endpoint are kept
// for cross-request diffing.
const maxBodySamples = 5

// responsePreviewLimit bounds the stored response preview.
const responsePreviewLimit = 300

// Findings is what the generator extracted for one domain beyond the
// skill file itself. Secrets go to the credential store.
type Findings struct {
	Auth        *credstore.Auth
	Credentials *credstore.OAuthCredentials
}

// Generator accumulates exchanges and emits skill files grouped by
// domain. It is not safe for concurrent use; captures feed it from a
// single session goroutine.
type Generator struct {
	toolVersion string
	now         func() time.Time
	domains     map[string]*domainBuild
	order       []string
}

type domainBuild struct {
	domain      string
	baseURL     string
	captchaRisk bool
	captures    int
	filtered    int
	domBytes    int64
	endpoints   map[string]*endpointBuild
	order       []string
	findings    *AuthFindings
}

type endpointBuild struct {
	ep          skill.Endpoint
	bodySamples []string
	contentType string
}

// New creates a Generator.
func New(toolVersion string) *Generator {
	return &Generator{
		toolVersion: toolVersion,
		now:         time.Now,
		domains:     map[string]*domainBuild{},
	}
}

// Add records one accepted exchange. Filtering already happened in the
// capture adapter; everything that reaches here becomes part of an
// endpoint.
func (g *Generator) Add(ex api.Exchange) {
	u, err := url.Parse(ex.Request.URL)
	if err != nil || u.Hostname() == "" {
		logging.Debug("generator", "Skipping exchange with unparseable URL %q", ex.Request.URL)
		return
	}

	domain := strings.ToLower(u.Hostname())
	build := g.domains[domain]
	if build == nil {
		build = &domainBuild{
			domain:    domain,
			baseURL:   u.Scheme + "://" + u.Host,
			endpoints: map[string]*endpointBuild{},
			findings:  newAuthFindings(),
		}
		g.domains[domain] = build
		g.order = append(g.order, domain)
	}
	build.captures++
	if ex.CaptchaRisk {
		build.captchaRisk = true
	}

	build.findings.extractAuth(ex.Request.Headers)
	build.findings.extractOAuth(ex.Request.URL, ex.Request.PostData, ex.Response.Body)

	method := strings.ToUpper(ex.Request.Method)
	paramPath := ParameterizePath(u.EscapedPath())
	key := method + " " + paramPath

	eb := build.endpoints[key]
	if eb == nil {
		eb = &endpointBuild{
			ep: skill.Endpoint{
				ID:     EndpointID(method, paramPath),
				Method: method,
				Path:   paramPath,
			},
		}
		build.endpoints[key] = eb
		build.order = append(build.order, key)
		g.createEndpoint(eb, ex, u)
	} else {
		g.mergeEndpoint(eb, ex, u)
	}
}

// SetFilteredCount records how many exchanges the capture scorer
// dropped for a domain, for the skill file metadata.
func (g *Generator) SetFilteredCount(domain string, filtered int) {
	if build := g.domains[strings.ToLower(domain)]; build != nil {
		build.filtered = filtered
	}
}

// ApplySummary folds a capture session's per-domain summary into the
// build metadata.
func (g *Generator) ApplySummary(summary api.DomainSummary) {
	build := g.domains[strings.ToLower(summary.Domain)]
	if build == nil {
		return
	}
	build.filtered = summary.FilteredCount
	build.domBytes = summary.DOMBytes
}

func (g *Generator) createEndpoint(eb *endpointBuild, ex api.Exchange, u *url.URL) {
	ep := &eb.ep

	ep.QueryParams = queryParams(u)
	ep.Headers = map[string]string{}
	for name, value := range ex.Request.Headers {
		ep.Headers[strings.ToLower(name)] = value
	}
	ep.Examples = &skill.Examples{Request: skill.ExampleRequest{URL: ex.Request.URL}}

	// Token exchanges carry grant secrets in both directions. The
	// credential store already has them via extractOAuth; the skill
	// file keeps the endpoint shape only.
	tokenExchange := isOAuthTokenExchange(ex.Request.URL, ex.Response.Body)

	if body := ex.Response.Body; body != "" && isJSONContent(ex.Response.ContentType) {
		var decoded interface{}
		if err := json.Unmarshal([]byte(body), &decoded); err == nil {
			ep.ResponseShape = skill.ShapeOf(decoded)
			ep.ResponseSchema = skill.SchemaOf(decoded)
		}
		if !tokenExchange {
			preview := body
			if len(preview) > responsePreviewLimit {
				preview = preview[:responsePreviewLimit]
			}
			ep.Examples.ResponsePreview = preview
		}
	}

	if tokenExchange {
		return
	}

	if hasBody(ex.Request.Method) && ex.Request.PostData != "" {
		contentType := contentTypeOf(ex.Request.Headers)
		eb.contentType = contentType
		eb.bodySamples = append(eb.bodySamples, ex.Request.PostData)

		rb := &skill.RequestBody{
			ContentType: contentType,
			Variables:   DetectBodyVariables(ex.Request.PostData, contentType),
		}
		if isJSONContent(contentType) && gjson.Valid(ex.Request.PostData) {
			rb.Template = json.RawMessage(ex.Request.PostData)
		} else {
			encoded, _ := json.Marshal(ex.Request.PostData)
			rb.Template = encoded
		}
		ep.RequestBody = rb
	}
}

func (g *Generator) mergeEndpoint(eb *endpointBuild, ex api.Exchange, u *url.URL) {
	// Later occurrences refresh query-param defaults and contribute
	// body samples for diffing.
	for name, qp := range queryParams(u) {
		if eb.ep.QueryParams == nil {
			eb.ep.QueryParams = map[string]skill.QueryParam{}
		}
		eb.ep.QueryParams[name] = qp
	}
	if isOAuthTokenExchange(ex.Request.URL, ex.Response.Body) {
		return
	}
	if hasBody(ex.Request.Method) && ex.Request.PostData != "" && len(eb.bodySamples) < maxBodySamples {
		eb.bodySamples = append(eb.bodySamples, ex.Request.PostData)
	}
}

// ToSkillFiles finalizes the accumulated exchanges into skill files,
// one per domain, plus the per-domain credential findings. Extracted
// auth header values are rewritten to the [stored] placeholder.
func (g *Generator) ToSkillFiles() ([]*skill.File, map[string]*Findings) {
	files := make([]*skill.File, 0, len(g.domains))
	findings := make(map[string]*Findings, len(g.domains))

	for _, domain := range g.order {
		build := g.domains[domain]

		f := &skill.File{
			Version:    skill.FormatVersion,
			Domain:     build.domain,
			BaseURL:    build.baseURL,
			CapturedAt: g.now().UTC().Format(time.RFC3339),
			Metadata: skill.Metadata{
				CaptureCount:  build.captures,
				FilteredCount: build.filtered,
				ToolVersion:   g.toolVersion,
				DOMBytes:      build.domBytes,
			},
			Provenance: skill.ProvenanceUnsigned,
		}

		if build.captchaRisk || build.findings.OAuth != nil {
			f.Auth = &skill.AuthConfig{
				CaptchaRisk: build.captchaRisk,
				OAuthConfig: build.findings.OAuth,
			}
			if build.captchaRisk {
				f.Auth.BrowserMode = "headed"
			}
		}

		for _, key := range build.order {
			eb := build.endpoints[key]
			g.finalizeEndpoint(eb, build)
			f.Endpoints = append(f.Endpoints, eb.ep)
		}
		sort.Slice(f.Endpoints, func(i, j int) bool { return f.Endpoints[i].ID < f.Endpoints[j].ID })

		files = append(files, f)
		if build.findings.Auth != nil || build.findings.Credentials != nil {
			findings[domain] = &Findings{
				Auth:        build.findings.Auth,
				Credentials: build.findings.Credentials,
			}
		}
		logging.Info("generator", "Generated skill for %s: %d endpoints from %d captures",
			domain, len(f.Endpoints), build.captures)
	}
	return files, findings
}

func (g *Generator) finalizeEndpoint(eb *endpointBuild, build *domainBuild) {
	ep := &eb.ep

	// Cross-request diff: fields that changed between captured bodies
	// are dynamic.
	if ep.RequestBody != nil && len(eb.bodySamples) > 1 {
		dynamic := map[string]bool{}
		for _, v := range ep.RequestBody.Variables {
			dynamic[v] = true
		}
		for i := 1; i < len(eb.bodySamples); i++ {
			for _, path := range DiffBodies(eb.bodySamples[0], eb.bodySamples[i]) {
				dynamic[path] = true
			}
		}
		ep.RequestBody.Variables = sortedKeys(dynamic)
	}

	ep.Pagination = detectPagination(ep)
	ep.Replayability = classify(ep, build)

	// Rewrite extracted auth header values before emission. The real
	// values live in the credential store only.
	for name := range ep.Headers {
		if build.findings.AuthHeaders[name] {
			ep.Headers[name] = skill.StoredPlaceholder
		}
	}
}

func queryParams(u *url.URL) map[string]skill.QueryParam {
	values := u.Query()
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]skill.QueryParam, len(values))
	for name, vals := range values {
		example := ""
		if len(vals) > 0 {
			example = vals[0]
		}
		out[name] = skill.QueryParam{Type: inferParamType(example), Example: example}
	}
	return out
}

func inferParamType(v string) string {
	if v == "" {
		return "string"
	}
	if v == "true" || v == "false" {
		return "boolean"
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return "number"
	}
	return "string"
}

func hasBody(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	default:
		return false
	}
}

func isJSONContent(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "json")
}

func contentTypeOf(headers map[string]string) string {
	for name, value := range headers {
		if strings.EqualFold(name, "content-type") {
			if idx := strings.Index(value, ";"); idx >= 0 {
				value = value[:idx]
			}
			return strings.TrimSpace(value)
		}
	}
	return "application/json"
}
