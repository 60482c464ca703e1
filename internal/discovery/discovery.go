// Package discovery probes a site for framework fingerprints and
// machine-readable API specs, producing a skeleton skill file when a
// spec is found. No browser is involved; everything is plain HTTP
// through the SSRF validator.
package discovery

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"apitap/internal/api"
	"apitap/internal/apiterr"
	"apitap/internal/generator"
	"apitap/internal/skill"
	"apitap/internal/ssrf"
	"apitap/pkg/logging"
)

const (
	probeTimeout = 15 * time.Second
	maxProbeBody = 4 << 20
)

// specPaths are probed relative to the site root, most common first.
var specPaths = []string{
	"/openapi.json",
	"/swagger.json",
	"/api/openapi.json",
	"/v2/api-docs",
	"/api-docs",
}

// frameworkMarkers map page-content fingerprints to framework names.
var frameworkMarkers = []struct {
	marker    string
	framework string
	hint      string
}{
	{"__NEXT_DATA__", "nextjs", "Next.js data payload present; JSON page props may be fetchable directly"},
	{"__NUXT__", "nuxt", "Nuxt payload present"},
	{"wp-json", "wordpress", "WordPress REST API at /wp-json/wp/v2"},
	{"cdn.shopify.com", "shopify", "Shopify storefront; products at /products.json"},
	{"ng-version", "angular", ""},
	{"data-reactroot", "react", ""},
}

// Prober implements discovery over plain HTTP.
type Prober struct {
	client      *http.Client
	validator   *ssrf.Validator
	toolVersion string
}

var _ api.Discovery = (*Prober)(nil)

// New creates a Prober.
func New(validator *ssrf.Validator, toolVersion string) *Prober {
	return &Prober{
		client:      &http.Client{Timeout: probeTimeout},
		validator:   validator,
		toolVersion: toolVersion,
	}
}

// Discover fingerprints the page and probes for API specs.
func (p *Prober) Discover(ctx context.Context, rawURL string) (*api.DiscoveryResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return nil, &apiterr.ValidationError{Reason: "not a valid URL: " + rawURL}
	}
	if res := p.validator.Validate(ctx, rawURL); !res.Safe {
		return nil, &apiterr.ValidationError{Reason: "unsafe URL: " + res.Reason}
	}

	result := &api.DiscoveryResult{Confidence: api.ConfidenceLow}

	if page, err := p.fetch(ctx, rawURL); err == nil {
		p.fingerprint(page, result)
	} else {
		logging.Debug("discovery", "Fetching %s: %v", rawURL, err)
	}

	root := u.Scheme + "://" + u.Host
	for _, path := range specPaths {
		target := root + path
		result.Probes = append(result.Probes, path)
		body, err := p.fetch(ctx, target)
		if err != nil {
			continue
		}
		if f := p.skeletonFromSpec(u, body); f != nil {
			result.Specs = append(result.Specs, target)
			result.SkillFile = f
			result.Confidence = api.ConfidenceHigh
			break
		}
	}

	if result.Confidence != api.ConfidenceHigh && len(result.Frameworks) > 0 {
		result.Confidence = api.ConfidenceMedium
	}
	return result, nil
}

func (p *Prober) fetch(ctx context.Context, target string) (string, error) {
	if res := p.validator.Validate(ctx, target); !res.Safe {
		return "", &apiterr.ValidationError{Reason: "unsafe URL: " + res.Reason}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &apiterr.ValidationError{Reason: "status " + resp.Status}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (p *Prober) fingerprint(page string, result *api.DiscoveryResult) {
	seen := map[string]bool{}
	for _, m := range frameworkMarkers {
		if seen[m.framework] || !strings.Contains(page, m.marker) {
			continue
		}
		seen[m.framework] = true
		result.Frameworks = append(result.Frameworks, m.framework)
		if m.hint != "" {
			result.Hints = append(result.Hints, m.hint)
		}
	}
}

// skeletonFromSpec builds a skill file from an OpenAPI or Swagger
// document. Only documents that actually declare paths count.
func (p *Prober) skeletonFromSpec(site *url.URL, body string) *skill.File {
	if !gjson.Valid(body) {
		return nil
	}
	doc := gjson.Parse(body)
	if !doc.Get("openapi").Exists() && !doc.Get("swagger").Exists() {
		return nil
	}
	paths := doc.Get("paths")
	if !paths.IsObject() {
		return nil
	}

	baseURL := site.Scheme + "://" + site.Host
	if server := doc.Get("servers.0.url"); server.Exists() {
		if u, err := url.Parse(server.String()); err == nil && u.IsAbs() {
			baseURL = strings.TrimSuffix(server.String(), "/")
		}
	}

	hasGlobalAuth := doc.Get("security").Exists() || doc.Get("components.securitySchemes").Exists() ||
		doc.Get("securityDefinitions").Exists()

	f := &skill.File{
		Version:  skill.FormatVersion,
		Domain:   strings.ToLower(site.Hostname()),
		BaseURL:  baseURL,
		Metadata: skill.Metadata{ToolVersion: p.toolVersion},
	}

	paths.ForEach(func(path, operations gjson.Result) bool {
		operations.ForEach(func(method, op gjson.Result) bool {
			httpMethod := strings.ToUpper(method.String())
			switch httpMethod {
			case "GET", "POST", "PUT", "PATCH", "DELETE":
			default:
				return true
			}
			epPath := templateToPlaceholders(path.String())
			ep := skill.Endpoint{
				ID:     generator.EndpointID(httpMethod, epPath),
				Method: httpMethod,
				Path:   epPath,
				Replayability: skill.Replayability{
					Tier:    skill.TierUnknown,
					Signals: specSignals(hasGlobalAuth, op),
				},
			}
			f.Endpoints = append(f.Endpoints, ep)
			return true
		})
		return true
	})

	if len(f.Endpoints) == 0 {
		return nil
	}
	sort.Slice(f.Endpoints, func(i, j int) bool { return f.Endpoints[i].ID < f.Endpoints[j].ID })
	return f
}

// specSignals records what the spec declares about an endpoint. The
// tier stays unknown either way: a spec-derived endpoint has never
// been exercised, so only the verifier can upgrade it.
func specSignals(hasGlobalAuth bool, op gjson.Result) []string {
	signals := []string{"openapi-spec"}
	if op.Get("security").Exists() || hasGlobalAuth {
		signals = append(signals, "auth-declared")
	}
	return signals
}

// templateToPlaceholders rewrites OpenAPI {param} segments into the
// :param form skill files use.
func templateToPlaceholders(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
			segments[i] = ":" + strings.TrimSuffix(strings.TrimPrefix(segment, "{"), "}")
		}
	}
	return strings.Join(segments, "/")
}
