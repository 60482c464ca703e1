// Package skill defines the per-domain skill file: a portable catalog
// of replayable endpoints distilled from captured browser traffic,
// plus signing and atomic on-disk storage.
package skill

import "encoding/json"

// FormatVersion is the current skill file format tag.
const FormatVersion = "1"

// StoredPlaceholder marks a header value that must be filled from the
// credential store at replay time. It is never sent on the wire.
const StoredPlaceholder = "[stored]"

// Provenance records where a skill file came from.
type Provenance string

const (
	// ProvenanceSelf means the file was generated locally and carries a
	// valid signature under the local machine key.
	ProvenanceSelf Provenance = "self"
	// ProvenanceImported means the file was imported and re-signed.
	ProvenanceImported Provenance = "imported"
	// ProvenanceUnsigned means the file carries no valid signature.
	ProvenanceUnsigned Provenance = "unsigned"
)

// Tier classifies how confidently an endpoint can be replayed without
// a browser.
type Tier string

const (
	// TierGreen requires no auth and no signing.
	TierGreen Tier = "green"
	// TierYellow requires stored credentials only.
	TierYellow Tier = "yellow"
	// TierOrange is session-bound, CSRF-protected, or verified to fail.
	TierOrange Tier = "orange"
	// TierRed is behind anti-bot protection.
	TierRed Tier = "red"
	// TierUnknown has not been verified (e.g. discovered from a spec).
	TierUnknown Tier = "unknown"
)

// File is the unit of persistence: one skill file per domain.
type File struct {
	Version    string      `json:"version"`
	Domain     string      `json:"domain"`
	BaseURL    string      `json:"baseUrl"`
	CapturedAt string      `json:"capturedAt"`
	Endpoints  []Endpoint  `json:"endpoints"`
	Metadata   Metadata    `json:"metadata"`
	Provenance Provenance  `json:"provenance"`
	Auth       *AuthConfig `json:"auth,omitempty"`
	Signature  string      `json:"signature,omitempty"`
}

// Metadata describes the capture that produced the file.
type Metadata struct {
	CaptureCount  int    `json:"captureCount"`
	FilteredCount int    `json:"filteredCount"`
	ToolVersion   string `json:"toolVersion"`
	DOMBytes      int64  `json:"domBytes,omitempty"`
}

// AuthConfig carries domain-level auth hints.
type AuthConfig struct {
	CaptchaRisk bool         `json:"captchaRisk,omitempty"`
	BrowserMode string       `json:"browserMode,omitempty"`
	RefreshURL  string       `json:"refreshUrl,omitempty"`
	OAuthConfig *OAuthConfig `json:"oauthConfig,omitempty"`
}

// OAuthConfig describes a detected OAuth token endpoint. Refresh
// tokens and client secrets never appear here; they go to the
// credential store.
type OAuthConfig struct {
	TokenEndpoint string `json:"tokenEndpoint"`
	ClientID      string `json:"clientId,omitempty"`
	GrantType     string `json:"grantType"`
	Scope         string `json:"scope,omitempty"`
}

// Endpoint is one captured, parameterized API operation.
type Endpoint struct {
	ID             string                `json:"id"`
	Method         string                `json:"method"`
	Path           string                `json:"path"`
	QueryParams    map[string]QueryParam `json:"queryParams,omitempty"`
	Headers        map[string]string     `json:"headers,omitempty"`
	ResponseShape  *Shape                `json:"responseShape,omitempty"`
	ResponseSchema *Schema               `json:"responseSchema,omitempty"`
	Examples       *Examples             `json:"examples,omitempty"`
	RequestBody    *RequestBody          `json:"requestBody,omitempty"`
	Replayability  Replayability         `json:"replayability"`
	Pagination     *Pagination           `json:"pagination,omitempty"`
	// IsolatedAuth disables parent-domain credential fallback for this
	// endpoint.
	IsolatedAuth bool `json:"isolatedAuth,omitempty"`
}

// QueryParam records a query parameter's inferred type and a captured
// example value.
type QueryParam struct {
	Type    string `json:"type"`
	Example string `json:"example,omitempty"`
}

// Shape is a compact response summary: the top-level type plus field
// names for objects.
type Shape struct {
	Type   string   `json:"type"`
	Fields []string `json:"fields,omitempty"`
}

// Examples holds one concrete captured request and an optional
// response preview.
type Examples struct {
	Request         ExampleRequest `json:"request"`
	ResponsePreview string         `json:"responsePreview,omitempty"`
}

// ExampleRequest is a concrete URL the endpoint was captured from.
type ExampleRequest struct {
	URL string `json:"url"`
}

// RequestBody describes a POST-like body template.
type RequestBody struct {
	ContentType string `json:"contentType"`
	// Template is the captured body with literal values preserved.
	// JSON bodies keep their tree; other content types are stored as a
	// JSON string.
	Template json.RawMessage `json:"template,omitempty"`
	// Variables are dotted paths of fields that change per request and
	// should be substituted from caller params.
	Variables []string `json:"variables,omitempty"`
	// RefreshableTokens are dotted paths of token fields that must be
	// refreshed from the token store before replay.
	RefreshableTokens []string `json:"refreshableTokens,omitempty"`
}

// Replayability is the endpoint's confidence classification.
type Replayability struct {
	Tier     Tier     `json:"tier"`
	Verified bool     `json:"verified"`
	Signals  []string `json:"signals,omitempty"`
}

// Pagination describes a detected pagination mechanism.
type Pagination struct {
	Type  string `json:"type"`
	Param string `json:"param,omitempty"`
}

// FindEndpoint returns the endpoint with the given id, or nil.
func (f *File) FindEndpoint(id string) *Endpoint {
	for i := range f.Endpoints {
		if f.Endpoints[i].ID == id {
			return &f.Endpoints[i]
		}
	}
	return nil
}

// EndpointIDs returns the ids of all endpoints, in file order.
func (f *File) EndpointIDs() []string {
	ids := make([]string, 0, len(f.Endpoints))
	for i := range f.Endpoints {
		ids = append(ids, f.Endpoints[i].ID)
	}
	return ids
}
