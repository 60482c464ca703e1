// Package content fetches page content for peek and read operations.
// Every URL passes SSRF validation before any request is made, and
// HTML responses are reduced to their visible text.
package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"apitap/internal/api"
	"apitap/internal/apiterr"
	"apitap/internal/ssrf"
)

var _ api.ContentReader = (*Reader)(nil)

const (
	// PeekBytes is how much of a page a peek returns.
	PeekBytes = 2 << 10
	// DefaultReadBytes bounds a full read unless the caller asks
	// otherwise.
	DefaultReadBytes = 64 << 10

	fetchTimeout = 30 * time.Second
	userAgent    = "apitap/1.0"
)

// Reader fetches and extracts page text.
type Reader struct {
	client    *http.Client
	validator *ssrf.Validator
}

// New creates a Reader.
func New(validator *ssrf.Validator) *Reader {
	return &Reader{
		client:    &http.Client{Timeout: fetchTimeout},
		validator: validator,
	}
}

// Peek fetches the first PeekBytes of visible text from a URL.
func (r *Reader) Peek(ctx context.Context, url string) (string, error) {
	return r.Read(ctx, url, PeekBytes)
}

// Read fetches up to maxBytes of visible text from a URL.
func (r *Reader) Read(ctx context.Context, url string, maxBytes int) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultReadBytes
	}
	if res := r.validator.Validate(ctx, url); !res.Safe {
		return "", &apiterr.ValidationError{Reason: "unsafe URL: " + res.Reason}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html, application/json;q=0.9, text/plain;q=0.8, */*;q=0.5")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	// Read more than the budget so HTML markup stripped below does not
	// eat the whole allowance.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxBytes)*8))
	if err != nil {
		return "", err
	}

	text := string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		text = ExtractText(text)
	}
	if len(text) > maxBytes {
		text = text[:maxBytes]
	}
	return text, nil
}

// skipElements hold no visible text.
var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"template": true, "svg": true, "head": true,
}

// ExtractText reduces an HTML document to its visible text, one line
// per text node, with blank runs collapsed.
func ExtractText(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return page
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				b.WriteString(trimmed)
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimRight(b.String(), "\n")
}
