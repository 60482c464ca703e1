// Package ssrf guards every outbound fetch against server-side request
// forgery. A URL is validated before the initial request, again after
// a redirect, and when importing a skill file against its baseUrl.
package ssrf

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"os"
	"strings"
)

// EnvSkipCheck disables validation entirely. Intended only for hermetic
// test servers bound to loopback.
const EnvSkipCheck = "APITAP_SKIP_SSRF_CHECK"

// cloudMetadataAddr is the link-local cloud metadata service. It is
// inside 169.254.0.0/16 but is called out separately so the rejection
// reason is explicit.
var cloudMetadataAddr = netip.MustParseAddr("169.254.169.254")

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
}

// Result reports whether a URL is safe to fetch and, when it is not,
// why.
type Result struct {
	Safe   bool
	Reason string
}

// Resolver resolves a hostname to IP addresses. Swappable in tests.
type Resolver func(ctx context.Context, host string) ([]netip.Addr, error)

// Validator checks URLs for SSRF safety.
type Validator struct {
	resolve Resolver
	skip    bool
}

// New creates a Validator using the system DNS resolver. The
// APITAP_SKIP_SSRF_CHECK environment variable, when set to a non-empty
// value, turns every check into a pass.
func New() *Validator {
	return &Validator{
		resolve: systemResolver,
		skip:    os.Getenv(EnvSkipCheck) != "",
	}
}

// NewWithResolver creates a Validator with a custom resolver.
func NewWithResolver(resolve Resolver) *Validator {
	return &Validator{resolve: resolve}
}

func systemResolver(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// Validate parses rawURL, requires an http(s) scheme, resolves the
// host, and rejects any address in a private, loopback, link-local,
// multicast, or reserved range.
func (v *Validator) Validate(ctx context.Context, rawURL string) Result {
	if v.skip {
		return Result{Safe: true}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{Reason: fmt.Sprintf("unparseable URL: %v", err)}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Result{Reason: fmt.Sprintf("scheme %q is not allowed", u.Scheme)}
	}
	host := u.Hostname()
	if host == "" {
		return Result{Reason: "URL has no host"}
	}

	var addrs []netip.Addr
	if addr, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{addr}
	} else {
		addrs, err = v.resolve(ctx, host)
		if err != nil {
			return Result{Reason: fmt.Sprintf("DNS resolution failed for %s: %v", host, err)}
		}
		if len(addrs) == 0 {
			return Result{Reason: fmt.Sprintf("no addresses resolved for %s", host)}
		}
	}

	for _, addr := range addrs {
		if reason := checkAddr(addr.Unmap()); reason != "" {
			return Result{Reason: reason}
		}
	}
	return Result{Safe: true}
}

func checkAddr(addr netip.Addr) string {
	switch {
	case addr == cloudMetadataAddr:
		return "address is the cloud metadata service"
	case addr.IsLoopback():
		return fmt.Sprintf("address %s is loopback", addr)
	case addr.IsPrivate():
		// Covers 10/8, 172.16/12, 192.168/16 and IPv6 ULA fc00::/7.
		return fmt.Sprintf("address %s is in a private range", addr)
	case addr.IsMulticast():
		// Before link-local: 224.0.0.0/24 and ff02::/16 are both, and
		// multicast is the more specific reason.
		return fmt.Sprintf("address %s is multicast", addr)
	case addr.IsLinkLocalUnicast():
		return fmt.Sprintf("address %s is link-local", addr)
	case addr.IsUnspecified():
		return fmt.Sprintf("address %s is unspecified", addr)
	}
	for _, p := range reservedPrefixes {
		if p.Addr().Is4() == addr.Is4() && p.Contains(addr) {
			return fmt.Sprintf("address %s is in reserved range %s", addr, p)
		}
	}
	return ""
}
