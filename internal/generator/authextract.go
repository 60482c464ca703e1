package generator

import (
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"apitap/internal/credstore"
	"apitap/internal/skill"
)

// entropyThreshold is the Shannon entropy (bits per byte) above which
// a long custom header value is treated as a credential.
const entropyThreshold = 4.0

// minCustomAuthLength is the minimum value length for the entropy
// heuristic to apply.
const minCustomAuthLength = 32

var sessionCookiePattern = regexp.MustCompile(`(?i)(session|sess_?id|sid|auth|token|jwt)`)

var csrfHeaderPattern = regexp.MustCompile(`(?i)^(x-)?(csrf|xsrf)([-_]token)?$`)

// tokenEndpointPattern matches URL paths of known OAuth token
// endpoints, including the Firebase securetoken shape.
var tokenEndpointPattern = regexp.MustCompile(`(?i)(/oauth2?/(v\d+/)?token|/token$|securetoken\.googleapis\.com|/connect/token|/auth/realms/[^/]+/protocol/openid-connect/token)`)

// standard headers exempt from the entropy heuristic.
var entropyExemptHeaders = map[string]bool{
	"accept": true, "accept-language": true, "accept-encoding": true,
	"content-type": true, "content-length": true, "user-agent": true,
	"referer": true, "origin": true, "host": true, "connection": true,
	"cache-control": true, "pragma": true, "if-none-match": true,
	"if-modified-since": true, "etag": true, "traceparent": true,
}

// AuthFindings collects everything the generator extracts about a
// domain's authentication. Secrets here flow to the credential store,
// never into the skill file.
type AuthFindings struct {
	Auth        *credstore.Auth
	OAuth       *skill.OAuthConfig
	Credentials *credstore.OAuthCredentials
	// AuthHeaders are the request header names (lowercased) whose
	// values were extracted and must be rewritten to [stored].
	AuthHeaders map[string]bool
}

func newAuthFindings() *AuthFindings {
	return &AuthFindings{AuthHeaders: map[string]bool{}}
}

// extractAuth inspects one exchange's request headers for credentials.
func (f *AuthFindings) extractAuth(headers map[string]string) {
	for name, value := range headers {
		lower := strings.ToLower(name)
		switch {
		case lower == "authorization":
			f.AuthHeaders[lower] = true
			f.setAuth(&credstore.Auth{Type: "bearer", Header: lower, Value: value, ExpiresAt: jwtExpiry(value)})
		case lower == "x-api-key":
			f.AuthHeaders[lower] = true
			f.setAuth(&credstore.Auth{Type: "api-key", Header: lower, Value: value})
		case lower == "cookie":
			if sessionCookiePattern.MatchString(value) {
				f.AuthHeaders[lower] = true
				if f.Auth == nil {
					f.setAuth(&credstore.Auth{Type: "cookie", Header: lower, Value: value})
				}
			}
		default:
			if !entropyExemptHeaders[lower] && !strings.HasPrefix(lower, "sec-") &&
				len(value) >= minCustomAuthLength && shannonEntropy(value) >= entropyThreshold {
				f.AuthHeaders[lower] = true
				if f.Auth == nil {
					f.setAuth(&credstore.Auth{Type: "custom", Header: lower, Value: value})
				}
			}
		}
	}
}

// setAuth prefers bearer over weaker findings but never downgrades.
func (f *AuthFindings) setAuth(auth *credstore.Auth) {
	if f.Auth == nil || auth.Type == "bearer" {
		f.Auth = auth
	}
}

// extractOAuth inspects an exchange for an OAuth token response. A
// match records the token endpoint config and captures refresh
// credentials separately.
func (f *AuthFindings) extractOAuth(reqURL, reqBody, respBody string) {
	if !isOAuthTokenExchange(reqURL, respBody) {
		return
	}

	cfg := &skill.OAuthConfig{TokenEndpoint: reqURL, GrantType: "refresh_token"}
	if u, err := url.Parse(reqURL); err == nil {
		u.RawQuery = ""
		u.Fragment = ""
		cfg.TokenEndpoint = u.String()

		// Firebase-style endpoints carry the client id as ?key=.
		if key := urlQueryValue(reqURL, "key"); key != "" {
			cfg.ClientID = key
		}
	}

	form, _ := url.ParseQuery(reqBody)
	if id := form.Get("client_id"); id != "" {
		cfg.ClientID = id
	}
	if grant := form.Get("grant_type"); grant != "" {
		cfg.GrantType = grant
	}
	if scope := form.Get("scope"); scope != "" {
		cfg.Scope = scope
	}

	creds := &credstore.OAuthCredentials{}
	if secret := form.Get("client_secret"); secret != "" {
		creds.ClientSecret = secret
		if form.Get("grant_type") == "" {
			cfg.GrantType = "client_credentials"
		}
	}
	if rt := gjson.Get(respBody, "refresh_token"); rt.Type == gjson.String {
		creds.RefreshToken = rt.String()
	} else if rt := form.Get("refresh_token"); rt != "" {
		creds.RefreshToken = rt
	}

	f.OAuth = cfg
	if creds.ClientSecret != "" || creds.RefreshToken != "" {
		f.Credentials = creds
	}
}

// isOAuthTokenExchange reports whether an exchange is an OAuth token
// grant. Its request body and response carry grant secrets and are
// excluded from the skill file; the credential store gets them via
// extractOAuth.
func isOAuthTokenExchange(reqURL, respBody string) bool {
	return tokenEndpointPattern.MatchString(reqURL) ||
		gjson.Get(respBody, "access_token").Type == gjson.String
}

// jwtExpiry parses a bearer value as a JWT and returns its exp claim,
// if any. The signature is not verified; only the claim set matters
// for expiry scheduling.
func jwtExpiry(bearerValue string) *time.Time {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(bearerValue), "Bearer "))
	if strings.Count(raw, ".") != 2 {
		return nil
	}
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time
	return &t
}

// JWTClaims returns the decoded claim set of a bearer value, or nil.
func JWTClaims(bearerValue string) map[string]interface{} {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(bearerValue), "Bearer "))
	if strings.Count(raw, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil
	}
	return claims
}

// shannonEntropy computes bits of entropy per byte of s.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	entropy := 0.0
	length := float64(len(s))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func urlQueryValue(rawURL, key string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}
