package generator

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apitap/internal/api"
	"apitap/internal/skill"
)

func makeExchange(method, rawURL string, mutate ...func(*api.Exchange)) api.Exchange {
	ex := api.Exchange{
		Request: api.ExchangeRequest{
			URL:     rawURL,
			Method:  method,
			Headers: map[string]string{"accept": "application/json"},
		},
		Response: api.ExchangeResponse{
			Status:      200,
			Body:        `{"ok":true}`,
			ContentType: "application/json",
		},
		Timestamp: time.Now(),
	}
	for _, m := range mutate {
		m(&ex)
	}
	return ex
}

// unsignedJWT builds a JWT-shaped token with the given claims and a
// fake signature. The generator never verifies signatures.
func unsignedJWT(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	enc := base64.RawURLEncoding
	return fmt.Sprintf("%s.%s.%s", enc.EncodeToString(header), enc.EncodeToString(payload), enc.EncodeToString([]byte("sig")))
}

func TestPathDeduplication(t *testing.T) {
	g := New("test")
	g.Add(makeExchange("GET", "https://api.example.com/users/123/posts/550e8400-e29b-41d4-a716-446655440000"))
	g.Add(makeExchange("GET", "https://api.example.com/users/42/posts/550e8400-e29b-41d4-a716-446655440001"))

	files, _ := g.ToSkillFiles()
	require.Len(t, files, 1)
	require.Len(t, files[0].Endpoints, 1)
	assert.Equal(t, "/users/:id/posts/:uuid", files[0].Endpoints[0].Path)
	assert.Equal(t, 2, files[0].Metadata.CaptureCount)
}

func TestParameterizationStability(t *testing.T) {
	a := ParameterizePath("/users/123/posts/550e8400-e29b-41d4-a716-446655440000")
	b := ParameterizePath("/users/42/posts/550e8400-e29b-41d4-a716-446655440001")
	assert.Equal(t, a, b)
}

func TestParameterizePath(t *testing.T) {
	cases := map[string]string{
		"/":                          "/",
		"/api/items":                 "/api/items",
		"/api/item/42":               "/api/item/:id",
		"/v2/users/01ARZ3NDEKTSV4RRFFQ69G5FAV": "/v2/users/:ulid",
		"/files/aGVsbG8td29ybGQtMTIzNDU2Nzg5MA": "/files/:token",
		"/orders/550e8400-e29b-41d4-a716-446655440000/lines/7": "/orders/:uuid/lines/:id",
	}
	for input, want := range cases {
		t.Run(input, func(t *testing.T) {
			assert.Equal(t, want, ParameterizePath(input))
		})
	}
}

func TestEndpointID(t *testing.T) {
	assert.Equal(t, "get-api-item-id", EndpointID("GET", "/api/item/:id"))
	assert.Equal(t, "post-v1-orders", EndpointID("POST", "/v1/orders"))
}

func TestDomainGrouping(t *testing.T) {
	g := New("test")
	g.Add(makeExchange("GET", "https://api.example.com/a"))
	g.Add(makeExchange("GET", "https://cdn.example.com/b"))

	files, _ := g.ToSkillFiles()
	require.Len(t, files, 2)
	domains := []string{files[0].Domain, files[1].Domain}
	assert.Contains(t, domains, "api.example.com")
	assert.Contains(t, domains, "cdn.example.com")
}

func TestQueryParamCapture(t *testing.T) {
	g := New("test")
	g.Add(makeExchange("GET", "https://api.example.com/search?q=shoes&page=2&debug=true"))

	files, _ := g.ToSkillFiles()
	ep := files[0].Endpoints[0]
	require.NotNil(t, ep.QueryParams)
	assert.Equal(t, "string", ep.QueryParams["q"].Type)
	assert.Equal(t, "shoes", ep.QueryParams["q"].Example)
	assert.Equal(t, "number", ep.QueryParams["page"].Type)
	assert.Equal(t, "boolean", ep.QueryParams["debug"].Type)
}

func TestResponseSchemaSnapshot(t *testing.T) {
	g := New("test")
	g.Add(makeExchange("GET", "https://api.example.com/item/7", func(ex *api.Exchange) {
		ex.Response.Body = `{"id":7,"name":"widget","tags":["a"]}`
	}))

	files, _ := g.ToSkillFiles()
	ep := files[0].Endpoints[0]
	require.NotNil(t, ep.ResponseShape)
	assert.Equal(t, "object", ep.ResponseShape.Type)
	assert.Equal(t, []string{"id", "name", "tags"}, ep.ResponseShape.Fields)
	require.NotNil(t, ep.ResponseSchema)
	assert.Equal(t, "number", ep.ResponseSchema.Fields["id"].Type)
}

func TestBodyVariableDetection(t *testing.T) {
	t.Run("value-shape strategy", func(t *testing.T) {
		vars := DetectBodyVariables(`{"item_ref":"550e8400-e29b-41d4-a716-446655440000","label":"hello"}`, "application/json")
		assert.Equal(t, []string{"item_ref"}, vars)
	})

	t.Run("key-name strategy", func(t *testing.T) {
		vars := DetectBodyVariables(`{"csrf_token":"abc","q":"shoes","color":"red"}`, "application/json")
		assert.Contains(t, vars, "csrf_token")
		assert.Contains(t, vars, "q")
		assert.NotContains(t, vars, "color")
	})

	t.Run("form-encoded bodies", func(t *testing.T) {
		vars := DetectBodyVariables("page=3&session=xyz&color=red", "application/x-www-form-urlencoded")
		assert.Contains(t, vars, "page")
		assert.Contains(t, vars, "session")
		assert.NotContains(t, vars, "color")
	})

	t.Run("nested paths are dotted", func(t *testing.T) {
		vars := DetectBodyVariables(`{"filters":{"timestamp":"2026-01-01"}}`, "application/json")
		assert.Equal(t, []string{"filters.timestamp"}, vars)
	})
}

func TestCrossRequestDiff(t *testing.T) {
	t.Run("changed scalars become dynamic", func(t *testing.T) {
		paths := DiffBodies(`{"a":"same","b":"one"}`, `{"a":"same","b":"two"}`)
		assert.Equal(t, []string{"b"}, paths)
	})

	t.Run("array length change marks the array", func(t *testing.T) {
		paths := DiffBodies(`{"items":[1,2]}`, `{"items":[1,2,3]}`)
		assert.Equal(t, []string{"items"}, paths)
	})

	t.Run("equal-length arrays diff element-wise", func(t *testing.T) {
		paths := DiffBodies(`{"items":[{"x":1},{"x":2}]}`, `{"items":[{"x":1},{"x":9}]}`)
		assert.Equal(t, []string{"items.1.x"}, paths)
	})

	t.Run("applied at finalize", func(t *testing.T) {
		g := New("test")
		post := func(body string) api.Exchange {
			return makeExchange("POST", "https://api.example.com/submit", func(ex *api.Exchange) {
				ex.Request.PostData = body
				ex.Request.Headers["content-type"] = "application/json"
			})
		}
		g.Add(post(`{"action":"submit","note":"first"}`))
		g.Add(post(`{"action":"submit","note":"second"}`))

		files, _ := g.ToSkillFiles()
		require.Len(t, files[0].Endpoints, 1)
		rb := files[0].Endpoints[0].RequestBody
		require.NotNil(t, rb)
		assert.Contains(t, rb.Variables, "note")
		assert.NotContains(t, rb.Variables, "action")
	})
}

func TestAuthExtraction(t *testing.T) {
	t.Run("bearer JWT with exp", func(t *testing.T) {
		exp := time.Now().Add(time.Hour).Unix()
		token := unsignedJWT(t, map[string]interface{}{"sub": "u1", "exp": exp})

		g := New("test")
		g.Add(makeExchange("GET", "https://api.example.com/me", func(ex *api.Exchange) {
			ex.Request.Headers["authorization"] = "Bearer " + token
		}))

		files, findings := g.ToSkillFiles()
		require.Contains(t, findings, "api.example.com")
		auth := findings["api.example.com"].Auth
		require.NotNil(t, auth)
		assert.Equal(t, "bearer", auth.Type)
		require.NotNil(t, auth.ExpiresAt)
		assert.Equal(t, exp, auth.ExpiresAt.Unix())

		// The skill file must not carry the real value.
		ep := files[0].Endpoints[0]
		assert.Equal(t, skill.StoredPlaceholder, ep.Headers["authorization"])
	})

	t.Run("api key", func(t *testing.T) {
		g := New("test")
		g.Add(makeExchange("GET", "https://api.example.com/data", func(ex *api.Exchange) {
			ex.Request.Headers["x-api-key"] = "key-123456"
		}))
		_, findings := g.ToSkillFiles()
		require.Contains(t, findings, "api.example.com")
		assert.Equal(t, "api-key", findings["api.example.com"].Auth.Type)
	})

	t.Run("high-entropy custom header", func(t *testing.T) {
		g := New("test")
		g.Add(makeExchange("GET", "https://api.example.com/data", func(ex *api.Exchange) {
			ex.Request.Headers["x-goog-visitor-id"] = "CgtXaG9sZUxvdHRhRW50cm9weVZhbHVlMTIzNDU2Nzg5MEFiQ2RFZkdoSWpLbA%3D%3D"
		}))
		files, findings := g.ToSkillFiles()
		require.Contains(t, findings, "api.example.com")
		assert.Equal(t, "custom", findings["api.example.com"].Auth.Type)
		assert.Equal(t, skill.StoredPlaceholder, files[0].Endpoints[0].Headers["x-goog-visitor-id"])
	})

	t.Run("low-entropy header stays literal", func(t *testing.T) {
		g := New("test")
		g.Add(makeExchange("GET", "https://api.example.com/data", func(ex *api.Exchange) {
			ex.Request.Headers["x-client-name"] = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
		}))
		files, findings := g.ToSkillFiles()
		assert.NotContains(t, findings, "api.example.com")
		assert.NotEqual(t, skill.StoredPlaceholder, files[0].Endpoints[0].Headers["x-client-name"])
	})
}

func TestOAuthDetection(t *testing.T) {
	t.Run("token endpoint with refresh token", func(t *testing.T) {
		g := New("test")
		g.Add(makeExchange("POST", "https://auth.example.com/oauth/token", func(ex *api.Exchange) {
			ex.Request.PostData = "grant_type=refresh_token&client_id=web-client&refresh_token=rt-secret"
			ex.Request.Headers["content-type"] = "application/x-www-form-urlencoded"
			ex.Response.Body = `{"access_token":"at-1","refresh_token":"rt-next","expires_in":3600}`
		}))

		files, findings := g.ToSkillFiles()
		require.NotNil(t, files[0].Auth)
		cfg := files[0].Auth.OAuthConfig
		require.NotNil(t, cfg)
		assert.Equal(t, "https://auth.example.com/oauth/token", cfg.TokenEndpoint)
		assert.Equal(t, "web-client", cfg.ClientID)
		assert.Equal(t, "refresh_token", cfg.GrantType)

		// Refresh token goes to the credential findings, never the file.
		require.Contains(t, findings, "auth.example.com")
		assert.Equal(t, "rt-next", findings["auth.example.com"].Credentials.RefreshToken)

		// The token exchange's endpoint keeps its shape but not the
		// grant body or the raw token response.
		ep := files[0].Endpoints[0]
		assert.Nil(t, ep.RequestBody)
		require.NotNil(t, ep.Examples)
		assert.Empty(t, ep.Examples.ResponsePreview)
		raw, err := json.Marshal(files[0])
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "rt-next")
		assert.NotContains(t, string(raw), "rt-secret")
	})

	t.Run("firebase securetoken client id from query", func(t *testing.T) {
		g := New("test")
		g.Add(makeExchange("POST", "https://securetoken.googleapis.com/v1/token?key=AIzaFirebaseKey", func(ex *api.Exchange) {
			ex.Request.PostData = "grant_type=refresh_token&refresh_token=fb-rt"
			ex.Response.Body = `{"access_token":"at","refresh_token":"fb-rt-2"}`
		}))
		files, _ := g.ToSkillFiles()
		cfg := files[0].Auth.OAuthConfig
		require.NotNil(t, cfg)
		assert.Equal(t, "AIzaFirebaseKey", cfg.ClientID)
	})

	t.Run("access_token body without token URL", func(t *testing.T) {
		g := New("test")
		g.Add(makeExchange("POST", "https://api.example.com/session/start", func(ex *api.Exchange) {
			ex.Response.Body = `{"access_token":"at-x","token_type":"Bearer"}`
		}))
		files, _ := g.ToSkillFiles()
		require.NotNil(t, files[0].Auth)
		assert.NotNil(t, files[0].Auth.OAuthConfig)
	})
}

func TestPaginationDetection(t *testing.T) {
	t.Run("cursor query param", func(t *testing.T) {
		g := New("test")
		g.Add(makeExchange("GET", "https://api.example.com/feed?cursor=abc&limit=20"))
		files, _ := g.ToSkillFiles()
		p := files[0].Endpoints[0].Pagination
		require.NotNil(t, p)
		assert.Equal(t, "cursor", p.Type)
		assert.Equal(t, "cursor", p.Param)
	})

	t.Run("page number beats offset", func(t *testing.T) {
		g := New("test")
		g.Add(makeExchange("GET", "https://api.example.com/items?page=2&offset=40"))
		files, _ := g.ToSkillFiles()
		p := files[0].Endpoints[0].Pagination
		require.NotNil(t, p)
		assert.Equal(t, "page", p.Type)
		assert.Equal(t, "page", p.Param)
	})

	t.Run("cursor in request body", func(t *testing.T) {
		g := New("test")
		g.Add(makeExchange("POST", "https://api.example.com/search", func(ex *api.Exchange) {
			ex.Request.PostData = `{"q":"boots","next_token":"tok"}`
			ex.Request.Headers["content-type"] = "application/json"
		}))
		files, _ := g.ToSkillFiles()
		p := files[0].Endpoints[0].Pagination
		require.NotNil(t, p)
		assert.Equal(t, "cursor", p.Type)
		assert.Equal(t, "next_token", p.Param)
	})

	t.Run("no pagination", func(t *testing.T) {
		g := New("test")
		g.Add(makeExchange("GET", "https://api.example.com/me"))
		files, _ := g.ToSkillFiles()
		assert.Nil(t, files[0].Endpoints[0].Pagination)
	})
}

func TestReplayabilityHeuristics(t *testing.T) {
	t.Run("auth header means yellow", func(t *testing.T) {
		g := New("test")
		g.Add(makeExchange("GET", "https://api.example.com/me", func(ex *api.Exchange) {
			ex.Request.Headers["authorization"] = "Bearer abc"
		}))
		files, _ := g.ToSkillFiles()
		assert.Equal(t, skill.TierYellow, files[0].Endpoints[0].Replayability.Tier)
	})

	t.Run("csrf header means orange", func(t *testing.T) {
		g := New("test")
		g.Add(makeExchange("POST", "https://api.example.com/update", func(ex *api.Exchange) {
			ex.Request.Headers["x-csrf-token"] = "tok"
		}))
		files, _ := g.ToSkillFiles()
		assert.Equal(t, skill.TierOrange, files[0].Endpoints[0].Replayability.Tier)
	})

	t.Run("captcha risk means red", func(t *testing.T) {
		g := New("test")
		g.Add(makeExchange("GET", "https://api.example.com/data", func(ex *api.Exchange) {
			ex.CaptchaRisk = true
		}))
		files, _ := g.ToSkillFiles()
		assert.Equal(t, skill.TierRed, files[0].Endpoints[0].Replayability.Tier)
		require.NotNil(t, files[0].Auth)
		assert.True(t, files[0].Auth.CaptchaRisk)
	})

	t.Run("no auth means green", func(t *testing.T) {
		g := New("test")
		g.Add(makeExchange("GET", "https://api.example.com/public"))
		files, _ := g.ToSkillFiles()
		assert.Equal(t, skill.TierGreen, files[0].Endpoints[0].Replayability.Tier)
	})
}

func TestJWTHelpers(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Unix()
	token := unsignedJWT(t, map[string]interface{}{"exp": exp, "aud": "api"})

	got := jwtExpiry("Bearer " + token)
	require.NotNil(t, got)
	assert.Equal(t, exp, got.Unix())

	claims := JWTClaims(token)
	require.NotNil(t, claims)
	assert.Equal(t, "api", claims["aud"])

	assert.Nil(t, jwtExpiry("Bearer opaque-token"))
	assert.Nil(t, JWTClaims("not.a"))
}

func TestShannonEntropy(t *testing.T) {
	assert.InDelta(t, 0.0, shannonEntropy("aaaa"), 0.01)
	assert.Greater(t, shannonEntropy("8f3kD9mX2qL7vB1nZ5wP0tR4yH6jC8sA"), 4.0)
}
