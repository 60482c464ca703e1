package browse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apitap/internal/api"
	"apitap/internal/credstore"
	"apitap/internal/machinecrypto"
	"apitap/internal/replay"
	"apitap/internal/session"
	"apitap/internal/skill"
	"apitap/internal/ssrf"
)

type permissiveValidator struct{}

func (permissiveValidator) Validate(ctx context.Context, rawURL string) ssrf.Result {
	return ssrf.Result{Safe: true}
}

type staticDiscovery struct {
	result *api.DiscoveryResult
	calls  int
}

func (d *staticDiscovery) Discover(ctx context.Context, url string) (*api.DiscoveryResult, error) {
	d.calls++
	return d.result, nil
}

func newFixture(t *testing.T, discovery api.Discovery) (*Orchestrator, *skill.Store) {
	t.Helper()
	cipher := machinecrypto.NewFromMachineID("browse-test-machine")
	fs := afero.NewMemMapFs()
	skills := skill.NewStore(fs, "/skills", cipher)
	creds := credstore.NewStore(fs, "/creds", cipher)
	engine := replay.NewEngine(skills, creds, permissiveValidator{}, nil)
	return New(session.NewCache(), skills, discovery, engine), skills
}

func greenGet(id, path string) skill.Endpoint {
	return skill.Endpoint{
		ID: id, Method: "GET", Path: path,
		Replayability: skill.Replayability{Tier: skill.TierGreen},
	}
}

func TestBrowseReplaysStoredSkillFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	o, skills := newFixture(t, nil)
	require.NoError(t, skills.Save(&skill.File{
		Version: skill.FormatVersion, Domain: "127.0.0.1", BaseURL: server.URL,
		Endpoints: []skill.Endpoint{greenGet("get-items", "/items")},
	}, skill.ProvenanceSelf))

	result, err := o.Browse(context.Background(), "http://127.0.0.1/anything")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, session.SourceDisk, result.Source)
	assert.Equal(t, "get-items", result.EndpointID)
	require.NotNil(t, result.Outcome)
	assert.Equal(t, http.StatusOK, result.Outcome.Status)
}

func TestBrowseUnknownDomainSuggestsCapture(t *testing.T) {
	o, _ := newFixture(t, nil)
	result, err := o.Browse(context.Background(), "https://unknown.example.com/page")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, SuggestionCapture, result.Suggestion)
}

func TestBrowseUsesDiscoverySkeleton(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	// Discovery skeletons carry unverified endpoints and are never
	// written to disk; the replay must run off the in-memory file.
	discovery := &staticDiscovery{result: &api.DiscoveryResult{
		Confidence: api.ConfidenceHigh,
		Frameworks: []string{"nextjs"},
		SkillFile: &skill.File{
			Version: skill.FormatVersion, Domain: "127.0.0.1", BaseURL: server.URL,
			Endpoints: []skill.Endpoint{{
				ID: "get-api-data", Method: "GET", Path: "/api/data",
				Replayability: skill.Replayability{Tier: skill.TierUnknown, Signals: []string{"openapi-spec"}},
			}},
		},
	}}
	o, skills := newFixture(t, discovery)

	result, err := o.Browse(context.Background(), "http://127.0.0.1/page")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, session.SourceDiscovered, result.Source)
	assert.Equal(t, "get-api-data", result.EndpointID)
	require.NotNil(t, result.Outcome)
	assert.Equal(t, http.StatusOK, result.Outcome.Status)
	require.NotNil(t, result.Discovery)

	_, err = skills.Load("127.0.0.1")
	require.Error(t, err)

	t.Run("skeleton is cached", func(t *testing.T) {
		_, err := o.Browse(context.Background(), "http://127.0.0.1/page")
		require.NoError(t, err)
		assert.Equal(t, 1, discovery.calls)
	})
}

func TestBrowseLowConfidenceDiscoveryIsNotReplayed(t *testing.T) {
	discovery := &staticDiscovery{result: &api.DiscoveryResult{
		Confidence: api.ConfidenceLow,
		SkillFile: &skill.File{
			Version: skill.FormatVersion, Domain: "site.example.com",
			Endpoints: []skill.Endpoint{greenGet("get-guess", "/guess")},
		},
	}}
	o, _ := newFixture(t, discovery)

	result, err := o.Browse(context.Background(), "https://site.example.com/page")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, SuggestionCapture, result.Suggestion)
}

func TestBestEndpointSelectionOrder(t *testing.T) {
	yellow := skill.Endpoint{ID: "get-y", Method: "GET", Path: "/y",
		Replayability: skill.Replayability{Tier: skill.TierYellow}}
	greenPost := skill.Endpoint{ID: "post-g", Method: "POST", Path: "/g",
		Replayability: skill.Replayability{Tier: skill.TierGreen}}
	greenGetLong := skill.Endpoint{ID: "get-long", Method: "GET", Path: "/a/very/long/path",
		Replayability: skill.Replayability{Tier: skill.TierGreen}}
	greenGetShort := skill.Endpoint{ID: "get-short", Method: "GET", Path: "/s",
		Replayability: skill.Replayability{Tier: skill.TierGreen}}
	red := skill.Endpoint{ID: "get-red", Method: "GET", Path: "/r",
		Replayability: skill.Replayability{Tier: skill.TierRed}}
	unknown := skill.Endpoint{ID: "get-u", Method: "GET", Path: "/u",
		Replayability: skill.Replayability{Tier: skill.TierUnknown}}

	t.Run("green beats yellow", func(t *testing.T) {
		f := &skill.File{Endpoints: []skill.Endpoint{yellow, greenPost}}
		assert.Equal(t, "post-g", bestEndpoint(f).ID)
	})
	t.Run("GET beats POST within a tier", func(t *testing.T) {
		f := &skill.File{Endpoints: []skill.Endpoint{greenPost, greenGetLong}}
		assert.Equal(t, "get-long", bestEndpoint(f).ID)
	})
	t.Run("shortest path wins", func(t *testing.T) {
		f := &skill.File{Endpoints: []skill.Endpoint{greenGetLong, greenGetShort}}
		assert.Equal(t, "get-short", bestEndpoint(f).ID)
	})
	t.Run("yellow beats unknown", func(t *testing.T) {
		f := &skill.File{Endpoints: []skill.Endpoint{unknown, yellow}}
		assert.Equal(t, "get-y", bestEndpoint(f).ID)
	})
	t.Run("unknown is the fallback", func(t *testing.T) {
		f := &skill.File{Endpoints: []skill.Endpoint{red, unknown}}
		assert.Equal(t, "get-u", bestEndpoint(f).ID)
	})
	t.Run("red is never auto-replayed", func(t *testing.T) {
		f := &skill.File{Endpoints: []skill.Endpoint{red}}
		assert.Nil(t, bestEndpoint(f))
	})
}
