package credstore

import (
	"sort"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apitap/internal/machinecrypto"
)

func newTestStore(t *testing.T, machineID string) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	cipher := machinecrypto.NewFromMachineID(machineID)
	return NewStore(fs, "/state", cipher), fs
}

func sortedDomains(m map[string]time.Time) []string {
	out := make([]string, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func TestAuthRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, "cred-machine")

	auth := &Auth{Type: "bearer", Header: "authorization", Value: "Bearer tok-1"}
	require.NoError(t, store.Store("api.example.com", auth))

	got, err := store.Retrieve("api.example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Bearer tok-1", got.Value)

	t.Run("case-insensitive domain", func(t *testing.T) {
		got, err := store.Retrieve("API.Example.COM")
		require.NoError(t, err)
		require.NotNil(t, got)
	})

	t.Run("unknown domain reads as nil", func(t *testing.T) {
		got, err := store.Retrieve("other.example.com")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestParentDomainFallback(t *testing.T) {
	store, _ := newTestStore(t, "cred-machine")
	require.NoError(t, store.Store("example.com", &Auth{Type: "cookie", Header: "cookie", Value: "sid=abc"}))

	got, err := store.RetrieveWithFallback("api.v2.example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sid=abc", got.Value)

	got, err = store.RetrieveWithFallback("unrelated.org")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParentDomains(t *testing.T) {
	assert.Equal(t, []string{"api.a.b", "a.b"}, ParentDomains("api.a.b"))
	assert.Equal(t, []string{"deep.api.v2.example.com", "api.v2.example.com", "v2.example.com", "example.com"},
		ParentDomains("deep.api.v2.example.com"))
	assert.Equal(t, []string{"example.com"}, ParentDomains("example.com"))
	assert.Equal(t, []string{"localhost"}, ParentDomains("localhost"))
	assert.Equal(t, []string{"192.168.0.1"}, ParentDomains("192.168.0.1"))
}

func TestMachineChangeInvalidatesStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	s1 := NewStore(fs, "/state", machinecrypto.NewFromMachineID("machine-1"))
	require.NoError(t, s1.Store("example.com", &Auth{Type: "bearer", Header: "authorization", Value: "Bearer x"}))

	// Same file, different machine identity: decryption fails closed and
	// the store reads as empty.
	s2 := NewStore(fs, "/state", machinecrypto.NewFromMachineID("machine-2"))
	got, err := s2.Retrieve("example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessions(t *testing.T) {
	store, _ := newTestStore(t, "cred-machine")

	session := &Session{
		Cookies:  []Cookie{{Name: "sid", Value: "abc", Domain: ".example.com"}},
		MaxAgeMS: int64(time.Hour / time.Millisecond),
	}
	require.NoError(t, store.StoreSession("example.com", session))

	got, err := store.RetrieveSession("example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Cookies, 1)

	t.Run("fallback walks parents", func(t *testing.T) {
		got, err := store.RetrieveSessionWithFallback("api.example.com")
		require.NoError(t, err)
		require.NotNil(t, got)
	})

	t.Run("expired session reads as absent", func(t *testing.T) {
		store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { store.now = time.Now }()
		got, err := store.RetrieveSession("example.com")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestSessionDefaultMaxAge(t *testing.T) {
	s := &Session{SavedAt: time.Now().Add(-23 * time.Hour)}
	assert.True(t, s.Valid(time.Now()))
	s.SavedAt = time.Now().Add(-25 * time.Hour)
	assert.False(t, s.Valid(time.Now()))
}

func TestTokens(t *testing.T) {
	store, _ := newTestStore(t, "cred-machine")

	require.NoError(t, store.StoreTokens("example.com", map[string]string{
		"csrf_token": "a1b2c3",
	}))
	require.NoError(t, store.StoreTokens("example.com", map[string]string{
		"session_key": "zzz",
	}))

	tokens, err := store.RetrieveTokens("example.com")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "a1b2c3", tokens["csrf_token"].Value)
	assert.False(t, tokens["csrf_token"].RefreshedAt.IsZero())
}

func TestOAuthCredentialsRotation(t *testing.T) {
	store, _ := newTestStore(t, "cred-machine")

	require.NoError(t, store.StoreOAuthCredentials("example.com", &OAuthCredentials{RefreshToken: "rt-1"}))
	require.NoError(t, store.StoreOAuthCredentials("example.com", &OAuthCredentials{RefreshToken: "rt-2"}))

	creds, err := store.RetrieveOAuthCredentials("example.com")
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "rt-2", creds.RefreshToken)
}

func TestListAndClear(t *testing.T) {
	store, _ := newTestStore(t, "cred-machine")
	require.NoError(t, store.Store("a.example.com", &Auth{Type: "bearer", Header: "authorization", Value: "x"}))
	require.NoError(t, store.Store("b.example.com", &Auth{Type: "bearer", Header: "authorization", Value: "y"}))

	domains, err := store.ListDomains()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, sortedDomains(domains))

	require.NoError(t, store.Clear("a.example.com"))
	domains, err = store.ListDomains()
	require.NoError(t, err)
	assert.Equal(t, []string{"b.example.com"}, sortedDomains(domains))

	require.NoError(t, store.ClearAll())
	domains, err = store.ListDomains()
	require.NoError(t, err)
	assert.Empty(t, domains)
}

func TestStorePersistsAcrossInstances(t *testing.T) {
	fs := afero.NewMemMapFs()
	cipher := machinecrypto.NewFromMachineID("cred-machine")

	s1 := NewStore(fs, "/state", cipher)
	require.NoError(t, s1.Store("example.com", &Auth{Type: "api-key", Header: "x-api-key", Value: "k"}))

	s2 := NewStore(fs, "/state", cipher)
	got, err := s2.Retrieve("example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "k", got.Value)
}
