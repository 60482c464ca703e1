package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apitap/internal/apiterr"
	"apitap/internal/ssrf"
)

func testValidator(t *testing.T) *ssrf.Validator {
	t.Helper()
	t.Setenv(ssrf.EnvSkipCheck, "1")
	return ssrf.New()
}

func TestReadExtractsVisibleText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>t</title><script>var x=1;</script></head>` +
			`<body><h1>Products</h1><style>.a{}</style><p>Boots and sandals</p></body></html>`))
	}))
	defer server.Close()

	r := New(testValidator(t))
	text, err := r.Read(context.Background(), server.URL, 0)
	require.NoError(t, err)
	assert.Contains(t, text, "Products")
	assert.Contains(t, text, "Boots and sandals")
	assert.NotContains(t, text, "var x=1")
	assert.NotContains(t, text, "<p>")
}

func TestPeekTruncates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("a", 10_000)))
	}))
	defer server.Close()

	r := New(testValidator(t))
	text, err := r.Peek(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Len(t, text, PeekBytes)
}

func TestReadPassesJSONThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[1,2,3]}`))
	}))
	defer server.Close()

	r := New(testValidator(t))
	text, err := r.Read(context.Background(), server.URL, 0)
	require.NoError(t, err)
	assert.Equal(t, `{"items":[1,2,3]}`, text)
}

func TestReadRejectsUnsafeURL(t *testing.T) {
	r := New(ssrf.New())
	_, err := r.Read(context.Background(), "http://169.254.169.254/latest/meta-data/", 0)
	var validationErr *apiterr.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestReadErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	r := New(testValidator(t))
	_, err := r.Read(context.Background(), server.URL, 0)
	assert.Error(t, err)
}
