package skill

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apitap/internal/apiterr"
	"apitap/internal/machinecrypto"
)

func sampleFile() *File {
	return &File{
		Version:    FormatVersion,
		Domain:     "api.example.com",
		BaseURL:    "https://api.example.com",
		CapturedAt: "2026-08-01T10:00:00Z",
		Endpoints: []Endpoint{
			{
				ID:     "get-api-item-id",
				Method: "GET",
				Path:   "/api/item/:id",
				Headers: map[string]string{
					"accept":        "application/json",
					"authorization": StoredPlaceholder,
				},
				Examples:      &Examples{Request: ExampleRequest{URL: "https://api.example.com/api/item/42"}},
				Replayability: Replayability{Tier: TierYellow},
			},
			{
				ID:            "get-api-items",
				Method:        "GET",
				Path:          "/api/items",
				Replayability: Replayability{Tier: TierGreen},
			},
		},
		Metadata: Metadata{CaptureCount: 12, FilteredCount: 4, ToolVersion: "test"},
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	cipher := machinecrypto.NewFromMachineID("skill-test-machine")
	f := sampleFile()

	require.NoError(t, Sign(f, cipher, ProvenanceSelf))
	assert.Equal(t, ProvenanceSelf, f.Provenance)
	assert.NotEmpty(t, f.Signature)
	assert.True(t, VerifySignature(f, cipher))

	t.Run("mutating content falsifies verification", func(t *testing.T) {
		tampered := *f
		tampered.BaseURL = "https://evil.example.com"
		assert.False(t, VerifySignature(&tampered, cipher))
	})

	t.Run("endpoint order does not affect the signature", func(t *testing.T) {
		reordered := *f
		reordered.Endpoints = []Endpoint{f.Endpoints[1], f.Endpoints[0]}
		assert.True(t, VerifySignature(&reordered, cipher))
	})

	t.Run("different key fails", func(t *testing.T) {
		other := machinecrypto.NewFromMachineID("other-machine")
		assert.False(t, VerifySignature(f, other))
	})
}

func TestCanonicalExcludesSignature(t *testing.T) {
	cipher := machinecrypto.NewFromMachineID("skill-test-machine")
	f := sampleFile()

	// Provenance is covered by the signature, so it is stamped before
	// the baseline; only the signature bytes themselves are excluded.
	f.Provenance = ProvenanceSelf
	before, err := Canonical(f)
	require.NoError(t, err)
	require.NoError(t, Sign(f, cipher, ProvenanceSelf))
	after, err := Canonical(f)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.NotContains(t, string(after), "signature")

	t.Run("flipped provenance falsifies verification", func(t *testing.T) {
		tampered := *f
		tampered.Provenance = ProvenanceImported
		assert.False(t, VerifySignature(&tampered, cipher))
	})
}

func TestStoreSaveLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	cipher := machinecrypto.NewFromMachineID("skill-test-machine")
	store := NewStore(fs, "/skills", cipher)

	f := sampleFile()
	require.NoError(t, store.Save(f, ProvenanceSelf))

	loaded, err := store.Load("api.example.com")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceSelf, loaded.Provenance)
	assert.Equal(t, f.BaseURL, loaded.BaseURL)
	assert.Len(t, loaded.Endpoints, 2)

	domains, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"api.example.com"}, domains)
}

func TestStoreLoadUnknownDomainListsAlternatives(t *testing.T) {
	fs := afero.NewMemMapFs()
	cipher := machinecrypto.NewFromMachineID("skill-test-machine")
	store := NewStore(fs, "/skills", cipher)
	require.NoError(t, store.Save(sampleFile(), ProvenanceSelf))

	_, err := store.Load("other.example.com")
	var notFound *apiterr.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Contains(t, notFound.Alternatives, "api.example.com")
}

func TestStoreTamperedFileIsUnsigned(t *testing.T) {
	fs := afero.NewMemMapFs()
	cipher := machinecrypto.NewFromMachineID("skill-test-machine")
	store := NewStore(fs, "/skills", cipher)
	require.NoError(t, store.Save(sampleFile(), ProvenanceSelf))

	path := store.Path("api.example.com")
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["baseUrl"] = "https://evil.example.com"
	mutated, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, path, mutated, 0o600))

	loaded, err := store.Load("api.example.com")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceUnsigned, loaded.Provenance)
}

func TestStoreKeepsBackupOnOverwrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	cipher := machinecrypto.NewFromMachineID("skill-test-machine")
	store := NewStore(fs, "/skills", cipher)

	f := sampleFile()
	require.NoError(t, store.Save(f, ProvenanceSelf))
	f.Metadata.CaptureCount = 99
	require.NoError(t, store.Save(f, ProvenanceSelf))

	exists, err := afero.Exists(fs, "/skills/api.example.com.skill.json.bak")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestImport(t *testing.T) {
	fs := afero.NewMemMapFs()
	cipher := machinecrypto.NewFromMachineID("skill-test-machine")
	store := NewStore(fs, "/skills", cipher)

	data, err := json.Marshal(sampleFile())
	require.NoError(t, err)

	t.Run("re-signs as imported", func(t *testing.T) {
		f, err := store.Import(data, func(string) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, ProvenanceImported, f.Provenance)
		assert.True(t, VerifySignature(f, cipher))
	})

	t.Run("rejects unsafe baseUrl", func(t *testing.T) {
		_, err := store.Import(data, func(string) error { return errors.New("blocked") })
		var vErr *apiterr.ValidationError
		assert.True(t, errors.As(err, &vErr))
	})

	t.Run("rejects duplicate endpoint ids", func(t *testing.T) {
		dup := sampleFile()
		dup.Endpoints = append(dup.Endpoints, dup.Endpoints[0])
		dupData, err := json.Marshal(dup)
		require.NoError(t, err)
		_, err = store.Import(dupData, func(string) error { return nil })
		var iErr *apiterr.IntegrityError
		assert.True(t, errors.As(err, &iErr))
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		_, err := store.Import([]byte("{not json"), func(string) error { return nil })
		var iErr *apiterr.IntegrityError
		assert.True(t, errors.As(err, &iErr))
	})
}

func TestSchemaOf(t *testing.T) {
	var value interface{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": 7,
		"name": "widget",
		"tags": ["a", "b"],
		"owner": {"email": null},
		"active": true
	}`), &value))

	s := SchemaOf(value)
	require.Equal(t, "object", s.Type)
	assert.Equal(t, "number", s.Fields["id"].Type)
	assert.Equal(t, "string", s.Fields["name"].Type)
	assert.Equal(t, "array", s.Fields["tags"].Type)
	assert.Equal(t, "string", s.Fields["tags"].Items.Type)
	assert.Equal(t, "boolean", s.Fields["active"].Type)
	require.NotNil(t, s.Fields["owner"].Fields["email"])
	assert.True(t, s.Fields["owner"].Fields["email"].Nullable)
}

func TestSchemaDepthCap(t *testing.T) {
	deep := map[string]interface{}{}
	current := deep
	for i := 0; i < 10; i++ {
		next := map[string]interface{}{}
		current["nested"] = next
		current = next
	}
	current["leaf"] = "value"

	s := SchemaOf(deep)
	depth := 0
	for s != nil && s.Type == "object" {
		s = s.Fields["nested"]
		depth++
	}
	require.NotNil(t, s)
	assert.Equal(t, "opaque", s.Type)
	assert.LessOrEqual(t, depth, MaxSchemaDepth)
}

func TestShapeOf(t *testing.T) {
	shape := ShapeOf(map[string]interface{}{"b": 1.0, "a": "x"})
	assert.Equal(t, "object", shape.Type)
	assert.Equal(t, []string{"a", "b"}, shape.Fields)

	assert.Equal(t, "array", ShapeOf([]interface{}{1.0}).Type)
	assert.Equal(t, "string", ShapeOf("x").Type)
}
