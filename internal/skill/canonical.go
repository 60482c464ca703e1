package skill

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"

	"apitap/internal/machinecrypto"
)

// Canonical returns the RFC 8785 canonical serialization of the file
// with the signature field omitted and endpoints sorted by id. This is
// the exact byte sequence signatures are computed over.
func Canonical(f *File) ([]byte, error) {
	clone := *f
	clone.Signature = ""
	clone.Endpoints = append([]Endpoint(nil), f.Endpoints...)
	sort.Slice(clone.Endpoints, func(i, j int) bool {
		return clone.Endpoints[i].ID < clone.Endpoints[j].ID
	})

	raw, err := json.Marshal(&clone)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal skill file: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize skill file: %w", err)
	}
	return canonical, nil
}

// Sign stamps the provenance and computes the file's signature under
// the given cipher. The provenance is stamped first so the signature
// covers it; existing signature bytes do not participate.
func Sign(f *File, cipher *machinecrypto.Cipher, provenance Provenance) error {
	f.Provenance = provenance
	canonical, err := Canonical(f)
	if err != nil {
		return err
	}
	f.Signature = cipher.Sign(canonical)
	return nil
}

// VerifySignature reports whether the file's signature verifies under
// the given cipher. Files without a signature never verify.
func VerifySignature(f *File, cipher *machinecrypto.Cipher) bool {
	if f.Signature == "" {
		return false
	}
	canonical, err := Canonical(f)
	if err != nil {
		return false
	}
	return cipher.Verify(canonical, f.Signature)
}

// ClassifyProvenance returns the provenance the file deserves given
// its signature state: the stored provenance when the signature
// verifies, unsigned otherwise.
func ClassifyProvenance(f *File, cipher *machinecrypto.Cipher) Provenance {
	if VerifySignature(f, cipher) {
		if f.Provenance == ProvenanceSelf || f.Provenance == ProvenanceImported {
			return f.Provenance
		}
	}
	return ProvenanceUnsigned
}
