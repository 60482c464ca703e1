// Package machinecrypto binds secrets to the local machine. A symmetric
// key is derived from a stable machine identifier; everything written
// to disk by the credential store is sealed under it, and skill files
// are signed with it so provenance survives across restarts but not
// across machines.
package machinecrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// appSalt is the fixed application salt for key derivation. Changing
	// it invalidates every existing credential store and signature.
	appSalt = "apitap.local.v1"

	pbkdf2Iterations = 100_000
	keyLength        = 32
	nonceSize        = 16
	tagSize          = 16

	signaturePrefix = "hmac-sha256:"
)

// Envelope is the encrypted-at-rest record format. All fields are
// base64 (standard encoding).
type Envelope struct {
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
}

// Cipher holds the machine-derived key and performs symmetric
// encryption and HMAC signing.
type Cipher struct {
	key []byte
}

// New creates a Cipher keyed to the local machine identity.
func New() *Cipher {
	return NewFromMachineID(MachineID())
}

// NewFromMachineID creates a Cipher for an explicit machine identifier.
// Used by tests and by the APITAP_MACHINE_ID override.
func NewFromMachineID(machineID string) *Cipher {
	return &Cipher{key: DeriveKey(machineID)}
}

// DeriveKey derives the 32-byte symmetric key from a machine
// identifier via PBKDF2-HMAC-SHA512 with the fixed application salt.
func DeriveKey(machineID string) []byte {
	return pbkdf2.Key([]byte(machineID), []byte(appSalt), pbkdf2Iterations, keyLength, sha512.New)
}

// Encrypt seals plaintext under AES-256-GCM with a fresh random
// 16-byte IV. The GCM tag is carried separately in the envelope.
func (c *Cipher) Encrypt(plaintext []byte) (*Envelope, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return &Envelope{
		Salt:       base64.StdEncoding.EncodeToString([]byte(appSalt)),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// Decrypt opens an envelope. Any tampering with the ciphertext, IV, or
// tag fails closed with an error.
func (c *Cipher) Decrypt(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("nil envelope")
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("malformed IV: %w", err)
	}
	if len(iv) != nonceSize {
		return nil, fmt.Errorf("unexpected IV length %d", len(iv))
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("malformed ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil {
		return nil, fmt.Errorf("malformed tag: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// Sign computes an HMAC-SHA256 signature over data, formatted as
// "hmac-sha256:<hex>".
func (c *Cipher) Sign(data []byte) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(data)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign. The comparison is
// constant-time after an explicit length check.
func (c *Cipher) Verify(data []byte, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, c.key)
	mac.Write(data)
	want := mac.Sum(nil)

	if len(got) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}
