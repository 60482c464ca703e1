package machinecrypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := NewFromMachineID("test-machine-1")

	cases := []string{
		"",
		"hello world",
		`{"domain":"example.com","value":"Bearer abc123"}`,
		"unicode: 日本語 émoji 🔐",
	}
	for _, plaintext := range cases {
		t.Run(plaintext, func(t *testing.T) {
			env, err := c.Encrypt([]byte(plaintext))
			require.NoError(t, err)
			require.NotNil(t, env)

			out, err := c.Decrypt(env)
			require.NoError(t, err)
			assert.Equal(t, plaintext, string(out))
		})
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	c1 := NewFromMachineID("machine-a")
	c2 := NewFromMachineID("machine-b")

	env, err := c1.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = c2.Decrypt(env)
	assert.Error(t, err)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	c := NewFromMachineID("machine-a")
	env, err := c.Encrypt([]byte("secret payload"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	require.NoError(t, err)
	raw[0] ^= 0xff
	env.Ciphertext = base64.StdEncoding.EncodeToString(raw)

	_, err = c.Decrypt(env)
	assert.Error(t, err)
}

func TestDecryptTamperedTagFails(t *testing.T) {
	c := NewFromMachineID("machine-a")
	env, err := c.Encrypt([]byte("secret payload"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(env.Tag)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	env.Tag = base64.StdEncoding.EncodeToString(raw)

	_, err = c.Decrypt(env)
	assert.Error(t, err)
}

func TestIVIsUniquePerCall(t *testing.T) {
	c := NewFromMachineID("machine-a")
	env1, err := c.Encrypt([]byte("same input"))
	require.NoError(t, err)
	env2, err := c.Encrypt([]byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, env1.IV, env2.IV)
	assert.NotEqual(t, env1.Ciphertext, env2.Ciphertext)
}

func TestSignVerify(t *testing.T) {
	c := NewFromMachineID("machine-a")
	data := []byte(`{"version":"1","domain":"example.com"}`)

	sig := c.Sign(data)
	assert.True(t, len(sig) > len("hmac-sha256:"))
	assert.Contains(t, sig, "hmac-sha256:")
	assert.True(t, c.Verify(data, sig))

	t.Run("mutated content fails", func(t *testing.T) {
		mutated := append([]byte{}, data...)
		mutated[0] ^= 0x01
		assert.False(t, c.Verify(mutated, sig))
	})

	t.Run("wrong key fails", func(t *testing.T) {
		other := NewFromMachineID("machine-b")
		assert.False(t, other.Verify(data, sig))
	})

	t.Run("malformed signatures fail", func(t *testing.T) {
		assert.False(t, c.Verify(data, ""))
		assert.False(t, c.Verify(data, "hmac-sha256:zz"))
		assert.False(t, c.Verify(data, "sha1:deadbeef"))
		assert.False(t, c.Verify(data, "hmac-sha256:dead"))
	})
}

func TestDeriveKeyStable(t *testing.T) {
	k1 := DeriveKey("machine-a")
	k2 := DeriveKey("machine-a")
	k3 := DeriveKey("machine-b")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 32)
}

func TestMachineIDEnvOverride(t *testing.T) {
	t.Setenv(EnvMachineID, "override-id")
	assert.Equal(t, "override-id", MachineID())
}
