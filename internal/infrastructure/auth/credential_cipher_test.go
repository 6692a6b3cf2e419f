package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churchsync/chms-integration/internal/domain/integration"
	"github.com/churchsync/chms-integration/internal/infrastructure/config"
)

func newTestCipher(t *testing.T, key string) *CredentialCipher {
	t.Helper()
	// low iteration count keeps the tests fast
	c, err := NewCredentialCipher(config.EncryptionConfig{MasterKey: key, PBKDF2Iterations: 1000})
	require.NoError(t, err)
	return c
}

func TestNewCredentialCipher(t *testing.T) {
	_, err := NewCredentialCipher(config.EncryptionConfig{})
	assert.ErrorIs(t, err, integration.ErrEncryptionKeyNotSet)

	c, err := NewCredentialCipher(config.EncryptionConfig{MasterKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPBKDF2Iterations, c.iterations)
}

func TestCredentialCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t, "master-key-for-tests")
	plain, err := integration.MarshalCredentials(integration.Credentials{"apiKey": "s3cr3t", "apiUrl": "https://x.test"})
	require.NoError(t, err)

	sealed, err := c.EncryptAuthData(plain)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "s3cr3t")

	opened, err := c.DecryptAuthData(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)

	creds, err := integration.UnmarshalCredentials(opened)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", creds.Get("apiKey"))
}

func TestCredentialCipher_EnvelopeFormat(t *testing.T) {
	c := newTestCipher(t, "k")
	sealed, err := c.EncryptAuthData([]byte("hello"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	var env sealedEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))

	salt, _ := hex.DecodeString(env.Salt)
	iv, _ := hex.DecodeString(env.IV)
	tag, _ := hex.DecodeString(env.Tag)
	data, _ := hex.DecodeString(env.Data)
	assert.Len(t, salt, saltSize)
	assert.Len(t, iv, nonceSize)
	assert.Len(t, tag, tagSize)
	assert.Len(t, data, len("hello"))
}

func TestCredentialCipher_FreshSaltPerEncryption(t *testing.T) {
	c := newTestCipher(t, "k")
	a, err := c.EncryptAuthData([]byte("same"))
	require.NoError(t, err)
	b, err := c.EncryptAuthData([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCredentialCipher_RejectsCorruption(t *testing.T) {
	c := newTestCipher(t, "k")
	sealed, err := c.EncryptAuthData([]byte("payload"))
	require.NoError(t, err)

	raw, _ := base64.StdEncoding.DecodeString(sealed)
	var env sealedEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	flipped := []byte(env.Data)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	env.Data = string(flipped)
	tampered, _ := json.Marshal(env)

	tests := []struct {
		name   string
		cipher *CredentialCipher
		input  string
	}{
		{"not base64", c, "%%%"},
		{"not json", c, base64.StdEncoding.EncodeToString([]byte("nope"))},
		{"tampered data", c, base64.StdEncoding.EncodeToString(tampered)},
		{"wrong key", newTestCipher(t, "other"), sealed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cipher.DecryptAuthData(tt.input)
			assert.ErrorIs(t, err, integration.ErrAuthDataCorrupted)
		})
	}
}

func TestCredentialCipher_EmptyInput(t *testing.T) {
	c := newTestCipher(t, "k")
	_, err := c.EncryptAuthData(nil)
	assert.ErrorIs(t, err, integration.ErrEmptyAuthData)
	_, err = c.DecryptAuthData("")
	assert.ErrorIs(t, err, integration.ErrEmptyAuthData)
}
