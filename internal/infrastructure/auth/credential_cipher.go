package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/churchsync/chms-integration/internal/domain/integration"
	"github.com/churchsync/chms-integration/internal/infrastructure/config"
)

const (
	saltSize  = 64
	nonceSize = 12
	keySize   = 32 // AES-256
	tagSize   = 16

	// DefaultPBKDF2Iterations is used when the configuration leaves iterations unset
	DefaultPBKDF2Iterations = 100000
)

// sealedEnvelope is the stored shape of an encrypted credential blob.
// Every field is hex encoded; the whole envelope is base64 encoded JSON.
type sealedEnvelope struct {
	Salt string `json:"salt"`
	IV   string `json:"iv"`
	Tag  string `json:"tag"`
	Data string `json:"data"`
}

// CredentialCipher encrypts provider credentials at rest with AES-256-GCM.
// A fresh salt and nonce are drawn per encryption, and the key is derived
// from the master key with PBKDF2-SHA512.
type CredentialCipher struct {
	masterKey  []byte
	iterations int
	random     io.Reader
}

var _ integration.CredentialCipher = (*CredentialCipher)(nil)

// NewCredentialCipher creates a cipher from the encryption configuration
func NewCredentialCipher(cfg config.EncryptionConfig) (*CredentialCipher, error) {
	if cfg.MasterKey == "" {
		return nil, integration.ErrEncryptionKeyNotSet
	}
	iterations := cfg.PBKDF2Iterations
	if iterations <= 0 {
		iterations = DefaultPBKDF2Iterations
	}
	return &CredentialCipher{
		masterKey:  []byte(cfg.MasterKey),
		iterations: iterations,
		random:     rand.Reader,
	}, nil
}

func (c *CredentialCipher) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(c.masterKey, salt, c.iterations, keySize, sha512.New)
}

func (c *CredentialCipher) aead(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

// EncryptAuthData seals plaintext credentials into an opaque string
func (c *CredentialCipher) EncryptAuthData(plain []byte) (string, error) {
	if len(plain) == 0 {
		return "", integration.ErrEmptyAuthData
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(c.random, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plain, nil)
	body, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	out, err := json.Marshal(sealedEnvelope{
		Salt: hex.EncodeToString(salt),
		IV:   hex.EncodeToString(nonce),
		Tag:  hex.EncodeToString(tag),
		Data: hex.EncodeToString(body),
	})
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptAuthData opens a blob produced by EncryptAuthData. Any tampering,
// truncation or wrong master key yields ErrAuthDataCorrupted.
func (c *CredentialCipher) DecryptAuthData(opaque string) ([]byte, error) {
	if opaque == "" {
		return nil, integration.ErrEmptyAuthData
	}

	raw, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrAuthDataCorrupted, err)
	}
	var env sealedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrAuthDataCorrupted, err)
	}

	salt, err1 := hex.DecodeString(env.Salt)
	nonce, err2 := hex.DecodeString(env.IV)
	tag, err3 := hex.DecodeString(env.Tag)
	body, err4 := hex.DecodeString(env.Data)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return nil, fmt.Errorf("%w: malformed hex field", integration.ErrAuthDataCorrupted)
	}
	if len(salt) != saltSize || len(nonce) != nonceSize || len(tag) != tagSize {
		return nil, fmt.Errorf("%w: unexpected field length", integration.ErrAuthDataCorrupted)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	plain, err := gcm.Open(nil, nonce, append(body, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrAuthDataCorrupted, err)
	}
	return plain, nil
}
