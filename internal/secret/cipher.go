// Package secret implements authenticated encryption of credential secrets
// and generation of new random secrets.
package secret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ericfisherdev/radcred/internal/domain/errs"
	"github.com/ericfisherdev/radcred/internal/domain/model"
)

// KeySize is the required encryption key length in bytes (AES-256).
const KeySize = 32

const (
	nonceSize = 12
	tagSize   = 16

	selfTestValue = "radcred self-test ✓"
)

// Cipher encrypts and decrypts secrets with AES-256-GCM. The key is fixed at
// construction and a Cipher is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewCipher creates a Cipher for the given 32-byte key. Any other key length is
// a ConfigurationError.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, errs.NewConfigurationError("encryption key",
			fmt.Sprintf("must be %d bytes, got %d", KeySize, len(key)), nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.NewConfigurationError("encryption key", "aes.NewCipher", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, errs.NewConfigurationError("encryption key", "cipher.NewGCM", err)
	}

	return &Cipher{aead: aead, rand: rand.Reader}, nil
}

// Encrypt seals plaintext under a fresh random nonce. The authentication tag
// is split from the sealed output so the three parts can be stored separately.
func (c *Cipher) Encrypt(plaintext string) (model.Envelope, error) {
	if c == nil || c.aead == nil {
		return model.Envelope{}, errs.NewConfigurationError("encryption key", "not configured", nil)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return model.Envelope{}, fmt.Errorf("rand nonce: %w", err)
	}

	// Seal returns ciphertext || tag.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	split := len(sealed) - tagSize

	return model.Envelope{
		Ciphertext: sealed[:split:split],
		Nonce:      nonce,
		AuthTag:    sealed[split:],
	}, nil
}

// Decrypt opens an envelope. Any authentication failure, including a wrong
// key or a truncated nonce or tag, is reported as an IntegrityError and no
// plaintext is returned.
func (c *Cipher) Decrypt(env model.Envelope) (string, error) {
	if c == nil || c.aead == nil {
		return "", errs.NewConfigurationError("encryption key", "not configured", nil)
	}
	if len(env.Nonce) != nonceSize {
		return "", errs.NewIntegrityError("", fmt.Errorf("nonce length %d", len(env.Nonce)))
	}
	if len(env.AuthTag) != tagSize {
		return "", errs.NewIntegrityError("", fmt.Errorf("auth tag length %d", len(env.AuthTag)))
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+tagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.AuthTag...)

	plaintext, err := c.aead.Open(nil, env.Nonce, sealed, nil)
	if err != nil {
		return "", errs.NewIntegrityError("", err)
	}
	return string(plaintext), nil
}

// SelfTest round-trips a known value through Encrypt and Decrypt. A failure
// means the process must not serve credential operations.
func (c *Cipher) SelfTest() error {
	env, err := c.Encrypt(selfTestValue)
	if err != nil {
		return fmt.Errorf("self-test encrypt: %w", err)
	}
	got, err := c.Decrypt(env)
	if err != nil {
		return fmt.Errorf("self-test decrypt: %w", err)
	}
	if got != selfTestValue {
		return errs.NewIntegrityError("", errors.New("self-test round trip mismatch"))
	}
	return nil
}

// ParseKey decodes a 32-byte key given as 64 hex characters or as standard or
// URL-safe base64.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, errs.NewConfigurationError("encryption key", "empty", nil)
	}

	if len(encoded) == hex.EncodedLen(KeySize) {
		if key, err := hex.DecodeString(encoded); err == nil {
			return key, nil
		}
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(encoded); err == nil {
			if len(key) != KeySize {
				return nil, errs.NewConfigurationError("encryption key",
					fmt.Sprintf("decoded to %d bytes, want %d", len(key), KeySize), nil)
			}
			return key, nil
		}
	}

	return nil, errs.NewConfigurationError("encryption key", "not valid hex or base64", nil)
}

// StaticKey is a KeySource for a key supplied directly, for example through
// the environment, in any encoding ParseKey accepts.
type StaticKey string

// EncryptionKey decodes the key.
func (k StaticKey) EncryptionKey(context.Context) ([]byte, error) {
	return ParseKey(string(k))
}
