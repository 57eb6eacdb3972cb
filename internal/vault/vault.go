// Package vault encrypts per-bot credentials at rest with a single
// process-wide AES-256-GCM key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const keySize = 32

// Error wraps all vault failures so callers can distinguish crypto problems
// from ordinary storage errors.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vault: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Vault performs symmetric encrypt/decrypt of secret strings. It is stateless
// and safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// New builds a Vault from an encoded 32-byte key (hex or base64).
func New(encodedKey string) (*Vault, error) {
	key, err := decodeKey(encodedKey)
	if err != nil {
		return nil, &Error{Op: "decode key", Err: err}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &Error{Op: "init cipher", Err: err}
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &Error{Op: "init gcm", Err: err}
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", &Error{Op: "generate nonce", Err: err}
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Corrupt or truncated ciphertext yields an *Error.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &Error{Op: "decode ciphertext", Err: err}
	}
	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", &Error{Op: "decrypt", Err: fmt.Errorf("ciphertext truncated: %d bytes", len(raw))}
	}
	plaintext, err := v.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", &Error{Op: "decrypt", Err: err}
	}
	return string(plaintext), nil
}

func decodeKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("key is empty")
	}
	if key, err := hex.DecodeString(encoded); err == nil {
		if len(key) != keySize {
			return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
		}
		return key, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("key is neither hex nor base64: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}
	return key, nil
}
