// Package crypto decodes AES-256-GCM protected config values.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Prefix marks an encrypted value: "aes-gcm:" + base64(nonce | ciphertext | tag).
const Prefix = "aes-gcm:"

var (
	// ErrNoKey is returned when an encrypted value is read without a key.
	ErrNoKey = errors.New("encrypted value requires an encryption key")

	// ErrBadKey is returned for keys that do not decode to 32 bytes.
	ErrBadKey = errors.New("encryption key must be 32 bytes (64 hex chars, 44 base64 chars, or 32 raw bytes)")

	// ErrDecrypt is returned when a value does not open under the key.
	ErrDecrypt = errors.New("decrypt failed: wrong key or corrupted value")
)

// Encrypt seals plaintext under key and returns a Prefix-tagged value.
func Encrypt(plaintext, key string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a Prefix-tagged value. Values without the prefix are
// returned unchanged, so plain config values keep working.
func Decrypt(value, key string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if key == "" {
		return "", ErrNoKey
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	n := gcm.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("%w: value too short", ErrDecrypt)
	}
	plain, err := gcm.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// IsEncrypted reports whether value carries the encryption prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// DeriveKey decodes a 32-byte key given as hex, base64 or raw bytes.
func DeriveKey(input string) ([]byte, error) {
	switch {
	case len(input) == 64:
		if b, err := hex.DecodeString(input); err == nil {
			return b, nil
		}
	case len(input) == 44 && strings.HasSuffix(input, "="):
		if b, err := base64.StdEncoding.DecodeString(input); err == nil && len(b) == 32 {
			return b, nil
		}
	case len(input) == 32:
		return []byte(input), nil
	}
	return nil, ErrBadKey
}

func newGCM(key string) (cipher.AEAD, error) {
	k, err := DeriveKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
