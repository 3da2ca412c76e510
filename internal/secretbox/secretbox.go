// Package secretbox seals small values with AES-GCM. Sealed payloads are
// the nonce followed by the ciphertext.
package secretbox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const stringPrefix = "v1:"

var ErrMalformed = errors.New("secretbox: malformed payload")

type Box struct {
	aead cipher.AEAD
}

// New builds a box from a raw 16, 24 or 32 byte key.
func New(key []byte) (*Box, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("secretbox: key must be 16/24/32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// FromBase64 decodes a standard base64 key. An empty value yields a nil box
// and no error so callers can treat encryption as optional.
func FromBase64(raw string) (*Box, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(string(trimmed))
	if err != nil {
		return nil, fmt.Errorf("secretbox: key must be base64: %w", err)
	}
	return New(key)
}

// FromSecret derives a 256-bit key from an operator supplied secret with
// HKDF-SHA256. purpose separates keys derived from the same secret.
func FromSecret(secret, purpose string) (*Box, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("secretbox: secret required")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte("elova"), []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return New(key)
}

func (b *Box) Seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return b.aead.Seal(nonce, nonce, plain, nil), nil
}

func (b *Box) Open(payload []byte) ([]byte, error) {
	n := b.aead.NonceSize()
	if len(payload) < n+b.aead.Overhead() {
		return nil, ErrMalformed
	}
	plain, err := b.aead.Open(nil, payload[:n], payload[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("secretbox: open: %w", err)
	}
	return plain, nil
}

// SealString returns a printable, versioned form suitable for text columns.
func (b *Box) SealString(plain string) (string, error) {
	sealed, err := b.Seal([]byte(plain))
	if err != nil {
		return "", err
	}
	return stringPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (b *Box) OpenString(sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", ErrMalformed
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, stringPrefix))
	if err != nil {
		return "", ErrMalformed
	}
	plain, err := b.Open(payload)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// IsSealed reports whether s carries the SealString prefix.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, stringPrefix)
}
