package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const cipherPrefix = "enc:v1:"

var errInvalidCiphertext = errors.New("invalid record ciphertext")

// Encrypted seals values with AES-256-GCM before handing them to the inner store.
// Values written before encryption was enabled are returned unchanged.
type Encrypted struct {
	inner KeyValue
	aead  cipher.AEAD
}

// NewEncrypted builds the wrapper from a 32-byte key given raw or base64 encoded.
func NewEncrypted(inner KeyValue, rawKey string) (*Encrypted, error) {
	key, err := decodeKey(strings.TrimSpace(rawKey))
	if err != nil {
		return nil, fmt.Errorf("decode storage key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Encrypted{inner: inner, aead: aead}, nil
}

func decodeKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

func (e *Encrypted) Get(ctx context.Context, key string) (string, error) {
	raw, err := e.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(raw, cipherPrefix) {
		return raw, nil
	}
	plain, err := e.decrypt(strings.TrimPrefix(raw, cipherPrefix))
	if err != nil {
		return "", fmt.Errorf("decrypt record %s: %w", key, err)
	}
	return plain, nil
}

func (e *Encrypted) Set(ctx context.Context, key, value string) error {
	sealed, err := e.encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt record %s: %w", key, err)
	}
	return e.inner.Set(ctx, key, cipherPrefix+sealed)
}

func (e *Encrypted) Remove(ctx context.Context, key string) error {
	return e.inner.Remove(ctx, key)
}

func (e *Encrypted) encrypt(plain string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	cipherText := e.aead.Seal(nil, nonce, []byte(plain), nil)
	buf := append(nonce, cipherText...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

func (e *Encrypted) decrypt(input string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(input)
	if err != nil {
		return "", errInvalidCiphertext
	}
	ns := e.aead.NonceSize()
	if len(data) < ns {
		return "", errInvalidCiphertext
	}
	plain, err := e.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", errInvalidCiphertext
	}
	return string(plain), nil
}
