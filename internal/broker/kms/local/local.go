// Package local implements an in-process AES-256-GCM KMS, keyed by a
// configured per-key-id secret. It is the default backend for tests and
// single-node deployments that do not front a managed key-management
// service.
package local

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	brokercrypto "github.com/gcp-broker/tokenbroker/internal/broker/crypto"
)

// ErrUnknownKey is returned when Encrypt/Decrypt is called with a key id
// that was not configured.
var ErrUnknownKey = errors.New("local kms: unknown key id")

// KMS is a local AES-GCM envelope. Each key id is independently derived from
// a master secret via HKDF, so leaking one AEAD key never exposes another.
type KMS struct {
	mu   sync.RWMutex
	aead map[string]cipher.AEAD
}

// Config maps key ids to raw secret material (at least 32 bytes recommended;
// shorter secrets are stretched by HKDF but the caller should prefer
// high-entropy input).
type Config struct {
	Secrets map[string][]byte
}

// New derives an AEAD cipher per configured key id.
func New(cfg Config) (*KMS, error) {
	k := &KMS{aead: make(map[string]cipher.AEAD, len(cfg.Secrets))}
	for keyID, secret := range cfg.Secrets {
		aead, err := deriveAEAD(keyID, secret)
		if err != nil {
			return nil, fmt.Errorf("local kms: deriving key %q: %w", keyID, err)
		}
		k.aead[keyID] = aead
	}
	return k, nil
}

func deriveAEAD(keyID string, secret []byte) (cipher.AEAD, error) {
	hkdfReader := hkdf.New(sha256.New, secret, nil, []byte("tokenbroker-kms:"+keyID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt returns nonce||ciphertext, sealed under the AEAD for keyID.
func (k *KMS) Encrypt(_ context.Context, keyID string, plaintext []byte) ([]byte, error) {
	k.mu.RLock()
	aead, ok := k.aead[keyID]
	k.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownKey
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt.
func (k *KMS) Decrypt(_ context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	k.mu.RLock()
	aead, ok := k.aead[keyID]
	k.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownKey
	}

	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("local kms: ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return aead.Open(nil, nonce, sealed, nil)
}

var _ brokercrypto.KMS = (*KMS)(nil)
