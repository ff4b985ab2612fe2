// Package kms wires the crypto.KMS contract to a configured backend.
package kms

import (
	"context"
	"fmt"

	brokercrypto "github.com/gcp-broker/tokenbroker/internal/broker/crypto"
)

// Remap wraps an underlying KMS whose configured secrets/objects are
// addressed by operator-assigned key ids (ENCRYPTION_*_CRYPTO_KEY), and
// translates the broker's three fixed logical roles
// (crypto.KeyRefreshToken/KeyAccessTokenCache/KeyDelegationSecret) to those
// ids before delegating. This keeps every caller in the core (provider,
// sessiontoken, tokencache) referring to roles by name, while operators are
// free to name, rotate, and share the underlying keys however the backend
// requires.
type Remap struct {
	underlying brokercrypto.KMS
	roleToKey  map[string]string
}

// NewRemap builds a Remap. roleToKey must map all three logical roles
// (crypto.KeyRefreshToken, crypto.KeyAccessTokenCache,
// crypto.KeyDelegationSecret) to the key ids underlying actually holds
// secrets for.
func NewRemap(underlying brokercrypto.KMS, roleToKey map[string]string) *Remap {
	return &Remap{underlying: underlying, roleToKey: roleToKey}
}

func (r *Remap) resolve(role string) (string, error) {
	keyID, ok := r.roleToKey[role]
	if !ok {
		return "", fmt.Errorf("kms: no key id configured for role %q", role)
	}
	return keyID, nil
}

func (r *Remap) Encrypt(ctx context.Context, role string, plaintext []byte) ([]byte, error) {
	keyID, err := r.resolve(role)
	if err != nil {
		return nil, err
	}
	return r.underlying.Encrypt(ctx, keyID, plaintext)
}

func (r *Remap) Decrypt(ctx context.Context, role string, ciphertext []byte) ([]byte, error) {
	keyID, err := r.resolve(role)
	if err != nil {
		return nil, err
	}
	return r.underlying.Decrypt(ctx, keyID, ciphertext)
}

var _ brokercrypto.KMS = (*Remap)(nil)
