// Package crypto defines the KMS envelope contract: two
// functions, fully delegated to an external key-management service, keyed by
// a logical key id so that the three named keys (refresh-token,
// access-token-cache, delegation-secret) can be rotated independently.
package crypto

import "context"

// Named key identifiers the core addresses the KMS by. Concrete values are
// assigned via configuration (ENCRYPTION_*_CRYPTO_KEY); these are the three
// roles the core recognizes.
const (
	KeyRefreshToken     = "refresh-token"
	KeyAccessTokenCache = "access-token-cache"
	KeyDelegationSecret = "delegation-secret"
)

// KMS encrypts and decrypts opaque byte payloads under a named key id.
// Implementations must not leak plaintext across key ids.
type KMS interface {
	Encrypt(ctx context.Context, keyID string, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error)
}
