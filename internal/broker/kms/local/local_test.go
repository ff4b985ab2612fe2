package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	brokercrypto "github.com/gcp-broker/tokenbroker/internal/broker/crypto"
)

func newTestKMS(t *testing.T) *KMS {
	t.Helper()
	k, err := New(Config{Secrets: map[string][]byte{
		brokercrypto.KeyDelegationSecret: []byte("test-delegation-secret-material"),
		brokercrypto.KeyAccessTokenCache: []byte("test-access-token-cache-secret"),
	}})
	require.NoError(t, err)
	return k
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	k := newTestKMS(t)
	ctx := context.Background()

	plaintext := []byte("hello session password")
	ciphertext, err := k.Encrypt(ctx, brokercrypto.KeyDelegationSecret, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := k.Decrypt(ctx, brokercrypto.KeyDelegationSecret, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	k := newTestKMS(t)
	ctx := context.Background()

	ciphertext, err := k.Encrypt(ctx, brokercrypto.KeyDelegationSecret, []byte("secret"))
	require.NoError(t, err)

	_, err = k.Decrypt(ctx, brokercrypto.KeyAccessTokenCache, ciphertext)
	assert.Error(t, err)
}

func TestUnknownKeyID(t *testing.T) {
	k := newTestKMS(t)
	ctx := context.Background()

	_, err := k.Encrypt(ctx, "no-such-key", []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownKey)
}
