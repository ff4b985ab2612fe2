package sessiontoken

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcp-broker/tokenbroker/internal/broker/crypto"
	"github.com/gcp-broker/tokenbroker/internal/broker/kms/local"
	"github.com/gcp-broker/tokenbroker/internal/broker/session"
)

func testKMS(t *testing.T) *local.KMS {
	t.Helper()
	k, err := local.New(local.Config{Secrets: map[string][]byte{
		crypto.KeyDelegationSecret: []byte("delegation-secret-material-xyz"),
	}})
	require.NoError(t, err)
	return k
}

func TestEncodeDecodeVerifyRoundtrip(t *testing.T) {
	ctx := context.Background()
	kms := testKMS(t)

	s, err := session.New("alice@EXAMPLE.COM", "yarn@FOO.BAR", "gs://example", "scope-a", session.Lifetimes{
		MaxLifetime: 7 * 24 * time.Hour,
		RenewPeriod: 24 * time.Hour,
	})
	require.NoError(t, err)

	token, err := Encode(ctx, kms, s)
	require.NoError(t, err)

	sessionID, ciphertext, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, s.ID, sessionID)
	assert.True(t, Verify(ctx, kms, s, ciphertext))
}

func TestDecodeMalformed(t *testing.T) {
	_, _, err := Decode("not-a-valid-token")
	assert.ErrorIs(t, err, ErrMalformed)

	_, _, err = Decode("a.b.c")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestVerifyFailsOnMutatedPassword(t *testing.T) {
	ctx := context.Background()
	kms := testKMS(t)

	s, err := session.New("alice@EXAMPLE.COM", "alice@EXAMPLE.COM", "t", "sc", session.Lifetimes{
		MaxLifetime: time.Hour, RenewPeriod: time.Hour,
	})
	require.NoError(t, err)

	token, err := Encode(ctx, kms, s)
	require.NoError(t, err)

	_, ciphertext, err := Decode(token)
	require.NoError(t, err)

	// Simulate the password being mutated after token issuance (scenario S7).
	s.Password = []byte("a-completely-different-password")
	assert.False(t, Verify(ctx, kms, s, ciphertext))
}
