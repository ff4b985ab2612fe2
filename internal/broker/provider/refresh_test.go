package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcp-broker/tokenbroker/internal/broker/crypto"
	"github.com/gcp-broker/tokenbroker/internal/broker/kms/local"
	"github.com/gcp-broker/tokenbroker/internal/broker/session"
	"github.com/gcp-broker/tokenbroker/internal/broker/store"
	"github.com/gcp-broker/tokenbroker/internal/broker/store/memory"
)

func testKMSForRefresh(t *testing.T) *local.KMS {
	t.Helper()
	k, err := local.New(local.Config{Secrets: map[string][]byte{
		crypto.KeyRefreshToken: []byte("refresh-token-material-xyz-123"),
	}})
	require.NoError(t, err)
	return k
}

func identityMapper(domain string) func(string) string {
	return func(owner string) string { return localPart(owner) + "@" + domain }
}

func TestRefreshTokenSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-xyz","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer server.Close()

	ctx := context.Background()
	kms := testKMSForRefresh(t)
	backend := memory.New()

	ciphertext, err := kms.Encrypt(ctx, crypto.KeyRefreshToken, []byte("refresh-secret"))
	require.NoError(t, err)
	require.NoError(t, backend.Save(ctx, store.KindRefreshToken, "alice@example.com", store.Fields{"value": ciphertext}))

	rtStore := session.NewRefreshTokenStore(backend)
	p := NewRefreshToken(rtStore, kms, "client-id", "client-secret", server.URL, identityMapper("example.com"))

	tok, err := p.GetAccessToken(ctx, "alice@EXAMPLE.COM", "scope-a")
	require.NoError(t, err)
	assert.Equal(t, "access-xyz", tok.AccessToken)
}

func TestRefreshTokenNotFoundMapsToAuthorizationInvalid(t *testing.T) {
	ctx := context.Background()
	kms := testKMSForRefresh(t)
	backend := memory.New()
	rtStore := session.NewRefreshTokenStore(backend)
	p := NewRefreshToken(rtStore, kms, "client-id", "client-secret", "https://unused", identityMapper("example.com"))

	_, err := p.GetAccessToken(ctx, "alice@EXAMPLE.COM", "scope-a")
	require.Error(t, err)
	assert.Equal(t, ErrAuthorizationInvalid("alice@EXAMPLE.COM").Error(), err.Error())
}

func TestRefreshTokenInvalidGrantMapsToAuthorizationInvalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked"}`))
	}))
	defer server.Close()

	ctx := context.Background()
	kms := testKMSForRefresh(t)
	backend := memory.New()

	ciphertext, err := kms.Encrypt(ctx, crypto.KeyRefreshToken, []byte("refresh-secret"))
	require.NoError(t, err)
	require.NoError(t, backend.Save(ctx, store.KindRefreshToken, "alice@example.com", store.Fields{"value": ciphertext}))

	rtStore := session.NewRefreshTokenStore(backend)
	p := NewRefreshToken(rtStore, kms, "client-id", "client-secret", server.URL, identityMapper("example.com"))

	_, err = p.GetAccessToken(ctx, "alice@EXAMPLE.COM", "scope-a")
	require.Error(t, err)
	assert.Equal(t, ErrAuthorizationInvalid("alice@EXAMPLE.COM").Error(), err.Error())
}
