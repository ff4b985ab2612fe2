package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/gcp-broker/tokenbroker/internal/broker/auth"
	cachememory "github.com/gcp-broker/tokenbroker/internal/broker/cache/memory"
	"github.com/gcp-broker/tokenbroker/internal/broker/crypto"
	"github.com/gcp-broker/tokenbroker/internal/broker/kms/local"
	"github.com/gcp-broker/tokenbroker/internal/broker/provider"
	"github.com/gcp-broker/tokenbroker/internal/broker/session"
	"github.com/gcp-broker/tokenbroker/internal/broker/sessiontoken"
	storememory "github.com/gcp-broker/tokenbroker/internal/broker/store/memory"
	"github.com/gcp-broker/tokenbroker/internal/broker/tokencache"
	"github.com/gcp-broker/tokenbroker/pkg/brokerapi"
)

type fakePrimary struct {
	principal string
	err       error
}

func (f fakePrimary) Authenticate(ctx context.Context, md auth.Metadata) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.principal, nil
}

type fakeMinter struct {
	calls int
	token tokencache.AccessToken
	err   error
}

func (f *fakeMinter) GetAccessToken(ctx context.Context, owner, scope string) (*tokencache.AccessToken, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	tok := f.token
	return &tok, nil
}

func testKMS(t *testing.T) *local.KMS {
	t.Helper()
	k, err := local.New(local.Config{Secrets: map[string][]byte{
		crypto.KeyDelegationSecret: []byte("delegation-secret-material-xyz1"),
		crypto.KeyAccessTokenCache: []byte("access-token-cache-material-xyz"),
	}})
	require.NoError(t, err)
	return k
}

func testServer(t *testing.T, primary auth.PrimaryVariant, minter tokencache.Minter) *Server {
	t.Helper()
	kms := testKMS(t)
	sessions := session.NewStore(storememory.New())
	authenticator := auth.New(primary, sessions, kms)
	tokens := tokencache.New(cachememory.New(), kms, minter, time.Minute)

	return &Server{
		Authenticator: authenticator,
		Sessions:      sessions,
		KMS:           kms,
		Tokens:        tokens,
		ProxyUsers:    auth.NewWhitelist("proxy@EXAMPLE.COM"),
		Scopes:        auth.NewWhitelist("storage.read,storage.write"),
		Lifetimes: session.Lifetimes{
			MaxLifetime: 24 * time.Hour,
			RenewPeriod: time.Hour,
		},
		RemoteTokenTTL: time.Minute,
	}
}

func statusCode(t *testing.T, err error) codes.Code {
	t.Helper()
	st, ok := status.FromError(err)
	require.True(t, ok, "expected a grpc status error, got %v", err)
	return st.Code()
}

func TestGetSessionTokenOwnDefaultsToAuthenticatedUser(t *testing.T) {
	s := testServer(t, fakePrimary{principal: "alice@EXAMPLE.COM"}, &fakeMinter{})

	resp, err := s.GetSessionToken(context.Background(), &brokerapi.GetSessionTokenRequest{
		Scope: "storage.read",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionToken)
}

func TestGetSessionTokenRequiresScope(t *testing.T) {
	s := testServer(t, fakePrimary{principal: "alice@EXAMPLE.COM"}, &fakeMinter{})

	_, err := s.GetSessionToken(context.Background(), &brokerapi.GetSessionTokenRequest{Owner: "alice@EXAMPLE.COM"})
	require.Error(t, err)
}

func TestGetSessionTokenImpersonationDenied(t *testing.T) {
	s := testServer(t, fakePrimary{principal: "bob@EXAMPLE.COM"}, &fakeMinter{})

	_, err := s.GetSessionToken(context.Background(), &brokerapi.GetSessionTokenRequest{
		Owner: "alice@EXAMPLE.COM",
		Scope: "storage.read",
	})
	require.Error(t, err)
}

func TestGetSessionTokenImpersonationAllowedForWhitelistedProxy(t *testing.T) {
	s := testServer(t, fakePrimary{principal: "proxy@EXAMPLE.COM"}, &fakeMinter{})

	resp, err := s.GetSessionToken(context.Background(), &brokerapi.GetSessionTokenRequest{
		Owner: "alice@EXAMPLE.COM",
		Scope: "storage.read",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionToken)
}

func mintSession(t *testing.T, s *Server, owner, renewer, target, scope string) (*brokerapi.GetSessionTokenResponse, error) {
	t.Helper()
	return s.GetSessionToken(context.Background(), &brokerapi.GetSessionTokenRequest{
		Owner: owner, Renewer: renewer, Target: target, Scope: scope,
	})
}

func TestRenewSessionTokenRequiresMatchingRenewer(t *testing.T) {
	s := testServer(t, fakePrimary{principal: "alice@EXAMPLE.COM"}, &fakeMinter{})
	resp, err := mintSession(t, s, "alice@EXAMPLE.COM", "alice@EXAMPLE.COM", "bucket", "storage.read")
	require.NoError(t, err)

	s.Authenticator = auth.New(fakePrimary{principal: "mallory@EXAMPLE.COM"}, s.Sessions, s.KMS)
	_, err = s.RenewSessionToken(context.Background(), &brokerapi.RenewSessionTokenRequest{SessionToken: resp.SessionToken})
	require.Error(t, err)
}

func TestRenewSessionTokenExtendsExpiry(t *testing.T) {
	s := testServer(t, fakePrimary{principal: "alice@EXAMPLE.COM"}, &fakeMinter{})
	resp, err := mintSession(t, s, "alice@EXAMPLE.COM", "alice@EXAMPLE.COM", "bucket", "storage.read")
	require.NoError(t, err)

	sessionID, _, err := sessiontoken.Decode(resp.SessionToken)
	require.NoError(t, err)
	before, err := s.Sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	renewResp, err := s.RenewSessionToken(context.Background(), &brokerapi.RenewSessionTokenRequest{SessionToken: resp.SessionToken})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, renewResp.ExpiresAt, before.ExpiresAt)
}

func TestCancelSessionTokenDeletesSession(t *testing.T) {
	s := testServer(t, fakePrimary{principal: "alice@EXAMPLE.COM"}, &fakeMinter{})
	resp, err := mintSession(t, s, "alice@EXAMPLE.COM", "alice@EXAMPLE.COM", "bucket", "storage.read")
	require.NoError(t, err)

	_, err = s.CancelSessionToken(context.Background(), &brokerapi.CancelSessionTokenRequest{SessionToken: resp.SessionToken})
	require.NoError(t, err)

	sessionID, _, err := sessiontoken.Decode(resp.SessionToken)
	require.NoError(t, err)
	_, err = s.Sessions.Get(context.Background(), sessionID)
	require.Error(t, err)
}

func TestGetAccessTokenViaKerberosPath(t *testing.T) {
	minter := &fakeMinter{token: tokencache.AccessToken{AccessToken: "tok-123", ExpiresAt: 99}}
	s := testServer(t, fakePrimary{principal: "alice@EXAMPLE.COM"}, minter)

	resp, err := s.GetAccessToken(context.Background(), &brokerapi.GetAccessTokenRequest{
		Owner: "alice@EXAMPLE.COM",
		Scope: "storage.read",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-123", resp.AccessToken)
	assert.Equal(t, 1, minter.calls)
}

func TestGetAccessTokenProviderAuthorizationInvalidMapsToPermissionDenied(t *testing.T) {
	minter := &fakeMinter{err: provider.ErrAuthorizationInvalid("alice@EXAMPLE.COM")}
	s := testServer(t, fakePrimary{principal: "alice@EXAMPLE.COM"}, minter)

	_, err := s.GetAccessToken(context.Background(), &brokerapi.GetAccessTokenRequest{
		Owner: "alice@EXAMPLE.COM",
		Scope: "storage.read",
	})
	require.Error(t, err)
	assert.Equal(t, codes.PermissionDenied, statusCode(t, toStatusError(err)))
}

func TestGetAccessTokenRejectsScopeOutsideWhitelist(t *testing.T) {
	minter := &fakeMinter{token: tokencache.AccessToken{AccessToken: "tok-123"}}
	s := testServer(t, fakePrimary{principal: "alice@EXAMPLE.COM"}, minter)

	_, err := s.GetAccessToken(context.Background(), &brokerapi.GetAccessTokenRequest{
		Owner: "alice@EXAMPLE.COM",
		Scope: "admin.everything",
	})
	require.Error(t, err)
	assert.Equal(t, 0, minter.calls)
}

func TestGetAccessTokenViaSessionPathRequiresExactMatch(t *testing.T) {
	minter := &fakeMinter{token: tokencache.AccessToken{AccessToken: "tok-session"}}
	s := testServer(t, fakePrimary{principal: "alice@EXAMPLE.COM"}, minter)

	sessResp, err := mintSession(t, s, "alice@EXAMPLE.COM", "alice@EXAMPLE.COM", "bucket-1", "storage.read")
	require.NoError(t, err)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "BrokerSession "+sessResp.SessionToken))

	resp, err := s.GetAccessToken(ctx, &brokerapi.GetAccessTokenRequest{
		Owner:  "alice",
		Target: "bucket-1",
		Scope:  "storage.read",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-session", resp.AccessToken)

	_, err = s.GetAccessToken(ctx, &brokerapi.GetAccessTokenRequest{
		Owner:  "alice@EXAMPLE.COM",
		Target: "bucket-2",
		Scope:  "storage.read",
	})
	require.Error(t, err)
	assert.Equal(t, codes.PermissionDenied, statusCode(t, toStatusError(err)))
}

func TestUnhandledErrorMapsToUnknownServerError(t *testing.T) {
	resp, err := invoke(context.Background(), "GetSessionToken", &brokerapi.GetSessionTokenRequest{}, &auditInfo{},
		func(ctx context.Context, req *brokerapi.GetSessionTokenRequest) (*brokerapi.GetSessionTokenResponse, error) {
			return nil, assertAnError{}
		})
	require.Nil(t, resp)
	require.Error(t, err)
	assert.Equal(t, codes.Unknown, statusCode(t, err))
}

func TestPanicIsRecoveredAsServerError(t *testing.T) {
	resp, err := invoke(context.Background(), "GetSessionToken", &brokerapi.GetSessionTokenRequest{}, &auditInfo{},
		func(ctx context.Context, req *brokerapi.GetSessionTokenRequest) (*brokerapi.GetSessionTokenResponse, error) {
			panic("unexpected")
		})
	require.Nil(t, resp)
	require.Error(t, err)
	assert.Equal(t, codes.Unknown, statusCode(t, err))
}

type assertAnError struct{}

func (assertAnError) Error() string { return "boom" }
