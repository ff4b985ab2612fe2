package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcp-broker/tokenbroker/internal/broker/brokererr"
)

type stubProvider struct {
	tok *AccessToken
	err error
}

func (s *stubProvider) GetAccessToken(ctx context.Context, owner, scope string) (*AccessToken, error) {
	return s.tok, s.err
}

func TestInstrumentedDelegatesToWrappedProvider(t *testing.T) {
	want := &AccessToken{AccessToken: "tok", ExpiresAt: 123}
	p := Instrumented("shadow", &stubProvider{tok: want})

	got, err := p.GetAccessToken(context.Background(), "alice@EXAMPLE.COM", "storage.read")
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestInstrumentedPropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	p := Instrumented("dwd", &stubProvider{err: wantErr})

	_, err := p.GetAccessToken(context.Background(), "alice@EXAMPLE.COM", "storage.read")
	assert.Equal(t, wantErr, err)
}

func TestLocalPart(t *testing.T) {
	assert.Equal(t, "alice", localPart("alice@EXAMPLE.COM"))
	assert.Equal(t, "alice", localPart("alice"))
}

func TestCalculateExpiryMillis(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	got := calculateExpiryMillis(now, 30*time.Second)
	assert.Equal(t, now.Add(30*time.Second).UnixMilli(), got)
}

func TestErrAuthorizationInvalidMessage(t *testing.T) {
	err := ErrAuthorizationInvalid("alice@EXAMPLE.COM")
	handled, ok := brokererr.As(err)
	require.True(t, ok)
	assert.Equal(t, codes.PermissionDenied, handled.Code)
	assert.Equal(t, "GCP Token Broker authorization is invalid or has expired for user: alice@EXAMPLE.COM", handled.Message)
}
