package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetadataClient struct {
	email string
	token string
}

func (f *fakeMetadataClient) ServiceAccountEmail(ctx context.Context) (string, error) {
	return f.email, nil
}
func (f *fakeMetadataClient) AccessToken(ctx context.Context) (string, error) { return f.token, nil }

type fakeSigner struct {
	gotAccount string
	gotBearer  string
	gotClaims  signedJWTClaims
	signed     string
}

func (f *fakeSigner) SignJWT(ctx context.Context, serviceAccountEmail, bearerToken string, claims signedJWTClaims) (string, error) {
	f.gotAccount = serviceAccountEmail
	f.gotBearer = bearerToken
	f.gotClaims = claims
	return f.signed, nil
}

type fakeExchanger struct {
	gotJWT string
	tok    *AccessToken
}

func (f *fakeExchanger) ExchangeJWTBearer(ctx context.Context, signedJWT string) (*AccessToken, error) {
	f.gotJWT = signedJWT
	return f.tok, nil
}

func TestShadowServiceAccountMapsIdentityAndSelfSigns(t *testing.T) {
	metadata := &fakeMetadataClient{email: "broker@broker-project.iam.gserviceaccount.com", token: "broker-bearer"}
	signer := &fakeSigner{signed: "signed.jwt.here"}
	exchanger := &fakeExchanger{tok: &AccessToken{AccessToken: "access-xyz", ExpiresAt: time.Now().UnixMilli()}}

	p := NewShadowServiceAccount(metadata, signer, exchanger, "shadow-proj", "https://oauth2.example/token", 30)

	tok, err := p.GetAccessToken(context.Background(), "alice@EXAMPLE.COM", "scope-a")
	require.NoError(t, err)
	assert.Equal(t, "access-xyz", tok.AccessToken)

	assert.Equal(t, "alice-shadow@shadow-proj.iam.gserviceaccount.com", signer.gotAccount)
	assert.Equal(t, "alice-shadow@shadow-proj.iam.gserviceaccount.com", signer.gotClaims.Issuer)
	assert.Empty(t, signer.gotClaims.Subject)
	assert.Equal(t, "scope-a", signer.gotClaims.Scope)
	assert.Equal(t, "broker-bearer", signer.gotBearer)
	assert.Equal(t, "signed.jwt.here", exchanger.gotJWT)
}

func TestDomainWideDelegationMapsIdentityAndBrokerSigns(t *testing.T) {
	metadata := &fakeMetadataClient{email: "broker@broker-project.iam.gserviceaccount.com", token: "broker-bearer"}
	signer := &fakeSigner{signed: "signed.jwt.here"}
	exchanger := &fakeExchanger{tok: &AccessToken{AccessToken: "access-xyz"}}

	p := NewDomainWideDelegation(metadata, signer, exchanger, "example.com", "https://oauth2.example/token", 30)

	_, err := p.GetAccessToken(context.Background(), "alice@EXAMPLE.COM", "scope-a")
	require.NoError(t, err)

	assert.Equal(t, "broker@broker-project.iam.gserviceaccount.com", signer.gotAccount)
	assert.Equal(t, "broker@broker-project.iam.gserviceaccount.com", signer.gotClaims.Issuer)
	assert.Equal(t, "alice@example.com", signer.gotClaims.Subject)
}
