package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"

	"github.com/gcp-broker/tokenbroker/internal/broker/crypto"
	"github.com/gcp-broker/tokenbroker/internal/broker/session"
	"github.com/gcp-broker/tokenbroker/internal/broker/store"
)

// RefreshToken mints tokens by exchanging a previously stored OAuth2
// refresh token. The grant was obtained out of band (the authorizer
// application, out of scope here) and persisted ciphertext under the
// refresh-token KMS key.
type RefreshToken struct {
	tokens         *session.RefreshTokenStore
	kms            crypto.KMS
	oauthConfig    oauth2.Config
	identityMapper func(owner string) string
}

// NewRefreshToken builds the refresh-token provider. clientID/clientSecret
// and tokenURL are the OAuth2 client credentials and token endpoint the
// stored refresh grants were issued against; identityMapper derives the
// google_identity a refresh token is stored under from the session owner
// (domain-mapped, matching the domain-wide-delegation identity).
func NewRefreshToken(tokens *session.RefreshTokenStore, kms crypto.KMS, clientID, clientSecret, tokenURL string, identityMapper func(owner string) string) *RefreshToken {
	return &RefreshToken{
		tokens: tokens,
		kms:    kms,
		oauthConfig: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		identityMapper: identityMapper,
	}
}

var _ Provider = (*RefreshToken)(nil)

func (p *RefreshToken) GetAccessToken(ctx context.Context, owner, scope string) (*AccessToken, error) {
	identity := p.identityMapper(owner)

	rt, err := p.tokens.Get(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAuthorizationInvalid(owner)
	}
	if err != nil {
		return nil, fmt.Errorf("provider: loading refresh token for %s: %w", identity, err)
	}

	plaintext, err := p.kms.Decrypt(ctx, crypto.KeyRefreshToken, rt.Value)
	if err != nil {
		return nil, fmt.Errorf("provider: decrypting refresh token for %s: %w", identity, err)
	}

	source := p.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: string(plaintext)})

	var tok *oauth2.Token
	operation := func() error {
		t, err := source.Token()
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
				return backoff.Permanent(err)
			}
			return err
		}
		tok = t
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)); err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return nil, ErrAuthorizationInvalid(owner)
		}
		return nil, fmt.Errorf("provider: exchanging refresh token for %s: %w", identity, err)
	}

	return &AccessToken{AccessToken: tok.AccessToken, ExpiresAt: tok.Expiry.UnixMilli()}, nil
}
