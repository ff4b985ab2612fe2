package provider

import (
	"context"
	"time"
)

// signedJWTBase is embedded by the shadow and domain-wide-delegation
// providers, which differ only in identity mapping and the brokerIssuer
// claim flag (§4.6).
type signedJWTBase struct {
	metadata       MetadataClient
	signer         IAMSigner
	exchanger      TokenExchanger
	tokenAudience  string // the OAuth2 token endpoint, used as the JWT aud
	jwtLife        int64  // seconds
	brokerIssuer   bool
	identityMapper func(owner string) string
}

func (p *signedJWTBase) getAccessToken(ctx context.Context, owner, scope string) (*AccessToken, error) {
	identity := p.identityMapper(owner)

	brokerAccount, err := p.metadata.ServiceAccountEmail(ctx)
	if err != nil {
		return nil, err
	}
	brokerToken, err := p.metadata.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	claims := buildClaims(time.Now(), time.Duration(p.jwtLife)*time.Second, p.tokenAudience, scope, identity, brokerAccount, p.brokerIssuer)

	signedJWT, err := p.signer.SignJWT(ctx, signingAccount(p.brokerIssuer, brokerAccount, identity), brokerToken, claims)
	if err != nil {
		return nil, err
	}

	return p.exchanger.ExchangeJWTBearer(ctx, signedJWT)
}

// signingAccount is the service account IAM signs under: the broker's own
// account for domain-wide delegation (it signs on the target's behalf),
// or the shadow account itself (it signs for itself).
func signingAccount(brokerIssuer bool, brokerAccount, identity string) string {
	if brokerIssuer {
		return brokerAccount
	}
	return identity
}
