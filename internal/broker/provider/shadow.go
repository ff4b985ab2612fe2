package provider

import "context"

// ShadowServiceAccount mints tokens for a per-user "shadow" service
// account in a dedicated project, used when the target cloud identity has
// no real Google account of its own. Maps "user@realm" to
// "user-shadow@<shadow-project>.iam.gserviceaccount.com" and self-signs
// (brokerIssuer=false).
type ShadowServiceAccount struct {
	base signedJWTBase
}

// NewShadowServiceAccount builds the shadow-service-account provider.
// shadowProject is SHADOW_PROJECT; tokenURL is the OAuth2 token endpoint
// used both as the JWT audience and the exchange target.
func NewShadowServiceAccount(metadata MetadataClient, signer IAMSigner, exchanger TokenExchanger, shadowProject, tokenURL string, jwtLifeSeconds int64) *ShadowServiceAccount {
	return &ShadowServiceAccount{base: signedJWTBase{
		metadata:      metadata,
		signer:        signer,
		exchanger:     exchanger,
		tokenAudience: tokenURL,
		jwtLife:       jwtLifeSeconds,
		brokerIssuer:  false,
		identityMapper: func(owner string) string {
			return localPart(owner) + "-shadow@" + shadowProject + ".iam.gserviceaccount.com"
		},
	}}
}

var _ Provider = (*ShadowServiceAccount)(nil)

func (p *ShadowServiceAccount) GetAccessToken(ctx context.Context, owner, scope string) (*AccessToken, error) {
	return p.base.getAccessToken(ctx, owner, scope)
}
