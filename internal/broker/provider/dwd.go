package provider

import "context"

// DomainWideDelegation mints tokens by impersonating a real user account
// in the broker's own Google Workspace domain via domain-wide delegation.
// Maps "user@realm" to "user@<domain>" and signs under the broker's own
// service account (brokerIssuer=true), naming the target user as sub.
type DomainWideDelegation struct {
	base signedJWTBase
}

// NewDomainWideDelegation builds the domain-wide-delegation provider.
// domain is DOMAIN_NAME.
func NewDomainWideDelegation(metadata MetadataClient, signer IAMSigner, exchanger TokenExchanger, domain, tokenURL string, jwtLifeSeconds int64) *DomainWideDelegation {
	return &DomainWideDelegation{base: signedJWTBase{
		metadata:      metadata,
		signer:        signer,
		exchanger:     exchanger,
		tokenAudience: tokenURL,
		jwtLife:       jwtLifeSeconds,
		brokerIssuer:  true,
		identityMapper: func(owner string) string {
			return localPart(owner) + "@" + domain
		},
	}}
}

var _ Provider = (*DomainWideDelegation)(nil)

func (p *DomainWideDelegation) GetAccessToken(ctx context.Context, owner, scope string) (*AccessToken, error) {
	return p.base.getAccessToken(ctx, owner, scope)
}
