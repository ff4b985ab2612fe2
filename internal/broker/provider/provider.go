// Package provider implements a single-active, polymorphic
// access-token minting capability selected at process start. All three
// variants share the calculateExpiry helper and return the cache's
// AccessToken shape directly so tokencache.Minter is satisfied without an
// adapter.
package provider

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/gcp-broker/tokenbroker/internal/broker/brokererr"
	"github.com/gcp-broker/tokenbroker/internal/broker/metrics"
	"github.com/gcp-broker/tokenbroker/internal/broker/tokencache"
)

// AccessToken is an alias for the cache's payload type: a provider mints
// exactly what the cache stores.
type AccessToken = tokencache.AccessToken

// Provider mints a fresh access token for (owner, scope). owner is the
// session owner principal (e.g. "alice@EXAMPLE.COM"); scope is the
// comma-separated OAuth scope string carried on the session.
type Provider interface {
	GetAccessToken(ctx context.Context, owner, scope string) (*AccessToken, error)
}

// authzErrorMessage mirrors the Python broker's AUTHZ_ERROR_MESSAGE
// constant verbatim, since clients may match on its text.
const authzErrorMessage = "GCP Token Broker authorization is invalid or has expired for user: %s"

// ErrAuthorizationInvalid is the handled PermissionDenied error every
// provider returns when it cannot locate or exchange a grant for owner, so
// it reaches the client with this exact code and message instead of being
// masked to a generic server error by the RPC envelope.
func ErrAuthorizationInvalid(owner string) error {
	return brokererr.New(codes.PermissionDenied, authzErrorMessage, owner)
}

// calculateExpiryMillis returns now + expiresIn as milliseconds since
// epoch, the same unit every other timestamp in this broker uses.
func calculateExpiryMillis(now time.Time, expiresIn time.Duration) int64 {
	return now.Add(expiresIn).UnixMilli()
}

// localPart strips a "@realm"/"@domain" suffix from a principal, used to
// derive the bare username a cloud identity is built from.
func localPart(principal string) string {
	for i := 0; i < len(principal); i++ {
		if principal[i] == '@' {
			return principal[:i]
		}
	}
	return principal
}

// instrumented wraps a Provider with per-call duration metrics, tagged by
// name (the backend token: "shadow", "dwd", "refresh").
type instrumented struct {
	name string
	p    Provider
}

// Instrumented wraps p so every GetAccessToken call records its duration
// and outcome under name. services.buildProvider is the only caller.
func Instrumented(name string, p Provider) Provider {
	return &instrumented{name: name, p: p}
}

func (i *instrumented) GetAccessToken(ctx context.Context, owner, scope string) (*AccessToken, error) {
	start := time.Now()
	tok, err := i.p.GetAccessToken(ctx, owner, scope)
	metrics.RecordProviderExchange(i.name, time.Since(start), err)
	return tok, err
}
