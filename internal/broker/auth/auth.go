// Package auth turns an incoming RPC's
// authentication metadata into either the caller's Kerberos principal (the
// "who is knocking" primary auth used by GetSessionToken) or a previously
// issued Session (the delegated auth used by the renew/cancel/access-token
// endpoints).
//
// The two checks are independent, mirroring the broker's Python ancestor:
// a request carries at most one kind of credential, selected by which
// metadata key is present.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/gcp-broker/tokenbroker/internal/broker/crypto"
	"github.com/gcp-broker/tokenbroker/internal/broker/session"
	"github.com/gcp-broker/tokenbroker/internal/broker/sessiontoken"
)

// Metadata is the subset of incoming RPC metadata the authenticator reads.
// The rpc package adapts grpc's metadata.MD to this narrow interface so
// this package stays transport-agnostic.
type Metadata interface {
	// Get returns the first value for key, or "" if absent.
	Get(key string) string
}

// PrimaryVariant authenticates the initial, non-delegated request — the one
// that establishes who the caller is before any session exists.
type PrimaryVariant interface {
	// Authenticate inspects md and returns the caller's principal
	// ("user@REALM" or equivalent). Returns ErrNoCredential if md carries
	// no credential this variant recognizes.
	Authenticate(ctx context.Context, md Metadata) (string, error)
}

// ErrNoCredential is returned by a PrimaryVariant when the request carries
// no credential it knows how to parse.
var ErrNoCredential = fmt.Errorf("auth: no credential present")

// sessionAuthHeader is the metadata key carrying a previously issued
// session token, prefixed "BrokerSession ".
const sessionAuthHeader = "authorization"

// sessionAuthPrefix matches the Python broker's "BrokerSession " scheme name.
const sessionAuthPrefix = "BrokerSession "

// Authenticator bundles the primary variant with the session-token store it
// needs to resolve delegated requests.
type Authenticator struct {
	primary  PrimaryVariant
	sessions *session.Store
	kms      crypto.KMS
}

// New builds an Authenticator. primary performs the initial identity check
// (Kerberos in production); sessions and kms resolve session tokens on
// delegated endpoints.
func New(primary PrimaryVariant, sessions *session.Store, kms crypto.KMS) *Authenticator {
	return &Authenticator{primary: primary, sessions: sessions, kms: kms}
}

// AuthenticateUser runs the primary variant, returning the caller's
// principal. Used by GetSessionToken.
func (a *Authenticator) AuthenticateUser(ctx context.Context, md Metadata) (string, error) {
	return a.primary.Authenticate(ctx, md)
}

// SessionAuthResult is what AuthenticateSession resolves a BrokerSession
// header to.
type SessionAuthResult struct {
	Session *session.Session
}

// ErrSessionExpired is the sentinel AuthenticateSession returns when the
// token decodes and verifies but the session has expired. This
// maps to codes.Unimplemented at the RPC boundary, not Unauthenticated —
// preserved bug-compatibly from the Python broker's authenticate_session.
var ErrSessionExpired = fmt.Errorf("auth: session expired")

// AuthenticateSession looks for a "BrokerSession <token>" authorization
// header and, if present, resolves it against the stored session. Returns
// (nil, nil) when no such header is present at all — the caller then falls
// back to whatever per-endpoint rule applies (e.g. owner defaulting to the
// primary-authenticated user). Used by GetAccessToken's dual-path auth.
func (a *Authenticator) AuthenticateSession(ctx context.Context, md Metadata) (*session.Session, error) {
	raw := md.Get(sessionAuthHeader)
	if !strings.HasPrefix(raw, sessionAuthPrefix) {
		return nil, nil
	}
	return a.ResolveSessionToken(ctx, strings.TrimPrefix(raw, sessionAuthPrefix))
}

// ResolveSessionToken decodes token, loads the referenced session, and
// verifies the token's password ciphertext against it. Used both by the
// BrokerSession-header path (AuthenticateSession) and by
// RenewSessionToken/CancelSessionToken, which carry the session token as
// an explicit request field rather than call metadata.
func (a *Authenticator) ResolveSessionToken(ctx context.Context, token string) (*session.Session, error) {
	sessionID, ciphertext, err := sessiontoken.Decode(token)
	if err != nil {
		return nil, err
	}

	s, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !sessiontoken.Verify(ctx, a.kms, s, ciphertext) {
		return nil, sessiontoken.ErrMalformed
	}

	if s.IsExpired() {
		return nil, ErrSessionExpired
	}

	return s, nil
}
