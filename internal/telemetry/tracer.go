package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for broker RPC operations, following OpenTelemetry semantic
// conventions where one applies.
const (
	AttrPrincipal   = "broker.principal"    // authenticated user principal
	AttrProxyUser   = "broker.proxy_user"   // impersonated user, when set
	AttrScope       = "broker.scope"        // requested OAuth2 scope
	AttrSessionID   = "broker.session_id"
	AttrGoogleUser  = "broker.google_identity"
	AttrAuthMethod  = "broker.auth_method"  // kerberos, session_token
	AttrProvider    = "broker.provider"     // shadow, dwd, refresh
	AttrKMSRole     = "broker.kms_role"     // refresh-token, access-token-cache, delegation-secret
	AttrKMSBackend  = "broker.kms_backend"  // local, s3envelope
	AttrCacheHit    = "cache.hit"
	AttrCacheSource = "cache.source" // local, remote, provider

	AttrStoreBackend = "store.backend" // memory, badger, postgres
)

// Span names for broker RPC handlers and the components they call into.
const (
	SpanGetSessionToken    = "broker.GetSessionToken"
	SpanRenewSessionToken  = "broker.RenewSessionToken"
	SpanCancelSessionToken = "broker.CancelSessionToken"
	SpanGetAccessToken     = "broker.GetAccessToken"

	SpanProviderExchange = "provider.exchange"
	SpanKMSEncrypt       = "kms.encrypt"
	SpanKMSDecrypt       = "kms.decrypt"
	SpanTokenCacheLookup = "tokencache.lookup"
	SpanTokenCacheStore  = "tokencache.store"
)

// Principal returns an attribute for the authenticated user principal.
func Principal(principal string) attribute.KeyValue {
	return attribute.String(AttrPrincipal, principal)
}

// ProxyUser returns an attribute for an impersonated proxy user.
func ProxyUser(user string) attribute.KeyValue {
	return attribute.String(AttrProxyUser, user)
}

// Scope returns an attribute for a requested OAuth2 scope.
func Scope(scope string) attribute.KeyValue {
	return attribute.String(AttrScope, scope)
}

// SessionID returns an attribute for a session identifier.
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// GoogleIdentity returns an attribute for the cloud identity a token was
// minted for.
func GoogleIdentity(identity string) attribute.KeyValue {
	return attribute.String(AttrGoogleUser, identity)
}

// AuthMethod returns an attribute naming the primary authentication variant.
func AuthMethod(method string) attribute.KeyValue {
	return attribute.String(AttrAuthMethod, method)
}

// Provider returns an attribute naming the access-token provider variant.
func Provider(name string) attribute.KeyValue {
	return attribute.String(AttrProvider, name)
}

// KMSRole returns an attribute naming the logical key role a crypto
// operation was performed under.
func KMSRole(role string) attribute.KeyValue {
	return attribute.String(AttrKMSRole, role)
}

// KMSBackend returns an attribute naming the concrete KMS backend.
func KMSBackend(backend string) attribute.KeyValue {
	return attribute.String(AttrKMSBackend, backend)
}

// CacheHit returns an attribute for a cache hit/miss outcome.
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// CacheSource returns an attribute naming which layer served a cached value.
func CacheSource(source string) attribute.KeyValue {
	return attribute.String(AttrCacheSource, source)
}

// StoreBackend returns an attribute naming the concrete record-store backend.
func StoreBackend(backend string) attribute.KeyValue {
	return attribute.String(AttrStoreBackend, backend)
}

// StartRPCSpan starts a span for a top-level broker RPC handler.
func StartRPCSpan(ctx context.Context, method string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, method, trace.WithAttributes(attrs...))
}

// StartProviderSpan starts a span for an access-token provider exchange.
func StartProviderSpan(ctx context.Context, provider string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Provider(provider)}, attrs...)
	return StartSpan(ctx, SpanProviderExchange, trace.WithAttributes(allAttrs...))
}

// StartKMSSpan starts a span for a KMS encrypt/decrypt call.
func StartKMSSpan(ctx context.Context, spanName, role string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{KMSRole(role)}, attrs...)
	return StartSpan(ctx, spanName, trace.WithAttributes(allAttrs...))
}

// StartCacheSpan starts a span for a token-cache lookup or store.
func StartCacheSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, spanName, trace.WithAttributes(attrs...))
}
