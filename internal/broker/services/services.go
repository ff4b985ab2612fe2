// Package services assembles every broker component from a loaded
// *config.Config into a single wired bundle: enumerate implementations in
// a small registry keyed by short tokens, select at startup, and inject via
// interface parameters rather than process-wide singletons. cmd/broker is
// the only caller.
package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gcp-broker/tokenbroker/internal/broker/auth"
	"github.com/gcp-broker/tokenbroker/internal/broker/cache"
	cachememory "github.com/gcp-broker/tokenbroker/internal/broker/cache/memory"
	cacheredis "github.com/gcp-broker/tokenbroker/internal/broker/cache/redis"
	"github.com/gcp-broker/tokenbroker/internal/broker/config"
	"github.com/gcp-broker/tokenbroker/internal/broker/crypto"
	brokerkms "github.com/gcp-broker/tokenbroker/internal/broker/kms"
	kmslocal "github.com/gcp-broker/tokenbroker/internal/broker/kms/local"
	"github.com/gcp-broker/tokenbroker/internal/broker/kms/s3envelope"
	"github.com/gcp-broker/tokenbroker/internal/broker/provider"
	"github.com/gcp-broker/tokenbroker/internal/broker/rpc"
	"github.com/gcp-broker/tokenbroker/internal/broker/session"
	"github.com/gcp-broker/tokenbroker/internal/broker/store"
	storebadger "github.com/gcp-broker/tokenbroker/internal/broker/store/badger"
	storememory "github.com/gcp-broker/tokenbroker/internal/broker/store/memory"
	storepostgres "github.com/gcp-broker/tokenbroker/internal/broker/store/postgres"
	"github.com/gcp-broker/tokenbroker/internal/broker/tokencache"
	"github.com/gcp-broker/tokenbroker/pkg/auth/kerberos"
)

// Services bundles every constructed component plus the gRPC/health server
// ready to Start, and owns shutdown of anything that needs it (the
// Kerberos keytab watcher, closeable record stores).
type Services struct {
	GRPCServer *rpc.GRPCServer

	records store.RecordStore
	kerb    *kerberos.Provider
}

// Close releases everything Build acquired: the underlying record store
// connection and the keytab hot-reload watcher.
func (s *Services) Close() error {
	if s.kerb != nil {
		_ = s.kerb.Close()
	}
	if s.records != nil {
		return s.records.Close()
	}
	return nil
}

// Build wires every component named in cfg into a ready-to-serve Services
// bundle. It is the single place in the broker that knows about every
// concrete backend; everything downstream of it talks only to the
// interfaces in crypto, cache, store, provider, and auth.
func Build(ctx context.Context, cfg *config.Config) (*Services, error) {
	records, err := buildRecordStore(ctx, cfg.Backends)
	if err != nil {
		return nil, fmt.Errorf("services: building record store: %w", err)
	}

	remoteCache, err := buildCache(cfg.Backends)
	if err != nil {
		return nil, fmt.Errorf("services: building cache: %w", err)
	}

	kms, err := buildKMS(ctx, cfg.Backends, cfg.Encryption)
	if err != nil {
		_ = records.Close()
		return nil, fmt.Errorf("services: building kms: %w", err)
	}

	sessions := session.NewStore(records)
	refreshTokens := session.NewRefreshTokenStore(records)

	kerberosProvider, primary, err := buildPrimaryAuth(cfg.Kerberos, cfg.Backends.Auth)
	if err != nil {
		_ = records.Close()
		return nil, fmt.Errorf("services: building primary auth: %w", err)
	}

	authenticator := auth.New(primary, sessions, kms)

	mintProvider, err := buildProvider(cfg, kms, refreshTokens)
	if err != nil {
		_ = records.Close()
		return nil, fmt.Errorf("services: building provider: %w", err)
	}

	tokens := tokencache.New(remoteCache, kms, mintProvider, cfg.TokenCache.LocalCacheTime)

	broker := &rpc.Server{
		Authenticator:  authenticator,
		Sessions:       sessions,
		KMS:            kms,
		Tokens:         tokens,
		ProxyUsers:     cfg.Whitelists.ProxyUserWhitelist(),
		Scopes:         cfg.Whitelists.Scopes(),
		Lifetimes:      session.Lifetimes{MaxLifetime: cfg.Session.MaximumLifetime, RenewPeriod: cfg.Session.RenewPeriod},
		RemoteTokenTTL: cfg.TokenCache.RemoteCacheTime,
	}

	checker := &healthChecker{records: records, cache: remoteCache}

	grpcServer := rpc.NewGRPCServer(broker, checker, cfg.Server.ListenAddr(), cfg.Server.HealthAddr)

	return &Services{GRPCServer: grpcServer, records: records, kerb: kerberosProvider}, nil
}

func buildRecordStore(ctx context.Context, backends config.BackendConfig) (store.RecordStore, error) {
	switch backends.Database {
	case "memory":
		return storememory.New(), nil
	case "badger":
		return storebadger.Open(backends.BadgerPath)
	case "postgres":
		return storepostgres.Open(ctx, storepostgres.Config{DSN: backends.PostgresDSN})
	default:
		return nil, fmt.Errorf("services: unknown database backend %q", backends.Database)
	}
}

func buildCache(backends config.BackendConfig) (cache.Cache, error) {
	switch backends.Cache {
	case "memory":
		return cachememory.New(), nil
	case "redis":
		return cacheredis.New(cacheredis.Config{Addr: backends.RedisAddr}), nil
	default:
		return nil, fmt.Errorf("services: unknown cache backend %q", backends.Cache)
	}
}

// buildKMS constructs the configured backend and wraps it in kms.Remap so
// every caller in the core addresses it by logical role
// (crypto.KeyRefreshToken/KeyAccessTokenCache/KeyDelegationSecret) rather
// than by whichever key id the operator actually configured.
func buildKMS(ctx context.Context, backends config.BackendConfig, enc config.EncryptionConfig) (crypto.KMS, error) {
	roleToKey := map[string]string{
		crypto.KeyRefreshToken:     enc.RefreshTokenKeyID,
		crypto.KeyAccessTokenCache: enc.AccessTokenCacheKeyID,
		crypto.KeyDelegationSecret: enc.DelegationSecretKeyID,
	}

	switch backends.KMS {
	case "local":
		secrets := map[string][]byte{
			enc.RefreshTokenKeyID:     []byte(backends.LocalKMSSecret),
			enc.AccessTokenCacheKeyID: []byte(backends.LocalKMSSecret),
			enc.DelegationSecretKeyID: []byte(backends.LocalKMSSecret),
		}
		underlying, err := kmslocal.New(kmslocal.Config{Secrets: secrets})
		if err != nil {
			return nil, err
		}
		return brokerkms.NewRemap(underlying, roleToKey), nil
	case "s3envelope":
		underlying, err := s3envelope.New(ctx, s3envelope.Config{
			Bucket:    backends.S3EnvelopeBucket,
			KeyPrefix: backends.S3EnvelopeKeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return brokerkms.NewRemap(underlying, roleToKey), nil
	default:
		return nil, fmt.Errorf("services: unknown kms backend %q", backends.KMS)
	}
}

// buildPrimaryAuth builds the Kerberos keytab/krb5.conf provider and wraps
// it as an auth.PrimaryVariant. The returned *kerberos.Provider is handed
// back to the caller purely so Services.Close can stop its keytab
// watcher; nothing else touches it directly.
func buildPrimaryAuth(kc config.KerberosConfig, backend string) (*kerberos.Provider, auth.PrimaryVariant, error) {
	if backend != "kerberos" {
		return nil, nil, fmt.Errorf("services: unknown auth backend %q", backend)
	}

	p, err := kerberos.NewProvider(kerberos.Config{
		KeytabPath:      kc.KeytabPath,
		ServiceName:     kc.ServiceName,
		ServiceHostname: kc.ServiceHostname,
		OriginRealm:     kc.OriginRealm,
		Krb5ConfPath:    kc.Krb5ConfPath,
		MaxClockSkew:    kc.MaxClockSkew,
	})
	if err != nil {
		return nil, nil, err
	}
	return p, auth.NewKerberos(p), nil
}

func buildProvider(cfg *config.Config, kms crypto.KMS, refreshTokens *session.RefreshTokenStore) (provider.Provider, error) {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	jwtLifeSeconds := int64(cfg.Identity.JWTLife.Seconds())

	var p provider.Provider
	switch cfg.Backends.Provider {
	case "shadow":
		metadata := provider.NewGCEMetadataClient(httpClient)
		signer := provider.NewIAMSigner(httpClient)
		exchanger := provider.NewTokenExchanger(httpClient, cfg.Identity.TokenURL)
		p = provider.NewShadowServiceAccount(metadata, signer, exchanger, cfg.Identity.ShadowProject, cfg.Identity.TokenURL, jwtLifeSeconds)
	case "dwd":
		metadata := provider.NewGCEMetadataClient(httpClient)
		signer := provider.NewIAMSigner(httpClient)
		exchanger := provider.NewTokenExchanger(httpClient, cfg.Identity.TokenURL)
		p = provider.NewDomainWideDelegation(metadata, signer, exchanger, cfg.Identity.DomainName, cfg.Identity.TokenURL, jwtLifeSeconds)
	case "refresh":
		domain := cfg.Identity.DomainName
		identityMapper := func(owner string) string { return localPart(owner) + "@" + domain }
		p = provider.NewRefreshToken(refreshTokens, kms, cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.Identity.TokenURL, identityMapper)
	default:
		return nil, fmt.Errorf("services: unknown provider backend %q", cfg.Backends.Provider)
	}
	return provider.Instrumented(cfg.Backends.Provider, p), nil
}

// healthChecker probes the record store and remote cache on /health/ready,
// the same two external dependencies the Python broker's readiness probe
// covers (key-management service connectivity is assumed from KMS's own
// lazy-fetch/cache behaviour rather than a live round trip per probe).
type healthChecker struct {
	records store.RecordStore
	cache   cache.Cache
}

func (h *healthChecker) Ready(ctx context.Context) error {
	probeID := "healthcheck-probe"
	if _, err := h.records.Get(ctx, store.KindSession, probeID); err != nil && err != store.ErrNotFound {
		return fmt.Errorf("services: record store unreachable: %w", err)
	}
	if _, err := h.cache.Get(ctx, probeID); err != nil && err != cache.ErrNotFound {
		return fmt.Errorf("services: cache unreachable: %w", err)
	}
	return nil
}

var _ rpc.HealthChecker = (*healthChecker)(nil)

// localPart mirrors provider.localPart/rpc.localPart; each package keeps its
// own copy of this one-line helper rather than exporting it across a
// domain boundary for a single string operation.
func localPart(principal string) string {
	for i := 0; i < len(principal); i++ {
		if principal[i] == '@' {
			return principal[:i]
		}
	}
	return principal
}
