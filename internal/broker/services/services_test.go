package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcp-broker/tokenbroker/internal/broker/config"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 0, HealthAddr: "127.0.0.1:0"},
		Kerberos: config.KerberosConfig{KeytabPath: "/nonexistent/broker.keytab", ServiceName: "broker", ServiceHostname: "broker.example.com", OriginRealm: "EXAMPLE.COM"},
		Identity: config.IdentityConfig{DomainName: "example.com", ShadowProject: "shadow-proj", JWTLife: 30 * time.Second, TokenURL: "https://oauth2.googleapis.com/token"},
		Session:  config.SessionConfig{MaximumLifetime: 7 * 24 * time.Hour, RenewPeriod: 24 * time.Hour},
		TokenCache: config.TokenCacheConfig{RemoteCacheTime: 5 * time.Minute, LocalCacheTime: time.Minute},
		Encryption: config.EncryptionConfig{
			RefreshTokenKeyID:     "refresh-key",
			AccessTokenCacheKeyID: "cache-key",
			DelegationSecretKeyID: "delegation-key",
		},
		Backends: config.BackendConfig{
			Auth: "kerberos", Cache: "memory", Database: "memory",
			Provider: "shadow", KMS: "local", LocalKMSSecret: "test-local-kms-master-secret",
		},
	}
}

func TestBuildFailsWhenKeytabMissing(t *testing.T) {
	cfg := memoryConfig(t)

	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary auth")
}

func TestBuildRecordStoreSelectsMemoryByDefault(t *testing.T) {
	s, err := buildRecordStore(context.Background(), config.BackendConfig{Database: "memory"})
	require.NoError(t, err)
	defer s.Close()
}

func TestBuildRecordStoreRejectsUnknownBackend(t *testing.T) {
	_, err := buildRecordStore(context.Background(), config.BackendConfig{Database: "mongodb"})
	assert.Error(t, err)
}

func TestBuildCacheSelectsMemoryByDefault(t *testing.T) {
	c, err := buildCache(config.BackendConfig{Cache: "memory"})
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestBuildCacheRejectsUnknownBackend(t *testing.T) {
	_, err := buildCache(config.BackendConfig{Cache: "memcached"})
	assert.Error(t, err)
}

func TestBuildKMSLocalRemapsLogicalRoles(t *testing.T) {
	enc := config.EncryptionConfig{
		RefreshTokenKeyID:     "refresh-key",
		AccessTokenCacheKeyID: "cache-key",
		DelegationSecretKeyID: "delegation-key",
	}
	kms, err := buildKMS(context.Background(), config.BackendConfig{KMS: "local", LocalKMSSecret: "test-local-kms-master-secret"}, enc)
	require.NoError(t, err)

	ciphertext, err := kms.Encrypt(context.Background(), "refresh-token", []byte("plaintext"))
	require.NoError(t, err)

	plaintext, err := kms.Decrypt(context.Background(), "refresh-token", ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "plaintext", string(plaintext))
}

func TestBuildKMSRejectsUnknownBackend(t *testing.T) {
	_, err := buildKMS(context.Background(), config.BackendConfig{KMS: "vault"}, config.EncryptionConfig{})
	assert.Error(t, err)
}

func TestBuildProviderRejectsUnknownBackend(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Backends.Provider = "workload-identity"
	_, err := buildProvider(cfg, nil, nil)
	assert.Error(t, err)
}

func TestLocalPartStripsRealm(t *testing.T) {
	assert.Equal(t, "alice", localPart("alice@EXAMPLE.COM"))
	assert.Equal(t, "alice", localPart("alice"))
}
