// Package config loads the broker's runtime configuration from environment
// variables, following the source's flat APP_SETTING_<NAME> namespace.
//
// Unlike dittofs's nested DITTOFS_<SECTION>_<FIELD> convention, every key
// here lives at the top level (APP_SETTING_SESSION_MAXIMUM_LIFETIME, not
// APP_SETTING_SESSION_MAXIMUM_LIFETIME), so each field is bound to its env
// var explicitly with viper.BindEnv rather than relying on
// AutomaticEnv+a key replacer.
package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/gcp-broker/tokenbroker/internal/broker/auth"
)

// Config is the fully resolved broker configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	TLS        TLSConfig        `mapstructure:"tls"`
	Kerberos   KerberosConfig   `mapstructure:"kerberos"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Session    SessionConfig    `mapstructure:"session"`
	TokenCache TokenCacheConfig `mapstructure:"token_cache"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	OAuth      OAuthConfig      `mapstructure:"oauth"`
	Whitelists WhitelistConfig  `mapstructure:"whitelists"`
	Backends   BackendConfig    `mapstructure:"backends"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls the gRPC listener, its health surface, and the
// worker pool sizing the source read from NUM_SERVER_THREADS.
type ServerConfig struct {
	Host             string `mapstructure:"host" validate:"required"`
	Port             int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	HealthAddr       string `mapstructure:"health_addr" validate:"required"`
	NumServerThreads int    `mapstructure:"num_server_threads" validate:"min=1"`
}

// ListenAddr returns the "host:port" gRPC listen address.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TLSConfig names the transport credentials, when TLS termination happens
// in-process rather than at a sidecar/load balancer.
type TLSConfig struct {
	KeyPath string `mapstructure:"key_path"`
	CrtPath string `mapstructure:"crt_path"`
}

// Enabled reports whether both halves of a keypair were configured.
func (t TLSConfig) Enabled() bool {
	return t.KeyPath != "" && t.CrtPath != ""
}

// KerberosConfig configures the GSSAPI acceptor used by the Kerberos
// primary authentication variant.
type KerberosConfig struct {
	KeytabPath      string        `mapstructure:"keytab_path" validate:"required"`
	ServiceName     string        `mapstructure:"service_name" validate:"required"`
	ServiceHostname string        `mapstructure:"service_hostname" validate:"required"`
	OriginRealm     string        `mapstructure:"origin_realm" validate:"required"`
	Krb5ConfPath    string        `mapstructure:"krb5_conf_path"`
	MaxClockSkew    time.Duration `mapstructure:"max_clock_skew"`
}

// ServicePrincipal builds the acceptor's service principal name from its
// parts, e.g. "broker/broker.example.com@EXAMPLE.COM".
func (k KerberosConfig) ServicePrincipal() string {
	return k.ServiceName + "/" + k.ServiceHostname + "@" + k.OriginRealm
}

// IdentityConfig configures the cloud-identity mapping and OAuth2 token
// endpoint used by every provider variant.
type IdentityConfig struct {
	DomainName    string        `mapstructure:"domain_name"`
	ShadowProject string        `mapstructure:"shadow_project"`
	JWTLife       time.Duration `mapstructure:"jwt_life"`
	TokenURL      string        `mapstructure:"token_url" validate:"required"`
}

// OAuthConfig names the client credentials the refresh-token provider
// variant exchanges stored grants against. Unused by shadow/dwd, which
// mint their own JWT-bearer assertions instead of holding a client secret.
type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// SessionConfig governs session lifetime math.
type SessionConfig struct {
	MaximumLifetime time.Duration `mapstructure:"maximum_lifetime" validate:"required,gt=0"`
	RenewPeriod     time.Duration `mapstructure:"renew_period" validate:"required,gt=0"`
}

// TokenCacheConfig governs access-token cache TTLs.
type TokenCacheConfig struct {
	RemoteCacheTime time.Duration `mapstructure:"remote_cache_time" validate:"required,gt=0"`
	LocalCacheTime  time.Duration `mapstructure:"local_cache_time" validate:"required,gt=0"`
}

// EncryptionConfig names the three KMS key identifiers the core addresses
// by role.
type EncryptionConfig struct {
	RefreshTokenKeyID     string `mapstructure:"refresh_token_key_id" validate:"required"`
	AccessTokenCacheKeyID string `mapstructure:"access_token_cache_key_id" validate:"required"`
	DelegationSecretKeyID string `mapstructure:"delegation_secret_key_id" validate:"required"`
}

// WhitelistConfig holds the raw comma-separated lists; Whitelists() parses
// them into auth.Whitelist values.
type WhitelistConfig struct {
	Scope      string `mapstructure:"scope"`
	ProxyUsers string `mapstructure:"proxy_users"`
}

// Scopes parses the scope whitelist.
func (w WhitelistConfig) Scopes() auth.Whitelist { return auth.NewWhitelist(w.Scope) }

// ProxyUserWhitelist parses the impersonation whitelist.
func (w WhitelistConfig) ProxyUserWhitelist() auth.Whitelist { return auth.NewWhitelist(w.ProxyUsers) }

// BackendConfig selects concrete implementations by short token rather
// than the source's fully-qualified-class-name + dynamic-import scheme.
type BackendConfig struct {
	Auth     string `mapstructure:"auth" validate:"required,oneof=kerberos"`
	Cache    string `mapstructure:"cache" validate:"required,oneof=memory redis"`
	Database string `mapstructure:"database" validate:"required,oneof=memory badger postgres"`
	Provider string `mapstructure:"provider" validate:"required,oneof=shadow dwd refresh"`
	KMS      string `mapstructure:"kms" validate:"required,oneof=local s3envelope"`

	RedisAddr           string `mapstructure:"redis_addr"`
	PostgresDSN         string `mapstructure:"postgres_dsn"`
	BadgerPath          string `mapstructure:"badger_path"`
	S3EnvelopeBucket    string `mapstructure:"s3_envelope_bucket"`
	S3EnvelopeKeyPrefix string `mapstructure:"s3_envelope_key_prefix"`
	LocalKMSSecret      string `mapstructure:"local_kms_secret"`
}

// LoggingConfig mirrors dittofs's logging section: level/format/output,
// selected here by the LOGGING_BACKEND token for parity with the source's
// pluggable-logger design note, even though only one backend (internal/logger)
// is implemented.
type LoggingConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=slog"`
	Level   string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format  string `mapstructure:"format" validate:"required,oneof=text json"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing and, when its
// Profiling section is enabled, continuous Pyroscope profiling. Both are
// opt-in: a broker with tracing disabled runs with a no-op tracer and pays
// no exporter cost.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	Insecure   bool    `mapstructure:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`

	Profiling ProfilingConfig `mapstructure:"profiling"`
}

// ProfilingConfig configures continuous profiling export to a Pyroscope
// server, independent of whether distributed tracing is enabled.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Endpoint     string   `mapstructure:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types"`
}

// envBinding pairs a mapstructure dotted path with the flat
// APP_SETTING_<NAME> environment variable that feeds it.
type envBinding struct {
	path string
	env  string
}

var envBindings = []envBinding{
	{"server.host", "SERVER_HOST"},
	{"server.port", "SERVER_PORT"},
	{"server.health_addr", "HEALTH_ADDR"},
	{"server.num_server_threads", "NUM_SERVER_THREADS"},

	{"tls.key_path", "TLS_KEY_PATH"},
	{"tls.crt_path", "TLS_CRT_PATH"},

	{"kerberos.keytab_path", "KEYTAB_PATH"},
	{"kerberos.service_name", "BROKER_SERVICE_NAME"},
	{"kerberos.service_hostname", "BROKER_SERVICE_HOSTNAME"},
	{"kerberos.origin_realm", "ORIGIN_REALM"},
	{"kerberos.krb5_conf_path", "KRB5_CONF_PATH"},
	{"kerberos.max_clock_skew", "KERBEROS_MAX_CLOCK_SKEW"},

	{"identity.domain_name", "DOMAIN_NAME"},
	{"identity.shadow_project", "SHADOW_PROJECT"},
	{"identity.jwt_life", "JWT_LIFE"},
	{"identity.token_url", "TOKEN_URL"},

	{"oauth.client_id", "OAUTH_CLIENT_ID"},
	{"oauth.client_secret", "OAUTH_CLIENT_SECRET"},

	{"session.maximum_lifetime", "SESSION_MAXIMUM_LIFETIME"},
	{"session.renew_period", "SESSION_RENEW_PERIOD"},

	{"token_cache.remote_cache_time", "ACCESS_TOKEN_REMOTE_CACHE_TIME"},
	{"token_cache.local_cache_time", "ACCESS_TOKEN_LOCAL_CACHE_TIME"},

	{"encryption.refresh_token_key_id", "ENCRYPTION_REFRESH_CRYPTO_KEY"},
	{"encryption.access_token_cache_key_id", "ENCRYPTION_CACHE_CRYPTO_KEY"},
	{"encryption.delegation_secret_key_id", "ENCRYPTION_DELEGATION_CRYPTO_KEY"},

	{"whitelists.scope", "SCOPE_WHITELIST"},
	{"whitelists.proxy_users", "PROXY_USER_WHITELIST"},

	{"backends.auth", "AUTH_BACKEND"},
	{"backends.cache", "CACHE_BACKEND"},
	{"backends.database", "DATABASE_BACKEND"},
	{"backends.provider", "PROVIDER_BACKEND"},
	{"backends.kms", "KMS_BACKEND"},
	{"backends.redis_addr", "REDIS_ADDR"},
	{"backends.postgres_dsn", "POSTGRES_DSN"},
	{"backends.badger_path", "BADGER_PATH"},
	{"backends.s3_envelope_bucket", "S3_ENVELOPE_BUCKET"},
	{"backends.s3_envelope_key_prefix", "S3_ENVELOPE_KEY_PREFIX"},
	{"backends.local_kms_secret", "LOCAL_KMS_SECRET"},

	{"logging.backend", "LOGGING_BACKEND"},
	{"logging.level", "LOG_LEVEL"},
	{"logging.format", "LOG_FORMAT"},

	{"telemetry.enabled", "TELEMETRY_ENABLED"},
	{"telemetry.endpoint", "TELEMETRY_ENDPOINT"},
	{"telemetry.insecure", "TELEMETRY_INSECURE"},
	{"telemetry.sample_rate", "TELEMETRY_SAMPLE_RATE"},
	{"telemetry.profiling.enabled", "PROFILING_ENABLED"},
	{"telemetry.profiling.endpoint", "PROFILING_ENDPOINT"},
	{"telemetry.profiling.profile_types", "PROFILING_PROFILE_TYPES"},
}

const envVarPrefix = "APP_SETTING_"

// defaults apply when an environment variable is unset; anything absent
// here has no default and must be supplied, or Validate will reject it.
var defaults = map[string]any{
	"server.host":                    "0.0.0.0",
	"server.port":                    8080,
	"server.health_addr":             ":8081",
	"server.num_server_threads":      10,
	"session.maximum_lifetime":       7 * 24 * time.Hour,
	"session.renew_period":           24 * time.Hour,
	"token_cache.remote_cache_time":  5 * time.Minute,
	"token_cache.local_cache_time":   time.Minute,
	"identity.jwt_life":              30 * time.Second,
	"identity.token_url":             "https://oauth2.googleapis.com/token",
	"kerberos.krb5_conf_path":        "/etc/krb5.conf",
	"kerberos.max_clock_skew":        5 * time.Minute,
	"backends.auth":                  "kerberos",
	"backends.cache":                 "memory",
	"backends.database":              "memory",
	"backends.provider":              "shadow",
	"backends.kms":                   "local",
	"logging.backend":                "slog",
	"logging.level":                  "INFO",
	"logging.format":                 "text",
	"telemetry.enabled":              false,
	"telemetry.endpoint":             "localhost:4317",
	"telemetry.insecure":             true,
	"telemetry.sample_rate":          1.0,
	"telemetry.profiling.enabled":    false,
	"telemetry.profiling.endpoint":   "http://localhost:4040",
}

// EnvVarRef describes one recognized environment variable, for "broker
// genconfig" to print as a reference without duplicating the bindings
// table by hand.
type EnvVarRef struct {
	Name    string // without the APP_SETTING_ prefix
	Path    string // dotted mapstructure path
	Default any    // nil if no default; the field is then required
}

// EnvReference lists every bound environment variable in declaration
// order, each paired with its default (if any).
func EnvReference() []EnvVarRef {
	refs := make([]EnvVarRef, len(envBindings))
	for i, b := range envBindings {
		refs[i] = EnvVarRef{Name: b.env, Path: b.path, Default: defaults[b.path]}
	}
	return refs
}

// EnvVarPrefix is the common prefix every recognized variable carries.
const EnvVarPrefix = envVarPrefix

// Load builds a viper instance bound to APP_SETTING_<NAME> env vars,
// applies defaults, decodes into a Config, and validates it.
func Load() (*Config, error) {
	v := viper.New()

	for path, value := range defaults {
		v.SetDefault(path, value)
	}
	for _, b := range envBindings {
		if err := v.BindEnv(b.path, envVarPrefix+b.env); err != nil {
			return nil, fmt.Errorf("config: binding %s: %w", b.env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// decodeHooks composes the mapstructure decode hooks this config needs,
// following dittofs's byteSizeDecodeHook/durationDecodeHook pattern. Only a
// duration hook is needed here; viper's own string-to-X hooks handle the
// rest.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

var validate = validator.New()

// Validate checks struct tags on cfg via go-playground/validator/v10, the
// same library dittofs's own config package declares but, per its test
// suite referencing an otherwise-missing Validate function, never wires
// up in the retrieved source — here it is given a concrete home.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	switch cfg.Backends.Cache {
	case "redis":
		if cfg.Backends.RedisAddr == "" {
			return fmt.Errorf("config: backends.cache=redis requires REDIS_ADDR")
		}
	}
	switch cfg.Backends.Database {
	case "postgres":
		if cfg.Backends.PostgresDSN == "" {
			return fmt.Errorf("config: backends.database=postgres requires POSTGRES_DSN")
		}
	case "badger":
		if cfg.Backends.BadgerPath == "" {
			return fmt.Errorf("config: backends.database=badger requires BADGER_PATH")
		}
	}
	if cfg.Backends.Provider == "refresh" && (cfg.OAuth.ClientID == "" || cfg.OAuth.ClientSecret == "") {
		return fmt.Errorf("config: backends.provider=refresh requires OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET")
	}
	switch cfg.Backends.KMS {
	case "s3envelope":
		if cfg.Backends.S3EnvelopeBucket == "" {
			return fmt.Errorf("config: backends.kms=s3envelope requires S3_ENVELOPE_BUCKET")
		}
	case "local":
		if cfg.Backends.LocalKMSSecret == "" {
			return fmt.Errorf("config: backends.kms=local requires LOCAL_KMS_SECRET")
		}
	}
	return nil
}
