package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Authentication strategy names accepted in WARDEN_AUTH_STRATEGIES.
const (
	StrategyJWT    = "jwt"
	StrategyOIDC   = "oidc"
	StrategyAPIKey = "apikey"
	StrategyBasic  = "basic"
)

// Config is everything warden reads from WARDEN_* environment variables.
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Cache         CacheConfig
	Auth          AuthConfig
	Authz         AuthzConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// CacheConfig holds the two cache tiers' settings
type CacheConfig struct {
	LocalTTL         time.Duration
	SharedTTL        time.Duration
	MaxItems         int
	SharedEnabled    bool
	RedisURL         string
	RedisKeyPrefix   string
	OperationTimeout time.Duration
}

// AuthConfig holds the authentication chain settings
type AuthConfig struct {
	// Strategies is the ordered list of enabled strategies.
	Strategies       []string
	Primary          string
	MandatoryPrimary bool
	StrategyTimeout  time.Duration

	APIKeyRequiresUser  bool
	APIKeyPurgeSchedule string

	InternalAuthRequired bool
	InternalSecret       string

	JWTSecret string
	JWTIssuer string
	JWTTTL    time.Duration

	OIDCIssuer   string
	OIDCClientID string

	BasicUsername     string
	BasicPasswordHash string
	BasicUserID       string
	BasicSystemAdmin  bool
}

// AuthzConfig holds resolver settings
type AuthzConfig struct {
	RoleTemplatesFile              string
	WorkspaceRoleOverridesOrgAdmin bool
}

type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig reads the environment. Malformed values are reported
// together with validation failures instead of silently falling back.
func LoadConfig() (*Config, error) {
	env := &envReader{lookup: os.LookupEnv}

	cfg := &Config{
		Server: ServerConfig{
			Host:            env.str("WARDEN_HOST", "0.0.0.0"),
			Port:            env.str("WARDEN_PORT", "8080"),
			ReadTimeout:     env.duration("WARDEN_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    env.duration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     env.duration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: env.duration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Storage: loadStorageConfig(env),
		Cache: CacheConfig{
			LocalTTL:         env.duration("WARDEN_CACHE_LOCAL_TTL", 30*time.Second),
			SharedTTL:        env.duration("WARDEN_CACHE_SHARED_TTL", 5*time.Minute),
			MaxItems:         env.integer("WARDEN_CACHE_MAX_ITEMS", 10000),
			SharedEnabled:    env.boolean("WARDEN_CACHE_SHARED_ENABLED", false),
			RedisURL:         env.str("WARDEN_REDIS_URL", "redis://localhost:6379/0"),
			RedisKeyPrefix:   env.str("WARDEN_REDIS_KEY_PREFIX", "warden:"),
			OperationTimeout: env.duration("WARDEN_CACHE_OPERATION_TIMEOUT", 250*time.Millisecond),
		},
		Auth: AuthConfig{
			Strategies:           env.list("WARDEN_AUTH_STRATEGIES", []string{StrategyJWT, StrategyAPIKey}),
			Primary:              strings.ToLower(env.str("WARDEN_AUTH_PRIMARY", StrategyJWT)),
			MandatoryPrimary:     env.boolean("WARDEN_AUTH_MANDATORY_PRIMARY", false),
			StrategyTimeout:      env.duration("WARDEN_AUTH_STRATEGY_TIMEOUT", 3*time.Second),
			APIKeyRequiresUser:   env.boolean("WARDEN_APIKEY_REQUIRES_USER", false),
			APIKeyPurgeSchedule:  env.str("WARDEN_APIKEY_PURGE_SCHEDULE", "@hourly"),
			InternalAuthRequired: env.boolean("WARDEN_INTERNAL_AUTH_REQUIRED", true),
			InternalSecret:       env.str("WARDEN_INTERNAL_SECRET", ""),
			JWTSecret:            env.str("WARDEN_JWT_SECRET", ""),
			JWTIssuer:            env.str("WARDEN_JWT_ISSUER", "warden"),
			JWTTTL:               env.duration("WARDEN_JWT_TTL", time.Hour),
			OIDCIssuer:           env.str("WARDEN_OIDC_ISSUER", ""),
			OIDCClientID:         env.str("WARDEN_OIDC_CLIENT_ID", ""),
			BasicUsername:        env.str("WARDEN_BASIC_USERNAME", ""),
			BasicPasswordHash:    env.str("WARDEN_BASIC_PASSWORD_HASH", ""),
			BasicUserID:          env.str("WARDEN_BASIC_USER_ID", ""),
			BasicSystemAdmin:     env.boolean("WARDEN_BASIC_SYSTEM_ADMIN", false),
		},
		Authz: AuthzConfig{
			RoleTemplatesFile:              env.str("WARDEN_ROLE_TEMPLATES_FILE", ""),
			WorkspaceRoleOverridesOrgAdmin: env.boolean("WARDEN_WORKSPACE_ROLE_OVERRIDES_ORG_ADMIN", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(env.str("WARDEN_LOG_LEVEL", "info")),
			MetricsEnabled:     env.boolean("WARDEN_METRICS_ENABLED", true),
			OTelEnabled:        env.boolean("WARDEN_OTEL_ENABLED", false),
			OTelEndpoint:       env.str("WARDEN_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    env.str("WARDEN_OTEL_SERVICE_NAME", "warden"),
			OTelServiceVersion: env.str("WARDEN_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       env.boolean("WARDEN_OTEL_INSECURE", true),
			OTelSampleRatio:    env.float("WARDEN_OTEL_SAMPLE_RATIO", 1.0),
		},
	}

	if err := errors.Join(errors.Join(env.errs...), cfg.Validate()); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadStorageConfig overlays the environment on storage.DefaultConfig.
// Non-positive pool settings keep the defaults.
func loadStorageConfig(env *envReader) storage.Config {
	cfg := storage.DefaultConfig()
	cfg.PostgresURL = env.str("WARDEN_POSTGRES_URL", cfg.PostgresURL)
	if n := env.integer("WARDEN_POSTGRES_MAX_CONNS", 0); n > 0 {
		cfg.PostgresMaxConns = n
	}
	if n := env.integer("WARDEN_POSTGRES_MIN_CONNS", 0); n > 0 {
		cfg.PostgresMinConns = n
	}
	if d := env.duration("WARDEN_POSTGRES_TIMEOUT", 0); d > 0 {
		cfg.PostgresTimeout = d
	}
	return cfg
}

// HasStrategy reports whether name is in the enabled strategy list.
func (a AuthConfig) HasStrategy(name string) bool {
	for _, s := range a.Strategies {
		if s == name {
			return true
		}
	}
	return false
}

// Validate reports every problem it finds, joined.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port == "" {
		fail("server port is required")
	}
	if c.Storage.PostgresURL == "" {
		fail("postgres URL is required")
	}

	if c.Cache.MaxItems <= 0 {
		fail("cache max items must be positive")
	}
	if c.Cache.LocalTTL <= 0 {
		fail("cache local TTL must be positive")
	}
	if c.Cache.SharedEnabled && c.Cache.RedisURL == "" {
		fail("redis URL is required when the shared cache is enabled")
	}
	if c.Cache.SharedEnabled && c.Cache.SharedTTL <= 0 {
		fail("cache shared TTL must be positive")
	}

	if err := c.Auth.validate(); err != nil {
		errs = append(errs, err)
	}

	if obs := c.Observability; obs.OTelEnabled {
		if obs.OTelEndpoint == "" {
			fail("OpenTelemetry endpoint is required when tracing is enabled")
		}
		if obs.OTelServiceName == "" {
			fail("OpenTelemetry service name is required when tracing is enabled")
		}
	}

	return errors.Join(errs...)
}

func (a AuthConfig) validate() error {
	if len(a.Strategies) == 0 {
		return fmt.Errorf("at least one authentication strategy is required")
	}

	seen := make(map[string]bool, len(a.Strategies))
	for _, s := range a.Strategies {
		switch s {
		case StrategyJWT, StrategyOIDC, StrategyAPIKey, StrategyBasic:
		default:
			return fmt.Errorf("invalid authentication strategy: %s (must be jwt, oidc, apikey or basic)", s)
		}
		if seen[s] {
			return fmt.Errorf("authentication strategy %s listed twice", s)
		}
		seen[s] = true
	}

	if a.Primary != "" {
		if a.Primary != StrategyJWT && a.Primary != StrategyOIDC {
			return fmt.Errorf("primary strategy must be jwt or oidc, got %s", a.Primary)
		}
		if !seen[a.Primary] {
			return fmt.Errorf("primary strategy %s is not enabled", a.Primary)
		}
	}
	if a.MandatoryPrimary && a.Primary == "" {
		return fmt.Errorf("mandatory primary requires a primary strategy")
	}

	if a.StrategyTimeout <= 0 {
		return fmt.Errorf("strategy timeout must be positive")
	}

	if seen[StrategyJWT] && a.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required when the jwt strategy is enabled")
	}
	if seen[StrategyOIDC] && (a.OIDCIssuer == "" || a.OIDCClientID == "") {
		return fmt.Errorf("OIDC issuer and client ID are required when the oidc strategy is enabled")
	}
	if seen[StrategyBasic] && (a.BasicUsername == "" || a.BasicPasswordHash == "") {
		return fmt.Errorf("basic username and password hash are required when the basic strategy is enabled")
	}

	return nil
}

// envReader reads typed WARDEN_* values and remembers malformed ones.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) bad(key, value, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q is not a valid %s", key, value, want))
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *envReader) boolean(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.bad(key, v, "boolean")
		return def
	}
	return b
}

func (e *envReader) integer(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.bad(key, v, "integer")
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.bad(key, v, "number")
		return def
	}
	return f
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.bad(key, v, "duration")
		return def
	}
	return d
}

// list splits on commas, lower-cases and drops empty entries.
func (e *envReader) list(key string, def []string) []string {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
