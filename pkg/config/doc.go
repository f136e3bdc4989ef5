// Package config reads warden's settings from WARDEN_* environment
// variables. A malformed value fails LoadConfig rather than being ignored.
//
// Server settings:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_SHUTDOWN_TIMEOUT="30s"
//
// Store of record:
//
//	WARDEN_POSTGRES_URL="postgres://localhost/warden?sslmode=disable"
//	WARDEN_POSTGRES_MAX_CONNS="25"
//
// Cache settings:
//
//	WARDEN_CACHE_LOCAL_TTL="30s"
//	WARDEN_CACHE_SHARED_TTL="5m"
//	WARDEN_CACHE_MAX_ITEMS="10000"
//	WARDEN_CACHE_SHARED_ENABLED="true"
//	WARDEN_REDIS_URL="redis://localhost:6379/0"
//	WARDEN_REDIS_KEY_PREFIX="warden:"
//
// Authentication chain:
//
//	WARDEN_AUTH_STRATEGIES="jwt,apikey,basic"  # tried in this order, primary first
//	WARDEN_AUTH_PRIMARY="jwt"                  # jwt or oidc
//	WARDEN_AUTH_MANDATORY_PRIMARY="false"      # true disables the basic fallback
//	WARDEN_AUTH_STRATEGY_TIMEOUT="3s"
//	WARDEN_APIKEY_REQUIRES_USER="false"
//	WARDEN_APIKEY_PURGE_SCHEDULE="@hourly"
//	WARDEN_INTERNAL_AUTH_REQUIRED="true"
//	WARDEN_INTERNAL_SECRET="..."
//	WARDEN_JWT_SECRET="..."  WARDEN_JWT_ISSUER="warden"
//	WARDEN_OIDC_ISSUER="https://accounts.example.com"  WARDEN_OIDC_CLIENT_ID="warden"
//	WARDEN_BASIC_USERNAME="ops"  WARDEN_BASIC_PASSWORD_HASH="$2a$10$..."  WARDEN_BASIC_USER_ID="ops"
//
// Authorization:
//
//	WARDEN_ROLE_TEMPLATES_FILE="/etc/warden/templates.yaml"
//	WARDEN_WORKSPACE_ROLE_OVERRIDES_ORG_ADMIN="false"
//
// Observability:
//
//	WARDEN_LOG_LEVEL="info"
//	WARDEN_METRICS_ENABLED="true"
//	WARDEN_OTEL_ENABLED="false"
//	WARDEN_OTEL_ENDPOINT="localhost:4317"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
