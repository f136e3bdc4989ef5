package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/apierr"
	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/observability"
)

// APIKeyHeader carries an API key outside the Authorization header
const APIKeyHeader = "X-API-Key"

// APIKeyOptions configures an APIKeyStrategy
type APIKeyOptions struct {
	// RequiresUser declines keys that are not bound to a user.
	RequiresUser bool
	// Cache holds resolved keys under session:apikey:<hash>. Nil disables it.
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   *observability.Logger
}

// APIKeyStrategy authenticates "wdn_" keys
type APIKeyStrategy struct {
	keys         APIKeyLookup
	requiresUser bool
	cache        cache.Cache
	cacheTTL     time.Duration
	logger       *observability.Logger
	now          func() time.Time
}

// NewAPIKeyStrategy creates an API key strategy
func NewAPIKeyStrategy(keys APIKeyLookup, opts APIKeyOptions) *APIKeyStrategy {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &APIKeyStrategy{
		keys:         keys,
		requiresUser: opts.RequiresUser,
		cache:        opts.Cache,
		cacheTTL:     opts.CacheTTL,
		logger:       logger.WithField("strategy", StrategyAPIKey),
		now:          time.Now,
	}
}

// Name implements Strategy
func (s *APIKeyStrategy) Name() string { return StrategyAPIKey }

// Authenticate implements Strategy. Unknown, expired and revoked keys decline.
func (s *APIKeyStrategy) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	raw := apiKeyFromRequest(r)
	if raw == "" {
		return nil, nil
	}
	if err := ValidateKeyFormat(raw); err != nil {
		return nil, nil
	}

	key, err := s.lookup(ctx, HashAPIKey(raw))
	if err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if !key.Active(s.now()) {
		return nil, nil
	}
	if key.UserID == "" && s.requiresUser {
		s.logger.WithField("api_key_id", key.ID).Debug("api key has no user, declining")
		return nil, nil
	}

	if err := s.keys.TouchLastUsed(ctx, key.ID); err != nil {
		s.logger.WithError(err).Warn("failed to record api key use")
	}

	userID := key.UserID
	if userID == "" {
		userID = "apikey:" + key.ID
	}
	return &Principal{
		UserID:         userID,
		APIKeyID:       key.ID,
		OrganizationID: key.OrganizationID,
		Strategy:       StrategyAPIKey,
	}, nil
}

// lookup resolves a hash through the cache, then the store. Inactive keys
// are cached too so revocation must drop the session entry.
func (s *APIKeyStrategy) lookup(ctx context.Context, keyHash string) (*APIKey, error) {
	cacheKey := cache.APIKeySessionKey(keyHash)
	if s.cache != nil {
		var cached APIKey
		if cache.GetJSON(ctx, s.cache, cacheKey, &cached) {
			cached.KeyHash = keyHash
			return &cached, nil
		}
	}

	key, err := s.keys.LookupByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, cacheKey, key, s.cacheTTL); err != nil {
			s.logger.WithError(err).Warn("failed to cache api key")
		}
	}
	return key, nil
}

func apiKeyFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	if token := bearerToken(r); strings.HasPrefix(token, APIKeyPrefix) {
		return token
	}
	return ""
}
