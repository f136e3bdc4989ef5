package admin

import (
	"context"
	"time"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/cache"
)

// CreateAPIKey issues a key. The plaintext is returned once and never stored.
func (s *Service) CreateAPIKey(ctx context.Context, name, userID, orgID string, expiresAt *time.Time) (*auth.APIKey, string, error) {
	key, plaintext, err := s.keys.CreateAPIKey(ctx, name, userID, orgID, expiresAt)
	if err != nil {
		return nil, "", err
	}
	s.logger.WithFields(map[string]interface{}{
		"api_key_id": key.ID,
		"user_id":    userID,
		"prefix":     key.KeyPrefix,
	}).Info("API key created")
	return key, plaintext, nil
}

// GetAPIKey returns a key by id
func (s *Service) GetAPIKey(ctx context.Context, id string) (*auth.APIKey, error) {
	return s.keys.GetAPIKey(ctx, id)
}

// ListAPIKeys lists the keys owned by userID
func (s *Service) ListAPIKeys(ctx context.Context, userID string) ([]auth.APIKey, error) {
	return s.keys.ListAPIKeys(ctx, userID)
}

// RevokeAPIKey revokes a key and drops its cached session
func (s *Service) RevokeAPIKey(ctx context.Context, id string) (*auth.APIKey, error) {
	key, err := s.keys.RevokeAPIKey(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidateKey(ctx, cache.NamespaceSession, cache.APIKeySessionKey(key.KeyHash))
	s.logger.WithField("api_key_id", id).Info("API key revoked")
	return key, nil
}

// PurgeAPIKeys deletes keys that expired or were revoked before cutoff
func (s *Service) PurgeAPIKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.keys.CleanupExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordAPIKeysPurged(n)
	if n > 0 {
		s.logger.WithField("purged", n).Info("Expired API keys purged")
	}
	return n, nil
}
