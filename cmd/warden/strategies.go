package main

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/observability"
)

// buildStrategies constructs every enabled strategy. Ordering is left to
// auth.NewChain.
func buildStrategies(ctx context.Context, cfg config.AuthConfig, keys auth.APIKeyLookup, sessions cache.Cache, sessionTTL time.Duration, logger *observability.Logger) ([]auth.Strategy, error) {
	strategies := make([]auth.Strategy, 0, len(cfg.Strategies))
	for _, name := range cfg.Strategies {
		switch name {
		case config.StrategyJWT:
			s, err := auth.NewJWTStrategy(cfg.JWTSecret, cfg.JWTIssuer)
			if err != nil {
				return nil, fmt.Errorf("failed to configure jwt strategy: %w", err)
			}
			strategies = append(strategies, s)
		case config.StrategyOIDC:
			s, err := auth.NewOIDCStrategy(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
			if err != nil {
				return nil, fmt.Errorf("failed to configure oidc strategy: %w", err)
			}
			strategies = append(strategies, s)
		case config.StrategyAPIKey:
			strategies = append(strategies, auth.NewAPIKeyStrategy(keys, auth.APIKeyOptions{
				RequiresUser: cfg.APIKeyRequiresUser,
				Cache:        sessions,
				CacheTTL:     sessionTTL,
				Logger:       logger,
			}))
		case config.StrategyBasic:
			s, err := auth.NewBasicStrategy(auth.BasicCredentials{
				Username:      cfg.BasicUsername,
				PasswordHash:  cfg.BasicPasswordHash,
				UserID:        cfg.BasicUserID,
				IsSystemAdmin: cfg.BasicSystemAdmin,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to configure basic strategy: %w", err)
			}
			strategies = append(strategies, s)
		default:
			return nil, fmt.Errorf("unknown authentication strategy %q", name)
		}
	}
	return strategies, nil
}
