package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCStrategy verifies OpenID Connect ID tokens presented as bearer tokens
type OIDCStrategy struct {
	verifier *oidc.IDTokenVerifier
}

type oidcClaims struct {
	SysAdmin       bool   `json:"sys_admin"`
	OrganizationID string `json:"org_id"`
}

// NewOIDCStrategy discovers the issuer's keys and builds a verifier for clientID
func NewOIDCStrategy(ctx context.Context, issuer, clientID string) (*OIDCStrategy, error) {
	if issuer == "" || clientID == "" {
		return nil, errors.New("oidc issuer and client id are required")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc provider: %w", err)
	}
	return NewOIDCStrategyFromVerifier(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

// NewOIDCStrategyFromVerifier wraps an existing verifier
func NewOIDCStrategyFromVerifier(verifier *oidc.IDTokenVerifier) *OIDCStrategy {
	return &OIDCStrategy{verifier: verifier}
}

// Name implements Strategy
func (s *OIDCStrategy) Name() string { return StrategyOIDC }

// Authenticate implements Strategy
func (s *OIDCStrategy) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	raw := bearerToken(r)
	if raw == "" || strings.HasPrefix(raw, APIKeyPrefix) {
		return nil, nil
	}

	idToken, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid id token: %w", err)
	}
	if idToken.Subject == "" {
		return nil, errors.New("invalid id token: subject is required")
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode id token claims: %w", err)
	}

	return &Principal{
		UserID:         idToken.Subject,
		OrganizationID: claims.OrganizationID,
		IsSystemAdmin:  claims.SysAdmin,
		Strategy:       StrategyOIDC,
	}, nil
}
