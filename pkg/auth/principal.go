package auth

import (
	"context"

	"github.com/platinummonkey/warden/pkg/contextkeys"
)

// Principal is the identity established for one request. It is never persisted.
type Principal struct {
	UserID         string `json:"user_id"`
	APIKeyID       string `json:"api_key_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	IsSystemAdmin  bool   `json:"is_system_admin"`
	// Internal marks trusted service-to-service requests.
	Internal bool   `json:"internal"`
	Strategy string `json:"strategy"`
}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = contextkeys.WithPrincipal(ctx, p)
	if p != nil && p.UserID != "" {
		ctx = contextkeys.WithUserID(ctx, p.UserID)
	}
	return ctx
}

// PrincipalFromContext returns the principal stored by WithPrincipal, or nil
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := contextkeys.Lookup[*Principal](ctx, contextkeys.PrincipalKey)
	return p
}
