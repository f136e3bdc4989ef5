// Package admin applies administrative mutations.
//
// Every operation writes to its store first and then invalidates the cache
// keys whose decisions may have changed. A failed write invalidates nothing.
// Invalidation only affects the cache this process was given; other
// processes sharing Redis see the change through the shared tier, their
// local tiers expire on their own TTL.
package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/warden/pkg/acl"
	"github.com/platinummonkey/warden/pkg/apierr"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/tenancy"
)

// Options configures a Service
type Options struct {
	Cache   cache.Cache
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Service is the administrative mutation path
type Service struct {
	tenants *tenancy.Service
	roles   *rbac.Store
	engine  *rbac.Engine
	acls    *acl.Store
	keys    *auth.APIKeyStore

	cache   cache.Cache
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewService creates an admin service. A nil cache disables invalidation.
func NewService(tenants *tenancy.Service, roles *rbac.Store, engine *rbac.Engine, acls *acl.Store, keys *auth.APIKeyStore, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		tenants: tenants,
		roles:   roles,
		engine:  engine,
		acls:    acls,
		keys:    keys,
		cache:   opts.Cache,
		logger:  logger.WithField("component", "admin"),
		metrics: opts.Metrics,
	}
}

func (s *Service) invalidate(ctx context.Context, namespace string, patterns ...string) {
	if s.cache == nil {
		return
	}
	for _, pattern := range patterns {
		s.cache.DeletePattern(ctx, pattern)
		s.metrics.RecordInvalidation(namespace)
	}
	s.logger.WithFields(map[string]interface{}{
		"namespace": namespace,
		"patterns":  patterns,
	}).Debug("Cache invalidated")
}

func (s *Service) invalidateKey(ctx context.Context, namespace, key string) {
	if s.cache == nil {
		return
	}
	s.cache.Delete(ctx, key)
	s.metrics.RecordInvalidation(namespace)
}

// invalidateOrganization drops the cached roles of orgID and the decisions
// of every listed member in it
func (s *Service) invalidateOrganization(ctx context.Context, orgID string, members []string) {
	s.invalidate(ctx, cache.NamespaceRole, cache.OrgRolesPattern(orgID))
	patterns := make([]string, 0, len(members))
	for _, userID := range members {
		patterns = append(patterns, cache.UserOrgDecisionsPattern(userID, orgID))
	}
	s.invalidate(ctx, cache.NamespaceAuthz, patterns...)
}

func (s *Service) memberIDs(ctx context.Context, orgID string) ([]string, error) {
	members, err := s.tenants.ListOrganizationMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	return ids, nil
}

// validateRole checks that role names a built-in role or a custom role of orgID
func (s *Service) validateRole(ctx context.Context, orgID, role string) error {
	if role == "" {
		return fmt.Errorf("%w: role is required", apierr.ErrInvalidInput)
	}
	if rbac.IsBuiltInRole(role) {
		return nil
	}
	_, err := s.roles.FindRole(ctx, orgID, role)
	if errors.Is(err, apierr.ErrNotFound) {
		return fmt.Errorf("%w: unknown role %q in organization %s", apierr.ErrInvalidInput, role, orgID)
	}
	return err
}
