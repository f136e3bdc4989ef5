package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/warden/pkg/acl"
	"github.com/platinummonkey/warden/pkg/apierr"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/tenancy"
)

// RoleResolver turns a membership role into its effective permissions
type RoleResolver interface {
	EffectivePermissions(ctx context.Context, orgID, roleRef string) (rbac.PermissionSet, error)
}

// Options configures a Resolver
type Options struct {
	// Cache stores decisions. Nil disables decision caching.
	Cache       cache.Cache
	DecisionTTL time.Duration
	// WorkspaceRoleOverridesOrgAdmin makes an explicit workspace membership
	// final. By default an organization admin satisfies every workspace
	// action even when their workspace role does not.
	WorkspaceRoleOverridesOrgAdmin bool
	Logger                         *observability.Logger
	Metrics                        *observability.Metrics
}

// Resolver is the single authorization entry point for every route variant
type Resolver struct {
	tenants tenancy.Reader
	roles   RoleResolver
	acls    acl.Checker

	cache             cache.Cache
	decisionTTL       time.Duration
	workspaceRoleWins bool
	group             singleflight.Group

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResolver creates a resolver
func NewResolver(tenants tenancy.Reader, roles RoleResolver, acls acl.Checker, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Resolver{
		tenants:           tenants,
		roles:             roles,
		acls:              acls,
		cache:             opts.Cache,
		decisionTTL:       opts.DecisionTTL,
		workspaceRoleWins: opts.WorkspaceRoleOverridesOrgAdmin,
		logger:            logger.WithField("component", "authz"),
		metrics:           opts.Metrics,
	}
}

// request is one normalized check
type request struct {
	userID       string
	scope        Scope
	orgID        string
	permission   rbac.Permission
	resourceID   string
	resourceType string
	action       string

	// tenantRead is set when the organization or workspace row was already
	// read from the store for this request.
	tenantRead bool
}

// evaluationTimeout bounds a shared evaluation, which outlives the caller
// that started it.
const evaluationTimeout = 5 * time.Second

// Authorize decides whether principal may perform action on resourceType
// (optionally one instance resourceID) within scope. A non-nil error always
// comes with a deny Result: ErrNotFound for a missing tenant,
// ErrBackendUnavailable for store failures.
func (r *Resolver) Authorize(ctx context.Context, principal *auth.Principal, scope Scope, resourceType, action, resourceID string) (Result, error) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "authz.Authorize")
	defer span.End()
	span.SetAttributes(
		attribute.String("authz.scope", scope.String()),
		attribute.String("authz.resource_type", resourceType),
		attribute.String("authz.action", action),
	)

	result, err := r.authorize(ctx, principal, scope, resourceType, action, resourceID)

	span.SetAttributes(
		attribute.Bool("authz.allowed", result.Allowed),
		attribute.String("authz.source", result.Source),
		attribute.Bool("authz.cached", result.Cached),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordDecisionError(string(scope.Type))
	}
	r.metrics.RecordDecision(string(scope.Type), result.Allowed, result.Source, time.Since(start))
	return result, err
}

// Require is Authorize that reports a deny as apierr.ErrForbidden
func (r *Resolver) Require(ctx context.Context, principal *auth.Principal, scope Scope, resourceType, action, resourceID string) error {
	result, err := r.Authorize(ctx, principal, scope, resourceType, action, resourceID)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return fmt.Errorf("%w: %s", apierr.ErrForbidden, result.Reason)
	}
	return nil
}

func (r *Resolver) authorize(ctx context.Context, principal *auth.Principal, scope Scope, resourceType, action, resourceID string) (Result, error) {
	switch {
	case principal == nil:
		return deny(SourceDefault, "no principal"), nil
	case principal.IsSystemAdmin:
		return allow(SourceSystemAdmin, "system administrator"), nil
	case principal.Internal:
		return allow(SourceInternal, "internal request"), nil
	case principal.UserID == "":
		return deny(SourceDefault, "principal has no user"), nil
	}

	perm := rbac.Permission{Resource: rbac.Resource(resourceType), Action: rbac.Action(action)}
	if !perm.Valid() {
		return deny(SourceDefault, fmt.Sprintf("unknown permission %s", perm)), nil
	}

	switch scope.Type {
	case ScopeOrganization, ScopeWorkspace:
	case ScopeGlobal:
		if resourceID != "" {
			r.logger.WithFields(map[string]interface{}{
				"user_id":       principal.UserID,
				"resource_type": resourceType,
				"resource_id":   resourceID,
				"action":        action,
			}).Warn("resource check without a tenant scope, denying")
		}
		return deny(SourceDefault, "global scope requires a system administrator"), nil
	default:
		return deny(SourceDefault, fmt.Sprintf("unknown scope type %q", scope.Type)), nil
	}
	if scope.ID == "" {
		return deny(SourceDefault, fmt.Sprintf("missing %s id", scope.Type)), nil
	}

	req := request{
		userID:       principal.UserID,
		scope:        scope,
		permission:   perm,
		resourceID:   resourceID,
		resourceType: resourceType,
		action:       action,
	}

	if scope.Type == ScopeOrganization {
		req.orgID = scope.ID
	} else {
		orgID, fromStore, err := r.workspaceOrganization(ctx, scope.ID)
		if err != nil {
			return deny(SourceDefault, err.Error()), err
		}
		req.orgID = orgID
		req.tenantRead = fromStore
	}

	// An organization-bound API key never reaches another tenant, whatever
	// its owner may do there.
	if principal.APIKeyID != "" && principal.OrganizationID != "" && principal.OrganizationID != req.orgID {
		return deny(SourceDefault, fmt.Sprintf("API key is restricted to organization %s", principal.OrganizationID)), nil
	}

	if scope.Type == ScopeOrganization {
		fromStore, err := r.organizationExists(ctx, req.orgID)
		if err != nil {
			return deny(SourceDefault, err.Error()), err
		}
		req.tenantRead = fromStore
	}

	return r.cachedDecision(ctx, req)
}

// organizationExists gates cached organization decisions on a cached
// existence marker, which is dropped when the organization is deleted.
// Without a cache the check happens during evaluation.
func (r *Resolver) organizationExists(ctx context.Context, orgID string) (fromStore bool, err error) {
	if r.cache == nil {
		return false, nil
	}
	key := cache.OrganizationKey(orgID)
	if _, ok := r.cache.Get(ctx, key); ok {
		return false, nil
	}

	if _, err := r.tenants.GetOrganization(ctx, orgID); err != nil {
		return false, storeError("organization", err)
	}
	r.cache.Set(ctx, key, []byte(orgID), r.decisionTTL)
	return true, nil
}

// workspaceOrganization maps a workspace to its organization through the
// cache, falling back to the tenancy store.
func (r *Resolver) workspaceOrganization(ctx context.Context, workspaceID string) (orgID string, fromStore bool, err error) {
	key := cache.WorkspaceOrgKey(workspaceID)
	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, key); ok && len(cached) > 0 {
			return string(cached), false, nil
		}
	}

	ws, err := r.tenants.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return "", false, storeError("workspace", err)
	}

	if r.cache != nil {
		r.cache.Set(ctx, key, []byte(ws.OrganizationID), r.decisionTTL)
	}
	return ws.OrganizationID, true, nil
}

func (r *Resolver) cachedDecision(ctx context.Context, req request) (Result, error) {
	var workspaceID string
	if req.scope.Type == ScopeWorkspace {
		workspaceID = req.scope.ID
	}
	key := cache.DecisionKey(req.userID, req.orgID, workspaceID, req.resourceType, req.resourceID, req.action)

	if r.cache != nil {
		var cached Result
		if cache.GetJSON(ctx, r.cache, key, &cached) {
			cached.Cached = true
			return cached, nil
		}
	}

	// Identical concurrent misses share one evaluation. It runs detached
	// from the caller that started it, so one cancelled request does not
	// fail the others waiting on the same key.
	ch := r.group.DoChan(key, func() (interface{}, error) {
		evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), evaluationTimeout)
		defer cancel()

		result, err := r.evaluate(evalCtx, req)
		if err != nil {
			return result, err
		}
		if r.cache != nil {
			if cacheErr := cache.SetJSON(evalCtx, r.cache, key, result, r.decisionTTL); cacheErr != nil {
				r.logger.WithError(cacheErr).Warn("failed to cache decision")
			}
		}
		return result, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return deny(SourceDefault, res.Err.Error()), res.Err
		}
		result, _ := res.Val.(Result)
		return result, nil
	case <-ctx.Done():
		err := fmt.Errorf("%w: %w", apierr.ErrBackendUnavailable, ctx.Err())
		return deny(SourceDefault, err.Error()), err
	}
}

func (r *Resolver) evaluate(ctx context.Context, req request) (Result, error) {
	switch {
	case req.tenantRead:
	case req.scope.Type == ScopeWorkspace:
		// A cached mapping may outlive the workspace.
		ws, err := r.tenants.GetWorkspace(ctx, req.scope.ID)
		if err != nil {
			return Result{}, storeError("workspace", err)
		}
		req.orgID = ws.OrganizationID
	default:
		if _, err := r.tenants.GetOrganization(ctx, req.orgID); err != nil {
			return Result{}, storeError("organization", err)
		}
	}

	if req.resourceID != "" {
		override, err := r.acls.HasOverride(ctx, req.userID, req.resourceType, req.resourceID, req.action)
		if err != nil {
			return Result{}, storeError("acl", err)
		}
		switch override {
		case acl.Deny:
			return deny(SourceACL, fmt.Sprintf("%s explicitly revoked on %s %s", req.action, req.resourceType, req.resourceID)), nil
		case acl.Allow:
			return allow(SourceACL, fmt.Sprintf("%s explicitly granted on %s %s", req.action, req.resourceType, req.resourceID)), nil
		}
	}

	if req.scope.Type == ScopeWorkspace {
		return r.evaluateWorkspace(ctx, req)
	}
	return r.evaluateOrganization(ctx, req)
}

func (r *Resolver) evaluateOrganization(ctx context.Context, req request) (Result, error) {
	member, err := r.tenants.GetOrganizationMember(ctx, req.orgID, req.userID)
	if errors.Is(err, apierr.ErrNotFound) {
		return deny(SourceDefault, "not a member of the organization"), nil
	}
	if err != nil {
		return Result{}, storeError("organization member", err)
	}

	ok, err := r.roleAllows(ctx, req.orgID, member.Role, req.permission)
	if err != nil {
		return Result{}, err
	}
	if ok {
		return allow(SourceOrganizationRole, fmt.Sprintf("granted by organization role %q", member.Role)), nil
	}
	return deny(SourceOrganizationRole, fmt.Sprintf("organization role %q does not grant %s", member.Role, req.permission)), nil
}

func (r *Resolver) evaluateWorkspace(ctx context.Context, req request) (Result, error) {
	wsMember, err := r.tenants.GetWorkspaceMember(ctx, req.scope.ID, req.userID)
	switch {
	case err == nil:
		ok, err := r.roleAllows(ctx, req.orgID, wsMember.Role, req.permission)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return allow(SourceWorkspaceRole, fmt.Sprintf("granted by workspace role %q", wsMember.Role)), nil
		}
		if r.workspaceRoleWins {
			return deny(SourceWorkspaceRole, fmt.Sprintf("workspace role %q does not grant %s", wsMember.Role, req.permission)), nil
		}
	case errors.Is(err, apierr.ErrNotFound):
	default:
		return Result{}, storeError("workspace member", err)
	}

	orgMember, err := r.tenants.GetOrganizationMember(ctx, req.orgID, req.userID)
	if err != nil && !errors.Is(err, apierr.ErrNotFound) {
		return Result{}, storeError("organization member", err)
	}
	if orgMember != nil && orgMember.Role == rbac.RoleAdmin {
		return allow(SourceOrganizationAdmin, "organization admins administer every workspace"), nil
	}

	if wsMember != nil {
		return deny(SourceWorkspaceRole, fmt.Sprintf("workspace role %q does not grant %s", wsMember.Role, req.permission)), nil
	}
	return deny(SourceDefault, "not a member of the workspace"), nil
}

// roleAllows reports whether role grants perm. Unknown roles and broken
// hierarchies deny without failing the request.
func (r *Resolver) roleAllows(ctx context.Context, orgID, role string, perm rbac.Permission) (bool, error) {
	set, err := r.roles.EffectivePermissions(ctx, orgID, role)
	switch {
	case err == nil:
		return set.Has(perm), nil
	case errors.Is(err, rbac.ErrRoleNotFound), errors.Is(err, rbac.ErrRoleCycle):
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"organization_id": orgID,
			"role":            role,
		}).Warn("membership role cannot be resolved, denying")
		return false, nil
	default:
		return false, storeError("role", err)
	}
}

// storeError keeps NotFound distinguishable and marks everything else as a
// backend failure.
func storeError(what string, err error) error {
	if errors.Is(err, apierr.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: failed to read %s: %w", apierr.ErrBackendUnavailable, what, err)
}
