package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Decider is satisfied by *authz.Resolver
type Decider interface {
	Authorize(ctx context.Context, principal *auth.Principal, scope authz.Scope, resourceType, action, resourceID string) (authz.Result, error)
}

// TenantOptions says where a route keeps its tenant and resource ids.
// Param names the mux variable holding the organization or workspace id;
// it is ignored for global routes. ResourceParam, when set, names the
// variable holding the resource id checked against ACL overrides.
type TenantOptions struct {
	Param         string
	Type          authz.ScopeType
	ResourceParam string
}

// Organization is the usual option set for /orgs/{org}/... routes
func Organization(param string) TenantOptions {
	return TenantOptions{Param: param, Type: authz.ScopeOrganization}
}

// Workspace is the usual option set for /workspaces/{workspace}/... routes
func Workspace(param string) TenantOptions {
	return TenantOptions{Param: param, Type: authz.ScopeWorkspace}
}

// Global is the option set for tenant-less routes
func Global() TenantOptions {
	return TenantOptions{Type: authz.ScopeGlobal}
}

// WithResource returns a copy of o that checks overrides on the resource id
// held in param
func (o TenantOptions) WithResource(param string) TenantOptions {
	o.ResourceParam = param
	return o
}

// Authorizer turns route variables into a resolver call. Every route variant
// of a resource uses the same Authorizer with different TenantOptions.
type Authorizer struct {
	decider Decider
	logger  *observability.Logger
}

// NewAuthorizer creates an Authorizer
func NewAuthorizer(decider Decider, logger *observability.Logger) *Authorizer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Authorizer{decider: decider, logger: logger}
}

// Require allows the request through when the principal may perform action
// on resourceType in the tenant named by opts. The resolved scope is stored
// in the context for handlers and rate limiters.
func (a *Authorizer) Require(resourceType, action string, opts TenantOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.PrincipalFromContext(r.Context())
			if principal == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			vars := mux.Vars(r)
			scope := authz.Scope{Type: opts.Type}
			if opts.Type != authz.ScopeGlobal {
				scope.ID = vars[opts.Param]
			}
			var resourceID string
			if opts.ResourceParam != "" {
				resourceID = vars[opts.ResourceParam]
			}

			logger := requestLogger(r, a.logger).WithFields(map[string]interface{}{
				"scope":         scope.String(),
				"resource_type": resourceType,
				"action":        action,
			})
			if scope.Type != authz.ScopeGlobal && scope.ID == "" {
				// The resolver denies this too; the route is misconfigured.
				logger.WithField("param", opts.Param).Warn("Route has no tenant id, denying")
			}

			result, err := a.decider.Authorize(r.Context(), principal, scope, resourceType, action, resourceID)
			if err != nil {
				logger.WithError(err).Warn("Authorization failed")
				httputil.WriteError(w, err)
				return
			}
			if !result.Allowed {
				logger.WithFields(map[string]interface{}{
					"source": result.Source,
					"reason": result.Reason,
				}).Debug("Request denied")
				httputil.WriteForbidden(w, result.Reason)
				return
			}

			ctx := contextkeys.WithTenant(r.Context(), scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantFromContext returns the scope stored by Authorizer.Require
func TenantFromContext(ctx context.Context) (authz.Scope, bool) {
	scope, ok := contextkeys.Lookup[authz.Scope](ctx, contextkeys.TenantKey)
	return scope, ok
}
