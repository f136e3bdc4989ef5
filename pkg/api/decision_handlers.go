package api

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/warden/pkg/apierr"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

// authorize answers one decision request.
// A missing tenant is 404 and an unreachable store 503; a deny is still 200.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.ResourceType, "resource_type") ||
		!httputil.RequireNonEmpty(w, req.Action, "action") {
		return
	}

	scope, err := scopeOf(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	caller := auth.PrincipalFromContext(r.Context())
	subject := caller
	if req.UserID != "" && req.UserID != caller.UserID {
		if !caller.Internal && !caller.IsSystemAdmin {
			httputil.WriteForbidden(w, "only internal callers may evaluate other users")
			return
		}
		subject = &auth.Principal{UserID: req.UserID}
	}

	result, err := s.resolver.Authorize(r.Context(), subject, scope, req.ResourceType, req.Action, req.ResourceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func scopeOf(req AuthorizeRequest) (authz.Scope, error) {
	switch {
	case req.WorkspaceID != "":
		return authz.WorkspaceScope(req.WorkspaceID), nil
	case req.OrganizationID != "":
		return authz.OrganizationScope(req.OrganizationID), nil
	case req.Global:
		return authz.GlobalScope(), nil
	default:
		return authz.Scope{}, fmt.Errorf("%w: one of workspace_id, organization_id or global is required", apierr.ErrInvalidInput)
	}
}

func (s *Server) whoami(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	resp := WhoAmIResponse{Principal: principal}

	if principal.UserID != "" {
		orgs, err := s.admin.ListOrganizationsForUser(r.Context(), principal.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Organizations = orgs
	}
	httputil.WriteSuccess(w, resp)
}

// writeError writes err with its apierr status and logs server-side failures
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if status := apierr.HTTPStatus(err); status >= http.StatusInternalServerError {
		logger := s.logger
		if ctxLogger, ok := contextkeys.Lookup[*observability.Logger](r.Context(), contextkeys.LoggerKey); ok {
			logger = ctxLogger
		}
		logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}
	httputil.WriteError(w, err)
}
