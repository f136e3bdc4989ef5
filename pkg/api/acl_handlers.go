package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/admin"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/httputil"
)

// listOverrides lists the overrides of one resource, or of one user when
// user_id is given
func (s *Server) listOverrides(w http.ResponseWriter, r *http.Request) {
	if userID := httputil.ParseQueryString(r, "user_id", ""); userID != "" {
		overrides, err := s.admin.ListUserOverrides(r.Context(), userID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		httputil.WriteSuccess(w, overrides)
		return
	}

	resourceType := httputil.ParseQueryString(r, "resource_type", "")
	resourceID := httputil.ParseQueryString(r, "resource_id", "")
	if resourceType == "" || resourceID == "" {
		httputil.WriteBadRequest(w, "user_id or resource_type and resource_id are required")
		return
	}
	overrides, err := s.admin.ListOverrides(r.Context(), resourceType, resourceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, overrides)
}

func (s *Server) setOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	o := overrideOf(r, req)
	var err error
	switch req.Effect {
	case EffectAllow:
		err = s.admin.Grant(r.Context(), o)
	case EffectDeny:
		err = s.admin.Deny(r.Context(), o)
	default:
		httputil.WriteBadRequest(w, "effect must be allow or deny")
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) clearOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := s.admin.ClearOverride(r.Context(), overrideOf(r, req)); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) removeResource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.admin.RemoveResource(r.Context(), vars["type"], vars["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func overrideOf(r *http.Request, req OverrideRequest) admin.Override {
	return admin.Override{
		UserID:       req.UserID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Action:       req.Action,
		GrantedBy:    auth.PrincipalFromContext(r.Context()).UserID,
	}
}
