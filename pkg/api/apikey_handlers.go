package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/apierr"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/httputil"
)

// createAPIKey issues a key owned by the calling user. Keys bound to an
// organization require membership in it.
func (s *Server) createAPIKey(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal.UserID == "" {
		httputil.WriteForbidden(w, "API keys must be created by a user")
		return
	}

	var req CreateAPIKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		httputil.WriteBadRequest(w, "expires_at must be in the future")
		return
	}

	if req.OrganizationID != "" && !principal.IsSystemAdmin {
		if err := s.requireMembership(r, req.OrganizationID, principal.UserID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	key, plaintext, err := s.admin.CreateAPIKey(r.Context(), req.Name, principal.UserID, req.OrganizationID, req.ExpiresAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, CreateAPIKeyResponse{APIKey: key, Key: plaintext})
}

func (s *Server) requireMembership(r *http.Request, orgID, userID string) error {
	orgs, err := s.admin.ListOrganizationsForUser(r.Context(), userID)
	if err != nil {
		return err
	}
	for _, org := range orgs {
		if org.ID == orgID {
			return nil
		}
	}
	return fmt.Errorf("%w: not a member of organization %s", apierr.ErrForbidden, orgID)
}

func (s *Server) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.admin.ListAPIKeys(r.Context(), auth.PrincipalFromContext(r.Context()).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, keys)
}

// revokeAPIKey revokes one of the caller's keys. Other users' keys read as
// missing unless the caller is a system administrator.
func (s *Server) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	id := mux.Vars(r)["id"]

	key, err := s.admin.GetAPIKey(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if key.UserID != principal.UserID && !principal.IsSystemAdmin {
		s.writeError(w, r, fmt.Errorf("%w: api key %s", apierr.ErrNotFound, id))
		return
	}

	if _, err := s.admin.RevokeAPIKey(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// purgeAPIKeys deletes keys that expired or were revoked before the
// "before" query parameter, defaulting to now
func (s *Server) purgeAPIKeys(w http.ResponseWriter, r *http.Request) {
	cutoff, err := httputil.ParseQueryTime(r, "before", time.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	n, err := s.admin.PurgeAPIKeys(r.Context(), cutoff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, PurgeResponse{Purged: n})
}
