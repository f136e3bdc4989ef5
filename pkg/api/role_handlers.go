package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/rbac"
)

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, s.admin.Templates())
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.admin.ListRoles(r.Context(), mux.Vars(r)["org"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

func (s *Server) getRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role, err := s.admin.GetRole(r.Context(), vars["org"], vars["role"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role := &rbac.CustomRole{
		OrganizationID: mux.Vars(r)["org"],
		Name:           req.Name,
		Description:    req.Description,
		Permissions:    req.Permissions,
		ParentRoleID:   req.ParentRoleID,
		CreatedBy:      auth.PrincipalFromContext(r.Context()).UserID,
	}
	if err := s.admin.CreateRole(r.Context(), role); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// updateRole replaces a role addressed by id or name
func (s *Server) updateRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	existing, err := s.admin.GetRole(r.Context(), vars["org"], vars["role"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	existing.Permissions = req.Permissions
	existing.ParentRoleID = req.ParentRoleID
	if err := s.admin.UpdateRole(r.Context(), existing); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, existing)
}

func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role, err := s.admin.GetRole(r.Context(), vars["org"], vars["role"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.admin.DeleteRole(r.Context(), role.OrganizationID, role.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) instantiateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Template, "template") {
		return
	}

	role, err := s.admin.InstantiateTemplate(r.Context(), mux.Vars(r)["org"], req.Template, req.Name,
		auth.PrincipalFromContext(r.Context()).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}
