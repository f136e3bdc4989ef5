package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/tenancy"
)

// createOrganization is open to any authenticated user; the caller becomes
// the organization's admin
func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal.UserID == "" {
		httputil.WriteForbidden(w, "organizations must be created by a user")
		return
	}

	var req CreateOrganizationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	org := &tenancy.Organization{Name: req.Name, Slug: req.Slug, CreatedBy: principal.UserID}
	if err := s.admin.CreateOrganization(r.Context(), org); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, org)
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	orgs, err := s.admin.ListOrganizationsForUser(r.Context(), principal.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, orgs)
}

func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := s.admin.GetOrganization(r.Context(), mux.Vars(r)["org"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

func (s *Server) renameOrganization(w http.ResponseWriter, r *http.Request) {
	var req RenameOrganizationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	orgID := mux.Vars(r)["org"]
	if err := s.admin.RenameOrganization(r.Context(), orgID, req.Name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getOrganization(w, r)
}

func (s *Server) deleteOrganization(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.DeleteOrganization(r.Context(), mux.Vars(r)["org"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := s.admin.ListWorkspaces(r.Context(), mux.Vars(r)["org"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, workspaces)
}

func (s *Server) createWorkspace(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	ws := &tenancy.Workspace{
		OrganizationID: mux.Vars(r)["org"],
		Name:           req.Name,
		Slug:           req.Slug,
		CreatedBy:      auth.PrincipalFromContext(r.Context()).UserID,
	}
	if err := s.admin.CreateWorkspace(r.Context(), ws); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, ws)
}

func (s *Server) getWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := s.admin.GetWorkspace(r.Context(), mux.Vars(r)["workspace"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ws)
}

func (s *Server) deleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.DeleteWorkspace(r.Context(), mux.Vars(r)["workspace"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) listOrganizationMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.admin.ListOrganizationMembers(r.Context(), mux.Vars(r)["org"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

func (s *Server) addOrganizationMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") {
		return
	}

	member := &tenancy.OrganizationMember{
		OrganizationID: mux.Vars(r)["org"],
		UserID:         req.UserID,
		Role:           req.Role,
		InvitedBy:      auth.PrincipalFromContext(r.Context()).UserID,
	}
	if err := s.admin.AddOrganizationMember(r.Context(), member); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, member)
}

func (s *Server) updateOrganizationMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	if err := s.admin.UpdateOrganizationMemberRole(r.Context(), vars["org"], vars["user"], req.Role); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) removeOrganizationMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.admin.RemoveOrganizationMember(r.Context(), vars["org"], vars["user"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) listWorkspaceMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.admin.ListWorkspaceMembers(r.Context(), mux.Vars(r)["workspace"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

func (s *Server) addWorkspaceMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") {
		return
	}

	member := &tenancy.WorkspaceMember{
		WorkspaceID: mux.Vars(r)["workspace"],
		UserID:      req.UserID,
		Role:        req.Role,
	}
	if err := s.admin.AddWorkspaceMember(r.Context(), member); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, member)
}

func (s *Server) updateWorkspaceMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	if err := s.admin.UpdateWorkspaceMemberRole(r.Context(), vars["workspace"], vars["user"], req.Role); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) removeWorkspaceMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.admin.RemoveWorkspaceMember(r.Context(), vars["workspace"], vars["user"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
