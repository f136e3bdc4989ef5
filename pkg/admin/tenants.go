package admin

import (
	"context"

	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/tenancy"
)

// CreateOrganization creates an organization and makes its creator an admin
func (s *Service) CreateOrganization(ctx context.Context, org *tenancy.Organization) error {
	if err := s.tenants.CreateOrganization(ctx, org); err != nil {
		return err
	}
	if org.CreatedBy != "" {
		err := s.tenants.AddOrganizationMember(ctx, &tenancy.OrganizationMember{
			OrganizationID: org.ID,
			UserID:         org.CreatedBy,
			Role:           rbac.RoleAdmin,
		})
		if err != nil {
			return err
		}
		// Earlier checks by the creator against this id were denies.
		s.invalidate(ctx, cache.NamespaceAuthz, cache.UserOrgDecisionsPattern(org.CreatedBy, org.ID))
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": org.ID,
		"created_by":      org.CreatedBy,
	}).Info("Organization created")
	return nil
}

// GetOrganization returns an organization by id
func (s *Service) GetOrganization(ctx context.Context, id string) (*tenancy.Organization, error) {
	return s.tenants.GetOrganization(ctx, id)
}

// ListOrganizationsForUser lists the organizations userID belongs to
func (s *Service) ListOrganizationsForUser(ctx context.Context, userID string) ([]*tenancy.Organization, error) {
	return s.tenants.ListOrganizationsForUser(ctx, userID)
}

// RenameOrganization changes the display name. Decisions do not depend on it.
func (s *Service) RenameOrganization(ctx context.Context, id, name string) error {
	return s.tenants.RenameOrganization(ctx, id, name)
}

// DeleteOrganization deletes an organization with its workspaces, memberships
// and custom roles
func (s *Service) DeleteOrganization(ctx context.Context, id string) error {
	members, err := s.memberIDs(ctx, id)
	if err != nil {
		return err
	}
	workspaces, err := s.tenants.ListWorkspaces(ctx, id)
	if err != nil {
		return err
	}

	if err := s.tenants.DeleteOrganization(ctx, id); err != nil {
		return err
	}

	s.invalidateKey(ctx, cache.NamespaceTenant, cache.OrganizationKey(id))
	s.invalidateOrganization(ctx, id, members)
	for _, ws := range workspaces {
		s.invalidateKey(ctx, cache.NamespaceTenant, cache.WorkspaceOrgKey(ws.ID))
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": id,
		"members":         len(members),
		"workspaces":      len(workspaces),
	}).Info("Organization deleted")
	return nil
}

// CreateWorkspace creates a workspace. The creator is added as a workspace
// admin when they already belong to the organization.
func (s *Service) CreateWorkspace(ctx context.Context, ws *tenancy.Workspace) error {
	if err := s.tenants.CreateWorkspace(ctx, ws); err != nil {
		return err
	}
	if ws.CreatedBy != "" {
		if _, err := s.tenants.GetOrganizationMember(ctx, ws.OrganizationID, ws.CreatedBy); err == nil {
			err := s.tenants.AddWorkspaceMember(ctx, &tenancy.WorkspaceMember{
				WorkspaceID: ws.ID,
				UserID:      ws.CreatedBy,
				Role:        rbac.RoleAdmin,
			})
			if err != nil {
				return err
			}
			s.invalidate(ctx, cache.NamespaceAuthz,
				cache.UserWorkspaceDecisionsPattern(ws.CreatedBy, ws.OrganizationID, ws.ID))
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": ws.OrganizationID,
		"workspace_id":    ws.ID,
	}).Info("Workspace created")
	return nil
}

// GetWorkspace returns a workspace by id
func (s *Service) GetWorkspace(ctx context.Context, id string) (*tenancy.Workspace, error) {
	return s.tenants.GetWorkspace(ctx, id)
}

// ListWorkspaces lists the workspaces of an organization
func (s *Service) ListWorkspaces(ctx context.Context, orgID string) ([]*tenancy.Workspace, error) {
	return s.tenants.ListWorkspaces(ctx, orgID)
}

// DeleteWorkspace deletes a workspace and its memberships
func (s *Service) DeleteWorkspace(ctx context.Context, id string) error {
	ws, err := s.tenants.GetWorkspace(ctx, id)
	if err != nil {
		return err
	}
	members, err := s.tenants.ListWorkspaceMembers(ctx, id)
	if err != nil {
		return err
	}

	if err := s.tenants.DeleteWorkspace(ctx, id); err != nil {
		return err
	}

	patterns := make([]string, 0, len(members))
	for _, m := range members {
		patterns = append(patterns, cache.UserWorkspaceDecisionsPattern(m.UserID, ws.OrganizationID, id))
	}
	s.invalidate(ctx, cache.NamespaceAuthz, patterns...)
	s.invalidateKey(ctx, cache.NamespaceTenant, cache.WorkspaceOrgKey(id))

	s.logger.WithFields(map[string]interface{}{
		"organization_id": ws.OrganizationID,
		"workspace_id":    id,
	}).Info("Workspace deleted")
	return nil
}

// AddOrganizationMember adds a member with a built-in or custom role
func (s *Service) AddOrganizationMember(ctx context.Context, member *tenancy.OrganizationMember) error {
	if err := s.validateRole(ctx, member.OrganizationID, member.Role); err != nil {
		return err
	}
	if err := s.tenants.AddOrganizationMember(ctx, member); err != nil {
		return err
	}
	s.invalidate(ctx, cache.NamespaceAuthz, cache.UserOrgDecisionsPattern(member.UserID, member.OrganizationID))
	return nil
}

// ListOrganizationMembers lists the members of an organization
func (s *Service) ListOrganizationMembers(ctx context.Context, orgID string) ([]*tenancy.OrganizationMember, error) {
	return s.tenants.ListOrganizationMembers(ctx, orgID)
}

// UpdateOrganizationMemberRole changes a member's organization role
func (s *Service) UpdateOrganizationMemberRole(ctx context.Context, orgID, userID, role string) error {
	if err := s.validateRole(ctx, orgID, role); err != nil {
		return err
	}
	if err := s.tenants.UpdateOrganizationMemberRole(ctx, orgID, userID, role); err != nil {
		return err
	}
	s.invalidate(ctx, cache.NamespaceAuthz, cache.UserOrgDecisionsPattern(userID, orgID))
	return nil
}

// RemoveOrganizationMember removes a member and their workspace memberships
// in the organization
func (s *Service) RemoveOrganizationMember(ctx context.Context, orgID, userID string) error {
	if err := s.tenants.RemoveOrganizationMember(ctx, orgID, userID); err != nil {
		return err
	}
	s.invalidate(ctx, cache.NamespaceAuthz, cache.UserOrgDecisionsPattern(userID, orgID))
	return nil
}

// AddWorkspaceMember adds an organization member to a workspace
func (s *Service) AddWorkspaceMember(ctx context.Context, member *tenancy.WorkspaceMember) error {
	ws, err := s.tenants.GetWorkspace(ctx, member.WorkspaceID)
	if err != nil {
		return err
	}
	if err := s.validateRole(ctx, ws.OrganizationID, member.Role); err != nil {
		return err
	}
	if err := s.tenants.AddWorkspaceMember(ctx, member); err != nil {
		return err
	}
	s.invalidate(ctx, cache.NamespaceAuthz, cache.UserWorkspaceDecisionsPattern(member.UserID, ws.OrganizationID, ws.ID))
	return nil
}

// ListWorkspaceMembers lists the members of a workspace
func (s *Service) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]*tenancy.WorkspaceMember, error) {
	return s.tenants.ListWorkspaceMembers(ctx, workspaceID)
}

// UpdateWorkspaceMemberRole changes a member's workspace role
func (s *Service) UpdateWorkspaceMemberRole(ctx context.Context, workspaceID, userID, role string) error {
	ws, err := s.tenants.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if err := s.validateRole(ctx, ws.OrganizationID, role); err != nil {
		return err
	}
	if err := s.tenants.UpdateWorkspaceMemberRole(ctx, workspaceID, userID, role); err != nil {
		return err
	}
	s.invalidate(ctx, cache.NamespaceAuthz, cache.UserWorkspaceDecisionsPattern(userID, ws.OrganizationID, ws.ID))
	return nil
}

// RemoveWorkspaceMember removes a workspace membership
func (s *Service) RemoveWorkspaceMember(ctx context.Context, workspaceID, userID string) error {
	ws, err := s.tenants.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if err := s.tenants.RemoveWorkspaceMember(ctx, workspaceID, userID); err != nil {
		return err
	}
	s.invalidate(ctx, cache.NamespaceAuthz, cache.UserWorkspaceDecisionsPattern(userID, ws.OrganizationID, ws.ID))
	return nil
}
