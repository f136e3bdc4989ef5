package admin

import (
	"context"
	"fmt"

	"github.com/platinummonkey/warden/pkg/apierr"
	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// CreateRole creates a custom role. A new role is unassigned, so only the
// organization's role cache is dropped.
func (s *Service) CreateRole(ctx context.Context, role *rbac.CustomRole) error {
	if err := s.roles.CreateRole(ctx, role); err != nil {
		return err
	}
	s.invalidate(ctx, cache.NamespaceRole, cache.OrgRolesPattern(role.OrganizationID))
	s.logger.WithFields(map[string]interface{}{
		"organization_id": role.OrganizationID,
		"role_id":         role.ID,
	}).Info("Role created")
	return nil
}

// GetRole returns a custom role by id or name
func (s *Service) GetRole(ctx context.Context, orgID, ref string) (*rbac.CustomRole, error) {
	return s.roles.FindRole(ctx, orgID, ref)
}

// ListRoles lists the custom roles of an organization
func (s *Service) ListRoles(ctx context.Context, orgID string) ([]rbac.CustomRole, error) {
	return s.roles.ListRoles(ctx, orgID)
}

// UpdateRole replaces a role's name, description, permissions and parent.
// Descendants inherit the change, so every member's decisions in the
// organization are dropped.
func (s *Service) UpdateRole(ctx context.Context, role *rbac.CustomRole) error {
	members, err := s.memberIDs(ctx, role.OrganizationID)
	if err != nil {
		return err
	}
	if err := s.roles.UpdateRole(ctx, role); err != nil {
		return err
	}
	s.invalidateOrganization(ctx, role.OrganizationID, members)
	s.logger.WithFields(map[string]interface{}{
		"organization_id": role.OrganizationID,
		"role_id":         role.ID,
	}).Info("Role updated")
	return nil
}

// DeleteRole deletes a custom role that no membership references. Child
// roles lose their parent.
func (s *Service) DeleteRole(ctx context.Context, orgID, roleID string) error {
	role, err := s.roles.GetRole(ctx, orgID, roleID)
	if err != nil {
		return err
	}
	inUse, err := s.tenants.CountRoleAssignments(ctx, orgID, role.ID, role.Name)
	if err != nil {
		return err
	}
	if inUse > 0 {
		return fmt.Errorf("%w: role %q is assigned to %d memberships", apierr.ErrConflict, role.Name, inUse)
	}

	members, err := s.memberIDs(ctx, orgID)
	if err != nil {
		return err
	}
	if err := s.roles.DeleteRole(ctx, orgID, roleID); err != nil {
		return err
	}
	s.invalidateOrganization(ctx, orgID, members)
	s.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"role_id":         roleID,
	}).Info("Role deleted")
	return nil
}

// Templates lists the role templates
func (s *Service) Templates() []rbac.RoleTemplate {
	return s.engine.Templates()
}

// InstantiateTemplate creates a custom role from a template
func (s *Service) InstantiateTemplate(ctx context.Context, orgID, templateName, roleName, createdBy string) (*rbac.CustomRole, error) {
	role, err := s.engine.InstantiateTemplate(ctx, orgID, templateName, roleName, createdBy)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.NamespaceRole, cache.OrgRolesPattern(orgID))
	return role, nil
}
