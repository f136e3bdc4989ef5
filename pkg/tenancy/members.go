package tenancy

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/warden/pkg/apierr"
)

// AddOrganizationMember adds a user to an existing organization
func (s *Service) AddOrganizationMember(ctx context.Context, member *OrganizationMember) error {
	if member.UserID == "" || member.Role == "" {
		return fmt.Errorf("%w: member requires a user and a role", apierr.ErrInvalidInput)
	}
	if _, err := s.GetOrganization(ctx, member.OrganizationID); err != nil {
		return err
	}
	now := s.now()

	query := `
		INSERT INTO organization_members (organization_id, user_id, role, invited_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (organization_id, user_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		member.OrganizationID, member.UserID, member.Role, nullString(member.InvitedBy), now, now)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	if err := expectRow(result, apierr.ErrConflict, "user %s is already a member of organization %s",
		member.UserID, member.OrganizationID); err != nil {
		return err
	}

	member.CreatedAt = now
	member.UpdatedAt = now
	return nil
}

// GetOrganizationMember retrieves a specific member
func (s *Service) GetOrganizationMember(ctx context.Context, orgID, userID string) (*OrganizationMember, error) {
	query := `
		SELECT organization_id, user_id, role, invited_by, created_at, updated_at
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`
	member, err := scanOrganizationMember(s.db.QueryRowContext(ctx, query, orgID, userID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: member %s of organization %s", apierr.ErrNotFound, userID, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// ListOrganizationMembers retrieves all members of an organization
func (s *Service) ListOrganizationMembers(ctx context.Context, orgID string) ([]*OrganizationMember, error) {
	query := `
		SELECT organization_id, user_id, role, invited_by, created_at, updated_at
		FROM organization_members
		WHERE organization_id = $1
		ORDER BY created_at ASC, user_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*OrganizationMember
	for rows.Next() {
		member, err := scanOrganizationMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// ListMembersWithRole lists the organization members holding role
func (s *Service) ListMembersWithRole(ctx context.Context, orgID, role string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM organization_members WHERE organization_id = $1 AND role = $2 ORDER BY user_id`,
		orgID, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list members with role: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, rows.Err()
}

// CountRoleAssignments counts organization and workspace memberships in orgID
// whose role is any of refs
func (s *Service) CountRoleAssignments(ctx context.Context, orgID string, refs ...string) (int, error) {
	total := 0
	for _, ref := range refs {
		var n int
		err := s.db.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM organization_members WHERE organization_id = $1 AND role = $2) +
				(SELECT COUNT(*) FROM workspace_members wm
					JOIN workspaces w ON w.id = wm.workspace_id
					WHERE w.organization_id = $1 AND wm.role = $2)
		`, orgID, ref).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("failed to count role assignments: %w", err)
		}
		total += n
	}
	return total, nil
}

// UpdateOrganizationMemberRole updates a member's role
func (s *Service) UpdateOrganizationMemberRole(ctx context.Context, orgID, userID, role string) error {
	if role == "" {
		return fmt.Errorf("%w: role is required", apierr.ErrInvalidInput)
	}
	query := `UPDATE organization_members SET role = $1, updated_at = $2 WHERE organization_id = $3 AND user_id = $4`
	result, err := s.db.ExecContext(ctx, query, role, s.now(), orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	return expectRow(result, apierr.ErrNotFound, "member %s of organization %s", userID, orgID)
}

// RemoveOrganizationMember removes a user from an organization together with
// every workspace membership the user holds in it.
func (s *Service) RemoveOrganizationMember(ctx context.Context, orgID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM workspace_members
		WHERE user_id = $1
		  AND workspace_id IN (SELECT id FROM workspaces WHERE organization_id = $2)
	`, userID, orgID)
	if err != nil {
		return fmt.Errorf("failed to remove workspace memberships: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM organization_members WHERE organization_id = $1 AND user_id = $2`, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if err := expectRow(result, apierr.ErrNotFound, "member %s of organization %s", userID, orgID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AddWorkspaceMember adds a user to a workspace. The user must already be a
// member of the workspace's organization.
func (s *Service) AddWorkspaceMember(ctx context.Context, member *WorkspaceMember) error {
	if member.UserID == "" || member.Role == "" {
		return fmt.Errorf("%w: member requires a user and a role", apierr.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var orgID string
	err = tx.QueryRowContext(ctx, `SELECT organization_id FROM workspaces WHERE id = $1`, member.WorkspaceID).Scan(&orgID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: workspace %s", apierr.ErrNotFound, member.WorkspaceID)
	}
	if err != nil {
		return fmt.Errorf("failed to get workspace: %w", err)
	}

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM organization_members WHERE organization_id = $1 AND user_id = $2`, orgID, member.UserID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: user %s is not a member of organization %s", apierr.ErrForbidden, member.UserID, orgID)
	}
	if err != nil {
		return fmt.Errorf("failed to check organization membership: %w", err)
	}

	now := s.now()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workspace_id, user_id) DO NOTHING
	`, member.WorkspaceID, member.UserID, member.Role, now, now)
	if err != nil {
		return fmt.Errorf("failed to add workspace member: %w", err)
	}
	if err := expectRow(result, apierr.ErrConflict, "user %s is already a member of workspace %s",
		member.UserID, member.WorkspaceID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	member.CreatedAt = now
	member.UpdatedAt = now
	return nil
}

// GetWorkspaceMember retrieves a specific workspace member
func (s *Service) GetWorkspaceMember(ctx context.Context, workspaceID, userID string) (*WorkspaceMember, error) {
	query := `
		SELECT workspace_id, user_id, role, created_at, updated_at
		FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2
	`
	member := &WorkspaceMember{}
	err := s.db.QueryRowContext(ctx, query, workspaceID, userID).Scan(
		&member.WorkspaceID, &member.UserID, &member.Role, &member.CreatedAt, &member.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: member %s of workspace %s", apierr.ErrNotFound, userID, workspaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace member: %w", err)
	}
	return member, nil
}

// ListWorkspaceMembers retrieves all members of a workspace
func (s *Service) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]*WorkspaceMember, error) {
	query := `
		SELECT workspace_id, user_id, role, created_at, updated_at
		FROM workspace_members
		WHERE workspace_id = $1
		ORDER BY created_at ASC, user_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace members: %w", err)
	}
	defer rows.Close()

	var members []*WorkspaceMember
	for rows.Next() {
		member := &WorkspaceMember{}
		if err := rows.Scan(&member.WorkspaceID, &member.UserID, &member.Role, &member.CreatedAt, &member.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workspace member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// UpdateWorkspaceMemberRole updates a workspace member's role
func (s *Service) UpdateWorkspaceMemberRole(ctx context.Context, workspaceID, userID, role string) error {
	if role == "" {
		return fmt.Errorf("%w: role is required", apierr.ErrInvalidInput)
	}
	query := `UPDATE workspace_members SET role = $1, updated_at = $2 WHERE workspace_id = $3 AND user_id = $4`
	result, err := s.db.ExecContext(ctx, query, role, s.now(), workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to update workspace member role: %w", err)
	}
	return expectRow(result, apierr.ErrNotFound, "member %s of workspace %s", userID, workspaceID)
}

// RemoveWorkspaceMember removes a user from a workspace
func (s *Service) RemoveWorkspaceMember(ctx context.Context, workspaceID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove workspace member: %w", err)
	}
	return expectRow(result, apierr.ErrNotFound, "member %s of workspace %s", userID, workspaceID)
}

func scanOrganizationMember(row rowScanner) (*OrganizationMember, error) {
	member := &OrganizationMember{}
	var invitedBy sql.NullString
	if err := row.Scan(&member.OrganizationID, &member.UserID, &member.Role, &invitedBy,
		&member.CreatedAt, &member.UpdatedAt); err != nil {
		return nil, err
	}
	member.InvitedBy = invitedBy.String
	return member, nil
}
