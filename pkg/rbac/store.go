package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/apierr"
)

// RoleReader is the read side used by the Engine
type RoleReader interface {
	GetRole(ctx context.Context, orgID, roleID string) (*CustomRole, error)
	FindRole(ctx context.Context, orgID, ref string) (*CustomRole, error)
}

// RoleStore adds the write needed to instantiate templates
type RoleStore interface {
	RoleReader
	CreateRole(ctx context.Context, role *CustomRole) error
}

// Store handles custom role persistence
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new role store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const roleColumns = `id, organization_id, name, description, permissions, parent_role_id, template_name, created_by, created_at, updated_at`

// CreateRole creates a custom role. Names are unique per organization and
// may not shadow a built-in role.
func (s *Store) CreateRole(ctx context.Context, role *CustomRole) error {
	if err := s.validate(ctx, role); err != nil {
		return err
	}
	if err := s.requireOrganization(ctx, role.OrganizationID); err != nil {
		return err
	}

	permissionsJSON, err := encodePermissions(role.Permissions)
	if err != nil {
		return err
	}

	if role.ID == "" {
		role.ID = uuid.New().String()
	}
	now := s.now()

	query := `
		INSERT INTO custom_roles (` + roleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (organization_id, name) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		role.ID,
		role.OrganizationID,
		role.Name,
		nullString(role.Description),
		permissionsJSON,
		role.ParentRoleID,
		nullString(role.TemplateName),
		nullString(role.CreatedBy),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: role %q already exists in organization %s", apierr.ErrConflict, role.Name, role.OrganizationID)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID within an organization
func (s *Store) GetRole(ctx context.Context, orgID, roleID string) (*CustomRole, error) {
	query := `SELECT ` + roleColumns + ` FROM custom_roles WHERE organization_id = $1 AND id = $2`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, orgID, roleID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: role %s", apierr.ErrNotFound, roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by name within an organization
func (s *Store) GetRoleByName(ctx context.Context, orgID, name string) (*CustomRole, error) {
	query := `SELECT ` + roleColumns + ` FROM custom_roles WHERE organization_id = $1 AND name = $2`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, orgID, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: role %q", apierr.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role by name: %w", err)
	}
	return role, nil
}

// FindRole resolves a membership role reference, which is either a role id
// or a role name. An id match wins over a name match.
func (s *Store) FindRole(ctx context.Context, orgID, ref string) (*CustomRole, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM custom_roles
		WHERE organization_id = $1 AND (id = $2 OR name = $2)
		ORDER BY CASE WHEN id = $2 THEN 0 ELSE 1 END
		LIMIT 1
	`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, orgID, ref))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: role %q", apierr.ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find role: %w", err)
	}
	return role, nil
}

// ListRoles lists the custom roles of an organization ordered by name
func (s *Store) ListRoles(ctx context.Context, orgID string) ([]CustomRole, error) {
	query := `SELECT ` + roleColumns + ` FROM custom_roles WHERE organization_id = $1 ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []CustomRole
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}

	return roles, rows.Err()
}

// UpdateRole replaces the mutable fields of a role. A parent whose own
// ancestry leads back to the role is rejected.
func (s *Store) UpdateRole(ctx context.Context, role *CustomRole) error {
	if role.ParentRoleID != nil && *role.ParentRoleID == role.ID {
		return fmt.Errorf("%w: role cannot be its own parent", apierr.ErrInvalidInput)
	}
	if err := s.validate(ctx, role); err != nil {
		return err
	}
	if err := s.checkAncestry(ctx, role); err != nil {
		return err
	}

	existing, err := s.GetRoleByName(ctx, role.OrganizationID, role.Name)
	if err != nil && !errors.Is(err, apierr.ErrNotFound) {
		return err
	}
	if existing != nil && existing.ID != role.ID {
		return fmt.Errorf("%w: role %q already exists in organization %s", apierr.ErrConflict, role.Name, role.OrganizationID)
	}

	permissionsJSON, err := encodePermissions(role.Permissions)
	if err != nil {
		return err
	}

	now := s.now()
	query := `
		UPDATE custom_roles
		SET name = $1, description = $2, permissions = $3, parent_role_id = $4, updated_at = $5
		WHERE id = $6 AND organization_id = $7
	`
	result, err := s.db.ExecContext(ctx, query,
		role.Name,
		nullString(role.Description),
		permissionsJSON,
		role.ParentRoleID,
		now,
		role.ID,
		role.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: role %s", apierr.ErrNotFound, role.ID)
	}

	role.UpdatedAt = now
	return nil
}

// DeleteRole deletes a role. Children lose their parent link.
func (s *Store) DeleteRole(ctx context.Context, orgID, roleID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM custom_roles WHERE organization_id = $1 AND id = $2`, orgID, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: role %s", apierr.ErrNotFound, roleID)
	}
	return nil
}

func (s *Store) validate(ctx context.Context, role *CustomRole) error {
	if role.OrganizationID == "" || role.Name == "" {
		return fmt.Errorf("%w: role requires an organization and a name", apierr.ErrInvalidInput)
	}
	if IsBuiltInRole(role.Name) {
		return fmt.Errorf("%w: %q is a built-in role", apierr.ErrConflict, role.Name)
	}
	if err := ValidatePermissions(role.Permissions); err != nil {
		return err
	}

	if role.ParentRoleID != nil {
		if _, err := s.GetRole(ctx, role.OrganizationID, *role.ParentRoleID); err != nil {
			if errors.Is(err, apierr.ErrNotFound) {
				return fmt.Errorf("%w: parent role %s not found in organization %s",
					apierr.ErrInvalidInput, *role.ParentRoleID, role.OrganizationID)
			}
			return err
		}
	}
	return nil
}

// checkAncestry walks the proposed parent chain of role. A dangling link
// ends the walk; resolution treats it as an empty parent.
func (s *Store) checkAncestry(ctx context.Context, role *CustomRole) error {
	seen := map[string]bool{role.ID: true}
	for next := role.ParentRoleID; next != nil; {
		if seen[*next] {
			return fmt.Errorf("%w: parent %s would create a role cycle", apierr.ErrInvalidInput, *role.ParentRoleID)
		}
		seen[*next] = true

		parent, err := s.GetRole(ctx, role.OrganizationID, *next)
		if errors.Is(err, apierr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		next = parent.ParentRoleID
	}
	return nil
}

func (s *Store) requireOrganization(ctx context.Context, orgID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM organizations WHERE id = $1`, orgID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: organization %s", apierr.ErrNotFound, orgID)
	}
	if err != nil {
		return fmt.Errorf("failed to check organization: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*CustomRole, error) {
	var role CustomRole
	var permissionsJSON string
	var description, parentRoleID, templateName, createdBy sql.NullString

	err := row.Scan(
		&role.ID,
		&role.OrganizationID,
		&role.Name,
		&description,
		&permissionsJSON,
		&parentRoleID,
		&templateName,
		&createdBy,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	role.Permissions, err = decodePermissions(permissionsJSON)
	if err != nil {
		return nil, err
	}

	role.Description = description.String
	role.TemplateName = templateName.String
	role.CreatedBy = createdBy.String
	if parentRoleID.Valid {
		id := parentRoleID.String
		role.ParentRoleID = &id
	}

	return &role, nil
}

func encodePermissions(perms []Permission) (string, error) {
	if perms == nil {
		perms = []Permission{}
	}
	data, err := json.Marshal(perms)
	if err != nil {
		return "", fmt.Errorf("failed to marshal permissions: %w", err)
	}
	return string(data), nil
}

// decodePermissions drops entries that are no longer in the catalog so they
// are denied at check time.
func decodePermissions(data string) ([]Permission, error) {
	var raw []string
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}

	perms := make([]Permission, 0, len(raw))
	for _, s := range raw {
		if p, err := ParsePermission(s); err == nil {
			perms = append(perms, p)
		}
	}
	return perms, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
