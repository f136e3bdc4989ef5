// Package acl stores per-resource permission overrides.
//
// An override is keyed by (user, resource type, resource id, permission) and
// either grants or explicitly revokes that permission on one resource
// instance, independently of the user's role. No row means NoOverride and the
// decision falls through to role resolution.
package acl

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/apierr"
)

// Override is the result of an ACL lookup
type Override int

const (
	NoOverride Override = iota
	Allow
	Deny
)

func (o Override) String() string {
	switch o {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "none"
	}
}

// ResourcePermission is one stored override. Permission holds the action
// name, for example "update".
type ResourcePermission struct {
	UserID       string    `json:"user_id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Permission   string    `json:"permission"`
	Granted      bool      `json:"granted"`
	GrantedBy    string    `json:"granted_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Checker is the read side consumed by the authorization resolver
type Checker interface {
	HasOverride(ctx context.Context, userID, resourceType, resourceID, permission string) (Override, error)
	BatchCheck(ctx context.Context, userID, resourceType, resourceID string, permissions []string) (map[string]Override, error)
}

// Store implements ACL persistence on database/sql
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new ACL store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ Checker = (*Store)(nil)

// HasOverride returns the override for one permission
func (s *Store) HasOverride(ctx context.Context, userID, resourceType, resourceID, permission string) (Override, error) {
	query := `
		SELECT granted FROM resource_permissions
		WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3 AND permission = $4
	`
	var granted bool
	err := s.db.QueryRowContext(ctx, query, userID, resourceType, resourceID, permission).Scan(&granted)
	if err == sql.ErrNoRows {
		return NoOverride, nil
	}
	if err != nil {
		return NoOverride, fmt.Errorf("failed to check resource permission: %w", err)
	}
	return overrideOf(granted), nil
}

// BatchCheck returns the override of every requested permission with one
// query. Permissions without a row map to NoOverride.
func (s *Store) BatchCheck(ctx context.Context, userID, resourceType, resourceID string, permissions []string) (map[string]Override, error) {
	result := make(map[string]Override, len(permissions))
	if len(permissions) == 0 {
		return result, nil
	}

	args := []interface{}{userID, resourceType, resourceID}
	placeholders := make([]string, len(permissions))
	for i, p := range permissions {
		result[p] = NoOverride
		args = append(args, p)
		placeholders[i] = fmt.Sprintf("$%d", i+4)
	}

	query := `
		SELECT permission, granted FROM resource_permissions
		WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3
		  AND permission IN (` + strings.Join(placeholders, ", ") + `)
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch check resource permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var permission string
		var granted bool
		if err := rows.Scan(&permission, &granted); err != nil {
			return nil, fmt.Errorf("failed to scan resource permission: %w", err)
		}
		result[permission] = overrideOf(granted)
	}
	return result, rows.Err()
}

// Grant records an explicit allow, replacing any existing override
func (s *Store) Grant(ctx context.Context, userID, resourceType, resourceID, permission, grantedBy string) error {
	return s.upsert(ctx, &ResourcePermission{
		UserID: userID, ResourceType: resourceType, ResourceID: resourceID,
		Permission: permission, Granted: true, GrantedBy: grantedBy,
	})
}

// Deny records an explicit revoke, replacing any existing override
func (s *Store) Deny(ctx context.Context, userID, resourceType, resourceID, permission, grantedBy string) error {
	return s.upsert(ctx, &ResourcePermission{
		UserID: userID, ResourceType: resourceType, ResourceID: resourceID,
		Permission: permission, Granted: false, GrantedBy: grantedBy,
	})
}

func (s *Store) upsert(ctx context.Context, rp *ResourcePermission) error {
	if rp.UserID == "" || rp.ResourceType == "" || rp.ResourceID == "" || rp.Permission == "" {
		return fmt.Errorf("%w: resource permission requires user, resource and permission", apierr.ErrInvalidInput)
	}
	now := s.now()

	query := `
		INSERT INTO resource_permissions (user_id, resource_type, resource_id, permission, granted, granted_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, resource_type, resource_id, permission)
		DO UPDATE SET granted = excluded.granted, granted_by = excluded.granted_by, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		rp.UserID, rp.ResourceType, rp.ResourceID, rp.Permission, rp.Granted,
		sql.NullString{String: rp.GrantedBy, Valid: rp.GrantedBy != ""}, now, now)
	if err != nil {
		return fmt.Errorf("failed to store resource permission: %w", err)
	}
	return nil
}

// Clear removes an override so the permission falls back to the role.
// Clearing a missing override is not an error.
func (s *Store) Clear(ctx context.Context, userID, resourceType, resourceID, permission string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM resource_permissions
		WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3 AND permission = $4
	`, userID, resourceType, resourceID, permission)
	if err != nil {
		return fmt.Errorf("failed to clear resource permission: %w", err)
	}
	return nil
}

// RemoveAllForResource deletes every override of a resource. Owners of a
// resource call it when the resource is deleted. It returns the affected users.
func (s *Store) RemoveAllForResource(ctx context.Context, resourceType, resourceID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM resource_permissions
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY user_id
	`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource permissions: %w", err)
	}
	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan resource permission: %w", err)
		}
		users = append(users, userID)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("failed to list resource permissions: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list resource permissions: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM resource_permissions WHERE resource_type = $1 AND resource_id = $2`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove resource permissions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return users, nil
}

// ListForResource lists every override of a resource
func (s *Store) ListForResource(ctx context.Context, resourceType, resourceID string) ([]*ResourcePermission, error) {
	return s.list(ctx, `
		SELECT user_id, resource_type, resource_id, permission, granted, granted_by, created_at, updated_at
		FROM resource_permissions
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY user_id, permission
	`, resourceType, resourceID)
}

// ListForUser lists every override held by a user
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*ResourcePermission, error) {
	return s.list(ctx, `
		SELECT user_id, resource_type, resource_id, permission, granted, granted_by, created_at, updated_at
		FROM resource_permissions
		WHERE user_id = $1
		ORDER BY resource_type, resource_id, permission
	`, userID)
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]*ResourcePermission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource permissions: %w", err)
	}
	defer rows.Close()

	var perms []*ResourcePermission
	for rows.Next() {
		rp := &ResourcePermission{}
		var grantedBy sql.NullString
		if err := rows.Scan(&rp.UserID, &rp.ResourceType, &rp.ResourceID, &rp.Permission,
			&rp.Granted, &grantedBy, &rp.CreatedAt, &rp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resource permission: %w", err)
		}
		rp.GrantedBy = grantedBy.String
		perms = append(perms, rp)
	}
	return perms, rows.Err()
}

func overrideOf(granted bool) Override {
	if granted {
		return Allow
	}
	return Deny
}
