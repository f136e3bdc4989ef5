package tenancy

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/apierr"
)

// Service implements tenancy persistence on database/sql
type Service struct {
	db  *sql.DB
	now func() time.Time
}

// NewService creates a new Service
func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ Reader = (*Service)(nil)

// CreateOrganization creates a new organization. The slug is derived from
// the name when empty.
func (s *Service) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.Slug == "" {
		org.Slug = generateSlug(org.Name)
	}
	if org.Name == "" || org.Slug == "" {
		return fmt.Errorf("%w: organization requires a name", apierr.ErrInvalidInput)
	}
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	now := s.now()

	query := `
		INSERT INTO organizations (id, name, slug, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slug) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, org.ID, org.Name, org.Slug, nullString(org.CreatedBy), now, now)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	if err := expectRow(result, apierr.ErrConflict, "organization slug %q is taken", org.Slug); err != nil {
		return err
	}

	org.CreatedAt = now
	org.UpdatedAt = now
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *Service) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	query := `
		SELECT id, name, slug, created_by, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`
	org, err := scanOrganization(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: organization %s", apierr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// GetOrganizationBySlug retrieves an organization by slug
func (s *Service) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	query := `
		SELECT id, name, slug, created_by, created_at, updated_at
		FROM organizations
		WHERE slug = $1
	`
	org, err := scanOrganization(s.db.QueryRowContext(ctx, query, slug))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: organization %q", apierr.ErrNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// ListOrganizationsForUser lists the organizations a user belongs to
func (s *Service) ListOrganizationsForUser(ctx context.Context, userID string) ([]*Organization, error) {
	query := `
		SELECT o.id, o.name, o.slug, o.created_by, o.created_at, o.updated_at
		FROM organizations o
		JOIN organization_members m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.name
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// RenameOrganization updates the display name. The slug is kept.
func (s *Service) RenameOrganization(ctx context.Context, id, name string) error {
	if name == "" {
		return fmt.Errorf("%w: organization requires a name", apierr.ErrInvalidInput)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET name = $1, updated_at = $2 WHERE id = $3`, name, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	return expectRow(result, apierr.ErrNotFound, "organization %s", id)
}

// DeleteOrganization deletes an organization with its workspaces and memberships
func (s *Service) DeleteOrganization(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	return expectRow(result, apierr.ErrNotFound, "organization %s", id)
}

// CreateWorkspace creates a workspace after verifying its organization exists
func (s *Service) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	if ws.Slug == "" {
		ws.Slug = generateSlug(ws.Name)
	}
	if ws.Name == "" || ws.Slug == "" {
		return fmt.Errorf("%w: workspace requires a name", apierr.ErrInvalidInput)
	}
	if _, err := s.GetOrganization(ctx, ws.OrganizationID); err != nil {
		return err
	}
	if ws.ID == "" {
		ws.ID = uuid.New().String()
	}
	now := s.now()

	query := `
		INSERT INTO workspaces (id, organization_id, name, slug, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (organization_id, slug) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		ws.ID, ws.OrganizationID, ws.Name, ws.Slug, nullString(ws.CreatedBy), now, now)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	if err := expectRow(result, apierr.ErrConflict, "workspace slug %q is taken", ws.Slug); err != nil {
		return err
	}

	ws.CreatedAt = now
	ws.UpdatedAt = now
	return nil
}

// GetWorkspace retrieves a workspace by ID
func (s *Service) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	query := `
		SELECT id, organization_id, name, slug, created_by, created_at, updated_at
		FROM workspaces
		WHERE id = $1
	`
	ws, err := scanWorkspace(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: workspace %s", apierr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return ws, nil
}

// ListWorkspaces lists the workspaces of an organization
func (s *Service) ListWorkspaces(ctx context.Context, orgID string) ([]*Workspace, error) {
	query := `
		SELECT id, organization_id, name, slug, created_by, created_at, updated_at
		FROM workspaces
		WHERE organization_id = $1
		ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []*Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

// DeleteWorkspace deletes a workspace and its memberships
func (s *Service) DeleteWorkspace(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	return expectRow(result, apierr.ErrNotFound, "workspace %s", id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrganization(row rowScanner) (*Organization, error) {
	org := &Organization{}
	var createdBy sql.NullString
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &createdBy, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return nil, err
	}
	org.CreatedBy = createdBy.String
	return org, nil
}

func scanWorkspace(row rowScanner) (*Workspace, error) {
	ws := &Workspace{}
	var createdBy sql.NullString
	if err := row.Scan(&ws.ID, &ws.OrganizationID, &ws.Name, &ws.Slug, &createdBy, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		return nil, err
	}
	ws.CreatedBy = createdBy.String
	return ws, nil
}

// expectRow turns a zero-row result into sentinel wrapped with a message
func expectRow(result sql.Result, sentinel error, format string, args ...interface{}) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// generateSlug generates a URL-safe slug from a name
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return strings.Trim(slug, "-")
}
