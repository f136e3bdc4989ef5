package tenancy

import (
	"context"
	"time"
)

// Organization is the top-level tenant
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Workspace belongs to exactly one organization
type Workspace struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OrganizationMember binds a user to an organization with a role.
// Role is a built-in role name or a custom role reference.
type OrganizationMember struct {
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	InvitedBy      string    `json:"invited_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WorkspaceMember binds an organization member to a workspace with a role
type WorkspaceMember struct {
	WorkspaceID string    `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Reader is the read side consumed by the authorization resolver.
// Missing rows are reported with apierr.ErrNotFound.
type Reader interface {
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	GetWorkspace(ctx context.Context, id string) (*Workspace, error)
	GetOrganizationMember(ctx context.Context, orgID, userID string) (*OrganizationMember, error)
	GetWorkspaceMember(ctx context.Context, workspaceID, userID string) (*WorkspaceMember, error)
}
