package api

import (
	"time"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/tenancy"
)

// AuthorizeRequest asks whether a principal may perform Action on
// ResourceType. The scope is the workspace when WorkspaceID is set, else the
// organization, else the global scope when Global is true. UserID evaluates
// the check for another user; only internal callers and system
// administrators may set it.
type AuthorizeRequest struct {
	OrganizationID string `json:"organization_id,omitempty"`
	WorkspaceID    string `json:"workspace_id,omitempty"`
	Global         bool   `json:"global,omitempty"`
	ResourceType   string `json:"resource_type"`
	Action         string `json:"action"`
	ResourceID     string `json:"resource_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

// WhoAmIResponse describes the authenticated principal
type WhoAmIResponse struct {
	Principal     *auth.Principal         `json:"principal"`
	Organizations []*tenancy.Organization `json:"organizations"`
}

// CreateOrganizationRequest creates an organization owned by the caller
type CreateOrganizationRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// RenameOrganizationRequest renames an organization
type RenameOrganizationRequest struct {
	Name string `json:"name"`
}

// CreateWorkspaceRequest creates a workspace in the route's organization
type CreateWorkspaceRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// MemberRequest adds a member or changes a member's role
type MemberRequest struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role"`
}

// RoleRequest creates or replaces a custom role
type RoleRequest struct {
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Permissions  []rbac.Permission `json:"permissions"`
	ParentRoleID *string           `json:"parent_role_id,omitempty"`
}

// TemplateRequest instantiates a role template
type TemplateRequest struct {
	Template string `json:"template"`
	Name     string `json:"name,omitempty"`
}

// Effects of an override request
const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
)

// OverrideRequest sets or clears a resource override. Effect is ignored when
// clearing.
type OverrideRequest struct {
	UserID       string `json:"user_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Action       string `json:"action"`
	Effect       string `json:"effect,omitempty"`
}

// CreateAPIKeyRequest issues an API key to the caller
type CreateAPIKeyRequest struct {
	Name           string     `json:"name"`
	OrganizationID string     `json:"organization_id,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// CreateAPIKeyResponse carries the plaintext key. It is shown only once.
type CreateAPIKeyResponse struct {
	*auth.APIKey
	Key string `json:"key"`
}

// PurgeResponse reports how many API keys a purge deleted
type PurgeResponse struct {
	Purged int64 `json:"purged"`
}
