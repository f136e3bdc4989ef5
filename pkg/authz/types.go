package authz

import (
	"fmt"

	"github.com/platinummonkey/warden/pkg/apierr"
)

// ScopeType is the kind of tenant a check is evaluated against
type ScopeType string

const (
	ScopeOrganization ScopeType = "organization"
	ScopeWorkspace    ScopeType = "workspace"
	// ScopeGlobal has no tenant. Only system administrators and internal
	// principals pass a global check.
	ScopeGlobal ScopeType = "global"
)

// ParseScopeType parses a scope type name
func ParseScopeType(s string) (ScopeType, error) {
	switch ScopeType(s) {
	case ScopeOrganization, ScopeWorkspace, ScopeGlobal:
		return ScopeType(s), nil
	default:
		return "", fmt.Errorf("%w: unknown scope type %q", apierr.ErrInvalidInput, s)
	}
}

// Scope identifies the tenant of a check
type Scope struct {
	Type ScopeType `json:"type"`
	ID   string    `json:"id,omitempty"`
}

// OrganizationScope returns an organization scope
func OrganizationScope(orgID string) Scope {
	return Scope{Type: ScopeOrganization, ID: orgID}
}

// WorkspaceScope returns a workspace scope
func WorkspaceScope(workspaceID string) Scope {
	return Scope{Type: ScopeWorkspace, ID: workspaceID}
}

// GlobalScope returns the tenant-less scope
func GlobalScope() Scope {
	return Scope{Type: ScopeGlobal}
}

func (s Scope) String() string {
	if s.ID == "" {
		return string(s.Type)
	}
	return string(s.Type) + ":" + s.ID
}

// Decision sources
const (
	SourceSystemAdmin       = "system_admin"
	SourceInternal          = "internal"
	SourceACL               = "acl"
	SourceWorkspaceRole     = "workspace_role"
	SourceOrganizationRole  = "organization_role"
	SourceOrganizationAdmin = "organization_admin"
	SourceDefault           = "default"
)

// Result is the outcome of one authorization check
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Source  string `json:"source"`
	Cached  bool   `json:"cached,omitempty"`
}

func allow(source, reason string) Result {
	return Result{Allowed: true, Source: source, Reason: reason}
}

func deny(source, reason string) Result {
	return Result{Allowed: false, Source: source, Reason: reason}
}
