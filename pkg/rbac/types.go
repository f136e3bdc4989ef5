package rbac

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/apierr"
)

// Resource represents a resource type in the system
type Resource string

const (
	ResourceChatflow      Resource = "chatflow"
	ResourceAgentflow     Resource = "agentflow"
	ResourceAssistant     Resource = "assistant"
	ResourceTool          Resource = "tool"
	ResourceCredential    Resource = "credential"
	ResourceVariable      Resource = "variable"
	ResourceAPIKey        Resource = "apikey"
	ResourceDocumentStore Resource = "document_store"
	ResourceDataset       Resource = "dataset"
	ResourceEvaluation    Resource = "evaluation"
	ResourceWorkspace     Resource = "workspace"
	ResourceOrganization  Resource = "organization"
	ResourceUser          Resource = "user"
	ResourceRole          Resource = "role"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionRun    Action = "run"
	ActionShare  Action = "share"
	ActionExport Action = "export"
	ActionImport Action = "import"
	ActionManage Action = "manage"
)

// Resources returns every resource type in catalog order
func Resources() []Resource {
	return []Resource{
		ResourceChatflow,
		ResourceAgentflow,
		ResourceAssistant,
		ResourceTool,
		ResourceCredential,
		ResourceVariable,
		ResourceAPIKey,
		ResourceDocumentStore,
		ResourceDataset,
		ResourceEvaluation,
		ResourceWorkspace,
		ResourceOrganization,
		ResourceUser,
		ResourceRole,
	}
}

var crud = []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete}

// ActionsFor returns the actions defined for a resource type. Unknown
// resources have no actions.
func ActionsFor(r Resource) []Action {
	switch r {
	case ResourceChatflow, ResourceAgentflow, ResourceAssistant:
		return append(append([]Action{}, crud...), ActionRun, ActionShare, ActionExport, ActionImport)
	case ResourceTool, ResourceEvaluation:
		return append(append([]Action{}, crud...), ActionRun, ActionExport, ActionImport)
	case ResourceDocumentStore, ResourceDataset:
		return append(append([]Action{}, crud...), ActionShare, ActionExport, ActionImport)
	case ResourceCredential, ResourceVariable:
		return append(append([]Action{}, crud...), ActionShare)
	case ResourceAPIKey:
		return append([]Action{}, crud...)
	case ResourceWorkspace, ResourceOrganization, ResourceUser, ResourceRole:
		return append(append([]Action{}, crud...), ActionManage)
	default:
		return nil
	}
}

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource Resource
	Action   Action
}

// String returns a string representation of the permission
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// Valid reports whether the permission is part of the catalog.
func (p Permission) Valid() bool {
	for _, a := range ActionsFor(p.Resource) {
		if a == p.Action {
			return true
		}
	}
	return false
}

// MarshalText encodes the permission as "resource:action".
func (p Permission) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses "resource:action" and rejects anything outside the catalog.
func (p *Permission) UnmarshalText(text []byte) error {
	parsed, err := ParsePermission(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePermission parses "resource:action". The result is always a catalog entry.
func ParsePermission(s string) (Permission, error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Permission{}, fmt.Errorf("%w: malformed permission %q", apierr.ErrInvalidInput, s)
	}
	p := Permission{Resource: Resource(resource), Action: Action(action)}
	if !p.Valid() {
		return Permission{}, fmt.Errorf("%w: unknown permission %q", apierr.ErrInvalidInput, s)
	}
	return p, nil
}

// Catalog returns every permission the system recognizes.
func Catalog() []Permission {
	var perms []Permission
	for _, r := range Resources() {
		for _, a := range ActionsFor(r) {
			perms = append(perms, Permission{Resource: r, Action: a})
		}
	}
	return perms
}

// ValidatePermissions returns ErrInvalidInput naming the first permission
// outside the catalog.
func ValidatePermissions(perms []Permission) error {
	for _, p := range perms {
		if !p.Valid() {
			return fmt.Errorf("%w: unknown permission %q", apierr.ErrInvalidInput, p.String())
		}
	}
	return nil
}

// PermissionSet is an unordered set of permissions
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from a list
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether the set contains p
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Allows reports whether the set grants action on resource
func (s PermissionSet) Allows(resource Resource, action Action) bool {
	return s.Has(Permission{Resource: resource, Action: action})
}

// Add inserts permissions into the set
func (s PermissionSet) Add(perms ...Permission) {
	for _, p := range perms {
		s[p] = struct{}{}
	}
}

// Union adds every permission of other to s
func (s PermissionSet) Union(other PermissionSet) {
	for p := range other {
		s[p] = struct{}{}
	}
}

// List returns the permissions sorted by their string form
func (s PermissionSet) List() []Permission {
	perms := make([]Permission, 0, len(s))
	for p := range s {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].String() < perms[j].String() })
	return perms
}

// Strings returns the sorted string forms
func (s PermissionSet) Strings() []string {
	list := s.List()
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.String()
	}
	return out
}

// Built-in role names. They are reserved in every organization.
const (
	RoleAdmin    = "admin"
	RoleMember   = "member"
	RoleReadonly = "readonly"
)

// IsBuiltInRole reports whether name is one of the fixed roles
func IsBuiltInRole(name string) bool {
	switch name {
	case RoleAdmin, RoleMember, RoleReadonly:
		return true
	default:
		return false
	}
}

// CustomRole is an organization-scoped role with an optional parent
type CustomRole struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	Permissions    []Permission `json:"permissions"`
	ParentRoleID   *string      `json:"parent_role_id,omitempty"`
	TemplateName   string       `json:"template_name,omitempty"`
	CreatedBy      string       `json:"created_by,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// RoleTemplate represents a template for creating custom roles
type RoleTemplate struct {
	Name        string       `json:"name" yaml:"name"`
	DisplayName string       `json:"display_name" yaml:"display_name"`
	Description string       `json:"description" yaml:"description"`
	Permissions []Permission `json:"permissions" yaml:"permissions"`
}
