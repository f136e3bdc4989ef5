package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/apierr"
	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/observability"
)

var (
	// ErrRoleCycle means the parent chain of a role loops or is broken.
	// Resolution fails closed with an empty permission set.
	ErrRoleCycle = errors.New("role hierarchy cycle")

	// ErrRoleNotFound means a membership references a role that does not exist.
	ErrRoleNotFound = fmt.Errorf("%w: role", apierr.ErrNotFound)
)

// maxRoleDepth bounds the parent walk independently of cycle detection.
const maxRoleDepth = 32

// EngineOptions configures an Engine
type EngineOptions struct {
	// Cache stores effective permission sets. Nil disables caching.
	Cache    cache.Cache
	CacheTTL time.Duration
	// Templates defaults to CommonRoleTemplates.
	Templates []RoleTemplate
	Logger    *observability.Logger
}

// Engine resolves role references into effective permission sets
type Engine struct {
	roles     RoleStore
	cache     cache.Cache
	cacheTTL  time.Duration
	templates map[string]RoleTemplate
	order     []string
	logger    *observability.Logger
}

// NewEngine creates a role engine
func NewEngine(roles RoleStore, opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	templates := opts.Templates
	if templates == nil {
		templates = CommonRoleTemplates()
	}

	e := &Engine{
		roles:     roles,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		templates: make(map[string]RoleTemplate, len(templates)),
		logger:    logger.WithField("component", "rbac"),
	}
	for _, tmpl := range templates {
		if _, dup := e.templates[tmpl.Name]; !dup {
			e.order = append(e.order, tmpl.Name)
		}
		e.templates[tmpl.Name] = tmpl
	}
	return e
}

// EffectivePermissions returns the permissions granted by roleRef in orgID.
// Built-in names use their fixed tables. Custom roles union their own
// permissions with those of every ancestor. A cycle or broken parent link
// yields an empty set and ErrRoleCycle.
func (e *Engine) EffectivePermissions(ctx context.Context, orgID, roleRef string) (PermissionSet, error) {
	if roleRef == "" {
		return PermissionSet{}, ErrRoleNotFound
	}
	if set, ok := BuiltInPermissions(roleRef); ok {
		return set, nil
	}

	key := cache.RoleKey(orgID, roleRef)
	if e.cache != nil {
		var cached []Permission
		if cache.GetJSON(ctx, e.cache, key, &cached) {
			return NewPermissionSet(cached...), nil
		}
	}

	role, err := e.roles.FindRole(ctx, orgID, roleRef)
	if err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			return PermissionSet{}, fmt.Errorf("%w %q in organization %s", ErrRoleNotFound, roleRef, orgID)
		}
		return PermissionSet{}, err
	}

	set, err := e.resolve(ctx, role)
	if err != nil {
		if errors.Is(err, ErrRoleCycle) {
			e.logger.WithError(err).WithFields(map[string]interface{}{
				"organization_id": orgID,
				"role":            roleRef,
			}).Error("role hierarchy is invalid, denying")
		}
		return PermissionSet{}, err
	}

	if e.cache != nil {
		if err := cache.SetJSON(ctx, e.cache, key, set.List(), e.cacheTTL); err != nil {
			e.logger.WithError(err).Warn("failed to cache role permissions")
		}
	}
	return set, nil
}

func (e *Engine) resolve(ctx context.Context, role *CustomRole) (PermissionSet, error) {
	set := NewPermissionSet()
	visited := make(map[string]bool)

	current := role
	for depth := 0; ; depth++ {
		if visited[current.ID] {
			return nil, fmt.Errorf("%w: role %s is its own ancestor", ErrRoleCycle, current.ID)
		}
		if depth >= maxRoleDepth {
			return nil, fmt.Errorf("%w: role %s exceeds %d levels", ErrRoleCycle, role.ID, maxRoleDepth)
		}
		visited[current.ID] = true
		set.Add(current.Permissions...)

		if current.ParentRoleID == nil {
			return set, nil
		}

		parent, err := e.roles.GetRole(ctx, current.OrganizationID, *current.ParentRoleID)
		if err != nil {
			if errors.Is(err, apierr.ErrNotFound) {
				return nil, fmt.Errorf("%w: parent %s of role %s is missing", ErrRoleCycle, *current.ParentRoleID, current.ID)
			}
			return nil, err
		}
		current = parent
	}
}

// Templates returns the registered templates in registration order
func (e *Engine) Templates() []RoleTemplate {
	out := make([]RoleTemplate, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.templates[name])
	}
	return out
}

// Template looks up a template by name
func (e *Engine) Template(name string) (RoleTemplate, bool) {
	tmpl, ok := e.templates[name]
	return tmpl, ok
}

// InstantiateTemplate creates a custom role holding a copy of the template's
// permissions. Later template changes do not affect the role.
func (e *Engine) InstantiateTemplate(ctx context.Context, orgID, templateName, roleName, createdBy string) (*CustomRole, error) {
	tmpl, ok := e.templates[templateName]
	if !ok {
		return nil, fmt.Errorf("%w: role template %q", apierr.ErrNotFound, templateName)
	}
	if roleName == "" {
		roleName = tmpl.Name
	}

	role := &CustomRole{
		OrganizationID: orgID,
		Name:           roleName,
		Description:    tmpl.Description,
		Permissions:    append([]Permission(nil), tmpl.Permissions...),
		TemplateName:   tmpl.Name,
		CreatedBy:      createdBy,
	}
	if err := e.roles.CreateRole(ctx, role); err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"role_id":         role.ID,
		"template":        templateName,
	}).Info("Role created from template")

	return role, nil
}
