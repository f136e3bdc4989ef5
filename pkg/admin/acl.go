package admin

import (
	"context"
	"fmt"

	"github.com/platinummonkey/warden/pkg/acl"
	"github.com/platinummonkey/warden/pkg/apierr"
	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Override is one ACL mutation. Action is stored as the override's permission.
type Override struct {
	UserID       string `json:"user_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Action       string `json:"action"`
	GrantedBy    string `json:"granted_by,omitempty"`
}

func (o Override) validate() error {
	if o.UserID == "" || o.ResourceID == "" {
		return fmt.Errorf("%w: override requires a user and a resource id", apierr.ErrInvalidInput)
	}
	perm := rbac.Permission{Resource: rbac.Resource(o.ResourceType), Action: rbac.Action(o.Action)}
	if !perm.Valid() {
		return fmt.Errorf("%w: unknown permission %s", apierr.ErrInvalidInput, perm)
	}
	return nil
}

// Grant records an explicit allow for one resource instance
func (s *Service) Grant(ctx context.Context, o Override) error {
	if err := o.validate(); err != nil {
		return err
	}
	if err := s.acls.Grant(ctx, o.UserID, o.ResourceType, o.ResourceID, o.Action, o.GrantedBy); err != nil {
		return err
	}
	s.invalidate(ctx, cache.NamespaceAuthz, cache.UserDecisionsPattern(o.UserID))
	return nil
}

// Deny records an explicit revoke for one resource instance
func (s *Service) Deny(ctx context.Context, o Override) error {
	if err := o.validate(); err != nil {
		return err
	}
	if err := s.acls.Deny(ctx, o.UserID, o.ResourceType, o.ResourceID, o.Action, o.GrantedBy); err != nil {
		return err
	}
	s.invalidate(ctx, cache.NamespaceAuthz, cache.UserDecisionsPattern(o.UserID))
	return nil
}

// ClearOverride removes an override so the role decides again
func (s *Service) ClearOverride(ctx context.Context, o Override) error {
	if err := s.acls.Clear(ctx, o.UserID, o.ResourceType, o.ResourceID, o.Action); err != nil {
		return err
	}
	s.invalidate(ctx, cache.NamespaceAuthz, cache.UserDecisionsPattern(o.UserID))
	return nil
}

// RemoveResource drops every override of a deleted resource
func (s *Service) RemoveResource(ctx context.Context, resourceType, resourceID string) error {
	users, err := s.acls.RemoveAllForResource(ctx, resourceType, resourceID)
	if err != nil {
		return err
	}
	patterns := make([]string, len(users))
	for i, userID := range users {
		patterns[i] = cache.UserDecisionsPattern(userID)
	}
	s.invalidate(ctx, cache.NamespaceAuthz, patterns...)
	return nil
}

// ListOverrides lists the overrides of one resource
func (s *Service) ListOverrides(ctx context.Context, resourceType, resourceID string) ([]*acl.ResourcePermission, error) {
	return s.acls.ListForResource(ctx, resourceType, resourceID)
}

// ListUserOverrides lists every override held by a user
func (s *Service) ListUserOverrides(ctx context.Context, userID string) ([]*acl.ResourcePermission, error) {
	return s.acls.ListForUser(ctx, userID)
}
