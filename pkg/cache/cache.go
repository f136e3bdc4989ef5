// Package cache implements the two-tier decision cache.
//
// A bounded in-process LRU (LocalCache) sits in front of an optional Redis
// tier (RedisCache). TieredCache combines them: reads go local then shared,
// a shared hit back-fills the local tier, writes go to both. Shared-tier
// failures are logged and swallowed. The cache is advisory; dropping any
// entry only costs latency.
//
// Keys are colon-separated: "<namespace>:<id>:<id>...". Invalidation patterns
// are either an exact key or a prefix ending in a single trailing "*".
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Cache is the contract consumed by the resolver, role engine and auth chain.
// Implementations never return backend errors from Get/Set/Delete; a failing
// backend behaves as a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	DeletePattern(ctx context.Context, pattern string)
	Clear(ctx context.Context)
	Close() error
}

// SharedBackend is a remote tier that reports its errors so TieredCache can
// degrade to local-only.
type SharedBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
	Clear(ctx context.Context) error
	Close() error
}

// ErrInvalidPattern is returned for patterns with a wildcard anywhere but the end.
var ErrInvalidPattern = errors.New("invalid cache pattern: only a single trailing * is supported")

// Key namespaces
const (
	NamespaceAuthz   = "authz"
	NamespaceRole    = "role"
	NamespaceSession = "session"
	NamespaceTenant  = "tenant"
)

// noID stands in for an absent workspace or resource id inside a key.
const noID = "-"

// ParsePattern splits a pattern into its literal prefix and whether it is a
// prefix match.
func ParsePattern(pattern string) (prefix string, wildcard bool, err error) {
	idx := strings.IndexByte(pattern, '*')
	switch {
	case idx < 0:
		return pattern, false, nil
	case idx == len(pattern)-1:
		return pattern[:idx], true, nil
	default:
		return "", false, ErrInvalidPattern
	}
}

// MatchPattern reports whether key matches pattern.
func MatchPattern(pattern, key string) bool {
	prefix, wildcard, err := ParsePattern(pattern)
	if err != nil {
		return false
	}
	if wildcard {
		return strings.HasPrefix(key, prefix)
	}
	return key == pattern
}

func orDash(id string) string {
	if id == "" {
		return noID
	}
	return id
}

// DecisionKey is the key of one cached authorization decision.
func DecisionKey(userID, orgID, workspaceID, resourceType, resourceID, action string) string {
	return strings.Join([]string{
		NamespaceAuthz, userID, orgID, orDash(workspaceID), resourceType, orDash(resourceID), action,
	}, ":")
}

// UserDecisionsPattern matches every decision cached for a user.
func UserDecisionsPattern(userID string) string {
	return NamespaceAuthz + ":" + userID + ":*"
}

// UserOrgDecisionsPattern matches a user's decisions inside one organization,
// including all of its workspaces.
func UserOrgDecisionsPattern(userID, orgID string) string {
	return NamespaceAuthz + ":" + userID + ":" + orgID + ":*"
}

// UserWorkspaceDecisionsPattern matches a user's decisions inside one workspace.
func UserWorkspaceDecisionsPattern(userID, orgID, workspaceID string) string {
	return NamespaceAuthz + ":" + userID + ":" + orgID + ":" + workspaceID + ":*"
}

// AllDecisionsPattern matches every cached decision.
func AllDecisionsPattern() string {
	return NamespaceAuthz + ":*"
}

// RoleKey is the key of a role's cached effective permission set.
func RoleKey(orgID, roleRef string) string {
	return NamespaceRole + ":" + orgID + ":" + roleRef
}

// OrgRolesPattern matches every cached role in an organization.
func OrgRolesPattern(orgID string) string {
	return NamespaceRole + ":" + orgID + ":*"
}

// APIKeySessionKey is the key of a cached API key lookup.
func APIKeySessionKey(keyHash string) string {
	return NamespaceSession + ":apikey:" + keyHash
}

// OrganizationKey marks an organization as existing.
func OrganizationKey(orgID string) string {
	return NamespaceTenant + ":organization:" + orgID
}

// WorkspaceOrgKey maps a workspace to its owning organization.
func WorkspaceOrgKey(workspaceID string) string {
	return NamespaceTenant + ":workspace:" + workspaceID
}

// GetJSON reads key and unmarshals it into v. Undecodable entries are
// deleted and reported as a miss.
func GetJSON(ctx context.Context, c Cache, key string, v interface{}) bool {
	data, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Set(ctx, key, data, ttl)
	return nil
}
