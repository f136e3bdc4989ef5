// Package rbac provides the role and template engine of the authorization service.
//
// # Permissions
//
// A Permission is a (Resource, Action) pair written "resource:action", for
// example "chatflow:update". The catalog is closed: ActionsFor lists the
// actions each resource supports and Catalog enumerates every pair. Parsing
// anything outside the catalog fails with apierr.ErrInvalidInput, and stored
// permissions that fall out of the catalog are dropped when read, so they are
// denied at check time.
//
// # Roles
//
// Membership rows carry a role string. The names admin, member and readonly
// are built in and map to fixed tables (BuiltInPermissions). Any other value
// refers to a CustomRole of the organization, by id or by name.
//
// Custom roles may name a parent. The effective permissions of a role are the
// union of its own permissions and those of every ancestor:
//
//	engine := rbac.NewEngine(rbac.NewStore(db), rbac.EngineOptions{Cache: c, CacheTTL: 5 * time.Minute})
//	perms, err := engine.EffectivePermissions(ctx, orgID, "editor")
//	if perms.Allows(rbac.ResourceChatflow, rbac.ActionUpdate) {
//		// ...
//	}
//
// A parent chain that loops or points at a missing role resolves to an empty
// set together with ErrRoleCycle. Resolution never loops.
//
// # Templates
//
// A RoleTemplate is a named permission list. InstantiateTemplate creates a
// custom role holding a copy of the template permissions; editing the template
// later does not change roles created from it. CommonRoleTemplates provides the
// defaults and LoadTemplates reads additional ones from YAML.
package rbac
