// Package authz decides whether a principal may perform an action.
//
// Every route variant (organization, workspace and global endpoints for the
// same resource) calls Resolver.Authorize with a Scope derived from its route
// parameters. Resolution order, first decisive result wins:
//
//  1. System administrators and internal principals are allowed.
//  2. Permissions outside the catalog, global scopes and missing tenant ids
//     are denied.
//  3. With a resource id, an ACL override decides: deny beats everything,
//     allow returns allow.
//  4. The membership role of the scope is resolved to its effective
//     permissions. In a workspace, an organization admin is allowed even
//     without a workspace role.
//  5. Otherwise deny.
//
// Decisions are cached under authz:<user>:<org>:<workspace>:... keys so
// administrative writes can invalidate them by prefix. Only decisions reached
// without a store error are cached.
package authz
