// Package tenancy stores organizations, workspaces and their memberships.
//
// Membership is strictly hierarchical. A user can only join a workspace after
// joining its organization, and leaving an organization removes every
// workspace membership the user held inside it. Deleting an organization
// cascades to its workspaces and memberships.
//
// Errors wrap the apierr sentinels: a missing organization or workspace is
// ErrNotFound, a duplicate slug or membership is ErrConflict, and a workspace
// membership without the matching organization membership is ErrForbidden.
package tenancy
