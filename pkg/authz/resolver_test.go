package authz

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/acl"
	"github.com/platinummonkey/warden/pkg/apierr"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage/storagetest"
	"github.com/platinummonkey/warden/pkg/tenancy"
)

type fixture struct {
	db      *sql.DB
	tenants *tenancy.Service
	roles   *rbac.Store
	acls    *acl.Store
	engine  *rbac.Engine
}

// newFixture seeds organization "acme" with workspace "acme-eng".
// user1 is an organization admin, user2 an organization member.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := storagetest.NewSQLiteDB(t)

	f := &fixture{
		db:      db,
		tenants: tenancy.NewService(db),
		roles:   rbac.NewStore(db),
		acls:    acl.NewStore(db),
	}
	f.engine = rbac.NewEngine(f.roles, rbac.EngineOptions{})

	require.NoError(t, f.tenants.CreateOrganization(ctx, &tenancy.Organization{ID: "acme", Name: "Acme"}))
	require.NoError(t, f.tenants.CreateWorkspace(ctx, &tenancy.Workspace{ID: "acme-eng", OrganizationID: "acme", Name: "Eng"}))
	require.NoError(t, f.tenants.AddOrganizationMember(ctx, &tenancy.OrganizationMember{
		OrganizationID: "acme", UserID: "user1", Role: rbac.RoleAdmin,
	}))
	require.NoError(t, f.tenants.AddOrganizationMember(ctx, &tenancy.OrganizationMember{
		OrganizationID: "acme", UserID: "user2", Role: rbac.RoleMember,
	}))
	return f
}

func (f *fixture) resolver(opts Options) *Resolver {
	return NewResolver(f.tenants, f.engine, f.acls, opts)
}

func user(id string) *auth.Principal {
	return &auth.Principal{UserID: id}
}

func TestAuthorize_SystemAdminAlwaysAllowed(t *testing.T) {
	r := newFixture(t).resolver(Options{})
	admin := &auth.Principal{UserID: "root", IsSystemAdmin: true}

	scopes := []Scope{
		GlobalScope(),
		OrganizationScope("acme"),
		OrganizationScope("does-not-exist"),
		WorkspaceScope("acme-eng"),
	}
	for _, scope := range scopes {
		result, err := r.Authorize(context.Background(), admin, scope, "role", "manage", "anything")
		require.NoError(t, err)
		assert.True(t, result.Allowed, scope.String())
		assert.Equal(t, SourceSystemAdmin, result.Source)
	}
}

func TestAuthorize_InternalPrincipalAllowed(t *testing.T) {
	r := newFixture(t).resolver(Options{})

	result, err := r.Authorize(context.Background(), &auth.Principal{Internal: true},
		WorkspaceScope("acme-eng"), "chatflow", "run", "")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, SourceInternal, result.Source)
}

func TestAuthorize_DeniesAmbiguousInput(t *testing.T) {
	r := newFixture(t).resolver(Options{})
	ctx := context.Background()

	tests := []struct {
		name      string
		principal *auth.Principal
		scope     Scope
		resource  string
		action    string
	}{
		{"nil principal", nil, OrganizationScope("acme"), "chatflow", "read"},
		{"principal without user", &auth.Principal{}, OrganizationScope("acme"), "chatflow", "read"},
		{"unknown resource", user("user1"), OrganizationScope("acme"), "spaceship", "read"},
		{"unknown action", user("user1"), OrganizationScope("acme"), "chatflow", "fly"},
		{"action not defined for resource", user("user1"), OrganizationScope("acme"), "apikey", "run"},
		{"global scope", user("user1"), GlobalScope(), "chatflow", "read"},
		{"missing tenant id", user("user1"), Scope{Type: ScopeWorkspace}, "chatflow", "read"},
		{"unknown scope type", user("user1"), Scope{Type: "team", ID: "t1"}, "chatflow", "read"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.Authorize(ctx, tt.principal, tt.scope, tt.resource, tt.action, "")
			require.NoError(t, err)
			assert.False(t, result.Allowed)
		})
	}

	result, err := r.Authorize(ctx, user("user1"), GlobalScope(), "chatflow", "read", "cf-1")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestAuthorize_WorkspaceRequiresMembership(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(Options{})
	ctx := context.Background()

	result, err := r.Authorize(ctx, user("user2"), WorkspaceScope("acme-eng"), "chatflow", "read", "")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	require.NoError(t, f.tenants.AddWorkspaceMember(ctx, &tenancy.WorkspaceMember{
		WorkspaceID: "acme-eng", UserID: "user2", Role: rbac.RoleMember,
	}))

	result, err = r.Authorize(ctx, user("user2"), WorkspaceScope("acme-eng"), "chatflow", "read", "")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, SourceWorkspaceRole, result.Source)
}

func TestAuthorize_OrganizationAdminImpliesWorkspaceAuthority(t *testing.T) {
	r := newFixture(t).resolver(Options{})

	result, err := r.Authorize(context.Background(), user("user1"), WorkspaceScope("acme-eng"), "chatflow", "update", "")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, SourceOrganizationAdmin, result.Source)
}

func TestAuthorize_WorkspaceRolePrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tenants.AddWorkspaceMember(ctx, &tenancy.WorkspaceMember{
		WorkspaceID: "acme-eng", UserID: "user1", Role: rbac.RoleReadonly,
	}))

	t.Run("organization admin wins by default", func(t *testing.T) {
		r := f.resolver(Options{})
		result, err := r.Authorize(ctx, user("user1"), WorkspaceScope("acme-eng"), "chatflow", "update", "")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, SourceOrganizationAdmin, result.Source)
	})

	t.Run("explicit workspace role is final when configured", func(t *testing.T) {
		r := f.resolver(Options{WorkspaceRoleOverridesOrgAdmin: true})
		result, err := r.Authorize(ctx, user("user1"), WorkspaceScope("acme-eng"), "chatflow", "update", "")
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, SourceWorkspaceRole, result.Source)

		result, err = r.Authorize(ctx, user("user1"), WorkspaceScope("acme-eng"), "chatflow", "read", "")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})
}

func TestAuthorize_OrganizationScope(t *testing.T) {
	r := newFixture(t).resolver(Options{})
	ctx := context.Background()

	result, err := r.Authorize(ctx, user("user2"), OrganizationScope("acme"), "chatflow", "create", "")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, SourceOrganizationRole, result.Source)

	result, err = r.Authorize(ctx, user("user2"), OrganizationScope("acme"), "role", "manage", "")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	result, err = r.Authorize(ctx, user("stranger"), OrganizationScope("acme"), "chatflow", "read", "")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestAuthorize_MissingTenantIsNotFound(t *testing.T) {
	r := newFixture(t).resolver(Options{})
	ctx := context.Background()

	result, err := r.Authorize(ctx, user("user1"), OrganizationScope("globex"), "chatflow", "read", "")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.False(t, result.Allowed)

	result, err = r.Authorize(ctx, user("user1"), WorkspaceScope("acme-missing"), "chatflow", "read", "")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.False(t, result.Allowed)
}

func TestAuthorize_ACLOverrides(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(Options{})
	ctx := context.Background()

	result, err := r.Authorize(ctx, user("user2"), OrganizationScope("acme"), "chatflow", "update", "cf-1")
	require.NoError(t, err)
	require.True(t, result.Allowed)

	require.NoError(t, f.acls.Deny(ctx, "user2", "chatflow", "cf-1", "update", "user1"))

	result, err = r.Authorize(ctx, user("user2"), OrganizationScope("acme"), "chatflow", "update", "cf-1")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, SourceACL, result.Source)

	// Other instances still follow the role.
	result, err = r.Authorize(ctx, user("user2"), OrganizationScope("acme"), "chatflow", "update", "cf-2")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	require.NoError(t, f.tenants.AddOrganizationMember(ctx, &tenancy.OrganizationMember{
		OrganizationID: "acme", UserID: "user3", Role: rbac.RoleReadonly,
	}))
	require.NoError(t, f.acls.Grant(ctx, "user3", "chatflow", "cf-1", "update", "user1"))

	result, err = r.Authorize(ctx, user("user3"), OrganizationScope("acme"), "chatflow", "update", "cf-1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, SourceACL, result.Source)
}

func TestAuthorize_CustomRoles(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(Options{})
	ctx := context.Background()

	base := &rbac.CustomRole{OrganizationID: "acme", Name: "viewer",
		Permissions: []rbac.Permission{{Resource: rbac.ResourceChatflow, Action: rbac.ActionRead}}}
	require.NoError(t, f.roles.CreateRole(ctx, base))
	runner := &rbac.CustomRole{OrganizationID: "acme", Name: "runner", ParentRoleID: &base.ID,
		Permissions: []rbac.Permission{{Resource: rbac.ResourceChatflow, Action: rbac.ActionRun}}}
	require.NoError(t, f.roles.CreateRole(ctx, runner))

	require.NoError(t, f.tenants.AddOrganizationMember(ctx, &tenancy.OrganizationMember{
		OrganizationID: "acme", UserID: "user3", Role: "runner",
	}))
	require.NoError(t, f.tenants.AddWorkspaceMember(ctx, &tenancy.WorkspaceMember{
		WorkspaceID: "acme-eng", UserID: "user3", Role: runner.ID,
	}))

	for _, scope := range []Scope{OrganizationScope("acme"), WorkspaceScope("acme-eng")} {
		for action, want := range map[string]bool{"read": true, "run": true, "delete": false} {
			result, err := r.Authorize(ctx, user("user3"), scope, "chatflow", action, "")
			require.NoError(t, err)
			assert.Equal(t, want, result.Allowed, "%s %s", scope, action)
		}
	}
}

func TestAuthorize_RoleProblemsDenyWithoutError(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(Options{})
	ctx := context.Background()

	a := &rbac.CustomRole{OrganizationID: "acme", Name: "a",
		Permissions: []rbac.Permission{{Resource: rbac.ResourceChatflow, Action: rbac.ActionRead}}}
	require.NoError(t, f.roles.CreateRole(ctx, a))
	b := &rbac.CustomRole{OrganizationID: "acme", Name: "b", ParentRoleID: &a.ID}
	require.NoError(t, f.roles.CreateRole(ctx, b))
	// UpdateRole refuses cycles, so close the loop behind the store's back.
	_, err := f.db.ExecContext(ctx, `UPDATE custom_roles SET parent_role_id = $1 WHERE id = $2`, b.ID, a.ID)
	require.NoError(t, err)

	require.NoError(t, f.tenants.AddOrganizationMember(ctx, &tenancy.OrganizationMember{
		OrganizationID: "acme", UserID: "cyclic", Role: "a",
	}))
	require.NoError(t, f.tenants.AddOrganizationMember(ctx, &tenancy.OrganizationMember{
		OrganizationID: "acme", UserID: "dangling", Role: "no-such-role",
	}))

	for _, userID := range []string{"cyclic", "dangling"} {
		result, err := r.Authorize(ctx, user(userID), OrganizationScope("acme"), "chatflow", "read", "")
		require.NoError(t, err, userID)
		assert.False(t, result.Allowed, userID)
	}
}

func TestAuthorize_CachesDecisions(t *testing.T) {
	f := newFixture(t)
	local := cache.NewLocalCache(1000, time.Minute, nil)
	r := f.resolver(Options{Cache: local, DecisionTTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, f.tenants.AddWorkspaceMember(ctx, &tenancy.WorkspaceMember{
		WorkspaceID: "acme-eng", UserID: "user2", Role: rbac.RoleMember,
	}))

	first, err := r.Authorize(ctx, user("user2"), WorkspaceScope("acme-eng"), "chatflow", "read", "")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.False(t, first.Cached)

	_, ok := local.Get(ctx, cache.DecisionKey("user2", "acme", "acme-eng", "chatflow", "", "read"))
	assert.True(t, ok)

	second, err := r.Authorize(ctx, user("user2"), WorkspaceScope("acme-eng"), "chatflow", "read", "")
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Source, second.Source)

	// A write without invalidation keeps serving the cached decision.
	require.NoError(t, f.tenants.RemoveWorkspaceMember(ctx, "acme-eng", "user2"))
	stale, err := r.Authorize(ctx, user("user2"), WorkspaceScope("acme-eng"), "chatflow", "read", "")
	require.NoError(t, err)
	assert.True(t, stale.Allowed)

	local.DeletePattern(ctx, cache.UserWorkspaceDecisionsPattern("user2", "acme", "acme-eng"))
	fresh, err := r.Authorize(ctx, user("user2"), WorkspaceScope("acme-eng"), "chatflow", "read", "")
	require.NoError(t, err)
	assert.False(t, fresh.Allowed)
}

func TestAuthorize_DeletedWorkspaceWithCachedMapping(t *testing.T) {
	f := newFixture(t)
	local := cache.NewLocalCache(1000, time.Minute, nil)
	r := f.resolver(Options{Cache: local, DecisionTTL: time.Minute})
	ctx := context.Background()

	_, err := r.Authorize(ctx, user("user1"), WorkspaceScope("acme-eng"), "chatflow", "read", "")
	require.NoError(t, err)

	require.NoError(t, f.tenants.DeleteWorkspace(ctx, "acme-eng"))
	local.DeletePattern(ctx, cache.AllDecisionsPattern())

	result, err := r.Authorize(ctx, user("user1"), WorkspaceScope("acme-eng"), "chatflow", "read", "")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.False(t, result.Allowed)
}

type stubReader struct {
	orgErr      error
	orgDelay    time.Duration
	memberCalls int32
}

func (s *stubReader) GetOrganization(ctx context.Context, id string) (*tenancy.Organization, error) {
	if s.orgDelay > 0 {
		select {
		case <-time.After(s.orgDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.orgErr != nil {
		return nil, s.orgErr
	}
	return &tenancy.Organization{ID: id}, nil
}

func (s *stubReader) GetWorkspace(ctx context.Context, id string) (*tenancy.Workspace, error) {
	return nil, apierr.ErrNotFound
}

func (s *stubReader) GetOrganizationMember(ctx context.Context, orgID, userID string) (*tenancy.OrganizationMember, error) {
	atomic.AddInt32(&s.memberCalls, 1)
	return &tenancy.OrganizationMember{OrganizationID: orgID, UserID: userID, Role: rbac.RoleMember}, nil
}

func (s *stubReader) GetWorkspaceMember(ctx context.Context, workspaceID, userID string) (*tenancy.WorkspaceMember, error) {
	return nil, apierr.ErrNotFound
}

type noOverrides struct{}

func (noOverrides) HasOverride(ctx context.Context, userID, resourceType, resourceID, permission string) (acl.Override, error) {
	return acl.NoOverride, nil
}

func (noOverrides) BatchCheck(ctx context.Context, userID, resourceType, resourceID string, permissions []string) (map[string]acl.Override, error) {
	return map[string]acl.Override{}, nil
}

func TestAuthorize_BackendErrorsPropagateAndAreNotCached(t *testing.T) {
	reader := &stubReader{orgErr: errors.New("connection refused")}
	local := cache.NewLocalCache(100, time.Minute, nil)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := NewResolver(reader, rbac.NewEngine(nil, rbac.EngineOptions{}), noOverrides{}, Options{
		Cache:       local,
		DecisionTTL: time.Minute,
		Metrics:     metrics,
	})

	result, err := r.Authorize(context.Background(), user("user1"), OrganizationScope("acme"), "chatflow", "read", "")
	assert.ErrorIs(t, err, apierr.ErrBackendUnavailable)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, local.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DecisionErrors.WithLabelValues("organization")))

	reader.orgErr = nil
	result, err = r.Authorize(context.Background(), user("user1"), OrganizationScope("acme"), "chatflow", "read", "")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DecisionsTotal.WithLabelValues("allow", SourceOrganizationRole)))
}

func TestAuthorize_ConcurrentMissesCollapse(t *testing.T) {
	reader := &stubReader{orgDelay: 50 * time.Millisecond}
	r := NewResolver(reader, rbac.NewEngine(nil, rbac.EngineOptions{}), noOverrides{}, Options{})

	const callers = 10
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := r.Authorize(context.Background(), user("user1"), OrganizationScope("acme"), "chatflow", "read", "")
			assert.NoError(t, err)
			assert.True(t, result.Allowed)
		}()
	}
	close(start)
	wg.Wait()

	assert.Less(t, int(atomic.LoadInt32(&reader.memberCalls)), callers)
}

func TestAuthorize_CancelledCallerDoesNotFailSharedEvaluation(t *testing.T) {
	reader := &stubReader{orgDelay: 100 * time.Millisecond}
	r := NewResolver(reader, rbac.NewEngine(nil, rbac.EngineOptions{}), noOverrides{}, Options{})

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := r.Authorize(leaderCtx, user("user1"), OrganizationScope("acme"), "chatflow", "read", "")
		leaderErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	followerDone := make(chan Result, 1)
	go func() {
		result, err := r.Authorize(context.Background(), user("user1"), OrganizationScope("acme"), "chatflow", "read", "")
		assert.NoError(t, err)
		followerDone <- result
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-leaderErr
	assert.ErrorIs(t, err, apierr.ErrBackendUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	result := <-followerDone
	assert.True(t, result.Allowed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&reader.memberCalls))
}

func TestAuthorize_OrganizationBoundAPIKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tenants.CreateOrganization(ctx, &tenancy.Organization{ID: "other", Name: "Other"}))
	require.NoError(t, f.tenants.CreateWorkspace(ctx, &tenancy.Workspace{ID: "other-ops", OrganizationID: "other", Name: "Ops"}))
	require.NoError(t, f.tenants.AddOrganizationMember(ctx, &tenancy.OrganizationMember{
		OrganizationID: "other", UserID: "user1", Role: rbac.RoleAdmin,
	}))

	local := cache.NewLocalCache(1000, time.Minute, nil)
	r := f.resolver(Options{Cache: local, DecisionTTL: time.Minute})

	// The owner's own decisions in "other" are cached first.
	owner, err := r.Authorize(ctx, user("user1"), OrganizationScope("other"), "role", "manage", "")
	require.NoError(t, err)
	require.True(t, owner.Allowed)

	key := &auth.Principal{UserID: "user1", APIKeyID: "k1", OrganizationID: "acme", Strategy: auth.StrategyAPIKey}
	tests := []struct {
		scope Scope
		want  bool
	}{
		{OrganizationScope("acme"), true},
		{WorkspaceScope("acme-eng"), true},
		{OrganizationScope("other"), false},
		{WorkspaceScope("other-ops"), false},
	}
	for _, tt := range tests {
		t.Run(tt.scope.String(), func(t *testing.T) {
			result, err := r.Authorize(ctx, key, tt.scope, "role", "manage", "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Allowed)
			if !tt.want {
				assert.Contains(t, result.Reason, "restricted to organization acme")
			}
		})
	}

	unbound := &auth.Principal{UserID: "user1", APIKeyID: "k2", Strategy: auth.StrategyAPIKey}
	result, err := r.Authorize(ctx, unbound, OrganizationScope("other"), "role", "manage", "")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRequire(t *testing.T) {
	r := newFixture(t).resolver(Options{})
	ctx := context.Background()

	assert.NoError(t, r.Require(ctx, user("user2"), OrganizationScope("acme"), "chatflow", "read", ""))

	err := r.Require(ctx, user("user2"), OrganizationScope("acme"), "role", "manage", "")
	assert.ErrorIs(t, err, apierr.ErrForbidden)

	err = r.Require(ctx, user("user2"), OrganizationScope("globex"), "chatflow", "read", "")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestParseScopeType(t *testing.T) {
	for _, s := range []string{"organization", "workspace", "global"} {
		got, err := ParseScopeType(s)
		require.NoError(t, err)
		assert.Equal(t, ScopeType(s), got)
	}

	_, err := ParseScopeType("team")
	assert.ErrorIs(t, err, apierr.ErrInvalidInput)
}
