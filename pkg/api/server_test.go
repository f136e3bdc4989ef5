package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/acl"
	"github.com/platinummonkey/warden/pkg/admin"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage/storagetest"
	"github.com/platinummonkey/warden/pkg/tenancy"
)

type testServer struct {
	server *Server
	jwt    *auth.JWTStrategy
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := storagetest.NewSQLiteDB(t)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	local := cache.NewLocalCache(1000, time.Minute, nil)

	tenants := tenancy.NewService(db)
	roles := rbac.NewStore(db)
	acls := acl.NewStore(db)
	keys := auth.NewAPIKeyStore(db)
	engine := rbac.NewEngine(roles, rbac.EngineOptions{Cache: local, CacheTTL: time.Minute})
	resolver := authz.NewResolver(tenants, engine, acls, authz.Options{Cache: local, DecisionTTL: time.Minute, Metrics: metrics})

	jwtStrategy, err := auth.NewJWTStrategy("test-secret", "warden-test")
	require.NoError(t, err)
	chain := auth.NewChain([]auth.Strategy{
		jwtStrategy,
		auth.NewAPIKeyStrategy(keys, auth.APIKeyOptions{Cache: local, CacheTTL: time.Minute}),
	}, auth.ChainOptions{Primary: auth.StrategyJWT, Metrics: metrics})

	return &testServer{
		server: NewServer(Config{
			Resolver:      resolver,
			Admin:         admin.NewService(tenants, roles, engine, acls, keys, admin.Options{Cache: local, Metrics: metrics}),
			Authenticator: chain,
			Health:        observability.NewHealthChecker(db, nil, "test"),
			Registry:      registry,
			Metrics:       metrics,
		}),
		jwt: jwtStrategy,
	}
}

func (ts *testServer) token(t *testing.T, userID string, sysAdmin bool) string {
	t.Helper()
	token, err := ts.jwt.IssueToken(auth.Claims{
		SysAdmin:         sysAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}, time.Hour)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

// createOrg creates an organization owned by userID and returns its id
func (ts *testServer) createOrg(t *testing.T, userID, slug string) string {
	t.Helper()
	rec := ts.do(t, "POST", "/v1/orgs", ts.token(t, userID, false), CreateOrganizationRequest{Name: "Acme", Slug: slug})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var org tenancy.Organization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &org))
	require.NotEmpty(t, org.ID)
	return org.ID
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) authz.Result {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result authz.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result
}

func TestServer_PublicEndpoints(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/metrics", "", nil).Code)
}

func TestServer_RequiresAuthentication(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/v1/whoami", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ts.do(t, "GET", "/v1/whoami", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_OrganizationLifecycle(t *testing.T) {
	ts := newTestServer(t)
	orgID := ts.createOrg(t, "user1", "acme")
	owner := ts.token(t, "user1", false)
	outsider := ts.token(t, "user2", false)

	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/v1/orgs/"+orgID, owner, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, "GET", "/v1/orgs/"+orgID, outsider, nil).Code)

	rec := ts.do(t, "POST", "/v1/orgs/"+orgID+"/members", owner, MemberRequest{UserID: "user2", Role: "member"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/v1/orgs/"+orgID, outsider, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, "DELETE", "/v1/orgs/"+orgID, outsider, nil).Code)

	rec = ts.do(t, "PATCH", "/v1/orgs/"+orgID, owner, RenameOrganizationRequest{Name: "Acme Corp"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var org tenancy.Organization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &org))
	assert.Equal(t, "Acme Corp", org.Name)

	rec = ts.do(t, "GET", "/v1/whoami", outsider, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "user2", me.Principal.UserID)
	require.Len(t, me.Organizations, 1)
	assert.Equal(t, orgID, me.Organizations[0].ID)

	assert.Equal(t, http.StatusNoContent, ts.do(t, "DELETE", "/v1/orgs/"+orgID, owner, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, "GET", "/v1/orgs/"+orgID, ts.token(t, "root", true), nil).Code)
}

func TestServer_UnknownRoleRejected(t *testing.T) {
	ts := newTestServer(t)
	orgID := ts.createOrg(t, "user1", "acme")

	rec := ts.do(t, "POST", "/v1/orgs/"+orgID+"/members", ts.token(t, "user1", false), MemberRequest{UserID: "user2", Role: "wizard"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Authorize(t *testing.T) {
	ts := newTestServer(t)
	orgID := ts.createOrg(t, "user1", "acme")
	owner := ts.token(t, "user1", false)

	check := AuthorizeRequest{OrganizationID: orgID, ResourceType: "chatflow", Action: "delete"}

	result := decodeResult(t, ts.do(t, "POST", "/v1/authorize", owner, check))
	assert.True(t, result.Allowed)

	result = decodeResult(t, ts.do(t, "POST", "/v1/authorize", ts.token(t, "user2", false), check))
	assert.False(t, result.Allowed)

	t.Run("scope required", func(t *testing.T) {
		rec := ts.do(t, "POST", "/v1/authorize", owner, AuthorizeRequest{ResourceType: "chatflow", Action: "read"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown workspace", func(t *testing.T) {
		rec := ts.do(t, "POST", "/v1/authorize", owner, AuthorizeRequest{WorkspaceID: "missing", ResourceType: "chatflow", Action: "read"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("on behalf of another user", func(t *testing.T) {
		onBehalf := check
		onBehalf.UserID = "user1"

		rec := ts.do(t, "POST", "/v1/authorize", ts.token(t, "user2", false), onBehalf)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		result := decodeResult(t, ts.do(t, "POST", "/v1/authorize", ts.token(t, "root", true), onBehalf))
		assert.True(t, result.Allowed)
	})
}

func TestServer_Workspaces(t *testing.T) {
	ts := newTestServer(t)
	orgID := ts.createOrg(t, "user1", "acme")
	owner := ts.token(t, "user1", false)

	rec := ts.do(t, "POST", "/v1/orgs/"+orgID+"/workspaces", owner, CreateWorkspaceRequest{Name: "Eng", Slug: "eng"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ws tenancy.Workspace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ws))
	assert.Equal(t, orgID, ws.OrganizationID)

	require.Equal(t, http.StatusCreated, ts.do(t, "POST", "/v1/orgs/"+orgID+"/members", owner, MemberRequest{UserID: "user2", Role: "readonly"}).Code)

	// workspace membership lifts user2 from readonly to member inside the workspace
	rec = ts.do(t, "POST", "/v1/workspaces/"+ws.ID+"/members", owner, MemberRequest{UserID: "user2", Role: "member"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	user2 := ts.token(t, "user2", false)
	result := decodeResult(t, ts.do(t, "POST", "/v1/authorize", user2, AuthorizeRequest{WorkspaceID: ws.ID, ResourceType: "chatflow", Action: "create"}))
	assert.True(t, result.Allowed)
	result = decodeResult(t, ts.do(t, "POST", "/v1/authorize", user2, AuthorizeRequest{OrganizationID: orgID, ResourceType: "chatflow", Action: "create"}))
	assert.False(t, result.Allowed)

	assert.Equal(t, http.StatusForbidden, ts.do(t, "DELETE", "/v1/workspaces/"+ws.ID, user2, nil).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, "DELETE", "/v1/workspaces/"+ws.ID, owner, nil).Code)
}

func TestServer_Roles(t *testing.T) {
	ts := newTestServer(t)
	orgID := ts.createOrg(t, "user1", "acme")
	owner := ts.token(t, "user1", false)

	role := RoleRequest{
		Name:        "auditor",
		Permissions: []rbac.Permission{{Resource: rbac.ResourceChatflow, Action: rbac.ActionRead}},
	}
	require.Equal(t, http.StatusCreated, ts.do(t, "POST", "/v1/orgs/"+orgID+"/roles", owner, role).Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, "POST", "/v1/orgs/"+orgID+"/roles", owner, role).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/v1/orgs/"+orgID+"/roles/auditor", owner, nil).Code)

	require.Equal(t, http.StatusCreated, ts.do(t, "POST", "/v1/orgs/"+orgID+"/members", owner, MemberRequest{UserID: "user2", Role: "auditor"}).Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, "DELETE", "/v1/orgs/"+orgID+"/roles/auditor", owner, nil).Code)

	require.Equal(t, http.StatusNoContent, ts.do(t, "DELETE", "/v1/orgs/"+orgID+"/members/user2", owner, nil).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, "DELETE", "/v1/orgs/"+orgID+"/roles/auditor", owner, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, "GET", "/v1/orgs/"+orgID+"/roles/auditor", owner, nil).Code)

	rec := ts.do(t, "POST", "/v1/orgs/"+orgID+"/roles/from-template", owner, TemplateRequest{Template: "evaluator"})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, "GET", "/v1/role-templates", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var templates []rbac.RoleTemplate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &templates))
	assert.NotEmpty(t, templates)
}

func TestServer_Overrides(t *testing.T) {
	ts := newTestServer(t)
	orgID := ts.createOrg(t, "user1", "acme")
	owner := ts.token(t, "user1", false)
	user2 := ts.token(t, "user2", false)
	require.Equal(t, http.StatusCreated, ts.do(t, "POST", "/v1/orgs/"+orgID+"/members", owner, MemberRequest{UserID: "user2", Role: "member"}).Code)

	check := AuthorizeRequest{OrganizationID: orgID, ResourceType: "chatflow", Action: "read", ResourceID: "flow-1"}
	assert.True(t, decodeResult(t, ts.do(t, "POST", "/v1/authorize", user2, check)).Allowed)

	deny := OverrideRequest{UserID: "user2", ResourceType: "chatflow", ResourceID: "flow-1", Action: "read", Effect: EffectDeny}
	require.Equal(t, http.StatusNoContent, ts.do(t, "POST", "/v1/orgs/"+orgID+"/acl", owner, deny).Code)
	assert.False(t, decodeResult(t, ts.do(t, "POST", "/v1/authorize", user2, check)).Allowed)

	rec := ts.do(t, "GET", "/v1/orgs/"+orgID+"/acl?resource_type=chatflow&resource_id=flow-1", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var overrides []acl.ResourcePermission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overrides))
	require.Len(t, overrides, 1)
	assert.False(t, overrides[0].Granted)

	require.Equal(t, http.StatusNoContent, ts.do(t, "DELETE", "/v1/orgs/"+orgID+"/acl/resources/chatflow/flow-1", owner, nil).Code)
	assert.True(t, decodeResult(t, ts.do(t, "POST", "/v1/authorize", user2, check)).Allowed)

	bad := deny
	bad.Effect = "maybe"
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/v1/orgs/"+orgID+"/acl", owner, bad).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, "POST", "/v1/orgs/"+orgID+"/acl", user2, deny).Code)
}

func TestServer_APIKeys(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.token(t, "user1", false)

	rec := ts.do(t, "POST", "/v1/apikeys", owner, CreateAPIKeyRequest{Name: "ci"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created CreateAPIKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Key)

	rec = ts.do(t, "GET", "/v1/whoami", created.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "user1", me.Principal.UserID)
	assert.Equal(t, auth.StrategyAPIKey, me.Principal.Strategy)

	rec = ts.do(t, "POST", "/v1/apikeys", owner, CreateAPIKeyRequest{Name: "bound", OrganizationID: "elsewhere"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, http.StatusNotFound, ts.do(t, "DELETE", "/v1/apikeys/"+created.ID, ts.token(t, "user2", false), nil).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, "DELETE", "/v1/apikeys/"+created.ID, owner, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, "GET", "/v1/whoami", created.Key, nil).Code)
}

func TestServer_PurgeRequiresSystemAdmin(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusForbidden, ts.do(t, "POST", "/v1/admin/apikeys/purge", ts.token(t, "user1", false), nil).Code)

	rec := ts.do(t, "POST", "/v1/admin/apikeys/purge?before=not-a-time", ts.token(t, "root", true), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "POST", "/v1/admin/apikeys/purge", ts.token(t, "root", true), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var purged PurgeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &purged))
	assert.Zero(t, purged.Purged)
}
