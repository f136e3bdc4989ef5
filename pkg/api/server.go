package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/warden/pkg/admin"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
)

// maxBodyBytes bounds request bodies; every payload here is a small JSON object.
const maxBodyBytes = 1 << 20

// Config wires the server's dependencies. Health and Registry are optional.
type Config struct {
	Resolver      *authz.Resolver
	Admin         *admin.Service
	Authenticator middleware.Authenticator
	Health        *observability.HealthChecker
	Registry      *prometheus.Registry
	Metrics       *observability.Metrics
	Logger        *observability.Logger
}

// Server is the decision and administration HTTP API
type Server struct {
	router     *mux.Router
	resolver   *authz.Resolver
	admin      *admin.Service
	authorizer *middleware.Authorizer
	logger     *observability.Logger
}

// NewServer creates a new API server with all routes registered
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &Server{
		router:     mux.NewRouter(),
		resolver:   cfg.Resolver,
		admin:      cfg.Admin,
		authorizer: middleware.NewAuthorizer(cfg.Resolver, logger),
		logger:     logger,
	}

	s.router.Use(
		middleware.RequestID(logger),
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		observability.HTTPMetricsMiddleware(cfg.Metrics),
	)

	if cfg.Health != nil {
		s.router.HandleFunc("/healthz", cfg.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", cfg.Health.Readiness).Methods("GET")
	}
	if cfg.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(cfg.Registry)).Methods("GET")
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(
		httputil.MaxBytesMiddleware(maxBodyBytes),
		httputil.ContentTypeMiddleware,
		middleware.Authenticate(cfg.Authenticator, logger),
	)
	s.setupRoutes(v1)

	return s
}

// setupRoutes configures all the /v1 routes
func (s *Server) setupRoutes(r *mux.Router) {
	// Decisions
	r.HandleFunc("/authorize", s.authorize).Methods("POST")
	r.HandleFunc("/whoami", s.whoami).Methods("GET")

	// Organizations
	r.HandleFunc("/orgs", s.createOrganization).Methods("POST")
	r.HandleFunc("/orgs", s.listOrganizations).Methods("GET")
	s.handle(r, "/orgs/{org}", "GET", s.getOrganization, "organization", "read", middleware.Organization("org"))
	s.handle(r, "/orgs/{org}", "PATCH", s.renameOrganization, "organization", "update", middleware.Organization("org"))
	s.handle(r, "/orgs/{org}", "DELETE", s.deleteOrganization, "organization", "delete", middleware.Organization("org"))

	// Workspaces
	s.handle(r, "/orgs/{org}/workspaces", "GET", s.listWorkspaces, "workspace", "read", middleware.Organization("org"))
	s.handle(r, "/orgs/{org}/workspaces", "POST", s.createWorkspace, "workspace", "create", middleware.Organization("org"))
	s.handle(r, "/workspaces/{workspace}", "GET", s.getWorkspace, "workspace", "read", middleware.Workspace("workspace"))
	s.handle(r, "/workspaces/{workspace}", "DELETE", s.deleteWorkspace, "workspace", "delete", middleware.Workspace("workspace"))

	// Organization members
	s.handle(r, "/orgs/{org}/members", "GET", s.listOrganizationMembers, "user", "read", middleware.Organization("org"))
	s.handle(r, "/orgs/{org}/members", "POST", s.addOrganizationMember, "user", "manage", middleware.Organization("org"))
	s.handle(r, "/orgs/{org}/members/{user}", "PUT", s.updateOrganizationMember, "user", "manage", middleware.Organization("org"))
	s.handle(r, "/orgs/{org}/members/{user}", "DELETE", s.removeOrganizationMember, "user", "manage", middleware.Organization("org"))

	// Workspace members
	s.handle(r, "/workspaces/{workspace}/members", "GET", s.listWorkspaceMembers, "user", "read", middleware.Workspace("workspace"))
	s.handle(r, "/workspaces/{workspace}/members", "POST", s.addWorkspaceMember, "user", "manage", middleware.Workspace("workspace"))
	s.handle(r, "/workspaces/{workspace}/members/{user}", "PUT", s.updateWorkspaceMember, "user", "manage", middleware.Workspace("workspace"))
	s.handle(r, "/workspaces/{workspace}/members/{user}", "DELETE", s.removeWorkspaceMember, "user", "manage", middleware.Workspace("workspace"))

	// Roles and templates
	r.HandleFunc("/role-templates", s.listTemplates).Methods("GET")
	s.handle(r, "/orgs/{org}/roles", "GET", s.listRoles, "role", "read", middleware.Organization("org"))
	s.handle(r, "/orgs/{org}/roles", "POST", s.createRole, "role", "create", middleware.Organization("org"))
	s.handle(r, "/orgs/{org}/roles/from-template", "POST", s.instantiateTemplate, "role", "create", middleware.Organization("org"))
	s.handle(r, "/orgs/{org}/roles/{role}", "GET", s.getRole, "role", "read", middleware.Organization("org"))
	s.handle(r, "/orgs/{org}/roles/{role}", "PUT", s.updateRole, "role", "update", middleware.Organization("org"))
	s.handle(r, "/orgs/{org}/roles/{role}", "DELETE", s.deleteRole, "role", "delete", middleware.Organization("org"))

	// Resource overrides
	s.handle(r, "/orgs/{org}/acl", "GET", s.listOverrides, "organization", "manage", middleware.Organization("org"))
	s.handle(r, "/orgs/{org}/acl", "POST", s.setOverride, "organization", "manage", middleware.Organization("org"))
	s.handle(r, "/orgs/{org}/acl", "DELETE", s.clearOverride, "organization", "manage", middleware.Organization("org"))
	s.handle(r, "/orgs/{org}/acl/resources/{type}/{id}", "DELETE", s.removeResource, "organization", "manage", middleware.Organization("org"))

	// API keys
	r.HandleFunc("/apikeys", s.createAPIKey).Methods("POST")
	r.HandleFunc("/apikeys", s.listAPIKeys).Methods("GET")
	r.HandleFunc("/apikeys/{id}", s.revokeAPIKey).Methods("DELETE")
	s.handle(r, "/admin/apikeys/purge", "POST", s.purgeAPIKeys, "apikey", "delete", middleware.Global())
}

// handle registers h behind an authorization check
func (s *Server) handle(r *mux.Router, path, method string, h http.HandlerFunc, resourceType, action string, opts middleware.TenantOptions) {
	r.Handle(path, s.authorizer.Require(resourceType, action, opts)(h)).Methods(method)
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying router so embedders can mount extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}
