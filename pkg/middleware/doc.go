// Package middleware connects HTTP routes to the authentication chain and the
// authorization resolver.
//
// # Middleware Components
//
// RequestID: request id and request-scoped logger
//
//	router.Use(middleware.RequestID(logger))
//
// Authenticate: principal from the auth chain, 401 otherwise
//
//	router.Use(middleware.Authenticate(chain, logger))
//
// Authorizer.Require: one resolver call per route, 403 on deny
//
//	authorizer := middleware.NewAuthorizer(resolver, logger)
//	orgs.Handle("/{org}/chatflows", authorizer.Require("chatflow", "read", middleware.Organization("org"))(h))
//	ws.Handle("/{workspace}/chatflows/{id}", authorizer.Require("chatflow", "update",
//		middleware.Workspace("workspace").WithResource("id"))(h))
//
// Rate limiting is left to the embedding service. The principal and the
// resolved tenant scope are available through pkg/contextkeys for that purpose.
//
// # Related Packages
//
//   - pkg/auth: authentication chain and principal
//   - pkg/authz: authorization resolver
package middleware
