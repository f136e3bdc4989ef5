// Package api exposes the authorization engine over HTTP.
//
// Every route under /v1 is authenticated by the configured strategy chain.
// Administration routes are additionally authorized by the same resolver that
// answers POST /v1/authorize, so the API enforces its own permission model:
//
//	POST   /v1/authorize                     decision for the caller (or, for internal callers, another user)
//	GET    /v1/whoami                        the resolved principal and its organizations
//	POST   /v1/orgs                          create an organization owned by the caller
//	GET    /v1/orgs/{org}/roles              custom roles of an organization
//	POST   /v1/orgs/{org}/acl                allow or deny one resource instance
//	POST   /v1/apikeys                       issue an API key
//	POST   /v1/admin/apikeys/purge           delete expired and revoked keys
//
// Errors are JSON bodies whose status follows the apierr taxonomy. A deny from
// /v1/authorize is a 200 with "allowed": false, not a 403.
package api
