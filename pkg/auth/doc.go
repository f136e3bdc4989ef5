// Package auth establishes the Principal of an incoming request.
//
// A Chain runs its strategies in order. Each Strategy either resolves a
// Principal, which ends the chain, or declines by returning (nil, nil).
// A strategy error is logged and treated like a decline. When nothing
// resolves, the chain returns apierr.ErrUnauthenticated.
//
// Ordering is fixed by kind: the primary token strategy (JWT or OIDC) first,
// then API keys, then static basic credentials. With MandatoryPrimary the
// static strategy is dropped from the chain.
//
// Every strategy runs in its own goroutine under a timeout. A strategy that
// does not answer in time declines and the chain moves on, so a slow identity
// provider cannot hang a request.
//
// Requests carrying the X-Warden-Internal header with the configured secret
// skip the strategies and receive an internal principal, unless internal
// requests are configured to authenticate like any other request.
//
// # Strategies
//
//	JWTStrategy     HS256 tokens in "Authorization: Bearer"
//	OIDCStrategy    ID tokens verified against an OpenID Connect issuer
//	APIKeyStrategy  "wdn_" keys in X-API-Key or "Authorization: Bearer"
//	BasicStrategy   one static username with a bcrypt password hash
package auth
