// Package contextkeys holds every request-scoped context key warden uses.
//
// Values are stored untyped so this package stays at the bottom of the import
// graph; the owning package exposes a typed accessor:
//
//	auth.PrincipalFromContext(ctx)      // PrincipalKey, set by middleware.Authenticate
//	middleware.TenantFromContext(ctx)   // TenantKey, set by Authorizer.Require
//	observability.GetLogger(ctx)        // LoggerKey, set by middleware.RequestID
package contextkeys

import "context"

// Key is the type of every warden context key
type Key string

const (
	// PrincipalKey holds the *auth.Principal of the caller.
	PrincipalKey Key = "principal"
	// TenantKey holds the authz.Scope a route was authorized against.
	TenantKey Key = "tenant"
	// RequestIDKey holds the request's UUID string.
	RequestIDKey Key = "request_id"
	// UserIDKey holds the caller's user ID once authenticated.
	UserIDKey Key = "user_id"
	// LoggerKey holds a request-scoped *observability.Logger.
	LoggerKey Key = "logger"
)

// Lookup returns the value stored under key when it has type T
func Lookup[T any](ctx context.Context, key Key) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

func WithTenant(ctx context.Context, scope interface{}) context.Context {
	return context.WithValue(ctx, TenantKey, scope)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID returns the request ID, or "" outside a request
func GetRequestID(ctx context.Context) string {
	id, _ := Lookup[string](ctx, RequestIDKey)
	return id
}

// GetUserID returns the authenticated user ID, or ""
func GetUserID(ctx context.Context) string {
	id, _ := Lookup[string](ctx, UserIDKey)
	return id
}
