package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/apierr"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// Authenticator is satisfied by *auth.Chain
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*auth.Principal, error)
}

// Authenticate resolves the request's principal through the chain and stores
// it in the context. Requests no strategy accepts get 401.
func Authenticate(chain Authenticator, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := chain.Authenticate(r.Context(), r)
			if err != nil || principal == nil {
				status := apierr.HTTPStatus(err)
				if status == http.StatusServiceUnavailable {
					httputil.WriteError(w, err)
					return
				}
				requestLogger(r, logger).WithError(err).Debug("Authentication failed")
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			ctx := auth.WithPrincipal(r.Context(), principal)
			ctx = observability.WithLogger(ctx, requestLogger(r, logger).WithField("user_id", principal.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestID assigns every request an id, reusing a well-formed inbound
// X-Request-ID, and stores it with a request-scoped logger in the context
func RequestID(logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(requestID); err != nil {
				requestID = uuid.New().String()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ctx := contextkeys.WithRequestID(r.Context(), requestID)
			ctx = observability.WithLogger(ctx, observability.WithTraceIDs(ctx, logger.WithField("request_id", requestID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestLogger returns the logger RequestID stored in the context, or fallback
func requestLogger(r *http.Request, fallback *observability.Logger) *observability.Logger {
	if logger, ok := contextkeys.Lookup[*observability.Logger](r.Context(), contextkeys.LoggerKey); ok {
		return logger
	}
	return fallback
}
