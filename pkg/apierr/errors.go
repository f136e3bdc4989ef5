// Package apierr defines the error taxonomy shared by the authorization engine.
//
// Packages wrap these sentinels with fmt.Errorf("...: %w", ...) so callers can use
// errors.Is to tell "doesn't exist" from "not permitted" from "backend down".
package apierr

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthenticated means no authentication strategy resolved a principal.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the resolver denied the request, or a membership
	// precondition (such as workspace membership without organization membership) failed.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound means a referenced organization, workspace, role or resource is missing.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a uniqueness constraint was violated (duplicate membership, role name, slug).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput means the request was malformed or referenced unknown catalog entries.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBackendUnavailable means the store of record could not be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// HTTPStatus maps an error onto the status code the boundary layer should return.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
