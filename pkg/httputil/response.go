package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/warden/pkg/apierr"
)

// ErrorResponse is the body of every non-2xx response. Error is a stable
// code such as "not found"; Message carries the detail for the caller.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// sentinels is the order errorCode tries apierr kinds in.
var sentinels = []error{
	apierr.ErrUnauthenticated,
	apierr.ErrForbidden,
	apierr.ErrNotFound,
	apierr.ErrConflict,
	apierr.ErrInvalidInput,
	apierr.ErrBackendUnavailable,
}

// WriteJSON encodes data as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError picks the status with apierr.HTTPStatus. Anything outside the
// apierr kinds becomes a bare 500 so driver messages never reach callers.
func WriteError(w http.ResponseWriter, err error) {
	status := apierr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		WriteErrorMessage(w, status, "internal server error")
		return
	}
	_ = WriteJSON(w, status, ErrorResponse{Error: errorCode(err), Message: err.Error()})
}

func errorCode(err error) string {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// WriteErrorMessage writes an error body whose code is message itself.
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized also sets the Bearer challenge header.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}
