package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/platinummonkey/warden/pkg/apierr"
)

// ParseJSON decodes exactly one JSON object from the request body into dest.
// Unknown fields, an empty body and trailing data are rejected. Failures wrap
// apierr.ErrInvalidInput.
func ParseJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return err
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: request body is required", apierr.ErrInvalidInput)
		default:
			return fmt.Errorf("%w: invalid JSON body: %v", apierr.ErrInvalidInput, err)
		}
	}
	if decoder.More() {
		return fmt.Errorf("%w: invalid JSON body: unexpected data after the object", apierr.ErrInvalidInput)
	}
	return nil
}

// ParseJSONOrError decodes the body and writes the error response on failure.
// Oversized bodies are answered with 413.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	err := ParseJSON(r, dest)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteErrorMessage(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return false
	}
	WriteError(w, err)
	return false
}

// ParseQueryString returns a query parameter, or defaultVal when it is absent
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	if val := r.URL.Query().Get(key); val != "" {
		return val
	}
	return defaultVal
}

// ParseQueryTime parses an RFC 3339 query parameter, returning defaultVal
// when it is absent
func ParseQueryTime(r *http.Request, key string, defaultVal time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	val, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be an RFC 3339 time, got %q", apierr.ErrInvalidInput, key, raw)
	}
	return val, nil
}

// RequireNonEmpty writes a 400 naming fieldName when value is empty
func RequireNonEmpty(w http.ResponseWriter, value, fieldName string) bool {
	if value != "" {
		return true
	}
	WriteError(w, fmt.Errorf("%w: %s is required", apierr.ErrInvalidInput, fieldName))
	return false
}
