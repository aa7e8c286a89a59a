package storefront

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError reports a failed call to the storefront API. Status is zero when the request never
// produced a response.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("storefront: %s %s: %v", e.Method, e.Path, e.Err)
	case e.Message != "":
		return fmt.Sprintf("storefront: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("storefront: %s %s: status %d: %v", e.Method, e.Path, e.Status, e.Err)
	default:
		return fmt.Sprintf("storefront: %s %s: status %d", e.Method, e.Path, e.Status)
	}
}

// Unwrap exposes the underlying transport error.
func (e *APIError) Unwrap() error { return e.Err }

// NotFound reports a 404 response.
func (e *APIError) NotFound() bool { return e.Status == http.StatusNotFound }

// Unavailable reports a transport failure or a server-side error.
func (e *APIError) Unavailable() bool { return e.Status == 0 || e.Status >= http.StatusInternalServerError }

// IsProductNotFound reports whether err is the API telling us a referenced product does not exist.
// The order endpoint reports this as a message rather than a dedicated status.
func IsProductNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.NotFound() && strings.HasPrefix(apiErr.Path, "/products/") {
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "product not found")
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
