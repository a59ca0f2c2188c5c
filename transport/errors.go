package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNetwork matches any *NetworkError through errors.Is.
var ErrNetwork = errors.New("network error")

// HTTPError is returned for every non-2xx response.
type HTTPError struct {
	Method string
	Path   string
	Status int
	// Detail is the server's human-readable message, or "HTTP <status>" when
	// the body could not be parsed.
	Detail string
	// Code is a machine-readable error code from the body or the error_code
	// response header (e.g. "PASSWORD_EXPIRED", "2FA_REQUIRED").
	Code string
	// Locked reports the server's authoritative lockout signal.
	Locked bool
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("transport: %s %s: %d: %s", e.Method, e.Path, e.Status, e.Detail)
}

// Unauthorized reports a 401 response.
func (e *HTTPError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// NetworkError is returned when a request failed without an HTTP status:
// DNS, connection refused, TLS, timeouts, cancelled contexts.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, e.Err}
}

// IsUnauthorized reports whether err is an *HTTPError with status 401.
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Unauthorized()
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}
