package source

import (
	"errors"
	"fmt"
)

// Common accounts-payable API errors
var (
	// ErrNoToken is returned when the authentication endpoint does not yield a token.
	ErrNoToken = errors.New("could not retrieve token from accounts-payable API")

	// ErrUnauthorized is returned for any 401 response. It is always fatal.
	ErrUnauthorized = errors.New("401 unauthorized: check authorization header and token value")

	// ErrTimeout is returned when a request exceeds the client timeout.
	ErrTimeout = errors.New("accounts-payable API request timed out")

	// ErrUnexpectedResponse is returned for non-200 responses other than 401.
	ErrUnexpectedResponse = errors.New("unexpected response from accounts-payable API")
)

// APIError wraps errors with the operation and HTTP status that produced them.
type APIError struct {
	// Op is the operation that failed (e.g., "FetchAll", "SetInvoicePaid").
	Op string

	// Err is the underlying error.
	Err error

	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int

	// Details carries the response body or request context.
	Details string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Details != "":
		return fmt.Sprintf("source: %s failed (status %d): %v: %s", e.Op, e.StatusCode, e.Err, e.Details)
	case e.StatusCode != 0:
		return fmt.Sprintf("source: %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	case e.Details != "":
		return fmt.Sprintf("source: %s failed: %s: %v", e.Op, e.Details, e.Err)
	default:
		return fmt.Sprintf("source: %s failed: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error for error unwrapping.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *APIError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newAPIError(op string, err error, statusCode int, details string) *APIError {
	return &APIError{
		Op:         op,
		Err:        err,
		StatusCode: statusCode,
		Details:    details,
	}
}

// IsAuthError reports whether err means no valid token could be used.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNoToken) || errors.Is(err, ErrUnauthorized)
}

// StatusCode extracts the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
