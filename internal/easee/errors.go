package easee

import (
	"errors"
	"net/http"
)

var (
	// ErrMissingCredentials is returned when username or password is empty.
	ErrMissingCredentials = errors.New("easee: missing credentials")
	// ErrInvalidPeriod is returned for an out-of-range year or month.
	ErrInvalidPeriod = errors.New("easee: invalid year or month")
	// ErrAllEndpointsFailed is returned when no consumption endpoint answered.
	ErrAllEndpointsFailed = errors.New("All API endpoints failed")
)

// APIError is a non-success response from the Easee API.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func newAPIError(status int, endpoint, message string) *APIError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Endpoint: endpoint, Message: message}
}

// Error returns the upstream message so it can be shown to the user as-is.
func (e *APIError) Error() string {
	return e.Message
}

// IsUnauthorized reports whether err is an upstream 401.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
