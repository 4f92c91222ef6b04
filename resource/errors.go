package resource

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned for a 404 from a downstream service
	ErrNotFound = errors.New("resource not found")
	// ErrUnavailable covers transport failures, deadlines and 5xx responses.
	// Calls failing this way are safe to retry.
	ErrUnavailable = errors.New("downstream service unavailable")
	// ErrRejected covers every other 4xx response
	ErrRejected = errors.New("request rejected by downstream service")
)

// Error is a typed failure of one downstream call
type Error struct {
	Service    string
	Method     string
	URL        string
	StatusCode int
	Body       string
	Cause      error
}

func (e *Error) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("%s %s %s: %v", e.Service, e.Method, e.URL, e.Cause)
	case e.Body != "":
		return fmt.Sprintf("%s %s %s returned status %d: %s", e.Service, e.Method, e.URL, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s %s %s returned status %d", e.Service, e.Method, e.URL, e.StatusCode)
	}
}

// Unwrap exposes the transport cause, if any
func (e *Error) Unwrap() error { return e.Cause }

// Is classifies the failure so callers can use errors.Is with the sentinels above
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnavailable:
		return e.StatusCode == 0 || e.StatusCode >= 500
	case ErrRejected:
		return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusNotFound
	}
	return false
}
