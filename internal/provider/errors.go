package provider

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized = errors.New("provider unauthorized")
	ErrUnavailable  = errors.New("provider unavailable")
	ErrRateLimited  = errors.New("provider rate limited")
	ErrRequest      = errors.New("provider rejected request")
)

const maxErrorBodyBytes = 2048

// APIError is a non-2xx answer from the API. It unwraps to one of the
// sentinel errors above.
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai %s %s: HTTP %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrUnavailable
	default:
		return ErrRequest
	}
}

// DiagnosticFields exposes the failed exchange to the redacting logger.
func (e *APIError) DiagnosticFields() map[string]any {
	return map[string]any{
		"request":  map[string]any{"method": e.Method, "endpoint": e.Endpoint, "request_id": e.RequestID},
		"response": map[string]any{"status": e.StatusCode, "body": e.Body},
	}
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}
