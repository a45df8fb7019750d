// Package errors defines the error taxonomy for the license key server and
// its mapping onto HTTP problem responses.
package errors

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// Domain sentinel errors. Handlers classify service failures with errors.Is
// against these, so wrapping with %w is required throughout the engine.
var (
	// Validation: caller's fault, never retried.
	ErrMissingHardwareID = errors.New("missing hardware id")
	ErrMissingKey        = errors.New("missing license key")

	// Authorization failures are surfaced distinctly from validation so
	// callers can tell "fix your request" from "you lack permission".
	ErrUnauthorized = errors.New("unauthorized")

	// ErrKeyNotFound means the revocation target was never issued.
	ErrKeyNotFound = errors.New("license key not found")

	// ErrPersistence means a durable write did not complete; the operation
	// that observed it must not report success.
	ErrPersistence = errors.New("ledger persistence failed")
)

// IsValidation reports whether err is a validation failure: one of the
// validation sentinels, or an APIError carrying a 400 status.
func IsValidation(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusBadRequest
	}
	return errors.Is(err, ErrMissingHardwareID) || errors.Is(err, ErrMissingKey)
}

// APIError is a structured API error carrying an HTTP status and a stable
// machine-readable code.
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer so an APIError can be written directly.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// NewWithDetails creates an APIError with additional details.
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// ValidationDetail names the offending field in a validation failure.
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrValidation creates a validation APIError with field details.
func ErrValidation(field, message string) *APIError {
	return NewWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", ValidationDetail{
		Field:   field,
		Message: message,
	})
}
