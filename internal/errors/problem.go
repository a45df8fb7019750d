package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/render"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Extensions are flattened into the JSON document alongside the
	// standard fields.
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface.
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extension fields into the problem document.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates an RFC 7807 compliant error response.
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details.
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapServiceError maps a lifecycle engine error onto a problem response.
// Unknown errors become a generic 500 without leaking internals.
func MapServiceError(err error, instance, traceID string) render.Renderer {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		pd := NewProblemDetails(
			apiErr.StatusCode,
			"/errors/"+strings.ToLower(strings.ReplaceAll(apiErr.ErrorCode, "_", "-")),
			apiErr.Message,
			"",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", apiErr.ErrorCode)
		if apiErr.Details != nil {
			pd.WithExtension("details", apiErr.Details)
		}
		return pd
	}

	switch {
	case errors.Is(err, ErrMissingHardwareID):
		return NewProblemDetails(
			http.StatusBadRequest,
			"/errors/missing-hardware-id",
			"Missing Hardware ID",
			"A non-empty hardware identifier is required.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "MISSING_HARDWARE_ID")

	case errors.Is(err, ErrMissingKey):
		return NewProblemDetails(
			http.StatusBadRequest,
			"/errors/missing-key",
			"Missing License Key",
			"A non-empty license key is required.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "MISSING_KEY")

	case errors.Is(err, ErrUnauthorized):
		return NewProblemDetails(
			http.StatusUnauthorized,
			"/errors/unauthorized",
			"Unauthorized",
			"A valid administrator token is required for this operation.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "UNAUTHORIZED")

	case errors.Is(err, ErrKeyNotFound):
		return NewProblemDetails(
			http.StatusNotFound,
			"/errors/key-not-found",
			"License Key Not Found",
			"The license key has never been issued.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "KEY_NOT_FOUND")

	case errors.Is(err, ErrPersistence):
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/persistence",
			"Ledger Write Failed",
			"The operation could not be durably recorded and was not applied.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "PERSISTENCE_FAILED")

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/internal-error",
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INTERNAL_ERROR")
	}
}
