package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError(t *testing.T) {
	t.Run("error interface", func(t *testing.T) {
		err := ErrValidation("hwid", "hwid is required")
		assert.Equal(t, "Request validation failed", err.Error())
		assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	})

	t.Run("validation detail", func(t *testing.T) {
		err := ErrValidation("hwid", "must not be empty")
		detail, ok := err.Details.(ValidationDetail)
		require.True(t, ok)
		assert.Equal(t, "hwid", detail.Field)
		assert.Equal(t, "must not be empty", detail.Message)
	})
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(ErrMissingHardwareID))
	assert.True(t, IsValidation(fmt.Errorf("submit: %w", ErrMissingKey)))
	assert.True(t, IsValidation(ErrValidation("key", "key is required")))
	assert.False(t, IsValidation(ErrKeyNotFound))
	assert.False(t, IsValidation(nil))
}

func TestProblemDetailsMarshal(t *testing.T) {
	pd := NewProblemDetails(
		http.StatusNotFound,
		"/errors/key-not-found",
		"License Key Not Found",
		"The license key has never been issued.",
		"/api/admin/revoke#req-1",
	).WithExtension("trace_id", "req-1").
		WithExtension("error_code", "KEY_NOT_FOUND")

	raw, err := json.Marshal(pd)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "/errors/key-not-found", doc["type"])
	assert.Equal(t, float64(http.StatusNotFound), doc["status"])
	assert.Equal(t, "req-1", doc["trace_id"], "extensions must be flattened")
	assert.Equal(t, "KEY_NOT_FOUND", doc["error_code"])
}

func TestMapServiceError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"missing hardware id", ErrMissingHardwareID, http.StatusBadRequest, "MISSING_HARDWARE_ID"},
		{"missing key", ErrMissingKey, http.StatusBadRequest, "MISSING_KEY"},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"key not found", ErrKeyNotFound, http.StatusNotFound, "KEY_NOT_FOUND"},
		{"persistence", ErrPersistence, http.StatusInternalServerError, "PERSISTENCE_FAILED"},
		{"wrapped", fmt.Errorf("revoke: %w", ErrKeyNotFound), http.StatusNotFound, "KEY_NOT_FOUND"},
		{"unknown", fmt.Errorf("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rendered := MapServiceError(tc.err, "/api/test#trace", "trace")
			pd, ok := rendered.(*ProblemDetails)
			require.True(t, ok)
			assert.Equal(t, tc.wantStatus, pd.Status)
			assert.Equal(t, tc.wantCode, pd.Extensions["error_code"])
			assert.Equal(t, "trace", pd.Extensions["trace_id"])
		})
	}

	t.Run("api error carries field details", func(t *testing.T) {
		rendered := MapServiceError(ErrValidation("hwid", "hwid is required"), "/api/test#trace", "trace")
		pd, ok := rendered.(*ProblemDetails)
		require.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, pd.Status)
		assert.Equal(t, "/errors/validation-failed", pd.Type)
		assert.Equal(t, "VALIDATION_FAILED", pd.Extensions["error_code"])

		detail, ok := pd.Extensions["details"].(ValidationDetail)
		require.True(t, ok)
		assert.Equal(t, "hwid", detail.Field)
	})
}
