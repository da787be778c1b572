package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rulegate-io/rulegate-engine/pkg/apperrors"
)

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()

	err := WriteJSON(rr, http.StatusCreated, ApiResponse{Success: true, Data: "payload"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp ApiResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "payload", resp.Data)
}

func TestErrorResponse(t *testing.T) {
	rr := httptest.NewRecorder()

	err := ErrorResponse(rr, http.StatusConflict, "conflict", "something raced")
	require.NoError(t, err)

	assert.Equal(t, http.StatusConflict, rr.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "conflict", resp["error"])
	assert.Equal(t, "something raced", resp["message"])
}

func TestWriteDomainError_StatusMapping(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "validation",
			err:            fmt.Errorf("%w: title is required", apperrors.ErrValidation),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "validation_error",
		},
		{
			name:           "not found",
			err:            fmt.Errorf("rule 7: %w", apperrors.ErrNotFound),
			expectedStatus: http.StatusNotFound,
			expectedCode:   "not_found",
		},
		{
			name:           "already resolved",
			err:            fmt.Errorf("change request 5 is Approved: %w", apperrors.ErrAlreadyResolved),
			expectedStatus: http.StatusConflict,
			expectedCode:   "already_resolved",
		},
		{
			name:           "stale reference",
			err:            fmt.Errorf("rule 3 no longer exists: %w", apperrors.ErrStaleReference),
			expectedStatus: http.StatusConflict,
			expectedCode:   "stale_reference",
		},
		{
			name:           "conflict",
			err:            fmt.Errorf("concurrent write: %w", apperrors.ErrConflict),
			expectedStatus: http.StatusConflict,
			expectedCode:   "conflict",
		},
		{
			name:           "invalid state",
			err:            fmt.Errorf("wrong status: %w", apperrors.ErrInvalidState),
			expectedStatus: http.StatusConflict,
			expectedCode:   "invalid_state",
		},
		{
			name:           "unknown error",
			err:            errors.New("disk full"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "operation_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()

			WriteDomainError(rr, tt.err, "operation_failed", zap.NewNop())

			assert.Equal(t, tt.expectedStatus, rr.Code)
			var resp map[string]string
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tt.expectedCode, resp["error"])
		})
	}
}

func TestParseRuleID_Bounds(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"1", true},
		{"9223372036854775807", true},
		{"0", false},
		{"-1", false},
		{"abc", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/rules/x", nil)
			req.SetPathValue("rid", tt.value)
			rr := httptest.NewRecorder()

			_, ok := ParseRuleID(rr, req, zap.NewNop())
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.Equal(t, http.StatusBadRequest, rr.Code)
			}
		})
	}
}
