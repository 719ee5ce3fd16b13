package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusCreated, ApiResponse{Success: true, Data: map[string]int{"n": 1}}))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true,"data":{"n":1}}`, rec.Body.String())
}

func TestErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, ErrorResponse(rec, http.StatusBadRequest, "invalid_request", "Invalid request body"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid_request","message":"Invalid request body"}`, rec.Body.String())
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("create: %w", apperrors.NewValidationError("newValue", "must not be empty")), http.StatusBadRequest, "validation_error"},
		{"bare validation", fmt.Errorf("x: %w", apperrors.ErrValidation), http.StatusBadRequest, "validation_error"},
		{"forbidden", apperrors.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"not found", fmt.Errorf("get element: %w", apperrors.ErrNotFound), http.StatusNotFound, "not_found"},
		{"already running", apperrors.ErrAlreadyRunning, http.StatusConflict, "analysis_running"},
		{"conflict", apperrors.ErrConflict, http.StatusConflict, "conflict"},
		{"upstream", apperrors.NewUpstreamError("github", "open pull request", errors.New("503")), http.StatusBadGateway, "upstream_error"},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, "boom_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, tt.err, "boom_failed", zap.NewNop())
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec)["error"])
		})
	}
}

func TestWriteServiceError_UnknownErrorsHideDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, errors.New("password=hunter2 rejected"), "x_failed", zap.NewNop())
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestWriteServiceError_Changeset(t *testing.T) {
	id := uuid.New()
	err := fmt.Errorf("publish: %w", &apperrors.ChangesetError{Failures: []error{
		&apperrors.AmbiguousMatchError{ElementID: id, SourceFile: "src/Hero.tsx", MatchCount: 2},
	}})

	rec := httptest.NewRecorder()
	writeServiceError(rec, err, "publish_failed", zap.NewNop())

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "changeset_failed", body["error"])
	failures, ok := body["failures"].([]any)
	require.True(t, ok)
	require.Len(t, failures, 1)
	failure := failures[0].(map[string]any)
	assert.Equal(t, id.String(), failure["elementId"])
	assert.Equal(t, "ambiguous_match", failure["reason"])
	assert.Equal(t, float64(2), failure["matchCount"])
}
