package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
)

// TenantMiddleware is a function that wraps a handler with tenant context.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// ApiResponse wraps data in the format expected by the frontend.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// changesetErrorBody is the 422 payload of a rejected publish batch.
type changesetErrorBody struct {
	Error    string                     `json:"error"`
	Message  string                     `json:"message"`
	Failures []apperrors.ElementFailure `json:"failures"`
}

// writeServiceError translates a service error into a status code and body.
// fallbackCode is used for errors that match no known kind.
func writeServiceError(w http.ResponseWriter, err error, fallbackCode string, logger *zap.Logger) {
	var writeErr error

	var validation *apperrors.ValidationError
	var changeset *apperrors.ChangesetError
	switch {
	case errors.As(err, &validation):
		writeErr = ErrorResponse(w, http.StatusBadRequest, "validation_error", validation.Error())
	case errors.Is(err, apperrors.ErrValidation):
		writeErr = ErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.As(err, &changeset):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		writeErr = json.NewEncoder(w).Encode(changesetErrorBody{
			Error:    "changeset_failed",
			Message:  changeset.Error(),
			Failures: changeset.Details(),
		})
	case errors.Is(err, apperrors.ErrForbidden):
		writeErr = ErrorResponse(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		writeErr = ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrAlreadyRunning):
		writeErr = ErrorResponse(w, http.StatusConflict, "analysis_running", err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		writeErr = ErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperrors.ErrUpstream):
		writeErr = ErrorResponse(w, http.StatusBadGateway, "upstream_error", err.Error())
	default:
		writeErr = ErrorResponse(w, http.StatusInternalServerError, fallbackCode, "Internal server error")
	}

	if writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
