package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool result content.
// Tool results with IsError set are visible to the model, unlike JSON-RPC
// errors, so input problems are reported this way.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result with IsError=true and a JSON body.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails is NewErrorResult with additional details.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// ServiceErrorResult converts caller-correctable service errors into a tool
// result. It returns nil for errors that should fail the call instead.
func ServiceErrorResult(err error) *mcp.CallToolResult {
	if r := AsToolAccessResult(err); r != nil {
		return r
	}

	var validation *apperrors.ValidationError
	switch {
	case errors.As(err, &validation):
		return NewErrorResultWithDetails("invalid_input", validation.Message, map[string]string{"field": validation.Field})
	case errors.Is(err, apperrors.ErrValidation):
		return NewErrorResult("invalid_input", err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", err.Error())
	case errors.Is(err, apperrors.ErrAlreadyRunning):
		return NewErrorResult("analysis_running", "an analysis is already running for this project")
	case errors.Is(err, apperrors.ErrConflict):
		return NewErrorResult("conflict", err.Error())
	case errors.Is(err, apperrors.ErrUpstream):
		return NewErrorResult("upstream_error", err.Error())
	}
	return nil
}
