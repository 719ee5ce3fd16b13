package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/auth"
	"github.com/inplace-dev/inplace-engine/pkg/services"
)

// ToolAccessError is returned when a tool cannot run for the caller. It
// carries a ready-made tool result so handlers can surface it directly.
type ToolAccessError struct {
	Code      string
	Message   string
	MCPResult *mcp.CallToolResult
}

func (e *ToolAccessError) Error() string {
	return e.Message
}

// AsToolAccessResult returns the tool result of a *ToolAccessError, or nil.
func AsToolAccessResult(err error) *mcp.CallToolResult {
	var accessErr *ToolAccessError
	if errors.As(err, &accessErr) {
		return accessErr.MCPResult
	}
	return nil
}

func newToolAccessError(code, message string) *ToolAccessError {
	return &ToolAccessError{
		Code:      code,
		Message:   message,
		MCPResult: NewErrorResult(code, message),
	}
}

// ContentToolDeps contains the dependencies of the content tools.
type ContentToolDeps struct {
	GetTenantCtx    services.TenantContextFunc
	AnalysisService services.AnalysisService
	CatalogService  services.CatalogService
	Logger          *zap.Logger
}

// AcquireProjectScope resolves the project from the caller's token and opens
// a tenant scope for it. The cleanup function must be called.
func AcquireProjectScope(ctx context.Context, deps *ContentToolDeps, toolName string) (uuid.UUID, context.Context, func(), error) {
	claims, ok := auth.GetClaims(ctx)
	if !ok {
		return uuid.Nil, nil, nil, newToolAccessError("authentication_required", "authentication required")
	}

	projectID, err := uuid.Parse(claims.ProjectID)
	if err != nil {
		return uuid.Nil, nil, nil, newToolAccessError("invalid_project_id", fmt.Sprintf("invalid project ID: %v", err))
	}

	tenantCtx, cleanup, err := deps.GetTenantCtx(ctx, projectID)
	if err != nil {
		deps.Logger.Error("Failed to acquire tenant scope for tool",
			zap.String("tool", toolName),
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		return uuid.Nil, nil, nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	return projectID, tenantCtx, cleanup, nil
}

// requireRole rejects callers without any of roles.
func requireRole(ctx context.Context, roles ...string) error {
	claims, _ := auth.GetClaims(ctx)
	for _, role := range roles {
		if claims.HasRole(role) {
			return nil
		}
	}
	return newToolAccessError("insufficient_permissions", "this tool requires one of the roles: admin, editor")
}
