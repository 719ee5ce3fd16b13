// Package tools provides MCP tool implementations for inplace-engine.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/auth"
	"github.com/inplace-dev/inplace-engine/pkg/models"
	"github.com/inplace-dev/inplace-engine/pkg/services"
)

// RegisterContentTools registers the analysis and catalog tools.
func RegisterContentTools(s *server.MCPServer, deps *ContentToolDeps) {
	registerGetAnalysisStatusTool(s, deps)
	registerTriggerAnalysisTool(s, deps)
	registerListElementsTool(s, deps)
}

func registerGetAnalysisStatusTool(s *server.MCPServer, deps *ContentToolDeps) {
	tool := mcp.NewTool(
		"get_analysis_status",
		mcp.WithDescription(
			"Get the analysis state of the project: project status, when the site was last analyzed, "+
				"the last error and the current or most recent job with its progress. "+
				"Poll this after trigger_analysis until projectStatus is no longer 'analyzing'.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, tenantCtx, cleanup, err := AcquireProjectScope(ctx, deps, "get_analysis_status")
		if err != nil {
			if r := AsToolAccessResult(err); r != nil {
				return r, nil
			}
			return nil, err
		}
		defer cleanup()

		status, err := deps.AnalysisService.GetStatus(tenantCtx, projectID)
		if err != nil {
			if r := ServiceErrorResult(err); r != nil {
				return r, nil
			}
			return nil, fmt.Errorf("failed to get analysis status: %w", err)
		}

		return jsonResult(status)
	})
}

func registerTriggerAnalysisTool(s *server.MCPServer, deps *ContentToolDeps) {
	tool := mcp.NewTool(
		"trigger_analysis",
		mcp.WithDescription(
			"Start crawling the project's deployed site and rebuilding the element catalog. "+
				"Returns immediately with the job id; use get_analysis_status to follow progress. "+
				"Fails with analysis_running when a job is already active.",
		),
		mcp.WithBoolean(
			"full_rescan",
			mcp.Description("Re-locate every element in the repository instead of reusing known source locations (default: false)"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := requireRole(ctx, auth.RoleAdmin, auth.RoleEditor); err != nil {
			return AsToolAccessResult(err), nil
		}

		projectID, tenantCtx, cleanup, err := AcquireProjectScope(ctx, deps, "trigger_analysis")
		if err != nil {
			if r := AsToolAccessResult(err); r != nil {
				return r, nil
			}
			return nil, err
		}
		defer cleanup()

		fullRescan := req.GetBool("full_rescan", false)
		result, err := deps.AnalysisService.Trigger(tenantCtx, projectID, fullRescan)
		if err != nil {
			deps.Logger.Info("trigger_analysis rejected",
				zap.String("project_id", projectID.String()),
				zap.Error(err))
			if r := ServiceErrorResult(err); r != nil {
				return r, nil
			}
			return nil, fmt.Errorf("failed to trigger analysis: %w", err)
		}

		return jsonResult(result)
	})
}

func registerListElementsTool(s *server.MCPServer, deps *ContentToolDeps) {
	tool := mcp.NewTool(
		"list_elements",
		mcp.WithDescription(
			"List editable content elements discovered on the project's site. "+
				"Each element has a name, type, current text, page URL and, when known, the source file and line it comes from. "+
				"Results are paginated.",
		),
		mcp.WithString(
			"type",
			mcp.Description("Only return elements of this type"),
			mcp.Enum(elementTypeNames()...),
		),
		mcp.WithString(
			"page_url",
			mcp.Description("Only return elements found on this page URL"),
		),
		mcp.WithNumber(
			"page",
			mcp.Description("Page number, starting at 1 (default: 1)"),
		),
		mcp.WithNumber(
			"limit",
			mcp.Description(fmt.Sprintf("Elements per page (default: %d, max: %d)", services.DefaultElementPageSize, services.MaxElementPageSize)),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, tenantCtx, cleanup, err := AcquireProjectScope(ctx, deps, "list_elements")
		if err != nil {
			if r := AsToolAccessResult(err); r != nil {
				return r, nil
			}
			return nil, err
		}
		defer cleanup()

		var filter models.ElementFilter
		if t := req.GetString("type", ""); t != "" {
			elementType := models.ElementType(t)
			filter.Type = &elementType
		}
		if p := req.GetString("page_url", ""); p != "" {
			filter.PageURL = &p
		}
		page := req.GetInt("page", 1)
		limit := req.GetInt("limit", services.DefaultElementPageSize)

		result, err := deps.CatalogService.ListElements(tenantCtx, projectID, filter, page, limit)
		if err != nil {
			if r := ServiceErrorResult(err); r != nil {
				return r, nil
			}
			return nil, fmt.Errorf("failed to list elements: %w", err)
		}

		return jsonResult(result)
	})
}

func elementTypeNames() []string {
	names := make([]string, 0, len(models.ValidElementTypes))
	for _, t := range models.ValidElementTypes {
		names = append(names, string(t))
	}
	return names
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonResult, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonResult)), nil
}
