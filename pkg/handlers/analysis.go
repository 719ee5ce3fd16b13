package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/auth"
	"github.com/inplace-dev/inplace-engine/pkg/services"
)

// TriggerAnalysisRequest for POST /analysis/trigger
type TriggerAnalysisRequest struct {
	FullRescan bool `json:"fullRescan"`
}

// CancelAnalysisResponse for POST /analysis/cancel
type CancelAnalysisResponse struct {
	Success bool      `json:"success"`
	JobID   uuid.UUID `json:"jobId"`
}

// AnalysisHandler starts, inspects and cancels analysis jobs.
type AnalysisHandler struct {
	analysisService services.AnalysisService
	logger          *zap.Logger
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(analysisService services.AnalysisService, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
		logger:          logger.Named("analysis-handler"),
	}
}

// RegisterRoutes registers the analysis handler's routes on the given mux.
func (h *AnalysisHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/projects/{pid}/analysis"
	requireEditor := auth.RequireRole(auth.RoleAdmin, auth.RoleEditor)

	mux.HandleFunc("POST "+base+"/trigger",
		authMiddleware.RequireAuthWithPathValidation("pid")(requireEditor(tenantMiddleware(h.Trigger))))
	mux.HandleFunc("GET "+base+"/status",
		authMiddleware.RequireAuthWithPathValidation("pid")(tenantMiddleware(h.Status)))
	mux.HandleFunc("POST "+base+"/cancel",
		authMiddleware.RequireAuthWithPathValidation("pid")(requireEditor(tenantMiddleware(h.Cancel))))
}

// Trigger handles POST /api/projects/{pid}/analysis/trigger
// An empty body starts an incremental run.
func (h *AnalysisHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req TriggerAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.analysisService.Trigger(r.Context(), projectID, req.FullRescan)
	if err != nil {
		h.logger.Warn("Failed to trigger analysis",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		writeServiceError(w, err, "trigger_analysis_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Status handles GET /api/projects/{pid}/analysis/status
func (h *AnalysisHandler) Status(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	status, err := h.analysisService.GetStatus(r.Context(), projectID)
	if err != nil {
		h.logger.Error("Failed to get analysis status",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		writeServiceError(w, err, "get_analysis_status_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: status}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Cancel handles POST /api/projects/{pid}/analysis/cancel
func (h *AnalysisHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	job, err := h.analysisService.Cancel(r.Context(), projectID)
	if err != nil {
		h.logger.Warn("Failed to cancel analysis",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		writeServiceError(w, err, "cancel_analysis_failed", h.logger)
		return
	}

	data := CancelAnalysisResponse{Success: true, JobID: job.ID}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
