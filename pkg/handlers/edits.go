package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/auth"
	"github.com/inplace-dev/inplace-engine/pkg/models"
	"github.com/inplace-dev/inplace-engine/pkg/services"
)

// CreateEditRequest for POST /edits
type CreateEditRequest struct {
	ElementID uuid.UUID `json:"elementId"`
	NewValue  string    `json:"newValue"`
}

// EditResponse wraps a single edit.
type EditResponse struct {
	Edit *models.Edit `json:"edit"`
}

// EditListResponse for GET /edits
type EditListResponse struct {
	Edits []models.Edit `json:"edits"`
	Total int           `json:"total"`
}

// UpdateEditStatusRequest for PATCH /edits/{editId}/status
type UpdateEditStatusRequest struct {
	Status   models.EditStatus `json:"status"`
	Override bool              `json:"override"`
}

// PublishResponse for POST /edits/publish
type PublishResponse struct {
	PullRequest *models.PullRequest `json:"pullRequest"`
}

// PullRequestListResponse for GET /pull-requests
type PullRequestListResponse struct {
	PullRequests []models.PullRequest `json:"pullRequests"`
	Total        int                  `json:"total"`
}

// EditsHandler manages draft edits and their publication.
type EditsHandler struct {
	editService services.EditService
	logger      *zap.Logger
}

// NewEditsHandler creates a new edits handler.
func NewEditsHandler(editService services.EditService, logger *zap.Logger) *EditsHandler {
	return &EditsHandler{
		editService: editService,
		logger:      logger.Named("edits-handler"),
	}
}

// RegisterRoutes registers the edits handler's routes on the given mux.
func (h *EditsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/projects/{pid}"
	requireEditor := auth.RequireRole(auth.RoleAdmin, auth.RoleEditor)

	mux.HandleFunc("POST "+base+"/edits",
		authMiddleware.RequireAuthWithPathValidation("pid")(requireEditor(tenantMiddleware(h.Create))))
	mux.HandleFunc("GET "+base+"/edits",
		authMiddleware.RequireAuthWithPathValidation("pid")(tenantMiddleware(h.List)))
	mux.HandleFunc("DELETE "+base+"/edits/{editId}",
		authMiddleware.RequireAuthWithPathValidation("pid")(requireEditor(tenantMiddleware(h.Discard))))
	mux.HandleFunc("PATCH "+base+"/edits/{editId}/status",
		authMiddleware.RequireAuthWithPathValidation("pid")(requireEditor(tenantMiddleware(h.UpdateStatus))))
	mux.HandleFunc("POST "+base+"/edits/publish",
		authMiddleware.RequireAuthWithPathValidation("pid")(requireEditor(tenantMiddleware(h.Publish))))
	mux.HandleFunc("GET "+base+"/pull-requests",
		authMiddleware.RequireAuthWithPathValidation("pid")(tenantMiddleware(h.ListPullRequests)))
	mux.HandleFunc("GET "+base+"/pull-requests/{prId}",
		authMiddleware.RequireAuthWithPathValidation("pid")(tenantMiddleware(h.GetPullRequest)))
}

// Create handles POST /api/projects/{pid}/edits
func (h *EditsHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateEditRequest
	if !h.decode(w, r, &req) {
		return
	}

	edit, err := h.editService.CreateEdit(r.Context(), projectID, auth.GetUserIDFromContext(r.Context()), req.ElementID, req.NewValue)
	if err != nil {
		h.logger.Warn("Failed to create edit",
			zap.String("project_id", projectID.String()),
			zap.String("element_id", req.ElementID.String()),
			zap.Error(err))
		writeServiceError(w, err, "create_edit_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: EditResponse{Edit: edit}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/projects/{pid}/edits?status=
func (h *EditsHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var status *models.EditStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := models.EditStatus(raw)
		if !models.IsValidEditStatus(s) {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_status", "Unknown edit status: "+raw); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		status = &s
	}

	edits, err := h.editService.ListEdits(r.Context(), projectID, status)
	if err != nil {
		h.logger.Error("Failed to list edits",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		writeServiceError(w, err, "list_edits_failed", h.logger)
		return
	}

	data := EditListResponse{Edits: edits, Total: len(edits)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Discard handles DELETE /api/projects/{pid}/edits/{editId}
func (h *EditsHandler) Discard(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	editID, ok := ParseEditID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.editService.DiscardEdit(r.Context(), projectID, editID); err != nil {
		h.logger.Warn("Failed to discard edit",
			zap.String("edit_id", editID.String()),
			zap.Error(err))
		writeServiceError(w, err, "discard_edit_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Edit discarded"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// UpdateStatus handles PATCH /api/projects/{pid}/edits/{editId}/status
func (h *EditsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	editID, ok := ParseEditID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateEditStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	edit, err := h.editService.UpdateStatus(r.Context(), projectID, editID, req.Status, req.Override)
	if err != nil {
		h.logger.Warn("Failed to update edit status",
			zap.String("edit_id", editID.String()),
			zap.String("status", string(req.Status)),
			zap.Bool("override", req.Override),
			zap.Error(err))
		writeServiceError(w, err, "update_edit_status_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: EditResponse{Edit: edit}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Publish handles POST /api/projects/{pid}/edits/publish
func (h *EditsHandler) Publish(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.PublishRequest
	if !h.decode(w, r, &req) {
		return
	}

	pr, err := h.editService.Publish(r.Context(), projectID, auth.GetUserIDFromContext(r.Context()), req)
	if err != nil {
		h.logger.Warn("Failed to publish edits",
			zap.String("project_id", projectID.String()),
			zap.Int("edit_count", len(req.Edits)),
			zap.Error(err))
		writeServiceError(w, err, "publish_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: PublishResponse{PullRequest: pr}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListPullRequests handles GET /api/projects/{pid}/pull-requests
func (h *EditsHandler) ListPullRequests(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	prs, err := h.editService.ListPullRequests(r.Context(), projectID)
	if err != nil {
		h.logger.Error("Failed to list pull requests",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		writeServiceError(w, err, "list_pull_requests_failed", h.logger)
		return
	}

	data := PullRequestListResponse{PullRequests: prs, Total: len(prs)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetPullRequest handles GET /api/projects/{pid}/pull-requests/{prId}
func (h *EditsHandler) GetPullRequest(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	prID, ok := ParsePullRequestID(w, r, h.logger)
	if !ok {
		return
	}

	pr, err := h.editService.GetPullRequest(r.Context(), projectID, prID)
	if err != nil {
		writeServiceError(w, err, "get_pull_request_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: PublishResponse{PullRequest: pr}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *EditsHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}
