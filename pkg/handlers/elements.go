package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/auth"
	"github.com/inplace-dev/inplace-engine/pkg/models"
	"github.com/inplace-dev/inplace-engine/pkg/services"
)

// SectionListResponse for GET /sections
type SectionListResponse struct {
	Sections []models.Section `json:"sections"`
	Total    int              `json:"total"`
}

// ElementsHandler serves the element catalog.
type ElementsHandler struct {
	catalogService services.CatalogService
	logger         *zap.Logger
}

// NewElementsHandler creates a new elements handler.
func NewElementsHandler(catalogService services.CatalogService, logger *zap.Logger) *ElementsHandler {
	return &ElementsHandler{
		catalogService: catalogService,
		logger:         logger.Named("elements-handler"),
	}
}

// RegisterRoutes registers the elements handler's routes on the given mux.
func (h *ElementsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/projects/{pid}"

	mux.HandleFunc("GET "+base+"/elements",
		authMiddleware.RequireAuthWithPathValidation("pid")(tenantMiddleware(h.List)))
	mux.HandleFunc("GET "+base+"/elements/{eid}",
		authMiddleware.RequireAuthWithPathValidation("pid")(tenantMiddleware(h.Get)))
	mux.HandleFunc("GET "+base+"/sections",
		authMiddleware.RequireAuthWithPathValidation("pid")(tenantMiddleware(h.Sections)))
}

// List handles GET /api/projects/{pid}/elements?page&limit&type&pageUrl
func (h *ElementsHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	page, ok := parseIntQuery(w, r, "page", 1, h.logger)
	if !ok {
		return
	}
	limit, ok := parseIntQuery(w, r, "limit", services.DefaultElementPageSize, h.logger)
	if !ok {
		return
	}

	var filter models.ElementFilter
	query := r.URL.Query()
	if t := query.Get("type"); t != "" {
		elementType := models.ElementType(t)
		filter.Type = &elementType
	}
	if p := query.Get("pageUrl"); p != "" {
		filter.PageURL = &p
	}

	result, err := h.catalogService.ListElements(r.Context(), projectID, filter, page, limit)
	if err != nil {
		h.logger.Error("Failed to list elements",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		writeServiceError(w, err, "list_elements_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/projects/{pid}/elements/{eid}
func (h *ElementsHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	elementID, ok := ParseElementID(w, r, h.logger)
	if !ok {
		return
	}

	element, err := h.catalogService.GetElement(r.Context(), projectID, elementID)
	if err != nil {
		h.logger.Debug("Failed to get element",
			zap.String("element_id", elementID.String()),
			zap.Error(err))
		writeServiceError(w, err, "get_element_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: element}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Sections handles GET /api/projects/{pid}/sections
func (h *ElementsHandler) Sections(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	sections, err := h.catalogService.ListSections(r.Context(), projectID)
	if err != nil {
		h.logger.Error("Failed to list sections",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		writeServiceError(w, err, "list_sections_failed", h.logger)
		return
	}

	data := SectionListResponse{Sections: sections, Total: len(sections)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
