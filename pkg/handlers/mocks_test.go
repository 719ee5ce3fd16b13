package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/inplace-dev/inplace-engine/pkg/auth"
	"github.com/inplace-dev/inplace-engine/pkg/models"
	"github.com/inplace-dev/inplace-engine/pkg/services"
)

type mockAnalysisService struct {
	triggerFn   func(ctx context.Context, projectID uuid.UUID, fullRescan bool) (*services.TriggerResult, error)
	getStatusFn func(ctx context.Context, projectID uuid.UUID) (*services.AnalysisStatus, error)
	cancelFn    func(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error)
}

func (m *mockAnalysisService) Trigger(ctx context.Context, projectID uuid.UUID, fullRescan bool) (*services.TriggerResult, error) {
	return m.triggerFn(ctx, projectID, fullRescan)
}

func (m *mockAnalysisService) GetStatus(ctx context.Context, projectID uuid.UUID) (*services.AnalysisStatus, error) {
	return m.getStatusFn(ctx, projectID)
}

func (m *mockAnalysisService) Cancel(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error) {
	return m.cancelFn(ctx, projectID)
}

func (m *mockAnalysisService) Shutdown(ctx context.Context) error { return nil }

type mockCatalogService struct {
	listFn     func(ctx context.Context, projectID uuid.UUID, filter models.ElementFilter, page, limit int) (*services.ElementPage, error)
	getFn      func(ctx context.Context, projectID, elementID uuid.UUID) (*models.Element, error)
	sectionsFn func(ctx context.Context, projectID uuid.UUID) ([]models.Section, error)
}

func (m *mockCatalogService) ListElements(ctx context.Context, projectID uuid.UUID, filter models.ElementFilter, page, limit int) (*services.ElementPage, error) {
	return m.listFn(ctx, projectID, filter, page, limit)
}

func (m *mockCatalogService) GetElement(ctx context.Context, projectID, elementID uuid.UUID) (*models.Element, error) {
	return m.getFn(ctx, projectID, elementID)
}

func (m *mockCatalogService) ListSections(ctx context.Context, projectID uuid.UUID) ([]models.Section, error) {
	return m.sectionsFn(ctx, projectID)
}

type mockEditService struct {
	createFn       func(ctx context.Context, projectID uuid.UUID, userID string, elementID uuid.UUID, newValue string) (*models.Edit, error)
	listFn         func(ctx context.Context, projectID uuid.UUID, status *models.EditStatus) ([]models.Edit, error)
	discardFn      func(ctx context.Context, projectID, editID uuid.UUID) error
	updateStatusFn func(ctx context.Context, projectID, editID uuid.UUID, status models.EditStatus, override bool) (*models.Edit, error)
	publishFn      func(ctx context.Context, projectID uuid.UUID, userID string, req services.PublishRequest) (*models.PullRequest, error)
	listPRsFn      func(ctx context.Context, projectID uuid.UUID) ([]models.PullRequest, error)
	getPRFn        func(ctx context.Context, projectID, pullRequestID uuid.UUID) (*models.PullRequest, error)
}

func (m *mockEditService) CreateEdit(ctx context.Context, projectID uuid.UUID, userID string, elementID uuid.UUID, newValue string) (*models.Edit, error) {
	return m.createFn(ctx, projectID, userID, elementID, newValue)
}

func (m *mockEditService) ListEdits(ctx context.Context, projectID uuid.UUID, status *models.EditStatus) ([]models.Edit, error) {
	return m.listFn(ctx, projectID, status)
}

func (m *mockEditService) DiscardEdit(ctx context.Context, projectID, editID uuid.UUID) error {
	return m.discardFn(ctx, projectID, editID)
}

func (m *mockEditService) UpdateStatus(ctx context.Context, projectID, editID uuid.UUID, status models.EditStatus, override bool) (*models.Edit, error) {
	return m.updateStatusFn(ctx, projectID, editID, status, override)
}

func (m *mockEditService) Publish(ctx context.Context, projectID uuid.UUID, userID string, req services.PublishRequest) (*models.PullRequest, error) {
	return m.publishFn(ctx, projectID, userID, req)
}

func (m *mockEditService) ListPullRequests(ctx context.Context, projectID uuid.UUID) ([]models.PullRequest, error) {
	return m.listPRsFn(ctx, projectID)
}

func (m *mockEditService) GetPullRequest(ctx context.Context, projectID, pullRequestID uuid.UUID) (*models.PullRequest, error) {
	return m.getPRFn(ctx, projectID, pullRequestID)
}

// newRequest builds a request with path values set, as the mux would, and
// claims for user-1 attached.
func newRequest(method, target, body string, pathValues map[string]string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	claims := &auth.Claims{ProjectID: pathValues["pid"], Roles: []string{auth.RoleEditor}}
	claims.Subject = "user-1"
	return req.WithContext(auth.WithClaims(req.Context(), claims, "token"))
}

// decodeData decodes the data field of an ApiResponse into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	if dst != nil {
		require.NoError(t, json.Unmarshal(resp.Data, dst))
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
