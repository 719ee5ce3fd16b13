package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
	"github.com/inplace-dev/inplace-engine/pkg/models"
	"github.com/inplace-dev/inplace-engine/pkg/services"
)

func TestElementsHandler_List(t *testing.T) {
	projectID := uuid.New()
	var gotFilter models.ElementFilter
	var gotPage, gotLimit int
	svc := &mockCatalogService{
		listFn: func(ctx context.Context, pid uuid.UUID, filter models.ElementFilter, page, limit int) (*services.ElementPage, error) {
			gotFilter, gotPage, gotLimit = filter, page, limit
			return &services.ElementPage{
				Elements:   []models.Element{{ID: uuid.New(), Name: "Hero Title", Type: models.ElementTypeHeading}},
				Pagination: services.Pagination{Page: page, Limit: limit, Total: 11, TotalPages: 6},
			}, nil
		},
	}
	h := NewElementsHandler(svc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.List(rec, newRequest(http.MethodGet, "/?page=2&limit=2&type=heading&pageUrl=https://acme.test/about", "",
		map[string]string{"pid": projectID.String()}))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 2, gotPage)
	assert.Equal(t, 2, gotLimit)
	require.NotNil(t, gotFilter.Type)
	assert.Equal(t, models.ElementTypeHeading, *gotFilter.Type)
	require.NotNil(t, gotFilter.PageURL)
	assert.Equal(t, "https://acme.test/about", *gotFilter.PageURL)

	var page services.ElementPage
	decodeData(t, rec, &page)
	assert.Len(t, page.Elements, 1)
	assert.Equal(t, services.Pagination{Page: 2, Limit: 2, Total: 11, TotalPages: 6}, page.Pagination)
}

func TestElementsHandler_List_Defaults(t *testing.T) {
	svc := &mockCatalogService{
		listFn: func(ctx context.Context, pid uuid.UUID, filter models.ElementFilter, page, limit int) (*services.ElementPage, error) {
			assert.Nil(t, filter.Type)
			assert.Nil(t, filter.PageURL)
			assert.Equal(t, 1, page)
			assert.Equal(t, services.DefaultElementPageSize, limit)
			return &services.ElementPage{Elements: []models.Element{}}, nil
		},
	}
	h := NewElementsHandler(svc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.List(rec, newRequest(http.MethodGet, "/", "", map[string]string{"pid": uuid.NewString()}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestElementsHandler_List_Invalid(t *testing.T) {
	svc := &mockCatalogService{
		listFn: func(ctx context.Context, pid uuid.UUID, filter models.ElementFilter, page, limit int) (*services.ElementPage, error) {
			return nil, fmt.Errorf("list elements: %w", apperrors.NewValidationError("type", "unknown element type"))
		},
	}
	h := NewElementsHandler(svc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.List(rec, newRequest(http.MethodGet, "/?type=carousel", "", map[string]string{"pid": uuid.NewString()}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec)["error"])

	rec = httptest.NewRecorder()
	h.List(rec, newRequest(http.MethodGet, "/?page=two", "", map[string]string{"pid": uuid.NewString()}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_page", decodeError(t, rec)["error"])
}

func TestElementsHandler_Get(t *testing.T) {
	projectID := uuid.New()
	elementID := uuid.New()
	svc := &mockCatalogService{
		getFn: func(ctx context.Context, pid, eid uuid.UUID) (*models.Element, error) {
			if eid != elementID {
				return nil, fmt.Errorf("element %s: %w", eid, apperrors.ErrNotFound)
			}
			return &models.Element{ID: elementID, Name: "Hero Title", CurrentValue: "Build faster"}, nil
		},
	}
	h := NewElementsHandler(svc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Get(rec, newRequest(http.MethodGet, "/", "", map[string]string{"pid": projectID.String(), "eid": elementID.String()}))
	require.Equal(t, http.StatusOK, rec.Code)
	var el models.Element
	decodeData(t, rec, &el)
	assert.Equal(t, elementID, el.ID)

	rec = httptest.NewRecorder()
	h.Get(rec, newRequest(http.MethodGet, "/", "", map[string]string{"pid": projectID.String(), "eid": uuid.NewString()}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.Get(rec, newRequest(http.MethodGet, "/", "", map[string]string{"pid": projectID.String(), "eid": "x"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestElementsHandler_Sections(t *testing.T) {
	file := "src/Hero.tsx"
	svc := &mockCatalogService{
		sectionsFn: func(ctx context.Context, pid uuid.UUID) ([]models.Section, error) {
			return []models.Section{{ID: file + ":1", Name: "Hero", SourceFile: &file, ElementCount: 2, ElementIDs: []uuid.UUID{uuid.New(), uuid.New()}}}, nil
		},
	}
	h := NewElementsHandler(svc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Sections(rec, newRequest(http.MethodGet, "/", "", map[string]string{"pid": uuid.NewString()}))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SectionListResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "Hero", resp.Sections[0].Name)
}
