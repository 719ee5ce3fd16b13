package services

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
	"github.com/inplace-dev/inplace-engine/pkg/models"
	"github.com/inplace-dev/inplace-engine/pkg/repositories"
)

const (
	DefaultElementPageSize = 50
	MaxElementPageSize     = 200

	// sectionLineWindow is the largest line gap between two elements of the
	// same file that still places them in one section.
	sectionLineWindow = 25
)

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// ElementPage is a paginated catalog listing.
type ElementPage struct {
	Elements   []models.Element `json:"elements"`
	Pagination Pagination       `json:"pagination"`
}

// CatalogService reads the element catalog.
type CatalogService interface {
	ListElements(ctx context.Context, projectID uuid.UUID, filter models.ElementFilter, page, limit int) (*ElementPage, error)
	GetElement(ctx context.Context, projectID, elementID uuid.UUID) (*models.Element, error)

	// ListSections groups elements by source file and nearby lines. Elements
	// without a source location are grouped per page.
	ListSections(ctx context.Context, projectID uuid.UUID) ([]models.Section, error)
}

type catalogService struct {
	elementRepo repositories.ElementRepository
	logger      *zap.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(elementRepo repositories.ElementRepository, logger *zap.Logger) CatalogService {
	return &catalogService{
		elementRepo: elementRepo,
		logger:      logger.Named("catalog"),
	}
}

var _ CatalogService = (*catalogService)(nil)

func (s *catalogService) ListElements(ctx context.Context, projectID uuid.UUID, filter models.ElementFilter, page, limit int) (*ElementPage, error) {
	if page < 1 {
		return nil, apperrors.NewValidationError("page", "must be at least 1")
	}
	if limit < 1 || limit > MaxElementPageSize {
		return nil, apperrors.NewValidationError("limit", fmt.Sprintf("must be between 1 and %d", MaxElementPageSize))
	}
	if filter.Type != nil && !models.IsValidElementType(*filter.Type) {
		return nil, apperrors.NewValidationError("type", fmt.Sprintf("unknown element type %q", *filter.Type))
	}

	elements, total, err := s.elementRepo.List(ctx, projectID, filter, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list elements: %w", err)
	}
	if elements == nil {
		elements = []models.Element{}
	}

	return &ElementPage{
		Elements: elements,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

func (s *catalogService) GetElement(ctx context.Context, projectID, elementID uuid.UUID) (*models.Element, error) {
	el, err := s.elementRepo.GetByID(ctx, elementID)
	if err != nil {
		return nil, err
	}
	if el.ProjectID != projectID {
		return nil, fmt.Errorf("element %s: %w", elementID, apperrors.ErrNotFound)
	}
	return el, nil
}

func (s *catalogService) ListSections(ctx context.Context, projectID uuid.UUID) ([]models.Section, error) {
	elements, err := s.elementRepo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list elements: %w", err)
	}
	return BuildSections(elements), nil
}

// BuildSections derives sections from a catalog snapshot. Sections backed
// by a source file come first, ordered by file and line, followed by one
// section per page for unmapped elements.
func BuildSections(elements []models.Element) []models.Section {
	byFile := make(map[string][]models.Element)
	byPage := make(map[string][]models.Element)
	for _, el := range elements {
		if el.HasSource() && el.SourceLine != nil {
			byFile[*el.SourceFile] = append(byFile[*el.SourceFile], el)
		} else {
			byPage[el.PageURL] = append(byPage[el.PageURL], el)
		}
	}

	sections := make([]models.Section, 0, len(byFile)+len(byPage))

	for _, file := range sortedKeys(byFile) {
		group := byFile[file]
		sort.SliceStable(group, func(i, j int) bool { return *group[i].SourceLine < *group[j].SourceLine })

		start := 0
		for i := 1; i <= len(group); i++ {
			if i < len(group) && *group[i].SourceLine-*group[i-1].SourceLine <= sectionLineWindow {
				continue
			}
			sections = append(sections, fileSection(file, group[start:i]))
			start = i
		}
	}

	for _, pageURL := range sortedKeys(byPage) {
		group := byPage[pageURL]
		sections = append(sections, models.Section{
			ID:           "page:" + pageURL,
			Name:         "Unmapped content on " + pageLabel(pageURL),
			PageURL:      &pageURL,
			ElementCount: len(group),
			ElementIDs:   elementIDs(group),
		})
	}
	return sections
}

func fileSection(file string, group []models.Element) models.Section {
	startLine, endLine := *group[0].SourceLine, *group[len(group)-1].SourceLine
	name := fmt.Sprintf("%s (lines %d-%d)", path.Base(file), startLine, endLine)
	container, ok := lo.Find(group, func(el models.Element) bool {
		return el.Type == models.ElementTypeHero || el.Type == models.ElementTypeSection || el.Type == models.ElementTypeCard
	})
	if ok && container.Name != "" {
		name = container.Name
	}

	f := file
	return models.Section{
		ID:           fmt.Sprintf("%s:%d", file, startLine),
		Name:         name,
		SourceFile:   &f,
		StartLine:    &startLine,
		EndLine:      &endLine,
		ElementCount: len(group),
		ElementIDs:   elementIDs(group),
	}
}

func pageLabel(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func elementIDs(elements []models.Element) []uuid.UUID {
	return lo.Map(elements, func(el models.Element, _ int) uuid.UUID { return el.ID })
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
