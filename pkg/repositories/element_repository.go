package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
	"github.com/inplace-dev/inplace-engine/pkg/database"
	"github.com/inplace-dev/inplace-engine/pkg/models"
)

// ElementRepository persists the element catalog. Rows are keyed by
// (project_id, page_url, selector) and are never deleted by a rescan.
type ElementRepository interface {
	// Upsert merges one page's candidates in a single transaction, preserving
	// the id of rows that already exist. Returns the stored elements in input order.
	Upsert(ctx context.Context, projectID uuid.UUID, pageURL string, items []models.ElementUpsert) ([]models.Element, error)

	GetByID(ctx context.Context, id uuid.UUID) (*models.Element, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Element, error)

	// List returns one page of elements and the total matching the filter.
	List(ctx context.Context, projectID uuid.UUID, filter models.ElementFilter, limit, offset int) ([]models.Element, int, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Element, error)
	ListByPage(ctx context.Context, projectID uuid.UUID, pageURL string) ([]models.Element, error)
}

type elementRepository struct{}

// NewElementRepository creates a new ElementRepository.
func NewElementRepository() ElementRepository {
	return &elementRepository{}
}

var _ ElementRepository = (*elementRepository)(nil)

const elementColumns = `
	id, project_id, name, type, selector, xpath, source_file, source_line, source_column,
	current_value, confidence, page_url, parent_id, created_at, updated_at`

func (r *elementRepository) Upsert(ctx context.Context, projectID uuid.UUID, pageURL string, items []models.ElementUpsert) ([]models.Element, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}
	if len(items) == 0 {
		return nil, nil
	}

	stored := make([]models.Element, 0, len(items))
	err := scope.InTx(ctx, func(tx pgx.Tx) error {
		bySelector := make(map[string]uuid.UUID, len(items))

		for _, item := range items {
			row := tx.QueryRow(ctx, `
				INSERT INTO engine_elements (
					id, project_id, name, type, selector, xpath,
					source_file, source_line, source_column,
					current_value, confidence, page_url
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
				ON CONFLICT (project_id, page_url, selector) DO UPDATE SET
					name = EXCLUDED.name,
					type = EXCLUDED.type,
					xpath = EXCLUDED.xpath,
					source_file = EXCLUDED.source_file,
					source_line = EXCLUDED.source_line,
					source_column = EXCLUDED.source_column,
					current_value = EXCLUDED.current_value,
					confidence = EXCLUDED.confidence,
					updated_at = NOW()
				RETURNING `+elementColumns,
				uuid.New(), projectID, item.Name, item.Type, item.Selector, item.XPath,
				item.SourceFile, item.SourceLine, item.SourceColumn,
				item.CurrentValue, item.Confidence, pageURL,
			)
			el, err := scanElement(row)
			if err != nil {
				return fmt.Errorf("failed to upsert element %q: %w", item.Selector, err)
			}
			bySelector[el.Selector] = el.ID
			stored = append(stored, *el)
		}

		for i, item := range items {
			if item.ParentSelector == nil {
				continue
			}
			parentID, ok := bySelector[*item.ParentSelector]
			if !ok {
				err := tx.QueryRow(ctx, `
					SELECT id FROM engine_elements
					WHERE project_id = $1 AND page_url = $2 AND selector = $3`,
					projectID, pageURL, *item.ParentSelector).Scan(&parentID)
				if errors.Is(err, pgx.ErrNoRows) {
					continue
				}
				if err != nil {
					return fmt.Errorf("failed to resolve parent %q: %w", *item.ParentSelector, err)
				}
			}
			if parentID == stored[i].ID {
				continue
			}
			if _, err := tx.Exec(ctx, `UPDATE engine_elements SET parent_id = $2 WHERE id = $1`, stored[i].ID, parentID); err != nil {
				return fmt.Errorf("failed to link parent: %w", err)
			}
			stored[i].ParentID = &parentID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *elementRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Element, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}

	el, err := scanElement(scope.Conn.QueryRow(ctx, `SELECT `+elementColumns+` FROM engine_elements WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("element %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get element: %w", err)
	}
	return el, nil
}

// GetByIDs returns the elements that exist; missing ids are simply absent.
func (r *elementRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Element, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.query(ctx, `SELECT `+elementColumns+` FROM engine_elements WHERE id = ANY($1)`, ids)
}

func (r *elementRepository) List(ctx context.Context, projectID uuid.UUID, filter models.ElementFilter, limit, offset int) ([]models.Element, int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, 0, errNoTenantScope
	}

	conditions := []string{"project_id = $1"}
	args := []any{projectID}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.PageURL != nil {
		args = append(args, *filter.PageURL)
		conditions = append(conditions, fmt.Sprintf("page_url = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := scope.Conn.QueryRow(ctx, `SELECT COUNT(*) FROM engine_elements WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count elements: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM engine_elements WHERE %s
		ORDER BY page_url, selector
		LIMIT $%d OFFSET $%d`, elementColumns, where, len(args)-1, len(args))

	elements, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return elements, total, nil
}

func (r *elementRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Element, error) {
	return r.query(ctx, `SELECT `+elementColumns+` FROM engine_elements
		WHERE project_id = $1
		ORDER BY page_url, selector`, projectID)
}

func (r *elementRepository) ListByPage(ctx context.Context, projectID uuid.UUID, pageURL string) ([]models.Element, error) {
	return r.query(ctx, `SELECT `+elementColumns+` FROM engine_elements
		WHERE project_id = $1 AND page_url = $2
		ORDER BY selector`, projectID, pageURL)
}

func (r *elementRepository) query(ctx context.Context, query string, args ...any) ([]models.Element, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query elements: %w", err)
	}
	defer rows.Close()

	elements := make([]models.Element, 0)
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan element: %w", err)
		}
		elements = append(elements, *el)
	}
	return elements, rows.Err()
}

func scanElement(row pgx.Row) (*models.Element, error) {
	var e models.Element
	err := row.Scan(
		&e.ID, &e.ProjectID, &e.Name, &e.Type, &e.Selector, &e.XPath,
		&e.SourceFile, &e.SourceLine, &e.SourceColumn,
		&e.CurrentValue, &e.Confidence, &e.PageURL, &e.ParentID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
