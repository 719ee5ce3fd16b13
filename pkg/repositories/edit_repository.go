package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
	"github.com/inplace-dev/inplace-engine/pkg/database"
	"github.com/inplace-dev/inplace-engine/pkg/models"
)

// EditRepository persists draft edits and their review status.
type EditRepository interface {
	Create(ctx context.Context, edit *models.Edit) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Edit, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Edit, error)
	ListByProject(ctx context.Context, projectID uuid.UUID, status *models.EditStatus) ([]models.Edit, error)

	// UpdateStatus moves an edit from one status to another. ErrConflict when
	// the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.EditStatus) (*models.Edit, error)

	// DeleteDraft removes an unbound draft. ErrNotFound or ErrConflict otherwise.
	DeleteDraft(ctx context.Context, id uuid.UUID) error

	// ListOpenCoverage returns the (element, new value) pairs bound to open pull requests.
	ListOpenCoverage(ctx context.Context, projectID uuid.UUID) ([]models.EditCoverage, error)
}

type editRepository struct{}

// NewEditRepository creates a new EditRepository.
func NewEditRepository() EditRepository {
	return &editRepository{}
}

var _ EditRepository = (*editRepository)(nil)

const editColumns = `
	id, project_id, element_id, user_id, old_value, new_value, status,
	pull_request_id, created_at, updated_at`

func (r *editRepository) Create(ctx context.Context, edit *models.Edit) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return errNoTenantScope
	}

	now := time.Now()
	if edit.ID == uuid.Nil {
		edit.ID = uuid.New()
	}
	if edit.Status == "" {
		edit.Status = models.EditStatusDraft
	}
	edit.CreatedAt = now
	edit.UpdatedAt = now

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO engine_edits (
			id, project_id, element_id, user_id, old_value, new_value, status,
			pull_request_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		edit.ID, edit.ProjectID, edit.ElementID, edit.UserID, edit.OldValue, edit.NewValue, edit.Status,
		edit.PullRequestID, edit.CreatedAt, edit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create edit: %w", err)
	}
	return nil
}

func (r *editRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Edit, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}

	edit, err := scanEdit(scope.Conn.QueryRow(ctx, `SELECT `+editColumns+` FROM engine_edits WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("edit %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get edit: %w", err)
	}
	return edit, nil
}

func (r *editRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Edit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.query(ctx, `SELECT `+editColumns+` FROM engine_edits WHERE id = ANY($1)`, ids)
}

func (r *editRepository) ListByProject(ctx context.Context, projectID uuid.UUID, status *models.EditStatus) ([]models.Edit, error) {
	if status != nil {
		return r.query(ctx, `SELECT `+editColumns+` FROM engine_edits
			WHERE project_id = $1 AND status = $2
			ORDER BY created_at DESC`, projectID, *status)
	}
	return r.query(ctx, `SELECT `+editColumns+` FROM engine_edits
		WHERE project_id = $1
		ORDER BY created_at DESC`, projectID)
}

func (r *editRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.EditStatus) (*models.Edit, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}

	edit, err := scanEdit(scope.Conn.QueryRow(ctx, `
		UPDATE engine_edits
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+editColumns, id, from, to))
	if err == nil {
		return edit, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update edit status: %w", err)
	}

	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("edit %s is no longer %s: %w", id, from, apperrors.ErrConflict)
}

func (r *editRepository) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return errNoTenantScope
	}

	result, err := scope.Conn.Exec(ctx, `
		DELETE FROM engine_edits
		WHERE id = $1 AND status = 'draft' AND pull_request_id IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete edit: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("only unpublished drafts can be discarded: %w", apperrors.ErrConflict)
}

func (r *editRepository) ListOpenCoverage(ctx context.Context, projectID uuid.UUID) ([]models.EditCoverage, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT e.pull_request_id, e.element_id, e.new_value
		FROM engine_edits e
		JOIN engine_pull_requests p ON p.id = e.pull_request_id
		WHERE e.project_id = $1 AND p.status = 'open'
		ORDER BY e.pull_request_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open pull request coverage: %w", err)
	}
	defer rows.Close()

	var coverage []models.EditCoverage
	for rows.Next() {
		var c models.EditCoverage
		if err := rows.Scan(&c.PullRequestID, &c.ElementID, &c.NewValue); err != nil {
			return nil, fmt.Errorf("failed to scan coverage: %w", err)
		}
		coverage = append(coverage, c)
	}
	return coverage, rows.Err()
}

func (r *editRepository) query(ctx context.Context, query string, args ...any) ([]models.Edit, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edits: %w", err)
	}
	defer rows.Close()

	edits := make([]models.Edit, 0)
	for rows.Next() {
		edit, err := scanEdit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edit: %w", err)
		}
		edits = append(edits, *edit)
	}
	return edits, rows.Err()
}

func scanEdit(row pgx.Row) (*models.Edit, error) {
	var e models.Edit
	err := row.Scan(
		&e.ID, &e.ProjectID, &e.ElementID, &e.UserID, &e.OldValue, &e.NewValue, &e.Status,
		&e.PullRequestID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
