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

// PullRequestRepository persists published batches.
type PullRequestRepository interface {
	// CreateWithEdits inserts pr and binds editIDs to it in one transaction.
	// Every edit must still be an unbound draft; otherwise nothing is written
	// and ErrConflict is returned.
	CreateWithEdits(ctx context.Context, pr *models.PullRequest, editIDs []uuid.UUID) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.PullRequest, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.PullRequest, error)
}

type pullRequestRepository struct{}

// NewPullRequestRepository creates a new PullRequestRepository.
func NewPullRequestRepository() PullRequestRepository {
	return &pullRequestRepository{}
}

var _ PullRequestRepository = (*pullRequestRepository)(nil)

const pullRequestColumns = `
	p.id, p.project_id, p.user_id, p.pr_number, p.pr_url, p.title, p.description,
	p.branch_name, p.status, p.merged_at, p.created_at, p.updated_at,
	(SELECT COUNT(*) FROM engine_edits e WHERE e.pull_request_id = p.id)`

func (r *pullRequestRepository) CreateWithEdits(ctx context.Context, pr *models.PullRequest, editIDs []uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return errNoTenantScope
	}

	now := time.Now()
	if pr.ID == uuid.Nil {
		pr.ID = uuid.New()
	}
	if pr.Status == "" {
		pr.Status = models.PullRequestStatusOpen
	}
	pr.CreatedAt = now
	pr.UpdatedAt = now

	return scope.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO engine_pull_requests (
				id, project_id, user_id, pr_number, pr_url, title, description,
				branch_name, status, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			pr.ID, pr.ProjectID, pr.UserID, pr.PRNumber, pr.PRURL, pr.Title, pr.Description,
			pr.BranchName, pr.Status, pr.CreatedAt, pr.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert pull request: %w", err)
		}

		result, err := tx.Exec(ctx, `
			UPDATE engine_edits
			SET status = 'pending_review', pull_request_id = $1, updated_at = NOW()
			WHERE id = ANY($2) AND project_id = $3
			  AND status = 'draft' AND pull_request_id IS NULL`,
			pr.ID, editIDs, pr.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to bind edits: %w", err)
		}
		if int(result.RowsAffected()) != len(editIDs) {
			return fmt.Errorf("%d of %d edits changed during publish: %w",
				len(editIDs)-int(result.RowsAffected()), len(editIDs), apperrors.ErrConflict)
		}

		pr.EditCount = len(editIDs)
		return nil
	})
}

func (r *pullRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PullRequest, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}

	pr, err := scanPullRequest(scope.Conn.QueryRow(ctx,
		`SELECT `+pullRequestColumns+` FROM engine_pull_requests p WHERE p.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pull request %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get pull request: %w", err)
	}
	return pr, nil
}

func (r *pullRequestRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.PullRequest, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}

	rows, err := scope.Conn.Query(ctx, `SELECT `+pullRequestColumns+` FROM engine_pull_requests p
		WHERE p.project_id = $1
		ORDER BY p.created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}
	defer rows.Close()

	prs := make([]models.PullRequest, 0)
	for rows.Next() {
		pr, err := scanPullRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pull request: %w", err)
		}
		prs = append(prs, *pr)
	}
	return prs, rows.Err()
}

func scanPullRequest(row pgx.Row) (*models.PullRequest, error) {
	var p models.PullRequest
	err := row.Scan(
		&p.ID, &p.ProjectID, &p.UserID, &p.PRNumber, &p.PRURL, &p.Title, &p.Description,
		&p.BranchName, &p.Status, &p.MergedAt, &p.CreatedAt, &p.UpdatedAt, &p.EditCount,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
