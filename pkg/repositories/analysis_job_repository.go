package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
	"github.com/inplace-dev/inplace-engine/pkg/database"
	"github.com/inplace-dev/inplace-engine/pkg/models"
)

// AnalysisJobRepository owns the job lifecycle rows and the project status
// changes that accompany them. Every transition that touches both tables runs
// in one transaction.
type AnalysisJobRepository interface {
	// Start atomically checks the project and inserts an analyzing job.
	// Returns ErrNotFound, a validation error for archived projects, or
	// ErrAlreadyRunning when a non-terminal job exists.
	Start(ctx context.Context, projectID uuid.UUID, fullRescan bool, ownerID uuid.UUID) (*models.AnalysisJob, error)

	GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	GetActiveByProject(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error)
	GetLatestByProject(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error)

	UpdateProgress(ctx context.Context, jobID uuid.UUID, progress models.AnalysisProgress) error
	UpdateHeartbeat(ctx context.Context, jobID, ownerID uuid.UUID) error

	// RequestCancel flags the active job of a project. ErrNotFound when none.
	RequestCancel(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error)
	IsCancelRequested(ctx context.Context, jobID uuid.UUID) (bool, error)

	// Finalizers only act on jobs that are still active and report whether
	// they did anything, so a runner and the reaper cannot both finalize.
	Complete(ctx context.Context, jobID uuid.UUID, progress models.AnalysisProgress) (bool, error)
	Fail(ctx context.Context, jobID uuid.UUID, message string, progress models.AnalysisProgress) (bool, error)
	Cancel(ctx context.Context, jobID uuid.UUID, progress models.AnalysisProgress) (bool, error)

	// ListStale returns active jobs whose heartbeat is older than cutoff.
	// Intended for a cross-tenant scope.
	ListStale(ctx context.Context, cutoff time.Time) ([]models.AnalysisJob, error)
}

type analysisJobRepository struct{}

// NewAnalysisJobRepository creates a new AnalysisJobRepository.
func NewAnalysisJobRepository() AnalysisJobRepository {
	return &analysisJobRepository{}
}

var _ AnalysisJobRepository = (*analysisJobRepository)(nil)

const jobColumns = `
	id, project_id, status, full_rescan, cancel_requested, prior_project_status,
	pages_visited, pages_failed, elements_found, owner_id, last_heartbeat,
	started_at, completed_at, error, created_at, updated_at`

const activeJobStatuses = `('pending', 'analyzing')`

func (r *analysisJobRepository) Start(ctx context.Context, projectID uuid.UUID, fullRescan bool, ownerID uuid.UUID) (*models.AnalysisJob, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}

	var job *models.AnalysisJob
	err := scope.InTx(ctx, func(tx pgx.Tx) error {
		var status models.ProjectStatus
		err := tx.QueryRow(ctx, `SELECT status FROM engine_projects WHERE id = $1 FOR UPDATE`, projectID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("project %s: %w", projectID, apperrors.ErrNotFound)
			}
			return fmt.Errorf("failed to lock project: %w", err)
		}
		if status == models.ProjectStatusArchived {
			return apperrors.NewValidationError("project", "archived projects cannot be analyzed")
		}

		var running bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM engine_analysis_jobs WHERE project_id = $1 AND status IN `+activeJobStatuses+`)`,
			projectID).Scan(&running)
		if err != nil {
			return fmt.Errorf("failed to check active jobs: %w", err)
		}
		if running {
			return apperrors.ErrAlreadyRunning
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO engine_analysis_jobs (
				id, project_id, status, full_rescan, prior_project_status,
				owner_id, last_heartbeat, started_at
			) VALUES ($1, $2, 'analyzing', $3, $4, $5, NOW(), NOW())
			RETURNING `+jobColumns,
			uuid.New(), projectID, fullRescan, status, ownerID)
		job, err = scanJob(row)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE engine_projects
			SET status = 'analyzing', analysis_error = NULL, updated_at = NOW()
			WHERE id = $1`, projectID)
		if err != nil {
			return fmt.Errorf("failed to mark project analyzing: %w", err)
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, apperrors.ErrAlreadyRunning
		}
		return nil, err
	}
	return job, nil
}

func (r *analysisJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}

	job, err := scanJob(scope.Conn.QueryRow(ctx, `SELECT `+jobColumns+` FROM engine_analysis_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("analysis job %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get analysis job: %w", err)
	}
	return job, nil
}

// GetActiveByProject returns nil, nil when the project has no active job.
func (r *analysisJobRepository) GetActiveByProject(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM engine_analysis_jobs
		WHERE project_id = $1 AND status IN `+activeJobStatuses+`
		LIMIT 1`, projectID)
}

// GetLatestByProject returns nil, nil when the project was never analyzed.
func (r *analysisJobRepository) GetLatestByProject(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM engine_analysis_jobs
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, projectID)
}

func (r *analysisJobRepository) getOne(ctx context.Context, query string, args ...any) (*models.AnalysisJob, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}

	job, err := scanJob(scope.Conn.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get analysis job: %w", err)
	}
	return job, nil
}

func (r *analysisJobRepository) UpdateProgress(ctx context.Context, jobID uuid.UUID, progress models.AnalysisProgress) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return errNoTenantScope
	}

	_, err := scope.Conn.Exec(ctx, `
		UPDATE engine_analysis_jobs
		SET pages_visited = $2, pages_failed = $3, elements_found = $4,
		    last_heartbeat = NOW(), updated_at = NOW()
		WHERE id = $1`,
		jobID, progress.PagesVisited, progress.PagesFailed, progress.ElementsFound)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

func (r *analysisJobRepository) UpdateHeartbeat(ctx context.Context, jobID, ownerID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return errNoTenantScope
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE engine_analysis_jobs
		SET last_heartbeat = NOW(), updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND status IN `+activeJobStatuses,
		jobID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job not active or not owned by this server")
	}
	return nil
}

func (r *analysisJobRepository) RequestCancel(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}

	job, err := scanJob(scope.Conn.QueryRow(ctx, `
		UPDATE engine_analysis_jobs
		SET cancel_requested = true, updated_at = NOW()
		WHERE project_id = $1 AND status IN `+activeJobStatuses+`
		RETURNING `+jobColumns, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no running analysis for project %s: %w", projectID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to request cancellation: %w", err)
	}
	return job, nil
}

func (r *analysisJobRepository) IsCancelRequested(ctx context.Context, jobID uuid.UUID) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, errNoTenantScope
	}

	var requested bool
	err := scope.Conn.QueryRow(ctx, `SELECT cancel_requested FROM engine_analysis_jobs WHERE id = $1`, jobID).Scan(&requested)
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return requested, nil
}

func (r *analysisJobRepository) Complete(ctx context.Context, jobID uuid.UUID, progress models.AnalysisProgress) (bool, error) {
	return r.finalize(ctx, jobID, models.AnalysisJobStatusReady, nil, progress,
		func(tx pgx.Tx, projectID uuid.UUID, _ models.ProjectStatus) error {
			_, err := tx.Exec(ctx, `
				UPDATE engine_projects
				SET status = 'ready', last_analyzed_at = NOW(), analysis_error = NULL, updated_at = NOW()
				WHERE id = $1`, projectID)
			return err
		})
}

func (r *analysisJobRepository) Fail(ctx context.Context, jobID uuid.UUID, message string, progress models.AnalysisProgress) (bool, error) {
	return r.finalize(ctx, jobID, models.AnalysisJobStatusError, &message, progress,
		func(tx pgx.Tx, projectID uuid.UUID, _ models.ProjectStatus) error {
			_, err := tx.Exec(ctx, `
				UPDATE engine_projects
				SET status = 'error', analysis_error = $2, updated_at = NOW()
				WHERE id = $1`, projectID, message)
			return err
		})
}

func (r *analysisJobRepository) Cancel(ctx context.Context, jobID uuid.UUID, progress models.AnalysisProgress) (bool, error) {
	return r.finalize(ctx, jobID, models.AnalysisJobStatusCancelled, nil, progress,
		func(tx pgx.Tx, projectID uuid.UUID, prior models.ProjectStatus) error {
			_, err := tx.Exec(ctx, `
				UPDATE engine_projects
				SET status = $2, updated_at = NOW()
				WHERE id = $1`, projectID, prior)
			return err
		})
}

// finalize moves an active job to a terminal status and applies the matching
// project change in the same transaction.
func (r *analysisJobRepository) finalize(
	ctx context.Context,
	jobID uuid.UUID,
	status models.AnalysisJobStatus,
	message *string,
	progress models.AnalysisProgress,
	updateProject func(tx pgx.Tx, projectID uuid.UUID, prior models.ProjectStatus) error,
) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, errNoTenantScope
	}

	finalized := false
	err := scope.InTx(ctx, func(tx pgx.Tx) error {
		var projectID uuid.UUID
		var prior models.ProjectStatus
		err := tx.QueryRow(ctx, `
			UPDATE engine_analysis_jobs
			SET status = $2, error = $3,
			    pages_visited = $4, pages_failed = $5, elements_found = $6,
			    completed_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status IN `+activeJobStatuses+`
			RETURNING project_id, prior_project_status`,
			jobID, status, message, progress.PagesVisited, progress.PagesFailed, progress.ElementsFound,
		).Scan(&projectID, &prior)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to finalize job: %w", err)
		}

		if err := updateProject(tx, projectID, prior); err != nil {
			return fmt.Errorf("failed to update project status: %w", err)
		}
		finalized = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return finalized, nil
}

func (r *analysisJobRepository) ListStale(ctx context.Context, cutoff time.Time) ([]models.AnalysisJob, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}

	rows, err := scope.Conn.Query(ctx, `SELECT `+jobColumns+` FROM engine_analysis_jobs
		WHERE status IN `+activeJobStatuses+`
		  AND COALESCE(last_heartbeat, started_at, created_at) < $1
		ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*models.AnalysisJob, error) {
	var j models.AnalysisJob
	err := row.Scan(
		&j.ID, &j.ProjectID, &j.Status, &j.FullRescan, &j.CancelRequested, &j.PriorProjectStatus,
		&j.PagesVisited, &j.PagesFailed, &j.ElementsFound, &j.OwnerID, &j.LastHeartbeat,
		&j.StartedAt, &j.CompletedAt, &j.Error, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
