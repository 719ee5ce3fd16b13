package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
	"github.com/inplace-dev/inplace-engine/pkg/database"
	"github.com/inplace-dev/inplace-engine/pkg/models"
)

var errNoTenantScope = errors.New("no tenant scope in context")

// ProjectRepository reads projects. Projects are created and archived
// elsewhere; status changes go through AnalysisJobRepository transactions.
type ProjectRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Project, error)
}

type projectRepository struct{}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository() ProjectRepository {
	return &projectRepository{}
}

var _ ProjectRepository = (*projectRepository)(nil)

const projectColumns = `
	id, name, repository_provider, repository_ref, target_branch, deployment_url,
	status, last_analyzed_at, analysis_error, created_at, updated_at`

func (r *projectRepository) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, errNoTenantScope
	}

	row := scope.Conn.QueryRow(ctx, `SELECT `+projectColumns+` FROM engine_projects WHERE id = $1`, id)
	project, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return project, nil
}

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(
		&p.ID, &p.Name, &p.RepositoryProvider, &p.RepositoryRef, &p.TargetBranch, &p.DeploymentURL,
		&p.Status, &p.LastAnalyzedAt, &p.AnalysisError, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
