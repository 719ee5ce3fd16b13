// Package models contains domain types for inplace-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus is the analysis-facing lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusPending   ProjectStatus = "pending"
	ProjectStatusAnalyzing ProjectStatus = "analyzing"
	ProjectStatusReady     ProjectStatus = "ready"
	ProjectStatusError     ProjectStatus = "error"
	ProjectStatusArchived  ProjectStatus = "archived"
)

// RepositoryProviderGitHub is the only version-control provider currently wired.
const RepositoryProviderGitHub = "github"

// Project is a deployed website backed by a source repository.
// Projects are created and archived by external project management; this
// service only moves Status through the analysis lifecycle.
type Project struct {
	ID                 uuid.UUID     `json:"id"`
	Name               string        `json:"name"`
	RepositoryProvider string        `json:"repositoryProvider"`
	RepositoryRef      string        `json:"repositoryRef"` // owner/name
	TargetBranch       string        `json:"targetBranch"`
	DeploymentURL      string        `json:"deploymentUrl"`
	Status             ProjectStatus `json:"status"`
	LastAnalyzedAt     *time.Time    `json:"lastAnalyzedAt,omitempty"`
	AnalysisError      *string       `json:"analysisError,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// IsArchived returns true if the project no longer accepts analysis or edits.
func (p *Project) IsArchived() bool {
	return p.Status == ProjectStatusArchived
}
