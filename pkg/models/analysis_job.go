package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisJobStatus represents the execution status of a site analysis job.
type AnalysisJobStatus string

const (
	AnalysisJobStatusPending   AnalysisJobStatus = "pending"
	AnalysisJobStatusAnalyzing AnalysisJobStatus = "analyzing"
	AnalysisJobStatusReady     AnalysisJobStatus = "ready"
	AnalysisJobStatusError     AnalysisJobStatus = "error"
	AnalysisJobStatusCancelled AnalysisJobStatus = "cancelled"
)

// IsTerminal returns true if the job has finished (ready, error or cancelled).
func (s AnalysisJobStatus) IsTerminal() bool {
	return s == AnalysisJobStatusReady || s == AnalysisJobStatusError || s == AnalysisJobStatusCancelled
}

// IsActive returns true if the job is pending or analyzing.
func (s AnalysisJobStatus) IsActive() bool {
	return s == AnalysisJobStatusPending || s == AnalysisJobStatusAnalyzing
}

// AnalysisJob is one crawl-and-classify run for a project.
// At most one job per project is active at any time.
type AnalysisJob struct {
	ID        uuid.UUID         `json:"id"`
	ProjectID uuid.UUID         `json:"projectId"`
	Status    AnalysisJobStatus `json:"status"`

	FullRescan      bool `json:"fullRescan"`
	CancelRequested bool `json:"cancelRequested"`

	// PriorProjectStatus is the project status captured when the job started.
	// Cancellation restores it.
	PriorProjectStatus ProjectStatus `json:"-"`

	// Progress counters
	PagesVisited  int `json:"pagesVisited"`
	PagesFailed   int `json:"pagesFailed"`
	ElementsFound int `json:"elementsFound"`

	// Ownership (multi-server support)
	OwnerID       *uuid.UUID `json:"-"`
	LastHeartbeat *time.Time `json:"-"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// AnalysisProgress is a snapshot of crawl counters written while a job runs.
type AnalysisProgress struct {
	PagesVisited  int
	PagesFailed   int
	ElementsFound int
}
