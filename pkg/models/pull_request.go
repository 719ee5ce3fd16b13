package models

import (
	"time"

	"github.com/google/uuid"
)

// PullRequestStatus mirrors the state of the pull request on the provider.
type PullRequestStatus string

const (
	PullRequestStatusOpen     PullRequestStatus = "open"
	PullRequestStatusMerged   PullRequestStatus = "merged"
	PullRequestStatusClosed   PullRequestStatus = "closed"
	PullRequestStatusDraft    PullRequestStatus = "draft"
	PullRequestStatusConflict PullRequestStatus = "conflict"
)

// PullRequest is a published batch of edits.
type PullRequest struct {
	ID          uuid.UUID         `json:"id"`
	ProjectID   uuid.UUID         `json:"projectId"`
	UserID      string            `json:"userId"`
	PRNumber    int               `json:"prNumber"`
	PRURL       string            `json:"prUrl"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	BranchName  string            `json:"branchName"`
	Status      PullRequestStatus `json:"status"`
	EditCount   int               `json:"editCount"`
	MergedAt    *time.Time        `json:"mergedAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// EditCoverage is one (element, new value) pair bound to an open pull request.
type EditCoverage struct {
	PullRequestID uuid.UUID
	ElementID     uuid.UUID
	NewValue      string
}
