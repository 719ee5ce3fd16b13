package models

import (
	"time"

	"github.com/google/uuid"
)

// EditStatus is the review lifecycle of a proposed content change.
type EditStatus string

const (
	EditStatusDraft         EditStatus = "draft"
	EditStatusPendingReview EditStatus = "pending_review"
	EditStatusApproved      EditStatus = "approved"
	EditStatusRejected      EditStatus = "rejected"
)

// ValidEditStatuses contains all valid edit status values.
var ValidEditStatuses = []EditStatus{
	EditStatusDraft,
	EditStatusPendingReview,
	EditStatusApproved,
	EditStatusRejected,
}

// IsValidEditStatus checks if the given status is valid.
func IsValidEditStatus(s EditStatus) bool {
	for _, v := range ValidEditStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// editTransitions lists the forward moves allowed without an admin override.
var editTransitions = map[EditStatus][]EditStatus{
	EditStatusDraft:         {EditStatusPendingReview},
	EditStatusPendingReview: {EditStatusApproved, EditStatusRejected},
}

// CanTransition reports whether an edit may move from s to next.
// Approved and rejected are final unless an admin overrides.
func (s EditStatus) CanTransition(next EditStatus) bool {
	for _, allowed := range editTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Edit is a proposed change to one element's value.
type Edit struct {
	ID            uuid.UUID  `json:"id"`
	ProjectID     uuid.UUID  `json:"projectId"`
	ElementID     uuid.UUID  `json:"elementId"`
	UserID        string     `json:"userId"`
	OldValue      string     `json:"oldValue"`
	NewValue      string     `json:"newValue"`
	Status        EditStatus `json:"status"`
	PullRequestID *uuid.UUID `json:"pullRequestId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// IsBound returns true if the edit already belongs to a pull request.
func (e *Edit) IsBound() bool {
	return e.PullRequestID != nil
}
