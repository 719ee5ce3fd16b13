package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrForbidden      = errors.New("forbidden")
	ErrAlreadyRunning = fmt.Errorf("analysis already running: %w", ErrConflict)
	ErrUpstream       = errors.New("upstream failure")
	ErrPartialFailure = errors.New("partial failure")
	ErrChangeset      = errors.New("changeset could not be built")
)

// ValidationError describes malformed input. It matches ErrValidation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// UpstreamError wraps a failure reported by the version-control host or the
// browser automation gateway. It matches ErrUpstream.
type UpstreamError struct {
	Service string
	Op      string
	Cause   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Cause)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// NewUpstreamError creates an UpstreamError.
func NewUpstreamError(service, op string, cause error) *UpstreamError {
	return &UpstreamError{Service: service, Op: op, Cause: cause}
}

// SourceUnresolvedError reports an element with no known source location.
type SourceUnresolvedError struct {
	ElementID uuid.UUID
}

func (e *SourceUnresolvedError) Error() string {
	return fmt.Sprintf("element %s has no resolved source location", e.ElementID)
}

// AmbiguousMatchError reports that the original value of an element was found
// zero or more than one time in its source file.
type AmbiguousMatchError struct {
	ElementID  uuid.UUID
	SourceFile string
	MatchCount int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("element %s: expected exactly one match in %s, found %d",
		e.ElementID, e.SourceFile, e.MatchCount)
}

// ElementFailure is the per-element detail carried by a ChangesetError.
type ElementFailure struct {
	ElementID  uuid.UUID `json:"elementId"`
	Reason     string    `json:"reason"`
	SourceFile string    `json:"sourceFile,omitempty"`
	MatchCount *int      `json:"matchCount,omitempty"`
	Message    string    `json:"message"`
}

// ChangesetError aggregates every element that failed diff resolution for a
// publish batch. The whole batch is rejected when this is returned.
type ChangesetError struct {
	Failures []error
}

func (e *ChangesetError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%d edit(s) could not be mapped to source: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *ChangesetError) Is(target error) bool {
	return target == ErrChangeset
}

// Unwrap exposes the individual failures to errors.As.
func (e *ChangesetError) Unwrap() []error {
	return e.Failures
}

// Details converts the failures into a serializable form.
func (e *ChangesetError) Details() []ElementFailure {
	details := make([]ElementFailure, 0, len(e.Failures))
	for _, f := range e.Failures {
		var unresolved *SourceUnresolvedError
		var ambiguous *AmbiguousMatchError
		switch {
		case errors.As(f, &unresolved):
			details = append(details, ElementFailure{
				ElementID: unresolved.ElementID,
				Reason:    "source_unresolved",
				Message:   f.Error(),
			})
		case errors.As(f, &ambiguous):
			count := ambiguous.MatchCount
			details = append(details, ElementFailure{
				ElementID:  ambiguous.ElementID,
				Reason:     "ambiguous_match",
				SourceFile: ambiguous.SourceFile,
				MatchCount: &count,
				Message:    f.Error(),
			})
		default:
			details = append(details, ElementFailure{Reason: "unknown", Message: f.Error()})
		}
	}
	return details
}
