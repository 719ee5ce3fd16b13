package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlreadyRunning_IsConflict(t *testing.T) {
	err := fmt.Errorf("trigger: %w", ErrAlreadyRunning)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestValidationError_MatchesSentinel(t *testing.T) {
	err := fmt.Errorf("create edit: %w", NewValidationError("newValue", "must not be empty"))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "create edit: newValue: must not be empty", err.Error())
}

func TestUpstreamError_UnwrapsCause(t *testing.T) {
	cause := errors.New("503 service unavailable")
	err := NewUpstreamError("github", "open pull request", cause)
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.True(t, errors.Is(err, cause))
}

func TestChangesetError_Details(t *testing.T) {
	unresolvedID := uuid.New()
	ambiguousID := uuid.New()

	err := &ChangesetError{Failures: []error{
		&SourceUnresolvedError{ElementID: unresolvedID},
		&AmbiguousMatchError{ElementID: ambiguousID, SourceFile: "src/App.tsx", MatchCount: 2},
	}}

	assert.True(t, errors.Is(err, ErrChangeset))

	var ambiguous *AmbiguousMatchError
	require.True(t, errors.As(err, &ambiguous))
	assert.Equal(t, ambiguousID, ambiguous.ElementID)

	details := err.Details()
	require.Len(t, details, 2)
	assert.Equal(t, unresolvedID, details[0].ElementID)
	assert.Equal(t, "source_unresolved", details[0].Reason)
	assert.Nil(t, details[0].MatchCount)
	assert.Equal(t, "ambiguous_match", details[1].Reason)
	require.NotNil(t, details[1].MatchCount)
	assert.Equal(t, 2, *details[1].MatchCount)
}
