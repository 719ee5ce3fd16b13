package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
	"github.com/inplace-dev/inplace-engine/pkg/auth"
	"github.com/inplace-dev/inplace-engine/pkg/metrics"
	"github.com/inplace-dev/inplace-engine/pkg/models"
)

type editEnv struct {
	store    *mockStore
	project  *models.Project
	host     *mockHost
	editRepo *mockEditRepository
	svc      EditService

	title     *models.Element // unique in src/Hero.tsx
	subtitle  *models.Element // unique in src/Hero.tsx
	learnMore *models.Element // appears twice in src/Hero.tsx
	contact   *models.Element // no source location
}

func newEditEnv(t *testing.T) *editEnv {
	t.Helper()

	store := newMockStore()
	project := store.addProject(models.ProjectStatusReady)
	env := &editEnv{
		store:    store,
		project:  project,
		host:     newMockHost(map[string]string{"src/Hero.tsx": heroSource}),
		editRepo: &mockEditRepository{store: store},

		title:     store.addElement(project.ID, "Hero Title", models.ElementTypeHeading, "Build faster", "src/Hero.tsx"),
		subtitle:  store.addElement(project.ID, "Hero Text", models.ElementTypeParagraph, "Ship content without waiting on a deploy", "src/Hero.tsx"),
		learnMore: store.addElement(project.ID, "Learn More Link", models.ElementTypeLink, "Learn more", "src/Hero.tsx"),
		contact:   store.addElement(project.ID, "Contact Text", models.ElementTypeText, "Contact us", ""),
	}

	env.svc = NewEditService(
		&mockProjectRepository{store: store},
		&mockElementRepository{store: store},
		env.editRepo,
		&mockPullRequestRepository{store: store},
		&mockVCSFactory{host: env.host},
		NewChangesetGenerator(zap.NewNop()),
		NewPublisher("content", zap.NewNop()),
		NewProjectLocker(),
		5,
		metrics.New(),
		zap.NewNop(),
	)
	return env
}

func adminCtx() context.Context {
	return auth.WithClaims(context.Background(), &auth.Claims{Roles: []string{auth.RoleAdmin}}, "tok")
}

func TestEditService_CreateEdit(t *testing.T) {
	env := newEditEnv(t)
	ctx := context.Background()

	edit, err := env.svc.CreateEdit(ctx, env.project.ID, "user-1", env.title.ID, "Build better")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, edit.ID)
	assert.Equal(t, models.EditStatusDraft, edit.Status)
	assert.Equal(t, "Build faster", edit.OldValue)
	assert.Equal(t, "Build better", edit.NewValue)
	assert.Equal(t, "user-1", edit.UserID)
	assert.Nil(t, edit.PullRequestID)

	edits, err := env.svc.ListEdits(ctx, env.project.ID, nil)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, edit.ID, edits[0].ID)
}

func TestEditService_CreateEdit_Validation(t *testing.T) {
	env := newEditEnv(t)
	ctx := context.Background()
	other := env.store.addProject(models.ProjectStatusReady)
	foreign := env.store.addElement(other.ID, "Foreign", models.ElementTypeText, "Elsewhere", "")
	empty := env.store.addElement(env.project.ID, "Logo", models.ElementTypeImage, "", "")

	tests := []struct {
		name      string
		elementID uuid.UUID
		value     string
		wantErr   error
	}{
		{"blank value", env.title.ID, "   ", apperrors.ErrValidation},
		{"too long", env.title.ID, strings.Repeat("a", MaxEditValueLength+1), apperrors.ErrValidation},
		{"script", env.title.ID, `<script>alert(1)</script>`, apperrors.ErrValidation},
		{"event handler", env.title.ID, `<img src=x onerror=alert(1)>`, apperrors.ErrValidation},
		{"unchanged", env.title.ID, "Build faster", apperrors.ErrValidation},
		{"no editable value", empty.ID, "New alt", apperrors.ErrValidation},
		{"unknown element", uuid.New(), "Build better", apperrors.ErrNotFound},
		{"other project", foreign.ID, "Build better", apperrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateEdit(ctx, env.project.ID, "user-1", tt.elementID, tt.value)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Empty(t, env.store.editsOf(env.project.ID))

	// Plain punctuation is fine.
	_, err := env.svc.CreateEdit(ctx, env.project.ID, "user-1", env.title.ID, "Build 2x faster & cheaper")
	assert.NoError(t, err)
}

func TestEditService_UpdateStatus(t *testing.T) {
	env := newEditEnv(t)
	ctx := context.Background()

	edit, err := env.svc.CreateEdit(ctx, env.project.ID, "user-1", env.title.ID, "Build better")
	require.NoError(t, err)

	_, err = env.svc.UpdateStatus(ctx, env.project.ID, edit.ID, models.EditStatusApproved, false)
	assert.ErrorIs(t, err, apperrors.ErrConflict, "drafts cannot skip review")

	updated, err := env.svc.UpdateStatus(ctx, env.project.ID, edit.ID, models.EditStatusPendingReview, false)
	require.NoError(t, err)
	assert.Equal(t, models.EditStatusPendingReview, updated.Status)

	updated, err = env.svc.UpdateStatus(ctx, env.project.ID, edit.ID, models.EditStatusApproved, false)
	require.NoError(t, err)
	assert.Equal(t, models.EditStatusApproved, updated.Status)

	_, err = env.svc.UpdateStatus(ctx, env.project.ID, edit.ID, models.EditStatusDraft, false)
	assert.ErrorIs(t, err, apperrors.ErrConflict, "approved is final")

	_, err = env.svc.UpdateStatus(ctx, env.project.ID, edit.ID, models.EditStatusDraft, true)
	assert.ErrorIs(t, err, apperrors.ErrForbidden, "override needs the admin role")

	updated, err = env.svc.UpdateStatus(adminCtx(), env.project.ID, edit.ID, models.EditStatusDraft, true)
	require.NoError(t, err)
	assert.Equal(t, models.EditStatusDraft, updated.Status)

	_, err = env.svc.UpdateStatus(ctx, env.project.ID, edit.ID, "published", false)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = env.svc.UpdateStatus(ctx, uuid.New(), edit.ID, models.EditStatusPendingReview, false)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEditService_DiscardEdit(t *testing.T) {
	env := newEditEnv(t)
	ctx := context.Background()

	edit, err := env.svc.CreateEdit(ctx, env.project.ID, "user-1", env.title.ID, "Build better")
	require.NoError(t, err)
	require.NoError(t, env.svc.DiscardEdit(ctx, env.project.ID, edit.ID))
	assert.Empty(t, env.store.editsOf(env.project.ID))

	assert.ErrorIs(t, env.svc.DiscardEdit(ctx, env.project.ID, edit.ID), apperrors.ErrNotFound)

	edit, err = env.svc.CreateEdit(ctx, env.project.ID, "user-1", env.title.ID, "Build better")
	require.NoError(t, err)
	_, err = env.svc.UpdateStatus(ctx, env.project.ID, edit.ID, models.EditStatusPendingReview, false)
	require.NoError(t, err)
	assert.ErrorIs(t, env.svc.DiscardEdit(ctx, env.project.ID, edit.ID), apperrors.ErrConflict)
}

func TestEditService_Publish(t *testing.T) {
	env := newEditEnv(t)
	ctx := context.Background()

	draft, err := env.svc.CreateEdit(ctx, env.project.ID, "user-1", env.subtitle.ID, "Edit copy in place")
	require.NoError(t, err)

	pr, err := env.svc.Publish(ctx, env.project.ID, "user-1", PublishRequest{Edits: []PublishEditInput{
		{ElementID: env.title.ID, OriginalValue: "Build faster", NewValue: "Build better"},
		{EditID: &draft.ID, ElementID: env.subtitle.ID, NewValue: "Edit copy in place"},
	}})
	require.NoError(t, err)

	assert.Equal(t, 42, pr.PRNumber)
	assert.Equal(t, "https://github.com/acme/site/pull/42", pr.PRURL)
	assert.Equal(t, models.PullRequestStatusOpen, pr.Status)
	assert.Equal(t, 2, pr.EditCount)
	assert.Equal(t, "[Content] Update 2 elements", pr.Title)
	assert.Contains(t, pr.Description, "- Hero Title (heading)")
	assert.True(t, strings.HasPrefix(pr.BranchName, "content/"+env.project.ID.String()[:8]+"-"))

	edits := env.store.editsOf(env.project.ID)
	require.Len(t, edits, 2)
	for _, e := range edits {
		assert.Equal(t, models.EditStatusPendingReview, e.Status)
		require.NotNil(t, e.PullRequestID)
		assert.Equal(t, pr.ID, *e.PullRequestID)
	}

	commits := env.host.commits[pr.BranchName]
	require.Len(t, commits, 1)
	assert.Contains(t, commits[0].Content, "<h1>Build better</h1>")
	assert.Contains(t, commits[0].Content, "<p>Edit copy in place</p>")
	assert.Equal(t, heroSource, env.host.files["src/Hero.tsx"], "the target branch is left alone")

	prs, err := env.svc.ListPullRequests(ctx, env.project.ID)
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Equal(t, pr.ID, prs[0].ID)

	got, err := env.svc.GetPullRequest(ctx, env.project.ID, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, pr.PRURL, got.PRURL)
	assert.Equal(t, 2, got.EditCount)

	other := env.store.addProject(models.ProjectStatusReady)
	_, err = env.svc.GetPullRequest(ctx, other.ID, pr.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = env.svc.GetPullRequest(ctx, env.project.ID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEditService_Publish_CustomTitle(t *testing.T) {
	env := newEditEnv(t)
	title, description := "  Spring copy refresh ", "Reviewed by marketing."

	pr, err := env.svc.Publish(context.Background(), env.project.ID, "user-1", PublishRequest{
		Edits:       []PublishEditInput{{ElementID: env.title.ID, NewValue: "Build better"}},
		Title:       &title,
		Description: &description,
	})
	require.NoError(t, err)
	assert.Equal(t, "Spring copy refresh", pr.Title)
	assert.Equal(t, description, pr.Description)
	assert.Equal(t, "Spring copy refresh", env.host.opened[0].Title)
}

func TestEditService_Publish_UnmappableBatchChangesNothing(t *testing.T) {
	env := newEditEnv(t)

	_, err := env.svc.Publish(context.Background(), env.project.ID, "user-1", PublishRequest{Edits: []PublishEditInput{
		{ElementID: env.title.ID, NewValue: "Build better"},
		{ElementID: env.learnMore.ID, NewValue: "Read the docs"},
		{ElementID: env.contact.ID, NewValue: "Talk to us"},
	}})
	require.Error(t, err)

	var csErr *apperrors.ChangesetError
	require.True(t, errors.As(err, &csErr))
	details := csErr.Details()
	require.Len(t, details, 2)
	assert.Equal(t, env.learnMore.ID, details[0].ElementID)
	assert.Equal(t, "ambiguous_match", details[0].Reason)
	assert.Equal(t, env.contact.ID, details[1].ElementID)
	assert.Equal(t, "source_unresolved", details[1].Reason)

	assert.Empty(t, env.store.editsOf(env.project.ID))
	assert.Empty(t, env.host.branches)
	assert.Zero(t, env.store.pullRequestCount())
}

func TestEditService_Publish_UpstreamFailureKeepsDrafts(t *testing.T) {
	env := newEditEnv(t)
	env.host.openErr = errBoom

	_, err := env.svc.Publish(context.Background(), env.project.ID, "user-1", PublishRequest{Edits: []PublishEditInput{
		{ElementID: env.title.ID, NewValue: "Build better"},
	}})
	assert.ErrorIs(t, err, apperrors.ErrUpstream)

	edits := env.store.editsOf(env.project.ID)
	require.Len(t, edits, 1)
	assert.Equal(t, models.EditStatusDraft, edits[0].Status)
	assert.Nil(t, edits[0].PullRequestID)
	assert.Zero(t, env.store.pullRequestCount())

	// The surviving draft can be published once the host recovers.
	env.host.mu.Lock()
	env.host.openErr = nil
	env.host.mu.Unlock()
	pr, err := env.svc.Publish(context.Background(), env.project.ID, "user-1", PublishRequest{Edits: []PublishEditInput{
		{EditID: &edits[0].ID, ElementID: env.title.ID, NewValue: "Build better"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, pr.EditCount)
}

func TestEditService_Publish_Validation(t *testing.T) {
	env := newEditEnv(t)
	ctx := context.Background()

	tooMany := make([]PublishEditInput, 6)
	for i := range tooMany {
		tooMany[i] = PublishEditInput{ElementID: uuid.New(), NewValue: "x"}
	}

	tests := []struct {
		name    string
		req     PublishRequest
		wantErr error
	}{
		{"empty batch", PublishRequest{}, apperrors.ErrValidation},
		{"over the cap", PublishRequest{Edits: tooMany}, apperrors.ErrValidation},
		{"duplicate element", PublishRequest{Edits: []PublishEditInput{
			{ElementID: env.title.ID, NewValue: "A"},
			{ElementID: env.title.ID, NewValue: "B"},
		}}, apperrors.ErrValidation},
		{"unchanged", PublishRequest{Edits: []PublishEditInput{
			{ElementID: env.title.ID, OriginalValue: "Same", NewValue: "Same"},
		}}, apperrors.ErrValidation},
		{"markup", PublishRequest{Edits: []PublishEditInput{
			{ElementID: env.title.ID, NewValue: `<script>alert(1)</script>`},
		}}, apperrors.ErrValidation},
		{"unknown element", PublishRequest{Edits: []PublishEditInput{
			{ElementID: uuid.New(), NewValue: "Build better"},
		}}, apperrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Publish(ctx, env.project.ID, "user-1", tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	archived := env.store.addProject(models.ProjectStatusArchived)
	_, err := env.svc.Publish(ctx, archived.ID, "user-1", PublishRequest{Edits: []PublishEditInput{
		{ElementID: env.title.ID, NewValue: "Build better"},
	}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	assert.Zero(t, env.host.openedCount())
}

func TestEditService_Publish_RejectsBoundDraft(t *testing.T) {
	env := newEditEnv(t)
	ctx := context.Background()

	draft, err := env.svc.CreateEdit(ctx, env.project.ID, "user-1", env.title.ID, "Build better")
	require.NoError(t, err)
	req := PublishRequest{Edits: []PublishEditInput{{EditID: &draft.ID, ElementID: env.title.ID, NewValue: "Build better"}}}

	_, err = env.svc.Publish(ctx, env.project.ID, "user-1", req)
	require.NoError(t, err)

	_, err = env.svc.Publish(ctx, env.project.ID, "user-1", req)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	wrongElement := PublishRequest{Edits: []PublishEditInput{{EditID: &draft.ID, ElementID: env.subtitle.ID, NewValue: "Build better"}}}
	_, err = env.svc.Publish(ctx, env.project.ID, "user-1", wrongElement)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	assert.Equal(t, 1, env.host.openedCount())
}

func TestEditService_Publish_RejectsBatchAlreadyOpen(t *testing.T) {
	env := newEditEnv(t)
	ctx := context.Background()
	req := PublishRequest{Edits: []PublishEditInput{{ElementID: env.title.ID, NewValue: "Build better"}}}

	_, err := env.svc.Publish(ctx, env.project.ID, "user-1", req)
	require.NoError(t, err)

	_, err = env.svc.Publish(ctx, env.project.ID, "user-2", req)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	// A superset of the open batch overlaps it and is refused too.
	_, err = env.svc.Publish(ctx, env.project.ID, "user-2", PublishRequest{Edits: []PublishEditInput{
		{ElementID: env.title.ID, NewValue: "Build better"},
		{ElementID: env.subtitle.ID, NewValue: "Edit copy in place"},
	}})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	// So is a different value for an element that is already in review.
	_, err = env.svc.Publish(ctx, env.project.ID, "user-2", PublishRequest{Edits: []PublishEditInput{
		{ElementID: env.title.ID, NewValue: "Build the best"},
	}})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	// Untouched elements still go through.
	_, err = env.svc.Publish(ctx, env.project.ID, "user-2", PublishRequest{Edits: []PublishEditInput{
		{ElementID: env.subtitle.ID, NewValue: "Edit copy in place"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, env.host.openedCount())
	assert.Equal(t, 2, env.store.pullRequestCount())
}

func TestEditService_Publish_ConcurrentOverlappingBatches(t *testing.T) {
	env := newEditEnv(t)
	ctx := context.Background()

	batches := []PublishRequest{
		{Edits: []PublishEditInput{{ElementID: env.title.ID, NewValue: "Build better"}}},
		{Edits: []PublishEditInput{
			{ElementID: env.title.ID, NewValue: "Build better"},
			{ElementID: env.subtitle.ID, NewValue: "Edit copy in place"},
		}},
	}

	errs := make([]error, len(batches))
	var wg sync.WaitGroup
	for i, req := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.svc.Publish(ctx, env.project.ID, "user-1", req)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, env.host.openedCount())
	assert.Equal(t, 1, env.store.pullRequestCount())
}

func TestEditService_Publish_RetryReusesDrafts(t *testing.T) {
	env := newEditEnv(t)
	ctx := context.Background()
	req := PublishRequest{Edits: []PublishEditInput{
		{ElementID: env.title.ID, NewValue: "Build better"},
		{ElementID: env.subtitle.ID, NewValue: "Edit copy in place"},
	}}

	env.host.openErr = errBoom
	_, err := env.svc.Publish(ctx, env.project.ID, "user-1", req)
	require.ErrorIs(t, err, apperrors.ErrUpstream)
	require.Len(t, env.store.editsOf(env.project.ID), 2)

	_, err = env.svc.Publish(ctx, env.project.ID, "user-1", req)
	require.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.Len(t, env.store.editsOf(env.project.ID), 2)

	env.host.mu.Lock()
	env.host.openErr = nil
	env.host.mu.Unlock()
	pr, err := env.svc.Publish(ctx, env.project.ID, "user-1", req)
	require.NoError(t, err)
	assert.Equal(t, 2, pr.EditCount)

	edits := env.store.editsOf(env.project.ID)
	require.Len(t, edits, 2)
	for _, e := range edits {
		require.NotNil(t, e.PullRequestID)
		assert.Equal(t, pr.ID, *e.PullRequestID)
	}
}

func TestEditService_Publish_DoesNotReuseOtherUsersDrafts(t *testing.T) {
	env := newEditEnv(t)
	ctx := context.Background()

	draft, err := env.svc.CreateEdit(ctx, env.project.ID, "user-1", env.title.ID, "Build better")
	require.NoError(t, err)

	_, err = env.svc.Publish(ctx, env.project.ID, "user-2", PublishRequest{Edits: []PublishEditInput{
		{ElementID: env.title.ID, NewValue: "Build better"},
	}})
	require.NoError(t, err)

	kept, err := env.editRepo.GetByID(ctx, draft.ID)
	require.NoError(t, err)
	assert.False(t, kept.IsBound())
	assert.Len(t, env.store.editsOf(env.project.ID), 2)
}

func TestEditService_Publish_ConcurrentSameBatch(t *testing.T) {
	env := newEditEnv(t)
	ctx := context.Background()

	draft, err := env.svc.CreateEdit(ctx, env.project.ID, "user-1", env.title.ID, "Build better")
	require.NoError(t, err)
	req := PublishRequest{Edits: []PublishEditInput{{EditID: &draft.ID, ElementID: env.title.ID, NewValue: "Build better"}}}

	const callers = 5
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.svc.Publish(ctx, env.project.ID, "user-1", req)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, env.host.openedCount())
	assert.Equal(t, 1, env.store.pullRequestCount())
}

func TestEditService_ListEdits_FiltersByStatus(t *testing.T) {
	env := newEditEnv(t)
	ctx := context.Background()

	first, err := env.svc.CreateEdit(ctx, env.project.ID, "user-1", env.title.ID, "Build better")
	require.NoError(t, err)
	_, err = env.svc.CreateEdit(ctx, env.project.ID, "user-1", env.subtitle.ID, "Edit copy in place")
	require.NoError(t, err)
	_, err = env.svc.UpdateStatus(ctx, env.project.ID, first.ID, models.EditStatusPendingReview, false)
	require.NoError(t, err)

	pending := models.EditStatusPendingReview
	edits, err := env.svc.ListEdits(ctx, env.project.ID, &pending)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, first.ID, edits[0].ID)

	none, err := env.svc.ListEdits(ctx, uuid.New(), nil)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	bogus := models.EditStatus("published")
	_, err = env.svc.ListEdits(ctx, env.project.ID, &bogus)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
