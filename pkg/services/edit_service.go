package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/adapters/vcs"
	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
	"github.com/inplace-dev/inplace-engine/pkg/auth"
	"github.com/inplace-dev/inplace-engine/pkg/metrics"
	"github.com/inplace-dev/inplace-engine/pkg/models"
	"github.com/inplace-dev/inplace-engine/pkg/repositories"
)

const (
	// MaxEditValueLength bounds a single edited value, in characters.
	MaxEditValueLength = 10000

	defaultMaxPublishEdits = 100
)

// PublishEditInput is one edit of a publish batch. EditID refers to an
// existing draft; without it a new draft is created.
type PublishEditInput struct {
	EditID        *uuid.UUID `json:"editId,omitempty"`
	ElementID     uuid.UUID  `json:"elementId"`
	OriginalValue string     `json:"originalValue"`
	NewValue      string     `json:"newValue"`
}

// PublishRequest is a batch of edits to publish as one pull request.
type PublishRequest struct {
	Edits       []PublishEditInput `json:"edits"`
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
}

// EditService manages draft edits and publishes them as pull requests.
type EditService interface {
	CreateEdit(ctx context.Context, projectID uuid.UUID, userID string, elementID uuid.UUID, newValue string) (*models.Edit, error)
	ListEdits(ctx context.Context, projectID uuid.UUID, status *models.EditStatus) ([]models.Edit, error)

	// DiscardEdit deletes a draft that is not part of a pull request.
	DiscardEdit(ctx context.Context, projectID, editID uuid.UUID) error

	// UpdateStatus moves an edit forward. With override an admin may set any status.
	UpdateStatus(ctx context.Context, projectID, editID uuid.UUID, status models.EditStatus, override bool) (*models.Edit, error)

	// Publish maps the batch onto source files, opens a pull request and binds
	// the edits to it. Either every edit ends up pending review on the new
	// pull request or none changes state. Publish is not cancellable.
	Publish(ctx context.Context, projectID uuid.UUID, userID string, req PublishRequest) (*models.PullRequest, error)

	ListPullRequests(ctx context.Context, projectID uuid.UUID) ([]models.PullRequest, error)

	// GetPullRequest returns ErrNotFound for pull requests of other projects.
	GetPullRequest(ctx context.Context, projectID, pullRequestID uuid.UUID) (*models.PullRequest, error)
}

type editService struct {
	projectRepo repositories.ProjectRepository
	elementRepo repositories.ElementRepository
	editRepo    repositories.EditRepository
	prRepo      repositories.PullRequestRepository

	vcsFactory vcs.Factory
	generator  ChangesetGenerator
	publisher  Publisher
	locker     ProjectLocker
	maxEdits   int

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEditService creates a new EditService.
func NewEditService(
	projectRepo repositories.ProjectRepository,
	elementRepo repositories.ElementRepository,
	editRepo repositories.EditRepository,
	prRepo repositories.PullRequestRepository,
	vcsFactory vcs.Factory,
	generator ChangesetGenerator,
	publisher Publisher,
	locker ProjectLocker,
	maxEdits int,
	m *metrics.Metrics,
	logger *zap.Logger,
) EditService {
	if maxEdits < 1 {
		maxEdits = defaultMaxPublishEdits
	}
	return &editService{
		projectRepo: projectRepo,
		elementRepo: elementRepo,
		editRepo:    editRepo,
		prRepo:      prRepo,
		vcsFactory:  vcsFactory,
		generator:   generator,
		publisher:   publisher,
		locker:      locker,
		maxEdits:    maxEdits,
		metrics:     m,
		logger:      logger.Named("edits"),
	}
}

var _ EditService = (*editService)(nil)

func (s *editService) CreateEdit(ctx context.Context, projectID uuid.UUID, userID string, elementID uuid.UUID, newValue string) (*models.Edit, error) {
	if err := validateValue("newValue", newValue); err != nil {
		return nil, err
	}

	el, err := s.getElement(ctx, projectID, elementID)
	if err != nil {
		return nil, err
	}
	if el.CurrentValue == "" {
		return nil, apperrors.NewValidationError("elementId", "element has no editable value")
	}
	if el.CurrentValue == newValue {
		return nil, apperrors.NewValidationError("newValue", "value is unchanged")
	}

	edit := &models.Edit{
		ProjectID: projectID,
		ElementID: elementID,
		UserID:    userID,
		OldValue:  el.CurrentValue,
		NewValue:  newValue,
		Status:    models.EditStatusDraft,
	}
	if err := s.editRepo.Create(ctx, edit); err != nil {
		return nil, fmt.Errorf("create edit: %w", err)
	}

	s.logger.Debug("Draft edit created",
		zap.String("project_id", projectID.String()),
		zap.String("edit_id", edit.ID.String()),
		zap.String("element_id", elementID.String()))
	return edit, nil
}

func (s *editService) ListEdits(ctx context.Context, projectID uuid.UUID, status *models.EditStatus) ([]models.Edit, error) {
	if status != nil && !models.IsValidEditStatus(*status) {
		return nil, apperrors.NewValidationError("status", fmt.Sprintf("unknown edit status %q", *status))
	}
	edits, err := s.editRepo.ListByProject(ctx, projectID, status)
	if err != nil {
		return nil, fmt.Errorf("list edits: %w", err)
	}
	if edits == nil {
		edits = []models.Edit{}
	}
	return edits, nil
}

func (s *editService) DiscardEdit(ctx context.Context, projectID, editID uuid.UUID) error {
	if _, err := s.getEdit(ctx, projectID, editID); err != nil {
		return err
	}
	return s.editRepo.DeleteDraft(ctx, editID)
}

func (s *editService) UpdateStatus(ctx context.Context, projectID, editID uuid.UUID, status models.EditStatus, override bool) (*models.Edit, error) {
	if !models.IsValidEditStatus(status) {
		return nil, apperrors.NewValidationError("status", fmt.Sprintf("unknown edit status %q", status))
	}
	if override && !auth.IsAdmin(ctx) {
		return nil, fmt.Errorf("status override requires the admin role: %w", apperrors.ErrForbidden)
	}

	edit, err := s.getEdit(ctx, projectID, editID)
	if err != nil {
		return nil, err
	}
	if edit.Status == status {
		return edit, nil
	}
	if !override && !edit.Status.CanTransition(status) {
		return nil, fmt.Errorf("edit cannot move from %s to %s: %w", edit.Status, status, apperrors.ErrConflict)
	}

	updated, err := s.editRepo.UpdateStatus(ctx, editID, edit.Status, status)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Edit status changed",
		zap.String("edit_id", editID.String()),
		zap.String("from", string(edit.Status)),
		zap.String("to", string(status)),
		zap.Bool("override", override))
	return updated, nil
}

func (s *editService) Publish(ctx context.Context, projectID uuid.UUID, userID string, req PublishRequest) (*models.PullRequest, error) {
	// Once started, a publish runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	pr, err := s.publish(ctx, projectID, userID, req)
	s.metrics.PublishFinished(publishOutcome(err))
	return pr, err
}

func (s *editService) publish(ctx context.Context, projectID uuid.UUID, userID string, req PublishRequest) (*models.PullRequest, error) {
	// 1. Validate and serialize per project.
	if err := s.validatePublish(req); err != nil {
		return nil, err
	}
	project, err := s.projectRepo.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.IsArchived() {
		return nil, apperrors.NewValidationError("project", "project is archived")
	}

	unlock, err := s.locker.Lock(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("acquire publish lock: %w", err)
	}
	defer unlock()

	// 2. Resolve elements and existing drafts.
	elements, err := s.resolveElements(ctx, projectID, req.Edits)
	if err != nil {
		return nil, err
	}
	existing, err := s.resolveDrafts(ctx, projectID, req.Edits)
	if err != nil {
		return nil, err
	}

	// 3. Map every edit onto its source file.
	host, err := s.vcsFactory.ForProject(project)
	if err != nil {
		return nil, apperrors.NewValidationError("repository", err.Error())
	}
	batch := make([]ChangesetEdit, len(req.Edits))
	batchElements := make([]models.Element, len(req.Edits))
	for i, in := range req.Edits {
		el := elements[in.ElementID]
		oldValue := in.OriginalValue
		if oldValue == "" {
			oldValue = el.CurrentValue
			if in.EditID != nil {
				oldValue = existing[*in.EditID].OldValue
			}
		}
		batch[i] = ChangesetEdit{EditID: in.EditID, Element: el, OldValue: oldValue, NewValue: in.NewValue}
		batchElements[i] = *el
	}
	changeset, err := s.generator.Build(ctx, host, project.TargetBranch, batch)
	if err != nil {
		return nil, err
	}

	// 4. Refuse elements an open pull request already changes.
	if err := s.checkOpenCoverage(ctx, projectID, req.Edits); err != nil {
		return nil, err
	}

	// 5. Persist new drafts. They stay drafts if publishing fails, and a
	// retry picks them up again.
	reusable, err := s.findReusableDrafts(ctx, projectID, userID, req.Edits)
	if err != nil {
		return nil, err
	}
	editIDs := make([]uuid.UUID, len(req.Edits))
	for i, in := range req.Edits {
		if in.EditID != nil {
			if existing[*in.EditID].NewValue != in.NewValue {
				return nil, apperrors.NewValidationError("edits", fmt.Sprintf("edit %s has a different new value", *in.EditID))
			}
			editIDs[i] = *in.EditID
			continue
		}
		if id, ok := reusable[in.ElementID]; ok {
			editIDs[i] = id
			continue
		}
		edit := &models.Edit{
			ProjectID: projectID,
			ElementID: in.ElementID,
			UserID:    userID,
			OldValue:  batch[i].OldValue,
			NewValue:  in.NewValue,
			Status:    models.EditStatusDraft,
		}
		if err := s.editRepo.Create(ctx, edit); err != nil {
			return nil, fmt.Errorf("persist draft: %w", err)
		}
		editIDs[i] = edit.ID
	}

	// 6. Branch, commits and pull request.
	title := DefaultTitle(batchElements)
	if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
		title = strings.TrimSpace(*req.Title)
	}
	description := DefaultDescription(batchElements, changeset)
	if req.Description != nil && strings.TrimSpace(*req.Description) != "" {
		description = *req.Description
	}

	result, err := s.publisher.Publish(ctx, host, project, changeset, title, description)
	if err != nil {
		s.logger.Error("Publish failed",
			zap.String("project_id", projectID.String()),
			zap.Int("edits", len(editIDs)),
			zap.Error(err))
		return nil, err
	}

	// 7. Record the pull request and bind the batch to it.
	pr := &models.PullRequest{
		ProjectID:   projectID,
		UserID:      userID,
		PRNumber:    result.PRNumber,
		PRURL:       result.PRURL,
		Title:       title,
		Description: description,
		BranchName:  result.BranchName,
		Status:      models.PullRequestStatusOpen,
	}
	if err := s.prRepo.CreateWithEdits(ctx, pr, editIDs); err != nil {
		s.logger.Error("Pull request opened but edits could not be bound",
			zap.String("project_id", projectID.String()),
			zap.String("pr_url", result.PRURL),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Published edits",
		zap.String("project_id", projectID.String()),
		zap.String("pull_request_id", pr.ID.String()),
		zap.Int("pr_number", pr.PRNumber),
		zap.Int("edits", pr.EditCount))
	return pr, nil
}

func (s *editService) ListPullRequests(ctx context.Context, projectID uuid.UUID) ([]models.PullRequest, error) {
	prs, err := s.prRepo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	if prs == nil {
		prs = []models.PullRequest{}
	}
	return prs, nil
}

func (s *editService) GetPullRequest(ctx context.Context, projectID, pullRequestID uuid.UUID) (*models.PullRequest, error) {
	pr, err := s.prRepo.GetByID(ctx, pullRequestID)
	if err != nil {
		return nil, err
	}
	if pr.ProjectID != projectID {
		return nil, fmt.Errorf("pull request %s: %w", pullRequestID, apperrors.ErrNotFound)
	}
	return pr, nil
}

func (s *editService) validatePublish(req PublishRequest) error {
	if len(req.Edits) == 0 {
		return apperrors.NewValidationError("edits", "at least one edit is required")
	}
	if len(req.Edits) > s.maxEdits {
		return apperrors.NewValidationError("edits", fmt.Sprintf("at most %d edits can be published at once", s.maxEdits))
	}

	seen := make(map[uuid.UUID]struct{}, len(req.Edits))
	for i, in := range req.Edits {
		field := fmt.Sprintf("edits[%d]", i)
		if in.ElementID == uuid.Nil {
			return apperrors.NewValidationError(field+".elementId", "is required")
		}
		if _, dup := seen[in.ElementID]; dup {
			return apperrors.NewValidationError(field+".elementId", "element appears more than once in the batch")
		}
		seen[in.ElementID] = struct{}{}

		if err := validateValue(field+".newValue", in.NewValue); err != nil {
			return err
		}
		if in.OriginalValue != "" && in.OriginalValue == in.NewValue {
			return apperrors.NewValidationError(field+".newValue", "value is unchanged")
		}
	}
	return nil
}

func (s *editService) resolveElements(ctx context.Context, projectID uuid.UUID, inputs []PublishEditInput) (map[uuid.UUID]*models.Element, error) {
	ids := make([]uuid.UUID, len(inputs))
	for i, in := range inputs {
		ids[i] = in.ElementID
	}
	found, err := s.elementRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load elements: %w", err)
	}

	elements := make(map[uuid.UUID]*models.Element, len(found))
	for i := range found {
		if found[i].ProjectID == projectID {
			elements[found[i].ID] = &found[i]
		}
	}
	for _, id := range ids {
		if _, ok := elements[id]; !ok {
			return nil, fmt.Errorf("element %s: %w", id, apperrors.ErrNotFound)
		}
	}
	return elements, nil
}

// resolveDrafts loads the referenced edits; each must be an unbound draft
// for the same element.
func (s *editService) resolveDrafts(ctx context.Context, projectID uuid.UUID, inputs []PublishEditInput) (map[uuid.UUID]*models.Edit, error) {
	var ids []uuid.UUID
	for _, in := range inputs {
		if in.EditID != nil {
			ids = append(ids, *in.EditID)
		}
	}
	drafts := make(map[uuid.UUID]*models.Edit, len(ids))
	if len(ids) == 0 {
		return drafts, nil
	}

	found, err := s.editRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load edits: %w", err)
	}
	for i := range found {
		if found[i].ProjectID == projectID {
			drafts[found[i].ID] = &found[i]
		}
	}

	for _, in := range inputs {
		if in.EditID == nil {
			continue
		}
		edit, ok := drafts[*in.EditID]
		if !ok {
			return nil, fmt.Errorf("edit %s: %w", *in.EditID, apperrors.ErrNotFound)
		}
		if edit.ElementID != in.ElementID {
			return nil, apperrors.NewValidationError("edits", fmt.Sprintf("edit %s belongs to another element", edit.ID))
		}
		if edit.Status != models.EditStatusDraft || edit.IsBound() {
			return nil, fmt.Errorf("edit %s is %s: %w", edit.ID, edit.Status, apperrors.ErrConflict)
		}
	}
	return drafts, nil
}

// checkOpenCoverage returns ErrConflict when any element of the batch is
// already changed by an edit bound to an open pull request.
func (s *editService) checkOpenCoverage(ctx context.Context, projectID uuid.UUID, inputs []PublishEditInput) error {
	coverage, err := s.editRepo.ListOpenCoverage(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load open pull requests: %w", err)
	}
	if len(coverage) == 0 {
		return nil
	}

	type pair struct {
		elementID uuid.UUID
		value     string
	}
	covered := make(map[pair]uuid.UUID, len(coverage))
	byElement := make(map[uuid.UUID]uuid.UUID, len(coverage))
	for _, c := range coverage {
		covered[pair{c.ElementID, c.NewValue}] = c.PullRequestID
		byElement[c.ElementID] = c.PullRequestID
	}

	var prID uuid.UUID
	exact := true
	var overlapping []string
	for _, in := range inputs {
		id, ok := byElement[in.ElementID]
		if !ok {
			exact = false
			continue
		}
		overlapping = append(overlapping, in.ElementID.String())
		if pid, same := covered[pair{in.ElementID, in.NewValue}]; same {
			id = pid
		} else {
			exact = false
		}
		prID = id
	}
	if len(overlapping) == 0 {
		return nil
	}
	if exact {
		return fmt.Errorf("an open pull request (%s) already contains these changes: %w", prID, apperrors.ErrConflict)
	}
	return fmt.Errorf("elements %s already have changes in open pull request %s: %w",
		strings.Join(overlapping, ", "), prID, apperrors.ErrConflict)
}

// findReusableDrafts maps element IDs to unbound drafts by the same user
// carrying the same new value, so a retried batch does not duplicate them.
func (s *editService) findReusableDrafts(ctx context.Context, projectID uuid.UUID, userID string, inputs []PublishEditInput) (map[uuid.UUID]uuid.UUID, error) {
	wanted := make(map[uuid.UUID]string)
	for _, in := range inputs {
		if in.EditID == nil {
			wanted[in.ElementID] = in.NewValue
		}
	}
	reuse := make(map[uuid.UUID]uuid.UUID)
	if len(wanted) == 0 {
		return reuse, nil
	}

	status := models.EditStatusDraft
	drafts, err := s.editRepo.ListByProject(ctx, projectID, &status)
	if err != nil {
		return nil, fmt.Errorf("load drafts: %w", err)
	}
	for _, d := range drafts {
		if d.IsBound() || d.UserID != userID {
			continue
		}
		if v, ok := wanted[d.ElementID]; ok && v == d.NewValue {
			if _, taken := reuse[d.ElementID]; !taken {
				reuse[d.ElementID] = d.ID
			}
		}
	}
	return reuse, nil
}

func (s *editService) getElement(ctx context.Context, projectID, elementID uuid.UUID) (*models.Element, error) {
	el, err := s.elementRepo.GetByID(ctx, elementID)
	if err != nil {
		return nil, err
	}
	if el.ProjectID != projectID {
		return nil, fmt.Errorf("element %s: %w", elementID, apperrors.ErrNotFound)
	}
	return el, nil
}

func (s *editService) getEdit(ctx context.Context, projectID, editID uuid.UUID) (*models.Edit, error) {
	edit, err := s.editRepo.GetByID(ctx, editID)
	if err != nil {
		return nil, err
	}
	if edit.ProjectID != projectID {
		return nil, fmt.Errorf("edit %s: %w", editID, apperrors.ErrNotFound)
	}
	return edit, nil
}

// validateValue rejects empty, oversized and script-bearing values.
func validateValue(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperrors.NewValidationError(field, "must not be empty")
	}
	if utf8.RuneCountInString(value) > MaxEditValueLength {
		return apperrors.NewValidationError(field, fmt.Sprintf("must be at most %d characters", MaxEditValueLength))
	}
	if libinjection.IsXSS(value) {
		return apperrors.NewValidationError(field, "contains markup that is not allowed")
	}
	return nil
}

func publishOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperrors.ErrValidation):
		return "invalid"
	case errors.Is(err, apperrors.ErrChangeset):
		return "unmappable"
	case errors.Is(err, apperrors.ErrConflict):
		return "conflict"
	case errors.Is(err, apperrors.ErrUpstream):
		return "upstream_error"
	default:
		return "error"
	}
}
