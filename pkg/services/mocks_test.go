package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/inplace-dev/inplace-engine/pkg/adapters/browser"
	"github.com/inplace-dev/inplace-engine/pkg/adapters/vcs"
	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
	"github.com/inplace-dev/inplace-engine/pkg/models"
	"github.com/inplace-dev/inplace-engine/pkg/repositories"
)

// mockStore backs every mock repository so that cross-table behaviour
// (job finalizers updating the project, pull requests binding edits) holds.
type mockStore struct {
	mu         sync.Mutex
	projects   map[uuid.UUID]*models.Project
	jobs       map[uuid.UUID]*models.AnalysisJob
	elements   map[uuid.UUID]*models.Element
	edits      map[uuid.UUID]*models.Edit
	prs        map[uuid.UUID]*models.PullRequest
	heartbeats map[uuid.UUID]int
	seq        int
}

func newMockStore() *mockStore {
	return &mockStore{
		projects:   make(map[uuid.UUID]*models.Project),
		jobs:       make(map[uuid.UUID]*models.AnalysisJob),
		elements:   make(map[uuid.UUID]*models.Element),
		edits:      make(map[uuid.UUID]*models.Edit),
		prs:        make(map[uuid.UUID]*models.PullRequest),
		heartbeats: make(map[uuid.UUID]int),
	}
}

// tick returns strictly increasing timestamps so ordering by time is stable.
func (s *mockStore) tick() time.Time {
	s.seq++
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Millisecond)
}

func (s *mockStore) addProject(status models.ProjectStatus) *models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &models.Project{
		ID:                 uuid.New(),
		Name:               "Acme",
		RepositoryProvider: models.RepositoryProviderGitHub,
		RepositoryRef:      "acme/site",
		TargetBranch:       "main",
		DeploymentURL:      "https://acme.test",
		Status:             status,
	}
	s.projects[p.ID] = p
	return p
}

func (s *mockStore) project(id uuid.UUID) models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.projects[id]
}

func (s *mockStore) addElement(projectID uuid.UUID, name string, typ models.ElementType, value string, sourceFile string) *models.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	el := &models.Element{
		ID:           uuid.New(),
		ProjectID:    projectID,
		Name:         name,
		Type:         typ,
		Selector:     fmt.Sprintf("html > body > p:nth-child(%d)", len(s.elements)+1),
		CurrentValue: value,
		Confidence:   0.9,
		PageURL:      "https://acme.test",
		CreatedAt:    s.tick(),
	}
	if sourceFile != "" {
		line := 1
		el.SourceFile = &sourceFile
		el.SourceLine = &line
	}
	s.elements[el.ID] = el
	return el
}

func (s *mockStore) elementsOf(projectID uuid.UUID) []models.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Element
	for _, el := range s.elements {
		if el.ProjectID == projectID {
			out = append(out, *el)
		}
	}
	sortElements(out)
	return out
}

func (s *mockStore) editsOf(projectID uuid.UUID) []models.Edit {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Edit
	for _, e := range s.edits {
		if e.ProjectID == projectID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *mockStore) pullRequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prs)
}

func (s *mockStore) heartbeatCount(jobID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeats[jobID]
}

func sortElements(els []models.Element) {
	sort.Slice(els, func(i, j int) bool {
		if els[i].PageURL != els[j].PageURL {
			return els[i].PageURL < els[j].PageURL
		}
		return els[i].Selector < els[j].Selector
	})
}

// ============================================================================
// Projects
// ============================================================================

type mockProjectRepository struct {
	store  *mockStore
	getErr error
}

var _ repositories.ProjectRepository = (*mockProjectRepository)(nil)

func (r *mockProjectRepository) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// ============================================================================
// Analysis jobs
// ============================================================================

type mockAnalysisJobRepository struct {
	store *mockStore
}

var _ repositories.AnalysisJobRepository = (*mockAnalysisJobRepository)(nil)

func (r *mockAnalysisJobRepository) Start(ctx context.Context, projectID uuid.UUID, fullRescan bool, ownerID uuid.UUID) (*models.AnalysisJob, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	p, ok := r.store.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, apperrors.ErrNotFound)
	}
	if p.IsArchived() {
		return nil, apperrors.NewValidationError("project", "archived projects cannot be analyzed")
	}
	for _, j := range r.store.jobs {
		if j.ProjectID == projectID && j.Status.IsActive() {
			return nil, apperrors.ErrAlreadyRunning
		}
	}

	now := r.store.tick()
	owner := ownerID
	job := &models.AnalysisJob{
		ID:                 uuid.New(),
		ProjectID:          projectID,
		Status:             models.AnalysisJobStatusAnalyzing,
		FullRescan:         fullRescan,
		PriorProjectStatus: p.Status,
		OwnerID:            &owner,
		LastHeartbeat:      &now,
		StartedAt:          &now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	r.store.jobs[job.ID] = job
	p.Status = models.ProjectStatusAnalyzing
	p.AnalysisError = nil

	cp := *job
	return &cp, nil
}

func (r *mockAnalysisJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	j, ok := r.store.jobs[id]
	if !ok {
		return nil, fmt.Errorf("analysis job %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

func (r *mockAnalysisJobRepository) GetActiveByProject(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error) {
	return r.find(projectID, func(j *models.AnalysisJob) bool { return j.Status.IsActive() }), nil
}

func (r *mockAnalysisJobRepository) GetLatestByProject(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error) {
	return r.find(projectID, func(*models.AnalysisJob) bool { return true }), nil
}

// find returns the newest job of the project matching keep.
func (r *mockAnalysisJobRepository) find(projectID uuid.UUID, keep func(*models.AnalysisJob) bool) *models.AnalysisJob {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var latest *models.AnalysisJob
	for _, j := range r.store.jobs {
		if j.ProjectID != projectID || !keep(j) {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil
	}
	cp := *latest
	return &cp
}

func (r *mockAnalysisJobRepository) UpdateProgress(ctx context.Context, jobID uuid.UUID, progress models.AnalysisProgress) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if j, ok := r.store.jobs[jobID]; ok && j.Status.IsActive() {
		j.PagesVisited, j.PagesFailed, j.ElementsFound = progress.PagesVisited, progress.PagesFailed, progress.ElementsFound
	}
	return nil
}

func (r *mockAnalysisJobRepository) UpdateHeartbeat(ctx context.Context, jobID, ownerID uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	j, ok := r.store.jobs[jobID]
	if !ok || j.OwnerID == nil || *j.OwnerID != ownerID {
		return nil
	}
	now := time.Now()
	j.LastHeartbeat = &now
	r.store.heartbeats[jobID]++
	return nil
}

func (r *mockAnalysisJobRepository) RequestCancel(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, j := range r.store.jobs {
		if j.ProjectID == projectID && j.Status.IsActive() {
			j.CancelRequested = true
			cp := *j
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no running analysis for project %s: %w", projectID, apperrors.ErrNotFound)
}

func (r *mockAnalysisJobRepository) IsCancelRequested(ctx context.Context, jobID uuid.UUID) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	j, ok := r.store.jobs[jobID]
	return ok && j.CancelRequested, nil
}

func (r *mockAnalysisJobRepository) Complete(ctx context.Context, jobID uuid.UUID, progress models.AnalysisProgress) (bool, error) {
	return r.finalize(jobID, models.AnalysisJobStatusReady, nil, progress, func(p *models.Project, _ models.ProjectStatus) {
		now := time.Now()
		p.Status = models.ProjectStatusReady
		p.LastAnalyzedAt = &now
		p.AnalysisError = nil
	})
}

func (r *mockAnalysisJobRepository) Fail(ctx context.Context, jobID uuid.UUID, message string, progress models.AnalysisProgress) (bool, error) {
	return r.finalize(jobID, models.AnalysisJobStatusError, &message, progress, func(p *models.Project, _ models.ProjectStatus) {
		p.Status = models.ProjectStatusError
		p.AnalysisError = &message
	})
}

func (r *mockAnalysisJobRepository) Cancel(ctx context.Context, jobID uuid.UUID, progress models.AnalysisProgress) (bool, error) {
	return r.finalize(jobID, models.AnalysisJobStatusCancelled, nil, progress, func(p *models.Project, prior models.ProjectStatus) {
		p.Status = prior
	})
}

func (r *mockAnalysisJobRepository) finalize(jobID uuid.UUID, status models.AnalysisJobStatus, message *string, progress models.AnalysisProgress, update func(*models.Project, models.ProjectStatus)) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	j, ok := r.store.jobs[jobID]
	if !ok || !j.Status.IsActive() {
		return false, nil
	}
	now := r.store.tick()
	j.Status = status
	j.Error = message
	j.PagesVisited, j.PagesFailed, j.ElementsFound = progress.PagesVisited, progress.PagesFailed, progress.ElementsFound
	j.CompletedAt = &now
	update(r.store.projects[j.ProjectID], j.PriorProjectStatus)
	return true, nil
}

func (r *mockAnalysisJobRepository) ListStale(ctx context.Context, cutoff time.Time) ([]models.AnalysisJob, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var stale []models.AnalysisJob
	for _, j := range r.store.jobs {
		if j.Status.IsActive() && j.LastHeartbeat != nil && j.LastHeartbeat.Before(cutoff) {
			stale = append(stale, *j)
		}
	}
	return stale, nil
}

// ============================================================================
// Elements
// ============================================================================

type mockElementRepository struct {
	store     *mockStore
	upsertErr error
}

var _ repositories.ElementRepository = (*mockElementRepository)(nil)

func (r *mockElementRepository) Upsert(ctx context.Context, projectID uuid.UUID, pageURL string, items []models.ElementUpsert) ([]models.Element, error) {
	if r.upsertErr != nil {
		return nil, r.upsertErr
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	bySelector := make(map[string]*models.Element)
	for _, el := range r.store.elements {
		if el.ProjectID == projectID && el.PageURL == pageURL {
			bySelector[el.Selector] = el
		}
	}

	stored := make([]*models.Element, len(items))
	for i, it := range items {
		el, ok := bySelector[it.Selector]
		if !ok {
			el = &models.Element{ID: uuid.New(), ProjectID: projectID, PageURL: pageURL, Selector: it.Selector, CreatedAt: r.store.tick()}
			r.store.elements[el.ID] = el
			bySelector[it.Selector] = el
		}
		el.Name, el.Type, el.XPath = it.Name, it.Type, it.XPath
		el.SourceFile, el.SourceLine, el.SourceColumn = it.SourceFile, it.SourceLine, it.SourceColumn
		el.CurrentValue, el.Confidence = it.CurrentValue, it.Confidence
		el.UpdatedAt = r.store.tick()
		stored[i] = el
	}

	out := make([]models.Element, len(items))
	for i, it := range items {
		stored[i].ParentID = nil
		if it.ParentSelector != nil {
			if parent, ok := bySelector[*it.ParentSelector]; ok {
				stored[i].ParentID = &parent.ID
			}
		}
		out[i] = *stored[i]
	}
	return out, nil
}

func (r *mockElementRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Element, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	el, ok := r.store.elements[id]
	if !ok {
		return nil, fmt.Errorf("element %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *el
	return &cp, nil
}

func (r *mockElementRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Element, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.Element
	for _, id := range ids {
		if el, ok := r.store.elements[id]; ok {
			out = append(out, *el)
		}
	}
	return out, nil
}

func (r *mockElementRepository) List(ctx context.Context, projectID uuid.UUID, filter models.ElementFilter, limit, offset int) ([]models.Element, int, error) {
	all := r.store.elementsOf(projectID)
	var matched []models.Element
	for _, el := range all {
		if filter.Type != nil && el.Type != *filter.Type {
			continue
		}
		if filter.PageURL != nil && el.PageURL != *filter.PageURL {
			continue
		}
		matched = append(matched, el)
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}

func (r *mockElementRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Element, error) {
	return r.store.elementsOf(projectID), nil
}

func (r *mockElementRepository) ListByPage(ctx context.Context, projectID uuid.UUID, pageURL string) ([]models.Element, error) {
	var out []models.Element
	for _, el := range r.store.elementsOf(projectID) {
		if el.PageURL == pageURL {
			out = append(out, el)
		}
	}
	return out, nil
}

// ============================================================================
// Edits
// ============================================================================

type mockEditRepository struct {
	store     *mockStore
	createErr error
}

var _ repositories.EditRepository = (*mockEditRepository)(nil)

func (r *mockEditRepository) Create(ctx context.Context, edit *models.Edit) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	edit.ID = uuid.New()
	edit.CreatedAt = r.store.tick()
	edit.UpdatedAt = edit.CreatedAt
	cp := *edit
	r.store.edits[edit.ID] = &cp
	return nil
}

func (r *mockEditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Edit, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e, ok := r.store.edits[id]
	if !ok {
		return nil, fmt.Errorf("edit %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (r *mockEditRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Edit, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.Edit
	for _, id := range ids {
		if e, ok := r.store.edits[id]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *mockEditRepository) ListByProject(ctx context.Context, projectID uuid.UUID, status *models.EditStatus) ([]models.Edit, error) {
	var out []models.Edit
	for _, e := range r.store.editsOf(projectID) {
		if status == nil || e.Status == *status {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *mockEditRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.EditStatus) (*models.Edit, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e, ok := r.store.edits[id]
	if !ok {
		return nil, fmt.Errorf("edit %s: %w", id, apperrors.ErrNotFound)
	}
	if e.Status != from {
		return nil, fmt.Errorf("edit %s is no longer %s: %w", id, from, apperrors.ErrConflict)
	}
	e.Status = to
	e.UpdatedAt = r.store.tick()
	cp := *e
	return &cp, nil
}

func (r *mockEditRepository) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e, ok := r.store.edits[id]
	if !ok {
		return fmt.Errorf("edit %s: %w", id, apperrors.ErrNotFound)
	}
	if e.Status != models.EditStatusDraft || e.IsBound() {
		return fmt.Errorf("only unpublished drafts can be discarded: %w", apperrors.ErrConflict)
	}
	delete(r.store.edits, id)
	return nil
}

func (r *mockEditRepository) ListOpenCoverage(ctx context.Context, projectID uuid.UUID) ([]models.EditCoverage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.EditCoverage
	for _, e := range r.store.edits {
		if e.ProjectID != projectID || e.PullRequestID == nil {
			continue
		}
		if pr, ok := r.store.prs[*e.PullRequestID]; ok && pr.Status == models.PullRequestStatusOpen {
			out = append(out, models.EditCoverage{PullRequestID: pr.ID, ElementID: e.ElementID, NewValue: e.NewValue})
		}
	}
	return out, nil
}

// ============================================================================
// Pull requests
// ============================================================================

type mockPullRequestRepository struct {
	store *mockStore
}

var _ repositories.PullRequestRepository = (*mockPullRequestRepository)(nil)

func (r *mockPullRequestRepository) CreateWithEdits(ctx context.Context, pr *models.PullRequest, editIDs []uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, id := range editIDs {
		e, ok := r.store.edits[id]
		if !ok || e.ProjectID != pr.ProjectID || e.Status != models.EditStatusDraft || e.IsBound() {
			return fmt.Errorf("edit %s changed during publish: %w", id, apperrors.ErrConflict)
		}
	}

	pr.ID = uuid.New()
	if pr.Status == "" {
		pr.Status = models.PullRequestStatusOpen
	}
	pr.CreatedAt = r.store.tick()
	pr.UpdatedAt = pr.CreatedAt
	pr.EditCount = len(editIDs)
	cp := *pr
	r.store.prs[pr.ID] = &cp

	for _, id := range editIDs {
		e := r.store.edits[id]
		e.Status = models.EditStatusPendingReview
		e.PullRequestID = &cp.ID
	}
	return nil
}

func (r *mockPullRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PullRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	pr, ok := r.store.prs[id]
	if !ok {
		return nil, fmt.Errorf("pull request %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *pr
	return &cp, nil
}

func (r *mockPullRequestRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.PullRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.PullRequest
	for _, pr := range r.store.prs {
		if pr.ProjectID == projectID {
			out = append(out, *pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ============================================================================
// Version-control host
// ============================================================================

// mockHost is an in-memory repository. SearchCode matches file contents
// literally, like the hosted code search does for exact phrases.
type mockHost struct {
	mu       sync.Mutex
	files    map[string]string
	branches []string
	commits  map[string][]vcs.FileChange
	opened   []vcs.PullRequestParams
	reads    int

	searchErr    error
	getErr       error
	branchErr    error
	openErr      error
	openPRNumber int
}

func newMockHost(files map[string]string) *mockHost {
	return &mockHost{files: files, commits: make(map[string][]vcs.FileChange), openPRNumber: 41}
}

var _ vcs.Host = (*mockHost)(nil)

func (h *mockHost) GetFileContent(ctx context.Context, path, ref string) (*vcs.FileContent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reads++
	if h.getErr != nil {
		return nil, h.getErr
	}
	content, ok := h.files[path]
	if !ok {
		return nil, &vcs.Error{Op: "get file", StatusCode: 404}
	}
	return &vcs.FileContent{Path: path, Content: content, SHA: "sha-" + path}, nil
}

func (h *mockHost) SearchCode(ctx context.Context, query string) ([]vcs.CodeSearchResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.searchErr != nil {
		return nil, h.searchErr
	}
	var results []vcs.CodeSearchResult
	for path, content := range h.files {
		if strings.Contains(content, query) {
			results = append(results, vcs.CodeSearchResult{Path: path, SHA: "sha-" + path})
		}
	}
	return results, nil
}

func (h *mockHost) CreateBranch(ctx context.Context, name, base string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.branchErr != nil {
		return h.branchErr
	}
	h.branches = append(h.branches, name)
	return nil
}

func (h *mockHost) CommitFiles(ctx context.Context, branch string, changes []vcs.FileChange) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commits[branch] = append(h.commits[branch], changes...)
	return nil
}

func (h *mockHost) OpenPullRequest(ctx context.Context, params vcs.PullRequestParams) (*vcs.PullRequestResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openErr != nil {
		return nil, h.openErr
	}
	h.opened = append(h.opened, params)
	h.openPRNumber++
	return &vcs.PullRequestResult{
		Number: h.openPRNumber,
		URL:    fmt.Sprintf("https://github.com/acme/site/pull/%d", h.openPRNumber),
	}, nil
}

func (h *mockHost) openedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.opened)
}

type mockVCSFactory struct {
	host vcs.Host
	err  error
}

func (f *mockVCSFactory) ForProject(project *models.Project) (vcs.Host, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.host, nil
}

// ============================================================================
// Browser
// ============================================================================

// mockSite serves canned documents. When gate is set, Navigate blocks until
// the gate is closed or the context ends.
type mockSite struct {
	mu        sync.Mutex
	pages     map[string]string
	links     map[string][]string
	gate      chan struct{}
	navigated []string
}

func (s *mockSite) NewSession(ctx context.Context) (browser.Session, error) {
	return &mockSession{site: s}, nil
}

type mockSession struct {
	site    *mockSite
	current string
}

func (m *mockSession) Navigate(ctx context.Context, url string) (*browser.Page, error) {
	if m.site.gate != nil {
		select {
		case <-m.site.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.site.mu.Lock()
	defer m.site.mu.Unlock()
	m.site.navigated = append(m.site.navigated, url)
	m.current = ""
	if _, ok := m.site.pages[url]; !ok {
		return nil, fmt.Errorf("navigate %s: status 404", url)
	}
	m.current = url
	return &browser.Page{URL: url, Title: "Acme", StatusCode: 200}, nil
}

func (m *mockSession) ExtractDOM(ctx context.Context) (*html.Node, error) {
	if m.current == "" {
		return nil, browser.ErrNoPage
	}
	m.site.mu.Lock()
	doc := m.site.pages[m.current]
	m.site.mu.Unlock()
	return html.Parse(strings.NewReader(doc))
}

func (m *mockSession) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	return nil, browser.ErrNotSupported
}

func (m *mockSession) GetLinks(ctx context.Context) ([]string, error) {
	m.site.mu.Lock()
	defer m.site.mu.Unlock()
	return m.site.links[m.current], nil
}

func (m *mockSession) Close() error { return nil }

// ============================================================================
// Helpers
// ============================================================================

func passthroughTenantCtx(ctx context.Context, projectID uuid.UUID) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

func passthroughCrossTenantCtx(ctx context.Context) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

var errBoom = errors.New("boom")
