package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/adapters/browser"
	"github.com/inplace-dev/inplace-engine/pkg/adapters/vcs"
	"github.com/inplace-dev/inplace-engine/pkg/classifier"
	"github.com/inplace-dev/inplace-engine/pkg/crawler"
	"github.com/inplace-dev/inplace-engine/pkg/logging"
	"github.com/inplace-dev/inplace-engine/pkg/metrics"
	"github.com/inplace-dev/inplace-engine/pkg/models"
	"github.com/inplace-dev/inplace-engine/pkg/repositories"
)

const defaultHeartbeatInterval = 30 * time.Second

// AnalysisStatus is the persisted analysis state of a project.
type AnalysisStatus struct {
	ProjectStatus  models.ProjectStatus `json:"projectStatus"`
	LastAnalyzedAt *time.Time           `json:"lastAnalyzedAt"`
	LastError      *string              `json:"lastError"`
	// CurrentJob is the active job, or the most recent one when idle.
	CurrentJob *models.AnalysisJob `json:"currentJob"`
}

// TriggerResult is returned once a job has been started.
type TriggerResult struct {
	JobID  uuid.UUID                `json:"jobId"`
	Status models.AnalysisJobStatus `json:"status"`
}

// AnalysisService runs crawl-and-classify jobs for projects.
type AnalysisService interface {
	// Trigger starts a job and returns immediately. ErrAlreadyRunning when a
	// job is active, ErrNotFound for unknown projects, a validation error
	// for archived ones.
	Trigger(ctx context.Context, projectID uuid.UUID, fullRescan bool) (*TriggerResult, error)

	// GetStatus reads the persisted state. Clients poll it while the
	// project status is analyzing.
	GetStatus(ctx context.Context, projectID uuid.UUID) (*AnalysisStatus, error)

	// Cancel asks the active job to stop after the page it is on.
	Cancel(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error)

	// Shutdown stops all jobs run by this process and waits for them to be
	// finalized as cancelled.
	Shutdown(ctx context.Context) error
}

type analysisService struct {
	projectRepo repositories.ProjectRepository
	jobRepo     repositories.AnalysisJobRepository
	elementRepo repositories.ElementRepository

	vcsFactory vcs.Factory
	browser    browser.Browser
	classifier classifier.ElementClassifier
	crawlCfg   crawler.Config

	getTenantCtx TenantContextFunc
	metrics      *metrics.Metrics
	logger       *zap.Logger

	// Ownership tracking for graceful shutdown
	serverInstanceID  uuid.UUID
	activeJobs        sync.Map // jobID -> cancelFunc
	heartbeatCancel   sync.Map // jobID -> cancelFunc
	heartbeatInterval time.Duration
	runs              sync.WaitGroup
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(
	projectRepo repositories.ProjectRepository,
	jobRepo repositories.AnalysisJobRepository,
	elementRepo repositories.ElementRepository,
	vcsFactory vcs.Factory,
	b browser.Browser,
	c classifier.ElementClassifier,
	crawlCfg crawler.Config,
	getTenantCtx TenantContextFunc,
	m *metrics.Metrics,
	logger *zap.Logger,
) *analysisService {
	return &analysisService{
		projectRepo:       projectRepo,
		jobRepo:           jobRepo,
		elementRepo:       elementRepo,
		vcsFactory:        vcsFactory,
		browser:           b,
		classifier:        c,
		crawlCfg:          crawlCfg,
		getTenantCtx:      getTenantCtx,
		metrics:           m,
		logger:            logger.Named("analysis"),
		serverInstanceID:  uuid.New(),
		heartbeatInterval: defaultHeartbeatInterval,
	}
}

var _ AnalysisService = (*analysisService)(nil)

func (s *analysisService) Trigger(ctx context.Context, projectID uuid.UUID, fullRescan bool) (*TriggerResult, error) {
	project, err := s.projectRepo.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	job, err := s.jobRepo.Start(ctx, projectID, fullRescan, s.serverInstanceID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Analysis started",
		zap.String("project_id", projectID.String()),
		zap.String("job_id", job.ID.String()),
		zap.Bool("full_rescan", fullRescan))

	// Ownership is recorded before the goroutine starts so a Cancel that
	// arrives immediately sees a local runner.
	runCtx, cancel := context.WithCancel(context.Background())
	s.activeJobs.Store(job.ID, cancel)
	s.runs.Add(1)
	go s.runAnalysis(runCtx, cancel, project, job)

	return &TriggerResult{JobID: job.ID, Status: models.AnalysisJobStatusAnalyzing}, nil
}

func (s *analysisService) GetStatus(ctx context.Context, projectID uuid.UUID) (*AnalysisStatus, error) {
	project, err := s.projectRepo.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	job, err := s.jobRepo.GetActiveByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("get active job: %w", err)
	}
	if job == nil {
		job, err = s.jobRepo.GetLatestByProject(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("get latest job: %w", err)
		}
	}

	return &AnalysisStatus{
		ProjectStatus:  project.Status,
		LastAnalyzedAt: project.LastAnalyzedAt,
		LastError:      project.AnalysisError,
		CurrentJob:     job,
	}, nil
}

func (s *analysisService) Cancel(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error) {
	job, err := s.jobRepo.RequestCancel(ctx, projectID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Cancellation requested",
		zap.String("project_id", projectID.String()),
		zap.String("job_id", job.ID.String()))

	if _, owned := s.activeJobs.Load(job.ID); owned {
		return job, nil
	}
	if s.runningElsewhere(job) {
		s.logger.Debug("Job runs on another instance; it will observe the flag",
			zap.String("job_id", job.ID.String()),
			zap.String("owner_id", job.OwnerID.String()))
		return job, nil
	}

	// Nobody will observe the flag; finalize now so the project does not
	// stay in analyzing.
	finalized, err := s.jobRepo.Cancel(ctx, job.ID, progressOf(job))
	if err != nil {
		return nil, fmt.Errorf("finalize orphaned job: %w", err)
	}
	if !finalized {
		// Its runner or the reaper got there first.
		return s.jobRepo.GetByID(ctx, job.ID)
	}
	job.Status = models.AnalysisJobStatusCancelled
	s.logger.Info("Finalized orphaned job as cancelled", zap.String("job_id", job.ID.String()))
	return job, nil
}

// runningElsewhere reports whether another instance owns the job and has
// sent a heartbeat within three heartbeat intervals.
func (s *analysisService) runningElsewhere(job *models.AnalysisJob) bool {
	if job.OwnerID == nil || *job.OwnerID == s.serverInstanceID || job.LastHeartbeat == nil {
		return false
	}
	return time.Since(*job.LastHeartbeat) < 3*s.heartbeatInterval
}

func (s *analysisService) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down analysis service",
		zap.String("server_instance_id", s.serverInstanceID.String()))

	s.activeJobs.Range(func(key, value any) bool {
		jobID := key.(uuid.UUID)
		s.logger.Info("Cancelling job for shutdown", zap.String("job_id", jobID.String()))
		value.(context.CancelFunc)()
		s.stopHeartbeat(jobID)
		return true
	})

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("analysis jobs still running: %w", ctx.Err())
	}
}

// runAnalysis crawls the project's site in the background and finalizes the job.
func (s *analysisService) runAnalysis(ctx context.Context, cancel context.CancelFunc, project *models.Project, job *models.AnalysisJob) {
	s.metrics.AnalysisStarted()
	outcome := string(models.AnalysisJobStatusError)
	var progress models.AnalysisProgress

	// Set up defer FIRST to ensure cleanup happens even if panic occurs
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Analysis panicked",
				zap.String("job_id", job.ID.String()),
				zap.String("project_id", project.ID.String()),
				zap.Any("panic", r),
				zap.Stack("stack"))
			s.finalize(project.ID, job.ID, models.AnalysisJobStatusError, fmt.Sprintf("panic during analysis: %v", r), progress)
			outcome = string(models.AnalysisJobStatusError)
		}

		s.activeJobs.Delete(job.ID)
		s.stopHeartbeat(job.ID)
		cancel()
		s.metrics.AnalysisFinished(outcome)
		s.runs.Done()
	}()

	s.startHeartbeat(job.ID, project.ID)

	tenantCtx, cleanup, err := s.getTenantCtx(ctx, project.ID)
	if err != nil {
		s.logger.Error("Failed to get tenant context", zap.Error(err))
		s.finalize(project.ID, job.ID, models.AnalysisJobStatusError, "failed to get tenant context", progress)
		return
	}
	defer cleanup()

	locator := s.sourceLocator(project)
	visit := func(ctx context.Context, page *crawler.PageResult) error {
		stored, err := s.mergePage(ctx, project.ID, job.FullRescan, locator, page)
		if err != nil {
			return err
		}
		s.metrics.PageCrawled(true)
		s.metrics.ElementsUpserted(stored)

		progress.PagesVisited++
		progress.ElementsFound += stored
		if err := s.jobRepo.UpdateProgress(ctx, job.ID, progress); err != nil {
			s.logger.Warn("Failed to record progress", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
		return nil
	}
	shouldStop := func(ctx context.Context) bool {
		requested, err := s.jobRepo.IsCancelRequested(ctx, job.ID)
		if err != nil {
			s.logger.Warn("Failed to read cancel flag", zap.String("job_id", job.ID.String()), zap.Error(err))
			return false
		}
		return requested
	}

	summary, err := crawler.New(s.browser, s.classifier, s.crawlCfg, s.logger).
		Crawl(tenantCtx, project.DeploymentURL, shouldStop, visit)
	if summary != nil {
		progress.PagesFailed = summary.PagesFailed
		for range summary.Failures {
			s.metrics.PageCrawled(false)
		}
	}

	switch {
	case ctx.Err() != nil || (err == nil && summary.Cancelled):
		outcome = string(models.AnalysisJobStatusCancelled)
		s.finalize(project.ID, job.ID, models.AnalysisJobStatusCancelled, "", progress)
	case err != nil:
		s.logger.Error("Analysis failed",
			zap.String("job_id", job.ID.String()),
			zap.String("project_id", project.ID.String()),
			zap.Error(err))
		s.finalize(project.ID, job.ID, models.AnalysisJobStatusError, logging.SanitizeError(err), progress)
	default:
		outcome = string(models.AnalysisJobStatusReady)
		s.finalize(project.ID, job.ID, models.AnalysisJobStatusReady, "", progress)
	}
}

// mergePage upserts one page's candidates and returns how many were stored.
// Unless fullRescan is set, an element whose value did not change keeps the
// source location found by an earlier run.
func (s *analysisService) mergePage(
	ctx context.Context,
	projectID uuid.UUID,
	fullRescan bool,
	locator *classifier.SourceLocator,
	page *crawler.PageResult,
) (int, error) {
	if len(page.Elements) == 0 {
		return 0, nil
	}

	previous := make(map[string]models.Element)
	if !fullRescan {
		existing, err := s.elementRepo.ListByPage(ctx, projectID, page.PageURL)
		if err != nil {
			return 0, fmt.Errorf("list existing elements: %w", err)
		}
		for _, el := range existing {
			previous[el.Selector] = el
		}
	}

	items := make([]models.ElementUpsert, 0, len(page.Elements))
	for _, cand := range page.Elements {
		item := models.ElementUpsert{
			Name:           cand.Name,
			Type:           cand.Type,
			Selector:       cand.Selector,
			CurrentValue:   cand.CurrentValue,
			Confidence:     cand.Confidence,
			ParentSelector: cand.ParentSelector,
		}
		if cand.XPath != "" {
			xpath := cand.XPath
			item.XPath = &xpath
		}

		if cand.CurrentValue != "" {
			if prev, ok := previous[cand.Selector]; ok && prev.HasSource() && prev.CurrentValue == cand.CurrentValue {
				item.SourceFile, item.SourceLine, item.SourceColumn = prev.SourceFile, prev.SourceLine, prev.SourceColumn
			} else if locator != nil {
				if loc := locator.Locate(ctx, cand.CurrentValue); loc != nil {
					file, line, column := loc.File, loc.Line, loc.Column
					item.SourceFile, item.SourceLine, item.SourceColumn = &file, &line, &column
				}
			}
		}
		items = append(items, item)
	}

	stored, err := s.elementRepo.Upsert(ctx, projectID, page.PageURL, items)
	if err != nil {
		return 0, fmt.Errorf("merge elements: %w", err)
	}
	return len(stored), nil
}

// sourceLocator returns nil when the repository cannot be reached; elements
// are then stored without source locations.
func (s *analysisService) sourceLocator(project *models.Project) *classifier.SourceLocator {
	if s.vcsFactory == nil {
		return nil
	}
	host, err := s.vcsFactory.ForProject(project)
	if err != nil {
		s.logger.Warn("Source lookup disabled for project",
			zap.String("project_id", project.ID.String()),
			zap.Error(err))
		return nil
	}
	return classifier.NewSourceLocator(host, project.TargetBranch, s.logger)
}

// finalize records a terminal job status on a fresh tenant scope, since the
// run context may already be cancelled.
func (s *analysisService) finalize(projectID, jobID uuid.UUID, status models.AnalysisJobStatus, message string, progress models.AnalysisProgress) {
	ctx, cleanup, err := s.getTenantCtx(context.Background(), projectID)
	if err != nil {
		s.logger.Error("Failed to get tenant context for finalization",
			zap.String("job_id", jobID.String()),
			zap.Error(err))
		return
	}
	defer cleanup()

	var finalized bool
	switch status {
	case models.AnalysisJobStatusReady:
		finalized, err = s.jobRepo.Complete(ctx, jobID, progress)
	case models.AnalysisJobStatusCancelled:
		finalized, err = s.jobRepo.Cancel(ctx, jobID, progress)
	default:
		finalized, err = s.jobRepo.Fail(ctx, jobID, message, progress)
	}
	if err != nil {
		s.logger.Error("Failed to finalize job",
			zap.String("job_id", jobID.String()),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}
	if !finalized {
		s.logger.Info("Job was already finalized elsewhere", zap.String("job_id", jobID.String()))
		return
	}

	s.logger.Info("Analysis finished",
		zap.String("job_id", jobID.String()),
		zap.String("project_id", projectID.String()),
		zap.String("status", string(status)),
		zap.Int("pages_visited", progress.PagesVisited),
		zap.Int("pages_failed", progress.PagesFailed),
		zap.Int("elements_found", progress.ElementsFound))
}

// startHeartbeat periodically refreshes the job heartbeat so the reaper can
// tell a live run from an orphaned one. Each tick uses its own connection.
func (s *analysisService) startHeartbeat(jobID, projectID uuid.UUID) {
	ctx, cancel := context.WithCancel(context.Background())
	s.heartbeatCancel.Store(jobID, cancel)

	go func() {
		ticker := time.NewTicker(s.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tenantCtx, cleanup, err := s.getTenantCtx(ctx, projectID)
				if err != nil {
					s.logger.Warn("Failed to get tenant context for heartbeat", zap.Error(err))
					continue
				}
				if err := s.jobRepo.UpdateHeartbeat(tenantCtx, jobID, s.serverInstanceID); err != nil {
					s.logger.Warn("Failed to update heartbeat", zap.Error(err))
				}
				cleanup()
			}
		}
	}()
}

func (s *analysisService) stopHeartbeat(jobID uuid.UUID) {
	if cancel, ok := s.heartbeatCancel.LoadAndDelete(jobID); ok {
		cancel.(context.CancelFunc)()
	}
}

func progressOf(job *models.AnalysisJob) models.AnalysisProgress {
	return models.AnalysisProgress{
		PagesVisited:  job.PagesVisited,
		PagesFailed:   job.PagesFailed,
		ElementsFound: job.ElementsFound,
	}
}
