package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/repositories"
)

// CrossTenantContextFunc acquires a connection that is not bound to a project.
type CrossTenantContextFunc func(ctx context.Context) (context.Context, func(), error)

// JobReaper fails analysis jobs whose runner stopped sending heartbeats,
// typically because the process that owned them died.
type JobReaper struct {
	jobRepo    repositories.AnalysisJobRepository
	getCtx     CrossTenantContextFunc
	staleAfter time.Duration
	now        func() time.Time
	cron       *cron.Cron
	logger     *zap.Logger
}

// NewJobReaper creates a reaper that sweeps on the given cron schedule.
func NewJobReaper(
	jobRepo repositories.AnalysisJobRepository,
	getCtx CrossTenantContextFunc,
	staleAfter time.Duration,
	schedule string,
	logger *zap.Logger,
) (*JobReaper, error) {
	logger = logger.Named("job-reaper")
	cronLog := cronLogger{logger.Sugar()}
	r := &JobReaper{
		jobRepo:    jobRepo,
		getCtx:     getCtx,
		staleAfter: staleAfter,
		now:        time.Now,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		logger: logger,
	}

	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins the schedule in the background.
func (r *JobReaper) Start() {
	r.cron.Start()
	r.logger.Info("Job reaper started", zap.Duration("stale_after", r.staleAfter))
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *JobReaper) Stop(ctx context.Context) error {
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *JobReaper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := r.Sweep(ctx); err != nil {
		r.logger.Error("Stale job sweep failed", zap.Error(err))
	}
}

// Sweep fails every active job without a heartbeat inside the stale window
// and returns how many were finalized.
func (r *JobReaper) Sweep(ctx context.Context) (int, error) {
	scopedCtx, cleanup, err := r.getCtx(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer cleanup()

	cutoff := r.now().Add(-r.staleAfter)
	jobs, err := r.jobRepo.ListStale(scopedCtx, cutoff)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for i := range jobs {
		job := &jobs[i]
		finalized, err := r.jobRepo.Fail(scopedCtx, job.ID, "analysis interrupted: the runner stopped responding", progressOf(job))
		if err != nil {
			r.logger.Error("Failed to reap job", zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}
		if finalized {
			reaped++
			r.logger.Warn("Reaped stale analysis job",
				zap.String("job_id", job.ID.String()),
				zap.String("project_id", job.ProjectID.String()))
		}
	}
	return reaped, nil
}

// cronLogger sends the scheduler's panic and skip reports to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
