package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/restoreassist/pkg/async"
	"github.com/platinummonkey/restoreassist/pkg/observability"
)

// Job names, also used as the metrics label
const (
	JobInvitations   = "invitations"
	JobUsageLogs     = "api_key_usage_logs"
	JobDownloadCache = "download_cache"
	JobCacheBudget   = "download_cache_budget"
)

// DefaultJobTimeout bounds a single job run
const DefaultJobTimeout = 5 * time.Minute

// InvitationCleaner deletes expired, unaccepted invitations
type InvitationCleaner interface {
	CleanupExpiredInvitations(ctx context.Context) (int64, error)
}

// UsageLogCleaner deletes API key usage rows older than a retention window
type UsageLogCleaner interface {
	CleanupUsageLogs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ObjectPruner deletes stored objects under a prefix last modified before
// cutoff
type ObjectPruner interface {
	DeleteOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error)
}

// CacheTrimmer evicts cached objects until the cache fits in maxBytes
type CacheTrimmer interface {
	Trim(ctx context.Context, maxBytes int64) (int64, error)
}

// Job is one housekeeping task. Run returns how many rows or objects it
// removed.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// InvitationCleanup removes invitations past their expiry
func InvitationCleanup(c InvitationCleaner) Job {
	return Job{Name: JobInvitations, Run: c.CleanupExpiredInvitations}
}

// UsageLogCleanup removes usage logs older than retention
func UsageLogCleanup(c UsageLogCleaner, retention time.Duration) Job {
	return Job{
		Name: JobUsageLogs,
		Run: func(ctx context.Context) (int64, error) {
			return c.CleanupUsageLogs(ctx, retention)
		},
	}
}

// DownloadCacheCleanup removes cached downloads older than ttl. Entries that
// old are already treated as misses by the cache.
func DownloadCacheCleanup(p ObjectPruner, prefix string, ttl time.Duration, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return Job{
		Name: JobDownloadCache,
		Run: func(ctx context.Context) (int64, error) {
			return p.DeleteOlderThan(ctx, prefix, now().Add(-ttl))
		},
	}
}

// DownloadCacheBudget evicts the oldest cached downloads once the cache
// outgrows maxBytes
func DownloadCacheBudget(t CacheTrimmer, maxBytes int64) Job {
	return Job{
		Name: JobCacheBudget,
		Run: func(ctx context.Context) (int64, error) {
			return t.Trim(ctx, maxBytes)
		},
	}
}

// Runner executes a fixed set of jobs
type Runner struct {
	jobs    []Job
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration
	workers int
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(logger *observability.Logger, metrics *observability.Metrics, jobs ...Job) *Runner {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Runner{
		jobs:    jobs,
		logger:  logger.WithField("component", "jobs"),
		metrics: metrics,
		timeout: DefaultJobTimeout,
		workers: 2,
	}
}

// Jobs returns the names of the registered jobs
func (r *Runner) Jobs() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name)
	}
	return names
}

// RunOnce runs every job and returns the joined failures. One failing job
// does not stop the others.
func (r *Runner) RunOnce(ctx context.Context) error {
	errs := async.Batch(ctx, r.jobs, r.workers, r.timeout, r.run)
	return errors.Join(errs...)
}

func (r *Runner) run(ctx context.Context, job Job) error {
	start := time.Now()
	logger := r.logger.WithField("job", job.Name)

	removed, err := job.Run(ctx)
	if err != nil {
		logger.WithError(err).Error("housekeeping job failed")
		return fmt.Errorf("%s: %w", job.Name, err)
	}

	r.metrics.RecordCleanup(job.Name, removed)
	logger.WithFields(map[string]interface{}{
		"removed":     removed,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("housekeeping job finished")
	return nil
}

// Scheduler runs a Runner on a cron schedule
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
}

// NewScheduler parses schedule (standard five-field cron or a descriptor
// like "@hourly") and registers runner on it. Overlapping runs are skipped.
func NewScheduler(runner *Runner, schedule string) (*Scheduler, error) {
	cl := observability.NewCronLogger(runner.logger)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(schedule, func() {
		if err := runner.RunOnce(context.Background()); err != nil {
			runner.logger.WithError(err).Warn("scheduled housekeeping finished with errors")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	return &Scheduler{cron: c, runner: runner}, nil
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.runner.logger.WithField("jobs", s.runner.Jobs()).Info("housekeeping scheduler started")
}

// Stop stops scheduling and waits for a running job to finish or ctx to
// end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
