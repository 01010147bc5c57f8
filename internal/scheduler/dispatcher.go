package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/postflowhq/postflow-be/internal/notify"
	"github.com/postflowhq/postflow-be/internal/scheduler/domain"
	"github.com/postflowhq/postflow-be/internal/scheduler/publisher"
	"github.com/postflowhq/postflow-be/internal/scheduler/ratelimit"
	"github.com/postflowhq/postflow-be/internal/scheduler/settings"
)

const (
	// DefaultConcurrency is the per-batch fan-out width.
	DefaultConcurrency = 5

	// batchPause throttles outbound API pressure between batches.
	batchPause = 100 * time.Millisecond
)

// DispatchStore is the slice of the job store the dispatcher writes
// through.
type DispatchStore interface {
	GetJobStatus(ctx context.Context, scheduleID string) (*domain.JobStatus, error)
	MarkPublished(ctx context.Context, scheduleID, externalPostID string) error
	MarkFailed(ctx context.Context, scheduleID, errorMessage string) error
	RequeueForRetry(ctx context.Context, scheduleID string, nextAt time.Time, errorMessage string) error
	Release(ctx context.Context, scheduleID, message string) error
}

// PublisherSource resolves a provider to its publisher.
type PublisherSource interface {
	For(provider string) (publisher.Publisher, error)
}

// Reconciler recomputes a post's aggregated status.
type Reconciler interface {
	Reconcile(ctx context.Context, postID string) error
}

// SettingsSource supplies cached workspace settings for notification
// toggles.
type SettingsSource interface {
	Get(ctx context.Context, workspaceID string) (settings.Settings, error)
}

// Dispatcher runs claimed jobs through bounded-concurrency batches,
// orchestrating the rate snapshot, the publisher registry, and the retry
// policy per job. Individual job failures never abort a batch.
type Dispatcher struct {
	store      DispatchStore
	publishers PublisherSource
	reconciler Reconciler
	activity   notify.ActivityLogger
	settings   SettingsSource
	logger     *slog.Logger

	pause time.Duration
	now   func() time.Time
}

// NewDispatcher creates a batch dispatcher.
func NewDispatcher(
	store DispatchStore,
	publishers PublisherSource,
	reconciler Reconciler,
	activity notify.ActivityLogger,
	settingsSrc SettingsSource,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:      store,
		publishers: publishers,
		reconciler: reconciler,
		activity:   activity,
		settings:   settingsSrc,
		logger:     logger,
		pause:      batchPause,
		now:        time.Now,
	}
}

// Run partitions jobs into sequential batches of size concurrency,
// dispatches each batch concurrently, and waits for the whole batch to
// settle before starting the next. A short pause separates batches.
func (d *Dispatcher) Run(ctx context.Context, jobs []domain.DueJob, concurrency int, decisions map[string]ratelimit.Decision) []JobOutcome {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	outcomes := make([]JobOutcome, len(jobs))

	for start := 0; start < len(jobs); start += concurrency {
		end := start + concurrency
		if end > len(jobs) {
			end = len(jobs)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				outcomes[idx] = d.processJob(ctx, jobs[idx], decisions[jobs[idx].WorkspaceID])
			}(i)
		}
		wg.Wait()

		if end < len(jobs) {
			select {
			case <-time.After(d.pause):
			case <-ctx.Done():
				d.logger.Warn("Dispatch interrupted between batches",
					slog.Int("dispatched", end),
					slog.Int("total", len(jobs)),
				)
				// Jobs never started stay in publishing until the batch
				// settles; record them as skipped so the report accounts
				// for every claimed job.
				for i := end; i < len(jobs); i++ {
					outcomes[i] = JobOutcome{
						ScheduleID: jobs[i].ScheduleID,
						PostID:     jobs[i].PostID,
						Status:     OutcomeSkipped,
						Message:    "run cancelled before dispatch",
					}
					if err := d.store.Release(ctx, jobs[i].ScheduleID, "run cancelled before dispatch"); err != nil {
						d.logger.Error("Failed to release undispatched job",
							slog.String("schedule_id", jobs[i].ScheduleID),
							slog.String("error", err.Error()),
						)
					}
				}
				return outcomes
			}
		}
	}

	return outcomes
}

// processJob executes the per-job pipeline, short-circuiting on the first
// failing check. It never returns an error: every result, including an
// unexpected panic, is converted into a JobOutcome detail.
func (d *Dispatcher) processJob(ctx context.Context, job domain.DueJob, decision ratelimit.Decision) (outcome JobOutcome) {
	started := d.now()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic while processing job",
				slog.String("schedule_id", job.ScheduleID),
				slog.Any("panic", r),
			)
			msg := fmt.Sprintf("internal error: %v", r)
			if err := d.store.MarkFailed(ctx, job.ScheduleID, msg); err != nil {
				d.logger.Error("Failed to mark panicked job failed",
					slog.String("schedule_id", job.ScheduleID),
					slog.String("error", err.Error()),
				)
			}
			outcome = JobOutcome{
				ScheduleID: job.ScheduleID,
				PostID:     job.PostID,
				Status:     OutcomeFailed,
				Message:    msg,
			}
		}
		outcome.processingTime = d.now().Sub(started)
	}()

	// Content validation: empty content is terminal, retrying cannot fix it.
	if strings.TrimSpace(job.Content) == "" {
		return d.failJob(ctx, job, domain.ErrEmptyContent.Error())
	}

	// Rate check: a denied workspace defers the job to a later run without
	// a retry penalty.
	if !decision.Allowed {
		msg := fmt.Sprintf("workspace rate limit reached (%d/%d this hour)", decision.Current, decision.Limit)
		if err := d.store.Release(ctx, job.ScheduleID, msg); err != nil {
			d.logger.Error("Failed to release rate-limited job",
				slog.String("schedule_id", job.ScheduleID),
				slog.String("error", err.Error()),
			)
		}
		return JobOutcome{
			ScheduleID: job.ScheduleID,
			PostID:     job.PostID,
			Status:     OutcomeSkipped,
			Message:    msg,
		}
	}

	// Token expiry: the operator must reconnect the account.
	if job.TokenExpiresAt.Before(d.now()) {
		return d.failJob(ctx, job, domain.ErrTokenExpired.Error())
	}

	// Idempotency re-check: a concurrent worker may have finished this job
	// between claim and dispatch.
	current, err := d.store.GetJobStatus(ctx, job.ScheduleID)
	if err != nil {
		return d.failJob(ctx, job, fmt.Sprintf("failed to re-check job status: %s", err.Error()))
	}
	if current.Status == domain.StatusPublished {
		d.logger.Info("Job already published by another worker, skipping",
			slog.String("schedule_id", job.ScheduleID),
		)
		return JobOutcome{
			ScheduleID: job.ScheduleID,
			PostID:     job.PostID,
			Status:     OutcomeSkipped,
			Message:    domain.ErrAlreadyPublished.Error(),
		}
	}

	mediaType := job.MediaType
	if mediaType == "" {
		mediaType = domain.InferMediaType(job.MediaURLs)
	}

	pub, err := d.publishers.For(job.Provider)
	if err != nil {
		return d.failJob(ctx, job, err.Error())
	}

	apiStart := d.now()
	result, err := pub.Publish(ctx, &publisher.PublishRequest{
		Content:     job.Content,
		MediaURLs:   job.MediaURLs,
		MediaType:   mediaType,
		AccessToken: job.AccessToken,
		Metadata: map[string]string{
			"workspace_id": job.WorkspaceID,
			"post_id":      job.PostID,
		},
	})
	apiCallTime := d.now().Sub(apiStart)

	if err != nil {
		out := d.handlePublishFailure(ctx, job, err)
		out.apiCallTime = apiCallTime
		return out
	}
	if !result.Success {
		out := d.failJob(ctx, job, result.Error)
		out.apiCallTime = apiCallTime
		return out
	}

	if err := d.store.MarkPublished(ctx, job.ScheduleID, result.ExternalPostID); err != nil {
		// The provider accepted the post but the terminal write failed;
		// surface the job as failed so an operator investigates instead of
		// the claimer re-publishing a live post.
		out := d.failJob(ctx, job, fmt.Sprintf("published externally but status write failed: %s", err.Error()))
		out.apiCallTime = apiCallTime
		return out
	}

	d.notifyOutcome(ctx, job, domain.StatusPublished, "")
	d.reconcile(ctx, job)

	return JobOutcome{
		ScheduleID:  job.ScheduleID,
		PostID:      job.PostID,
		Status:      OutcomePublished,
		Message:     "published as " + result.ExternalPostID,
		apiCallTime: apiCallTime,
	}
}

// handlePublishFailure applies the retry policy to a failed publish call:
// transient errors requeue with linear backoff until the retry budget is
// spent, then the job fails terminally.
func (d *Dispatcher) handlePublishFailure(ctx context.Context, job domain.DueJob, pubErr error) JobOutcome {
	if domain.IsRetryable(pubErr) && job.RetryCount < domain.MaxRetries {
		attempt := job.RetryCount + 1
		nextAt := d.now().Add(time.Duration(attempt) * domain.RetryBackoffStep)

		if err := d.store.RequeueForRetry(ctx, job.ScheduleID, nextAt, pubErr.Error()); err != nil {
			d.logger.Error("Failed to requeue job for retry",
				slog.String("schedule_id", job.ScheduleID),
				slog.String("error", err.Error()),
			)
			return d.failJob(ctx, job, pubErr.Error())
		}

		return JobOutcome{
			ScheduleID: job.ScheduleID,
			PostID:     job.PostID,
			Status:     OutcomeSkipped,
			Message:    fmt.Sprintf("publish failed, retry %d/%d at %s: %s", attempt, domain.MaxRetries, nextAt.Format(time.RFC3339), pubErr.Error()),
		}
	}

	return d.failJob(ctx, job, pubErr.Error())
}

// failJob records a terminal failure, notifies the activity feed, and
// reconciles the post.
func (d *Dispatcher) failJob(ctx context.Context, job domain.DueJob, message string) JobOutcome {
	if err := d.store.MarkFailed(ctx, job.ScheduleID, message); err != nil {
		d.logger.Error("Failed to mark job failed",
			slog.String("schedule_id", job.ScheduleID),
			slog.String("error", err.Error()),
		)
	}

	d.notifyOutcome(ctx, job, domain.StatusFailed, message)
	d.reconcile(ctx, job)

	return JobOutcome{
		ScheduleID: job.ScheduleID,
		PostID:     job.PostID,
		Status:     OutcomeFailed,
		Message:    message,
	}
}

// notifyOutcome emits an activity event honoring the workspace's
// notification toggles. Fire-and-forget: failures only log.
func (d *Dispatcher) notifyOutcome(ctx context.Context, job domain.DueJob, status, message string) {
	cfg, err := d.settings.Get(ctx, job.WorkspaceID)
	if err != nil {
		cfg = settings.Defaults(job.WorkspaceID)
	}

	event := notify.Event{
		WorkspaceID: job.WorkspaceID,
		PostID:      job.PostID,
		ScheduleID:  job.ScheduleID,
		Provider:    job.Provider,
		Status:      status,
		Message:     message,
		OccurredAt:  d.now(),
	}

	switch status {
	case domain.StatusPublished:
		if cfg.NotifyOnSuccess {
			d.activity.JobPublished(ctx, event)
		}
	case domain.StatusFailed:
		if cfg.NotifyOnFailure {
			d.activity.JobFailed(ctx, event)
		}
	}
}

func (d *Dispatcher) reconcile(ctx context.Context, job domain.DueJob) {
	if err := d.reconciler.Reconcile(ctx, job.PostID); err != nil {
		d.logger.Error("Failed to reconcile post status",
			slog.String("post_id", job.PostID),
			slog.String("error", err.Error()),
		)
	}
}
