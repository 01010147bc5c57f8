package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/postflowhq/postflow-be/internal/scheduler/domain"
	"github.com/postflowhq/postflow-be/internal/scheduler/ratelimit"
)

const (
	// DefaultClaimLimit caps how many due jobs one run claims.
	DefaultClaimLimit = 50
)

// Claimer discovers and claims due jobs.
type Claimer interface {
	ClaimDueJobs(ctx context.Context, limit int) ([]domain.DueJob, error)
}

// RateChecker resolves per-workspace publish budgets for a run.
type RateChecker interface {
	BatchCheck(ctx context.Context, workspaceIDs []string) (map[string]ratelimit.Decision, error)
}

// BatchRunner dispatches a claimed job set.
type BatchRunner interface {
	Run(ctx context.Context, jobs []domain.DueJob, concurrency int, decisions map[string]ratelimit.Decision) []JobOutcome
}

// Preloader warms the settings cache for a set of workspaces.
type Preloader interface {
	Preload(ctx context.Context, workspaceIDs []string)
}

// RunOptions parameterizes one scheduler run.
type RunOptions struct {
	Limit       int
	Concurrency int
}

// Runner is the top-level entry point invoked on a timer. Each run is a
// short-lived batch: claim, warm settings, snapshot rate budgets,
// dispatch, report. Overlapping runs are legitimate; cross-run safety
// rests entirely on the claimer's conditional update.
type Runner struct {
	claimer    Claimer
	preloader  Preloader
	rates      RateChecker
	dispatcher BatchRunner
	logger     *slog.Logger
}

// NewRunner wires a run controller.
func NewRunner(claimer Claimer, preloader Preloader, rates RateChecker, dispatcher BatchRunner, logger *slog.Logger) *Runner {
	return &Runner{
		claimer:    claimer,
		preloader:  preloader,
		rates:      rates,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Run executes one scheduling pass and returns its report. Only
// claim-phase failures propagate: nothing was claimed, so there is no
// partial state to clean up. Dispatch failures are per-job by
// construction.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultClaimLimit
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	runStart := time.Now()
	report := &RunReport{Details: []JobOutcome{}}

	claimStart := time.Now()
	jobs, err := r.claimer.ClaimDueJobs(ctx, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}
	report.Metrics.DatabaseQueryTime = time.Since(claimStart)

	if len(jobs) == 0 {
		report.Metrics.TotalDuration = time.Since(runStart)
		r.logger.Debug("No due jobs this run")
		return report, nil
	}

	workspaceIDs := distinctWorkspaces(jobs)

	r.preloader.Preload(ctx, workspaceIDs)

	decisions, err := r.rates.BatchCheck(ctx, workspaceIDs)
	if err != nil {
		// The snapshot is an approximation anyway; without it every
		// workspace publishes unchecked for this run rather than stalling
		// claimed jobs in publishing.
		r.logger.Warn("Rate limit snapshot failed, allowing all workspaces",
			slog.String("error", err.Error()),
		)
		decisions = make(map[string]ratelimit.Decision, len(workspaceIDs))
		for _, id := range workspaceIDs {
			decisions[id] = ratelimit.Decision{Allowed: true}
		}
	}

	outcomes := r.dispatcher.Run(ctx, jobs, opts.Concurrency, decisions)

	var totalProcessing, totalAPI time.Duration
	for _, outcome := range outcomes {
		report.add(outcome)
		totalProcessing += outcome.processingTime
		totalAPI += outcome.apiCallTime
	}
	if len(outcomes) > 0 {
		report.Metrics.AvgProcessingTime = totalProcessing / time.Duration(len(outcomes))
	}
	report.Metrics.APICallTime = totalAPI
	report.Metrics.TotalDuration = time.Since(runStart)

	r.logger.Info("Scheduler run complete",
		slog.Int("processed", report.Processed),
		slog.Int("successful", report.Successful),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Duration("total_duration", report.Metrics.TotalDuration),
	)

	return report, nil
}

// distinctWorkspaces lists each claimed workspace once, preserving first
// appearance order.
func distinctWorkspaces(jobs []domain.DueJob) []string {
	seen := make(map[string]bool, len(jobs))
	var ids []string
	for _, job := range jobs {
		if !seen[job.WorkspaceID] {
			seen[job.WorkspaceID] = true
			ids = append(ids, job.WorkspaceID)
		}
	}
	return ids
}
