package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/postflowhq/postflow-be/internal/scheduler/domain"
)

// PostStore is the slice of the job store the status aggregator needs.
type PostStore interface {
	JobsForPost(ctx context.Context, postID string) ([]domain.PostJob, error)
	SetPostStatus(ctx context.Context, postID, status string) error
}

// Aggregator recomputes a post's overall status once every one of its
// schedule jobs has reached a terminal state.
type Aggregator struct {
	store  PostStore
	logger *slog.Logger
}

// NewAggregator creates a status aggregator over the given store.
func NewAggregator(store PostStore, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger,
	}
}

// Reconcile sets the post to published if at least one job succeeded and
// all are terminal, failed if all are terminal and none succeeded, and
// leaves it untouched while any job is still in flight. Idempotent.
func (a *Aggregator) Reconcile(ctx context.Context, postID string) error {
	jobs, err := a.store.JobsForPost(ctx, postID)
	if err != nil {
		return fmt.Errorf("failed to load jobs for reconcile: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	anyPublished := false
	for _, job := range jobs {
		if !domain.IsTerminal(job.Status) {
			a.logger.Debug("Post still has in-flight jobs, skipping reconcile",
				slog.String("post_id", postID),
			)
			return nil
		}
		if job.Status == domain.StatusPublished {
			anyPublished = true
		}
	}

	status := domain.PostStatusFailed
	if anyPublished {
		status = domain.PostStatusPublished
	}

	if err := a.store.SetPostStatus(ctx, postID, status); err != nil {
		return fmt.Errorf("failed to reconcile post status: %w", err)
	}

	return nil
}
