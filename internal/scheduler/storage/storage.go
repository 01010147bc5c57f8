package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/postflowhq/postflow-be/internal/scheduler/domain"
)

// Storage is the job store gateway used by the scheduler. It owns every
// read and conditional write against schedule_jobs and posts; the atomic
// predicate-guarded UPDATE is the only cross-run exclusion mechanism.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance.
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

const dueJobsQuery = `
	SELECT
		sj.schedule_id, sj.post_id, sj.social_account_id AS account_id,
		sj.workspace_id, sj.scheduled_at, sj.retry_count,
		p.content, p.media_urls, COALESCE(p.media_type, '') AS media_type,
		sa.provider, sa.access_token, sa.token_expires_at
	FROM schedule_jobs sj
	JOIN posts p ON p.post_id = sj.post_id
	JOIN social_accounts sa ON sa.account_id = sj.social_account_id
	WHERE sj.status = $1
	  AND sj.scheduled_at <= $2
	  AND p.status = $3
	  AND sa.status = $4
	ORDER BY sj.scheduled_at ASC
	LIMIT $5
`

// ClaimDueJobs selects due pending jobs whose post and account are
// publishable, then performs a single conditional bulk update to move
// them to publishing. Jobs another run claimed between the select and
// the update are dropped from the returned set.
func (s *Storage) ClaimDueJobs(ctx context.Context, limit int) ([]domain.DueJob, error) {
	cutoff := time.Now().Add(domain.DueLeeway)

	rows, err := s.db.QueryContext(ctx, dueJobsQuery,
		domain.StatusPending,
		cutoff,
		domain.PostStatusScheduled,
		domain.AccountStatusConnected,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select due jobs: %w", err)
	}
	defer rows.Close()

	var candidates []domain.DueJob
	for rows.Next() {
		var job domain.DueJob
		var mediaURLs pq.StringArray
		if err := rows.Scan(
			&job.ScheduleID,
			&job.PostID,
			&job.AccountID,
			&job.WorkspaceID,
			&job.ScheduledAt,
			&job.RetryCount,
			&job.Content,
			&mediaURLs,
			&job.MediaType,
			&job.Provider,
			&job.AccessToken,
			&job.TokenExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan due job: %w", err)
		}
		job.MediaURLs = []string(mediaURLs)
		candidates = append(candidates, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read due jobs: %w", err)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, len(candidates))
	for i, job := range candidates {
		ids[i] = job.ScheduleID
	}

	// Optimistic claim: another run may have moved some of these rows out
	// of pending already, so only the ids echoed back are ours.
	claimQuery := `
		UPDATE schedule_jobs
		SET status = $1, updated_at = NOW()
		WHERE schedule_id = ANY($2)
		  AND status = $3
		RETURNING schedule_id
	`

	claimRows, err := s.db.QueryContext(ctx, claimQuery,
		domain.StatusPublishing,
		pq.Array(ids),
		domain.StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}
	defer claimRows.Close()

	claimed := make(map[string]bool, len(ids))
	for claimRows.Next() {
		var id string
		if err := claimRows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan claimed id: %w", err)
		}
		claimed[id] = true
	}
	if err := claimRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claimed ids: %w", err)
	}

	jobs := candidates[:0]
	for _, job := range candidates {
		if claimed[job.ScheduleID] {
			jobs = append(jobs, job)
		} else {
			s.logger.Warn("Job claimed by another run, dropping",
				slog.String("schedule_id", job.ScheduleID),
			)
		}
	}

	s.logger.Info("Claimed due jobs",
		slog.Int("selected", len(candidates)),
		slog.Int("claimed", len(jobs)),
	)

	return jobs, nil
}

// GetJobStatus reads the current status of a single job. Used for the
// idempotency re-check just before dispatch.
func (s *Storage) GetJobStatus(ctx context.Context, scheduleID string) (*domain.JobStatus, error) {
	query := `
		SELECT schedule_id, status, COALESCE(external_post_id, '') AS external_post_id
		FROM schedule_jobs
		WHERE schedule_id = $1
	`

	var status domain.JobStatus
	if err := s.db.GetContext(ctx, &status, query, scheduleID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("schedule job %s not found", scheduleID)
		}
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}

	return &status, nil
}

// MarkPublished transitions a job to its published terminal state and
// records the platform-assigned post id.
func (s *Storage) MarkPublished(ctx context.Context, scheduleID, externalPostID string) error {
	query := `
		UPDATE schedule_jobs
		SET status = $1,
		    external_post_id = $2,
		    error_message = NULL,
		    published_at = NOW(),
		    updated_at = NOW()
		WHERE schedule_id = $3
	`

	if _, err := s.db.ExecContext(ctx, query, domain.StatusPublished, externalPostID, scheduleID); err != nil {
		return fmt.Errorf("failed to mark job published: %w", err)
	}

	s.logger.Info("Job published",
		slog.String("schedule_id", scheduleID),
		slog.String("external_post_id", externalPostID),
	)

	return nil
}

// MarkFailed transitions a job to its failed terminal state.
func (s *Storage) MarkFailed(ctx context.Context, scheduleID, errorMessage string) error {
	query := `
		UPDATE schedule_jobs
		SET status = $1,
		    error_message = $2,
		    updated_at = NOW()
		WHERE schedule_id = $3
	`

	if _, err := s.db.ExecContext(ctx, query, domain.StatusFailed, errorMessage, scheduleID); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	s.logger.Info("Job failed",
		slog.String("schedule_id", scheduleID),
		slog.String("error", errorMessage),
	)

	return nil
}

// RequeueForRetry returns a job to pending with an incremented retry count
// and a backed-off scheduled_at, keeping the failure reason visible.
func (s *Storage) RequeueForRetry(ctx context.Context, scheduleID string, nextAt time.Time, errorMessage string) error {
	query := `
		UPDATE schedule_jobs
		SET status = $1,
		    retry_count = retry_count + 1,
		    scheduled_at = $2,
		    error_message = $3,
		    updated_at = NOW()
		WHERE schedule_id = $4
	`

	if _, err := s.db.ExecContext(ctx, query, domain.StatusPending, nextAt, errorMessage, scheduleID); err != nil {
		return fmt.Errorf("failed to requeue job for retry: %w", err)
	}

	s.logger.Info("Job requeued for retry",
		slog.String("schedule_id", scheduleID),
		slog.Time("next_at", nextAt),
	)

	return nil
}

// Release returns a job to pending untouched, without a retry penalty.
// Used when the workspace rate limit defers the job to a later run.
func (s *Storage) Release(ctx context.Context, scheduleID, message string) error {
	query := `
		UPDATE schedule_jobs
		SET status = $1,
		    error_message = $2,
		    updated_at = NOW()
		WHERE schedule_id = $3
	`

	if _, err := s.db.ExecContext(ctx, query, domain.StatusPending, message, scheduleID); err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}

	return nil
}

// CountPublishedSince counts published jobs per workspace since the given
// instant, in one aggregate query across all workspaces in the run.
func (s *Storage) CountPublishedSince(ctx context.Context, workspaceIDs []string, since time.Time) (map[string]int, error) {
	query := `
		SELECT workspace_id, COUNT(*) AS published
		FROM schedule_jobs
		WHERE workspace_id = ANY($1)
		  AND status = $2
		  AND published_at >= $3
		GROUP BY workspace_id
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(workspaceIDs), domain.StatusPublished, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count published jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, len(workspaceIDs))
	for rows.Next() {
		var workspaceID string
		var published int
		if err := rows.Scan(&workspaceID, &published); err != nil {
			return nil, fmt.Errorf("failed to scan published count: %w", err)
		}
		counts[workspaceID] = published
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read published counts: %w", err)
	}

	return counts, nil
}

// JobsForPost loads the status of every schedule job belonging to a post.
func (s *Storage) JobsForPost(ctx context.Context, postID string) ([]domain.PostJob, error) {
	query := `
		SELECT schedule_id, status
		FROM schedule_jobs
		WHERE post_id = $1
	`

	var jobs []domain.PostJob
	if err := s.db.SelectContext(ctx, &jobs, query, postID); err != nil {
		return nil, fmt.Errorf("failed to load jobs for post: %w", err)
	}

	return jobs, nil
}

// SetPostStatus writes a post's aggregated status. The published timestamp
// is set only when the post reached published.
func (s *Storage) SetPostStatus(ctx context.Context, postID, status string) error {
	query := `
		UPDATE posts
		SET status = $1,
		    published_at = CASE WHEN $1 = $2 THEN NOW() ELSE published_at END,
		    updated_at = NOW()
		WHERE post_id = $3
	`

	if _, err := s.db.ExecContext(ctx, query, status, domain.PostStatusPublished, postID); err != nil {
		return fmt.Errorf("failed to set post status: %w", err)
	}

	s.logger.Info("Post status updated",
		slog.String("post_id", postID),
		slog.String("status", status),
	)

	return nil
}
