package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/postflowhq/postflow-be/internal/api/model"
	"github.com/postflowhq/postflow-be/shared/postgresql"
)

// ErrScheduleNotCancellable is returned when a cancel request targets a
// schedule that is no longer pending.
var ErrScheduleNotCancellable = errors.New("schedule is not in pending status")

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreatePostWithSchedules inserts the post and its schedule jobs in one
// transaction so a post never lands without its schedules.
func (s *Storage) CreatePostWithSchedules(ctx context.Context, post *model.Post, schedules []model.ScheduleJob) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	postQuery := `
		INSERT INTO posts (
			post_id, workspace_id, content, media_urls, media_type,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
	`

	_, err = tx.ExecContext(ctx, postQuery,
		post.PostID,
		post.WorkspaceID,
		post.Content,
		post.MediaURLs,
		post.MediaType,
		post.Status,
		post.CreatedAt,
		post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}

	scheduleQuery := `
		INSERT INTO schedule_jobs (
			schedule_id, post_id, social_account_id, workspace_id,
			scheduled_at, status, retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
	`

	for _, schedule := range schedules {
		_, err = tx.ExecContext(ctx, scheduleQuery,
			schedule.ScheduleID,
			schedule.PostID,
			schedule.SocialAccountID,
			schedule.WorkspaceID,
			schedule.ScheduledAt,
			schedule.Status,
			schedule.CreatedAt,
			schedule.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create schedule job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit post creation: %w", err)
	}

	return nil
}

func (s *Storage) GetPostByID(ctx context.Context, postID string) (*model.Post, error) {
	var post model.Post
	query := `
		SELECT post_id, workspace_id, content, media_urls,
			COALESCE(media_type, '') AS media_type, status,
			published_at, created_at, updated_at
		FROM posts
		WHERE post_id = $1
	`

	if err := s.db.GetContext(ctx, &post, query, postID); err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	return &post, nil
}

// SchedulesForPost lists a post's schedule jobs, oldest first.
func (s *Storage) SchedulesForPost(ctx context.Context, postID string) ([]model.ScheduleJob, error) {
	var schedules []model.ScheduleJob
	query := `
		SELECT schedule_id, post_id, social_account_id, workspace_id,
			scheduled_at, status, retry_count, error_message,
			external_post_id, published_at, created_at, updated_at
		FROM schedule_jobs
		WHERE post_id = $1
		ORDER BY scheduled_at ASC
	`

	if err := s.db.SelectContext(ctx, &schedules, query, postID); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	return schedules, nil
}

type PostFilter struct {
	WorkspaceID string
	Status      string
	PageSize    int
	Cursor      *PostCursor
}

type PostCursor struct {
	CreatedAt time.Time
	PostID    string
}

func (s *Storage) ListPosts(ctx context.Context, filter PostFilter) ([]model.Post, error) {
	query := `
		SELECT post_id, workspace_id, content, media_urls,
			COALESCE(media_type, '') AS media_type, status,
			published_at, created_at, updated_at
		FROM posts
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.WorkspaceID != "" {
		query += fmt.Sprintf(" AND workspace_id = $%d", argIdx)
		args = append(args, filter.WorkspaceID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, post_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.PostID)
		argIdx += 2
	}

	// Keyset pagination: order must match the cursor tuple.
	query += " ORDER BY created_at DESC, post_id DESC"

	// Fetch one extra row to detect whether more results exist.
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var posts []model.Post
	if err := s.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	return posts, nil
}

// CancelSchedule moves a pending schedule to cancelled. The status guard
// keeps a cancel request from clobbering a job a scheduler run already
// claimed.
func (s *Storage) CancelSchedule(ctx context.Context, scheduleID string) error {
	query := `
		UPDATE schedule_jobs
		SET status = 'cancelled', updated_at = NOW()
		WHERE schedule_id = $1 AND status = 'pending'
	`

	result, err := s.db.ExecContext(ctx, query, scheduleID)
	if err != nil {
		return fmt.Errorf("failed to cancel schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrScheduleNotCancellable
	}

	return nil
}

// ListAccounts lists a workspace's connected social accounts.
func (s *Storage) ListAccounts(ctx context.Context, workspaceID string) ([]model.SocialAccount, error) {
	var accounts []model.SocialAccount
	query := `
		SELECT account_id, workspace_id, provider, display_name,
			status, token_expires_at, created_at
		FROM social_accounts
		WHERE workspace_id = $1
		ORDER BY created_at DESC
	`

	if err := s.db.SelectContext(ctx, &accounts, query, workspaceID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	return accounts, nil
}
