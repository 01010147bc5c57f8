package model

import (
	"time"

	"github.com/lib/pq"
)

// Post is a posts row as stored.
type Post struct {
	PostID      string         `db:"post_id"`
	WorkspaceID string         `db:"workspace_id"`
	Content     string         `db:"content"`
	MediaURLs   pq.StringArray `db:"media_urls"`
	MediaType   string         `db:"media_type"`
	Status      string         `db:"status"`
	PublishedAt *time.Time     `db:"published_at"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// ScheduleJob is a schedule_jobs row as stored.
type ScheduleJob struct {
	ScheduleID      string     `db:"schedule_id"`
	PostID          string     `db:"post_id"`
	SocialAccountID string     `db:"social_account_id"`
	WorkspaceID     string     `db:"workspace_id"`
	ScheduledAt     time.Time  `db:"scheduled_at"`
	Status          string     `db:"status"`
	RetryCount      int        `db:"retry_count"`
	ErrorMessage    *string    `db:"error_message"`
	ExternalPostID  *string    `db:"external_post_id"`
	PublishedAt     *time.Time `db:"published_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// SocialAccount is a social_accounts row as exposed by the API. Tokens
// never leave the store through this type.
type SocialAccount struct {
	AccountID      string    `db:"account_id"`
	WorkspaceID    string    `db:"workspace_id"`
	Provider       string    `db:"provider"`
	DisplayName    string    `db:"display_name"`
	Status         string    `db:"status"`
	TokenExpiresAt time.Time `db:"token_expires_at"`
	CreatedAt      time.Time `db:"created_at"`
}
