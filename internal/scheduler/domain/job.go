package domain

import "time"

// Schedule job lifecycle statuses. Only the claimer may set StatusPublishing.
const (
	StatusPending    = "pending"
	StatusPublishing = "publishing"
	StatusPublished  = "published"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Post statuses recomputed by the status aggregator.
const (
	PostStatusDraft     = "draft"
	PostStatusScheduled = "scheduled"
	PostStatusPublished = "published"
	PostStatusFailed    = "failed"
)

// Social account connection statuses.
const (
	AccountStatusConnected    = "connected"
	AccountStatusDisconnected = "disconnected"
	AccountStatusExpired      = "expired"
)

const (
	// MaxRetries caps publish attempts per schedule job.
	MaxRetries = 3

	// RetryBackoffStep is multiplied by the retry count to compute the
	// next scheduled_at after a transient publish failure (30m, 60m, 90m).
	RetryBackoffStep = 30 * time.Minute

	// DueLeeway widens the due-job window to absorb polling skew.
	DueLeeway = 5 * time.Minute
)

// IsTerminal reports whether a job status admits no further automatic
// transition.
func IsTerminal(status string) bool {
	switch status {
	case StatusPublished, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// DueJob is one claimed schedule job joined with the post content and the
// social account it publishes through. Rows are produced by the claim
// query and are immutable for the duration of a run.
type DueJob struct {
	ScheduleID  string    `db:"schedule_id"`
	PostID      string    `db:"post_id"`
	AccountID   string    `db:"account_id"`
	WorkspaceID string    `db:"workspace_id"`
	ScheduledAt time.Time `db:"scheduled_at"`
	RetryCount  int       `db:"retry_count"`

	Content        string    `db:"content"`
	MediaURLs      []string  `db:"media_urls"`
	MediaType      string    `db:"media_type"`
	Provider       string    `db:"provider"`
	AccessToken    string    `db:"access_token"`
	TokenExpiresAt time.Time `db:"token_expires_at"`
}

// JobStatus is the fresh single-row view used by the idempotency re-check
// just before dispatch.
type JobStatus struct {
	ScheduleID     string `db:"schedule_id"`
	Status         string `db:"status"`
	ExternalPostID string `db:"external_post_id"`
}

// PostJob is a job row scoped to one post, as seen by the status
// aggregator.
type PostJob struct {
	ScheduleID string `db:"schedule_id"`
	Status     string `db:"status"`
}
