package dto

import "time"

// ScheduleRequest is one requested publication inside a create-post call.
type ScheduleRequest struct {
	SocialAccountID string    `json:"social_account_id" binding:"required"`
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
}

// CreatePostRequest is the body of POST /api/v1/posts.
type CreatePostRequest struct {
	WorkspaceID string            `json:"workspace_id" binding:"required"`
	Content     string            `json:"content" binding:"required"`
	MediaURLs   []string          `json:"media_urls"`
	MediaType   string            `json:"media_type"`
	Schedules   []ScheduleRequest `json:"schedules" binding:"required,min=1,dive"`
}

// ScheduleDTO is one schedule job in API responses.
type ScheduleDTO struct {
	ScheduleID      string `json:"schedule_id"`
	SocialAccountID string `json:"social_account_id"`
	ScheduledAt     string `json:"scheduled_at"`
	Status          string `json:"status"`
	RetryCount      int    `json:"retry_count"`
	ErrorMessage    string `json:"error_message,omitempty"`
	ExternalPostID  string `json:"external_post_id,omitempty"`
}

// PostDTO is one post in API responses.
type PostDTO struct {
	PostID      string        `json:"post_id"`
	WorkspaceID string        `json:"workspace_id"`
	Content     string        `json:"content"`
	MediaURLs   []string      `json:"media_urls"`
	MediaType   string        `json:"media_type,omitempty"`
	Status      string        `json:"status"`
	PublishedAt string        `json:"published_at,omitempty"`
	CreatedAt   string        `json:"created_at"`
	Schedules   []ScheduleDTO `json:"schedules,omitempty"`
}

// ListPostsRequest are the query parameters of GET /api/v1/posts.
type ListPostsRequest struct {
	WorkspaceID string `form:"workspace_id"`
	Status      string `form:"status"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

// ListPostsResponse is the body of GET /api/v1/posts.
type ListPostsResponse struct {
	Posts      []PostDTO `json:"posts"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// RunSchedulerRequest is the body of POST /internal/scheduler/run.
type RunSchedulerRequest struct {
	Limit       int `json:"limit"`
	Concurrency int `json:"concurrency"`
}
