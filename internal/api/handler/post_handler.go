package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/postflowhq/postflow-be/internal/api/dto"
	"github.com/postflowhq/postflow-be/internal/api/model"
	"github.com/postflowhq/postflow-be/internal/api/storage"
	"github.com/postflowhq/postflow-be/internal/scheduler/domain"
)

// CreatePost handles POST /api/v1/posts
// Creates a post and its schedule jobs in pending status.
func (h *PostHandler) CreatePost(c *gin.Context) {
	var req dto.CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	now := time.Now()
	post := model.Post{
		PostID:      uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		Content:     req.Content,
		MediaURLs:   req.MediaURLs,
		MediaType:   req.MediaType,
		Status:      domain.PostStatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	schedules := make([]model.ScheduleJob, len(req.Schedules))
	for i, schedule := range req.Schedules {
		schedules[i] = model.ScheduleJob{
			ScheduleID:      uuid.New().String(),
			PostID:          post.PostID,
			SocialAccountID: schedule.SocialAccountID,
			WorkspaceID:     req.WorkspaceID,
			ScheduledAt:     schedule.ScheduledAt,
			Status:          domain.StatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}

	if err := h.storage.CreatePostWithSchedules(c.Request.Context(), &post, schedules); err != nil {
		h.logger.Error("Failed to create post", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create post",
		})
		return
	}

	c.JSON(http.StatusCreated, postToDTO(&post, schedules))
}

// GetPost handles GET /api/v1/posts/:post_id
func (h *PostHandler) GetPost(c *gin.Context) {
	postID := c.Param("post_id")
	if _, err := uuid.Parse(postID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "post_id must be a valid UUID",
		})
		return
	}

	post, err := h.storage.GetPostByID(c.Request.Context(), postID)
	if err != nil {
		h.logger.Error("Failed to get post", slog.String("error", err.Error()))
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Post not found",
		})
		return
	}

	schedules, err := h.storage.SchedulesForPost(c.Request.Context(), postID)
	if err != nil {
		h.logger.Error("Failed to load schedules", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load schedules",
		})
		return
	}

	c.JSON(http.StatusOK, postToDTO(post, schedules))
}

// ListPosts handles GET /api/v1/posts with keyset pagination.
func (h *PostHandler) ListPosts(c *gin.Context) {
	var req dto.ListPostsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodePostCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.PostFilter{
		WorkspaceID: req.WorkspaceID,
		Status:      req.Status,
		PageSize:    req.PageSize,
		Cursor:      cursor,
	}

	posts, err := h.storage.ListPosts(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list posts", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list posts",
		})
		return
	}

	hasMore := len(posts) > req.PageSize
	if hasMore {
		posts = posts[:req.PageSize]
	}

	response := make([]dto.PostDTO, len(posts))
	for i := range posts {
		response[i] = postToDTO(&posts[i], nil)
	}

	var nextCursor string
	if hasMore {
		last := posts[len(posts)-1]
		nextCursor, err = EncodePostCursor(&storage.PostCursor{
			CreatedAt: last.CreatedAt,
			PostID:    last.PostID,
		})
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListPostsResponse{
		Posts:      response,
		NextCursor: nextCursor,
	})
}

// CancelSchedule handles POST /api/v1/schedules/:schedule_id/cancel
func (h *PostHandler) CancelSchedule(c *gin.Context) {
	scheduleID := c.Param("schedule_id")
	if _, err := uuid.Parse(scheduleID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "schedule_id must be a valid UUID",
		})
		return
	}

	err := h.storage.CancelSchedule(c.Request.Context(), scheduleID)
	if errors.Is(err, storage.ErrScheduleNotCancellable) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Schedule is not pending",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to cancel schedule", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel schedule",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"schedule_id": scheduleID,
		"status":      domain.StatusCancelled,
	})
}

// ListAccounts handles GET /api/v1/accounts
func (h *PostHandler) ListAccounts(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "workspace_id is required",
		})
		return
	}

	accounts, err := h.storage.ListAccounts(c.Request.Context(), workspaceID)
	if err != nil {
		h.logger.Error("Failed to list accounts", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list accounts",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
	})
}

func postToDTO(post *model.Post, schedules []model.ScheduleJob) dto.PostDTO {
	out := dto.PostDTO{
		PostID:      post.PostID,
		WorkspaceID: post.WorkspaceID,
		Content:     post.Content,
		MediaURLs:   []string(post.MediaURLs),
		MediaType:   post.MediaType,
		Status:      post.Status,
		CreatedAt:   post.CreatedAt.Format(time.RFC3339),
	}
	if post.PublishedAt != nil {
		out.PublishedAt = post.PublishedAt.Format(time.RFC3339)
	}

	for _, schedule := range schedules {
		s := dto.ScheduleDTO{
			ScheduleID:      schedule.ScheduleID,
			SocialAccountID: schedule.SocialAccountID,
			ScheduledAt:     schedule.ScheduledAt.Format(time.RFC3339),
			Status:          schedule.Status,
			RetryCount:      schedule.RetryCount,
		}
		if schedule.ErrorMessage != nil {
			s.ErrorMessage = *schedule.ErrorMessage
		}
		if schedule.ExternalPostID != nil {
			s.ExternalPostID = *schedule.ExternalPostID
		}
		out.Schedules = append(out.Schedules, s)
	}

	return out
}
