package handler

import (
	"log/slog"

	"github.com/postflowhq/postflow-be/internal/api/storage"
	"github.com/postflowhq/postflow-be/internal/scheduler"
)

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Logger  *slog.Logger
	Storage *storage.Storage
	Runner  *scheduler.Runner
}

// PostHandler serves the post and schedule endpoints.
type PostHandler struct {
	logger  *slog.Logger
	storage *storage.Storage
}

// NewPostHandler creates a post handler.
func NewPostHandler(deps *Dependencies) *PostHandler {
	return &PostHandler{
		logger:  deps.Logger,
		storage: deps.Storage,
	}
}

// SchedulerHandler serves the operator scheduler-run endpoint.
type SchedulerHandler struct {
	logger *slog.Logger
	runner *scheduler.Runner
}

// NewSchedulerHandler creates a scheduler handler.
func NewSchedulerHandler(deps *Dependencies) *SchedulerHandler {
	return &SchedulerHandler{
		logger: deps.Logger,
		runner: deps.Runner,
	}
}
