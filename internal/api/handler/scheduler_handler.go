package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/postflowhq/postflow-be/internal/api/dto"
	"github.com/postflowhq/postflow-be/internal/scheduler"
)

// RunScheduler handles POST /internal/scheduler/run
// Triggers one scheduler pass on demand and returns its report. Meant for
// operators; the cron-driven scheduler service is the normal trigger.
func (h *SchedulerHandler) RunScheduler(c *gin.Context) {
	var req dto.RunSchedulerRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	report, err := h.runner.Run(c.Request.Context(), scheduler.RunOptions{
		Limit:       req.Limit,
		Concurrency: req.Concurrency,
	})
	if err != nil {
		h.logger.Error("Scheduler run failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Scheduler run failed",
		})
		return
	}

	c.JSON(http.StatusOK, report)
}
