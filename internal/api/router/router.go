package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/postflowhq/postflow-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "postflow-api-service",
		})
	})

	postHandler := handler.NewPostHandler(deps)
	schedulerHandler := handler.NewSchedulerHandler(deps)

	v1 := r.Group("/api/v1")
	{
		posts := v1.Group("/posts")
		{
			posts.POST("", postHandler.CreatePost)
			posts.GET("", postHandler.ListPosts)
			posts.GET("/:post_id", postHandler.GetPost)
		}

		schedules := v1.Group("/schedules")
		{
			schedules.POST("/:schedule_id/cancel", postHandler.CancelSchedule)
		}

		v1.GET("/accounts", postHandler.ListAccounts)
	}

	// Operator surface, not exposed through the public gateway.
	internal := r.Group("/internal")
	{
		internal.POST("/scheduler/run", schedulerHandler.RunScheduler)
	}

	return r
}
