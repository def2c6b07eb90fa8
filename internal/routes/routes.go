package routes

import (
	"log/slog"

	"crowdtask-api/internal/handlers"
	"crowdtask-api/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Deps are the collaborators the router wires together.
type Deps struct {
	Handler       *handlers.Handler
	Auth          *handlers.AuthHandler
	WS            *handlers.WSHandler
	Authenticator *middleware.Authenticator
	// UploadDir is served read-only under /uploads.
	UploadDir string
	Logger    *slog.Logger
}

func SetupRoutes(d Deps) *gin.Engine {
	ginRouter := gin.Default()

	// CORS middleware (for frontend integration)
	ginRouter.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	ginRouter.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"message": "Crowdtask API is running",
		})
	})
	if d.UploadDir != "" {
		ginRouter.Static("/uploads", d.UploadDir)
	}

	api := ginRouter.Group("/api")
	api.Use(middleware.Uploads(d.Logger))
	api.POST("/login", d.Auth.Login)

	h := d.Handler
	// anonymous callers may browse published tasks
	public := api.Group("")
	public.Use(d.Authenticator.OptionalAuth())
	{
		public.GET("/task-types", h.GetTaskTypes())
		public.GET("/tasks", h.FindTask())
		public.GET("/tasks/:id", h.GetTask())
	}

	protected := api.Group("")
	protected.Use(d.Authenticator.RequireAuth())
	{
		protected.PATCH("/task-types/:id", h.SetTaskTypeEnabled())
		protected.DELETE("/task-types/:id", h.RemoveTaskType())

		protected.POST("/tasks", h.CreateTask())
		protected.PATCH("/tasks/:id", h.PatchTask())
		protected.DELETE("/tasks/:id", h.DeleteTask())
		protected.POST("/tasks/:id/data", h.PostTaskData())
		protected.GET("/tasks/:id/data", h.GetTaskData())

		protected.POST("/assignments", h.CreateAssignment())
		protected.GET("/assignments", h.FindAssignment())
		protected.GET("/assignments/:id", h.GetAssignment())
		protected.PATCH("/assignments/:id", h.PatchAssignment())
		protected.DELETE("/assignments/:id", h.DeleteAssignment())
		protected.POST("/assignments/:id/data", h.PostAssignmentData())
		protected.GET("/assignments/:id/data", h.GetAssignmentData())

		protected.GET("/ws", d.WS.Serve)
	}

	return ginRouter
}
