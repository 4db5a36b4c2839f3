package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prepdeck/prepdeck-backend/internal/config"
	"github.com/prepdeck/prepdeck-backend/internal/handler"
	"github.com/prepdeck/prepdeck-backend/internal/middleware"
	"github.com/prepdeck/prepdeck-backend/internal/response"
	"github.com/prepdeck/prepdeck-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth         *handler.AuthHandler
	Exam         *handler.ExamHandler
	StudySession *handler.StudySessionHandler
	TestSession  *handler.TestSessionHandler
	Progress     *handler.ProgressHandler
	WS           *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// Restrict to the configured origins when set, otherwise allow all so
	// dev works without extra config.
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/login", handlers.Auth.Login)
		auth.POST("/logout", middleware.RequireAuth(authService), handlers.Auth.Logout)
		auth.GET("/me", middleware.RequireAuth(authService), handlers.Auth.Me)
	}

	api := router.Group("/api/v1")
	api.Use(middleware.RequireAuth(authService))
	{
		api.GET("/exams", handlers.Exam.List)
		api.GET("/exams/:exam_id", handlers.Exam.Get)

		api.GET("/progress", handlers.Progress.Get)

		study := api.Group("/sessions/study")
		{
			study.POST("", handlers.StudySession.Start)
			study.GET("", handlers.StudySession.History)
			study.GET("/:session_id", handlers.StudySession.Get)
			study.PATCH("/:session_id", handlers.StudySession.UpdateProgress)
			study.POST("/:session_id/pause", handlers.StudySession.Pause)
			study.POST("/:session_id/resume", handlers.StudySession.Resume)
			study.POST("/:session_id/complete", handlers.StudySession.Complete)
			study.POST("/:session_id/abandon", handlers.StudySession.Abandon)
		}

		test := api.Group("/sessions/test")
		{
			test.POST("", handlers.TestSession.Start)
			test.GET("", handlers.TestSession.History)
			test.GET("/active", handlers.TestSession.GetActive)
			test.GET("/:session_id", handlers.TestSession.Get)
			test.PATCH("/:session_id", handlers.TestSession.UpdateProgress)
			test.POST("/:session_id/submit", handlers.TestSession.Submit)
			test.POST("/:session_id/abandon", handlers.TestSession.Abandon)
			test.GET("/:session_id/results", handlers.TestSession.Results)
		}
	}

	admin := router.Group("/api/v1/admin")
	admin.Use(middleware.RequireAuth(authService), middleware.RequireAdmin())
	{
		admin.POST("/sessions/test/expire-overdue", handlers.TestSession.ExpireOverdue)
	}

	// WebSocket routes authenticate via ?token= since browsers cannot set
	// headers on upgrade requests.
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAuth(authService))
	{
		ws.GET("/sessions/test/:session_id/timer", handlers.WS.TimerStream)
	}

	return router
}
