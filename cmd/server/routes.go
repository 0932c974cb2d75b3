package main

import (
	"github.com/flightops/opsync/internal/middleware"
	"github.com/flightops/opsync/pkg/logger"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Rate limiter for unauthenticated endpoints
	loginLimiter := middleware.NewRateLimiter(10, 20)

	// Health check
	r.GET("/health", svc.healthHandler.CheckHealth)

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/login", loginLimiter.Middleware(), svc.authHandler.Login)
		}

		// Live event stream (public route with internal token validation:
		// EventSource cannot set an Authorization header)
		api.GET("/operations/:id/stream", svc.streamHandler.Stream)

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			// Auth
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout", svc.authHandler.Logout)

			// Users (directory for membership pickers)
			protected.GET("/users", svc.userHandler.List)

			// Operations
			protected.POST("/operations", svc.operationHandler.Create)
			protected.GET("/operations", svc.operationHandler.List)
			protected.GET("/operations/:id", svc.operationHandler.GetByID)
			protected.POST("/operations/:id/status", svc.operationHandler.SetStatus)
			protected.POST("/operations/:id/group", svc.operationHandler.SetCategoryGroup)

			// Membership
			protected.GET("/operations/:id/members", svc.membershipHandler.List)
			protected.PUT("/operations/:id/members", svc.membershipHandler.Assign)
			protected.DELETE("/operations/:id/members/:userId", svc.membershipHandler.Remove)

			// Revisions
			protected.POST("/operations/:id/revisions", svc.revisionHandler.Commit)
			protected.GET("/operations/:id/revisions", svc.revisionHandler.List)
			protected.GET("/operations/:id/revisions/:number", svc.revisionHandler.Get)
			protected.POST("/operations/:id/revisions/:number/checkout", svc.revisionHandler.Checkout)
			protected.PUT("/operations/:id/revisions/:number/name", svc.revisionHandler.SetVersionName)

			// Chat
			protected.POST("/operations/:id/messages", svc.chatHandler.Post)
			protected.GET("/operations/:id/messages", svc.chatHandler.List)
		}

		// Admin only routes
		admin := api.Group("")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditLog())
		{
			admin.POST("/users", svc.userHandler.Create)
			admin.GET("/system-logs", svc.systemLogHandler.List)
		}
	}
}
