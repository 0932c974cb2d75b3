package handlers

import (
	"github.com/flightops/opsync/internal/models"
	"github.com/flightops/opsync/internal/services"
	"github.com/gin-gonic/gin"
)

// HealthHandler provides enhanced health check endpoints.
type HealthHandler struct {
	hub *services.Hub
}

func NewHealthHandler(hub *services.Hub) *HealthHandler {
	return &HealthHandler{hub: hub}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"

	// Database check
	dbStatus := "ok"
	sqlDB, err := models.GetDB().DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	// Queue mode
	taskQueue := services.GetTaskQueue()
	queueMode := "sync"
	if taskQueue != nil && taskQueue.IsAsync() {
		queueMode = "async (Redis)"
	}

	// Pending propagation retries
	var pendingRetries int64
	models.GetDB().Model(&models.PropagationRetry{}).Count(&pendingRetries)

	c.JSON(200, gin.H{
		"status":  overall,
		"service": "opsync",
		"components": gin.H{
			"database":            dbStatus,
			"queue_mode":          queueMode,
			"live_sessions":       h.hub.SessionCount(),
			"pending_propagation": pendingRetries,
		},
	})
}
