package handlers

import (
	"github.com/flightops/opsync/internal/config"
	"github.com/flightops/opsync/internal/services"
	"github.com/flightops/opsync/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UserHandler exposes the user directory for membership pickers and local
// account creation.
type UserHandler struct {
	authService *services.AuthService
}

func NewUserHandler(db *gorm.DB, cfg *config.Config) *UserHandler {
	return &UserHandler{
		authService: services.NewAuthService(db, &cfg.JWT),
	}
}

// List returns all active users.
// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.authService.ListUsers()
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, users)
}

// Create registers a local user account.
// POST /api/users
func (h *UserHandler) Create(c *gin.Context) {
	var req services.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.authService.CreateUser(&req)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Created(c, user)
}
