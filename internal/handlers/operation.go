package handlers

import (
	"strconv"

	"github.com/flightops/opsync/internal/middleware"
	"github.com/flightops/opsync/internal/services"
	"github.com/flightops/opsync/pkg/response"
	"github.com/gin-gonic/gin"
)

// OperationHandler provides endpoints for operation CRUD and lifecycle
// transitions.
type OperationHandler struct {
	operations *services.OperationService
	permission *services.PermissionService
}

func NewOperationHandler(ops *services.OperationService, perm *services.PermissionService) *OperationHandler {
	return &OperationHandler{operations: ops, permission: perm}
}

func opIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid operation id")
		return 0, false
	}
	return uint(id), true
}

// Create creates an operation owned by the caller.
// POST /api/operations
func (h *OperationHandler) Create(c *gin.Context) {
	var req services.CreateOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	op, err := h.operations.Create(&req, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, op)
}

// List returns the caller's operations, filtered by status and category.
// GET /api/operations
func (h *OperationHandler) List(c *gin.Context) {
	var req services.OperationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.operations.List(&req, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, resp)
}

// GetByID returns an operation with its current waypoints, membership list
// and head revision number.
// GET /api/operations/:id
func (h *OperationHandler) GetByID(c *gin.Context) {
	opID, ok := opIDParam(c)
	if !ok {
		return
	}

	userID := middleware.GetUserID(c)
	if !h.permission.EffectiveRole(opID, userID).AtLeast(services.RoleViewer) {
		response.Forbidden(c, "not a member of this operation")
		return
	}

	op, err := h.operations.Get(opID)
	if err != nil {
		respondError(c, err)
		return
	}

	waypoints, err := op.CurrentWaypoints()
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	members, err := h.operations.Members(opID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"operation":     op,
		"waypoints":     waypoints,
		"members":       members,
		"head_revision": op.HeadRevision,
		"my_role":       h.permission.EffectiveRole(opID, userID),
	})
}

type SetStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SetStatus performs an explicit lifecycle transition.
// POST /api/operations/:id/status
func (h *OperationHandler) SetStatus(c *gin.Context) {
	opID, ok := opIDParam(c)
	if !ok {
		return
	}

	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.operations.SetStatus(c.Request.Context(), opID, req.Status, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"status": req.Status})
}

// SetCategoryGroup designates the operation as its category's group
// operation and propagates its membership.
// POST /api/operations/:id/group
func (h *OperationHandler) SetCategoryGroup(c *gin.Context) {
	opID, ok := opIDParam(c)
	if !ok {
		return
	}

	if err := h.permission.SetCategoryGroup(c.Request.Context(), opID, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "category group set"})
}
