package handlers

import (
	"strconv"

	"github.com/flightops/opsync/internal/middleware"
	"github.com/flightops/opsync/internal/services"
	"github.com/flightops/opsync/pkg/response"
	"github.com/gin-gonic/gin"
)

// MembershipHandler manages per-operation role assignments.
type MembershipHandler struct {
	operations *services.OperationService
	permission *services.PermissionService
}

func NewMembershipHandler(ops *services.OperationService, perm *services.PermissionService) *MembershipHandler {
	return &MembershipHandler{operations: ops, permission: perm}
}

// List returns the operation's membership rows.
// GET /api/operations/:id/members
func (h *MembershipHandler) List(c *gin.Context) {
	opID, ok := opIDParam(c)
	if !ok {
		return
	}

	if !h.permission.EffectiveRole(opID, middleware.GetUserID(c)).AtLeast(services.RoleViewer) {
		response.Forbidden(c, "not a member of this operation")
		return
	}

	members, err := h.operations.Members(opID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, members)
}

type AssignRoleRequest struct {
	UserID uint   `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

// Assign grants or changes a member's explicit role.
// PUT /api/operations/:id/members
func (h *MembershipHandler) Assign(c *gin.Context) {
	opID, ok := opIDParam(c)
	if !ok {
		return
	}

	var req AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	role := services.Role(req.Role)
	if !role.Valid() {
		response.BadRequest(c, "unknown role: "+req.Role)
		return
	}

	err := h.permission.AssignRole(c.Request.Context(), opID, req.UserID, role, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"user_id": req.UserID, "role": role})
}

// Remove revokes a member's explicit role.
// DELETE /api/operations/:id/members/:userId
func (h *MembershipHandler) Remove(c *gin.Context) {
	opID, ok := opIDParam(c)
	if !ok {
		return
	}
	targetID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	err = h.permission.RevokeRole(c.Request.Context(), opID, uint(targetID), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "member removed"})
}
