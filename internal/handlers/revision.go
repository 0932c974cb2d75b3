package handlers

import (
	"strconv"

	"github.com/flightops/opsync/internal/middleware"
	"github.com/flightops/opsync/internal/services"
	"github.com/flightops/opsync/pkg/response"
	"github.com/gin-gonic/gin"
)

// RevisionHandler exposes the path history: commits, listing, checkout and
// version naming.
type RevisionHandler struct {
	revisions  *services.RevisionService
	permission *services.PermissionService
}

func NewRevisionHandler(revs *services.RevisionService, perm *services.PermissionService) *RevisionHandler {
	return &RevisionHandler{revisions: revs, permission: perm}
}

func revNumberParam(c *gin.Context) (uint, bool) {
	n, err := strconv.ParseUint(c.Param("number"), 10, 32)
	if err != nil || n == 0 {
		response.BadRequest(c, "invalid revision number")
		return 0, false
	}
	return uint(n), true
}

// Commit proposes a new head for the operation's flight path.
// POST /api/operations/:id/revisions
func (h *RevisionHandler) Commit(c *gin.Context) {
	opID, ok := opIDParam(c)
	if !ok {
		return
	}

	var req services.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	rev, err := h.revisions.Commit(c.Request.Context(), opID, &req, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, rev)
}

// List returns the operation's revision history, oldest first.
// GET /api/operations/:id/revisions
func (h *RevisionHandler) List(c *gin.Context) {
	opID, ok := opIDParam(c)
	if !ok {
		return
	}

	if !h.permission.EffectiveRole(opID, middleware.GetUserID(c)).AtLeast(services.RoleViewer) {
		response.Forbidden(c, "not a member of this operation")
		return
	}

	var req services.RevisionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.revisions.List(opID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, resp)
}

// Get returns a single revision with its snapshot.
// GET /api/operations/:id/revisions/:number
func (h *RevisionHandler) Get(c *gin.Context) {
	opID, ok := opIDParam(c)
	if !ok {
		return
	}
	number, ok := revNumberParam(c)
	if !ok {
		return
	}

	if !h.permission.EffectiveRole(opID, middleware.GetUserID(c)).AtLeast(services.RoleViewer) {
		response.Forbidden(c, "not a member of this operation")
		return
	}

	rev, err := h.revisions.Get(opID, number)
	if err != nil {
		respondError(c, err)
		return
	}

	waypoints, err := rev.SnapshotWaypoints()
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"revision": rev, "waypoints": waypoints})
}

// Checkout restores an earlier revision's path as a new head commit.
// POST /api/operations/:id/revisions/:number/checkout
func (h *RevisionHandler) Checkout(c *gin.Context) {
	opID, ok := opIDParam(c)
	if !ok {
		return
	}
	number, ok := revNumberParam(c)
	if !ok {
		return
	}

	rev, err := h.revisions.Checkout(c.Request.Context(), opID, number, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, rev)
}

type SetVersionNameRequest struct {
	Name string `json:"name" binding:"required"`
}

// SetVersionName attaches a human-readable label to a revision.
// PUT /api/operations/:id/revisions/:number/name
func (h *RevisionHandler) SetVersionName(c *gin.Context) {
	opID, ok := opIDParam(c)
	if !ok {
		return
	}
	number, ok := revNumberParam(c)
	if !ok {
		return
	}

	var req SetVersionNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	err := h.revisions.SetVersionName(opID, number, req.Name, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"name": req.Name})
}
