package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/flightops/opsync/internal/models"
	"github.com/flightops/opsync/internal/services"
	"github.com/flightops/opsync/internal/utils"
	"github.com/flightops/opsync/pkg/logger"
	"github.com/flightops/opsync/pkg/response"
	"github.com/gin-gonic/gin"
)

// StreamHandler handles Server-Sent Events for live operation updates.
type StreamHandler struct {
	hub        *services.Hub
	operations *services.OperationService
	permission *services.PermissionService
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(hub *services.Hub, ops *services.OperationService, perm *services.PermissionService) *StreamHandler {
	return &StreamHandler{hub: hub, operations: ops, permission: perm}
}

// Stream handles an SSE connection subscribed to a single operation.
// EventSource cannot set headers, so the token may arrive as a query param.
// GET /api/operations/:id/stream
func (h *StreamHandler) Stream(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}

	if token == "" {
		response.Unauthorized(c, "Unauthorized")
		return
	}

	claims, err := utils.ParseToken(token)
	if err != nil {
		response.Unauthorized(c, "Invalid token")
		return
	}

	opID, ok := opIDParam(c)
	if !ok {
		return
	}

	role := h.permission.EffectiveRole(opID, claims.UserID)
	if !role.AtLeast(services.RoleViewer) {
		response.Forbidden(c, "not a member of this operation")
		return
	}

	op, err := h.operations.Get(opID)
	if err != nil {
		respondError(c, err)
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Access-Control-Allow-Origin", "*")

	session := h.hub.Register(claims.UserID, claims.Username)
	defer h.hub.Unregister(session.ID)

	if !h.hub.Subscribe(session.ID, opID, role) {
		response.ServerError(c, "subscribe failed")
		return
	}

	logger.Info().
		Str("session_id", session.ID).
		Uint("operation_id", opID).
		Int("total", h.hub.SessionCount()).
		Msg("stream client connected")

	// The catch-up frame goes out before any live event so a reconnecting
	// client can reconcile from the head revision.
	if err := h.sendCatchUp(c, op); err != nil {
		logger.Error().Err(err).Msg("stream catch-up error")
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-session.Events:
			if !ok {
				return false
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.Error().Err(err).Msg("stream marshal error")
				return true
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
			c.Writer.Flush()
			return true
		case <-c.Request.Context().Done():
			logger.Info().Str("session_id", session.ID).Msg("stream client disconnected")
			return false
		}
	})
}

func (h *StreamHandler) sendCatchUp(c *gin.Context, op *models.Operation) error {
	payload := services.CatchUp{
		OperationID:  op.ID,
		Status:       op.Status,
		HeadRevision: op.HeadRevision,
	}

	waypoints, err := op.CurrentWaypoints()
	if err != nil {
		return err
	}
	payload.Waypoints = waypoints

	members, err := h.operations.Members(op.ID)
	if err != nil {
		return err
	}
	payload.Members = members

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Writer, "event: catch_up\ndata: %s\n\n", data)
	c.Writer.Flush()
	return nil
}
