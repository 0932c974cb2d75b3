package handlers

import (
	"github.com/flightops/opsync/internal/middleware"
	"github.com/flightops/opsync/internal/services"
	"github.com/flightops/opsync/pkg/response"
	"github.com/gin-gonic/gin"
)

// ChatHandler serves the per-operation discussion thread.
type ChatHandler struct {
	chat *services.ChatService
}

func NewChatHandler(chat *services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// Post appends a message to the operation's thread.
// POST /api/operations/:id/messages
func (h *ChatHandler) Post(c *gin.Context) {
	opID, ok := opIDParam(c)
	if !ok {
		return
	}

	var req services.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.chat.Post(c.Request.Context(), opID, &req, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, msg)
}

// List returns the thread, oldest first.
// GET /api/operations/:id/messages
func (h *ChatHandler) List(c *gin.Context) {
	opID, ok := opIDParam(c)
	if !ok {
		return
	}

	var req services.ChatListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.chat.List(opID, &req, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, resp)
}
