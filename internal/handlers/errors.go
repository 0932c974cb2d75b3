package handlers

import (
	"errors"
	"net/http"

	"github.com/flightops/opsync/internal/services"
	"github.com/flightops/opsync/pkg/response"
	"github.com/gin-gonic/gin"
)

// respondError maps the engine's error taxonomy onto the HTTP envelope. Every
// error here is request-scoped; nothing is fatal.
func respondError(c *gin.Context, err error) {
	var wpErr *services.InvalidWaypointError
	var gpErr *services.GroupPropagationError

	switch {
	case errors.Is(err, services.ErrPermissionDenied):
		response.Forbidden(c, err.Error())
	case errors.Is(err, services.ErrOperationNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrRevisionNotFound),
		errors.Is(err, services.ErrMessageNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, services.ErrStaleRevision):
		c.JSON(http.StatusConflict, response.Response{Code: 409, Message: err.Error()})
	case errors.Is(err, services.ErrInvalidTransition):
		response.BadRequest(c, err.Error())
	case errors.Is(err, services.ErrBusy):
		c.JSON(http.StatusTooManyRequests, response.Response{Code: 429, Message: err.Error()})
	case errors.As(err, &wpErr):
		response.BadRequest(c, wpErr.Error())
	case errors.As(err, &gpErr):
		// partial success: the committed subset stands, failures are retried
		c.JSON(http.StatusOK, response.Response{
			Code:    0,
			Message: gpErr.Error(),
			Data:    gin.H{"failed_operations": gpErr.Failed},
		})
	default:
		response.ServerError(c, err.Error())
	}
}
