package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xscopehub/consultd/internal/model"
)

// errBadRequest marks requests that could not be decoded at all.
var errBadRequest = errors.New("bad request")

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

// fail renders err and records it on the context for the audit trail.
func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "route", c.FullPath(), "error", err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, envelope{Success: false, Error: msg})
}

// classify maps the error taxonomy to a status and a client-safe message.
// Infrastructure details never reach the client.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, model.ErrUnauthenticated):
		return http.StatusUnauthorized, model.ErrUnauthenticated.Error()
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, model.ErrNotFound.Error()
	case errors.Is(err, model.ErrAlreadyAssigned):
		return http.StatusConflict, model.ErrAlreadyAssigned.Error()
	case errors.Is(err, model.ErrSpecialtyMismatch):
		return http.StatusConflict, model.ErrSpecialtyMismatch.Error()
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, model.ErrPartialFailure):
		return http.StatusBadGateway, model.ErrPartialFailure.Error()
	case errors.Is(err, model.ErrStorage):
		return http.StatusBadGateway, model.ErrStorage.Error()
	case errors.Is(err, model.ErrUpstream):
		return http.StatusBadGateway, model.ErrUpstream.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
