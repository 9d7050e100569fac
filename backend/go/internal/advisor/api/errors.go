package api

import (
	"BizAdvisor/backend/go/internal/advisor/session"
	"BizAdvisor/backend/go/internal/embedding/lifecycle"
	"BizAdvisor/backend/go/internal/llm"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/internal/store"
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatusFor maps a domain error to an HTTP status.
func StatusFor(err error) int {
	var cfgErr *llm.ConfigurationError
	var upErr *llm.UpstreamError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, lifecycle.ErrRecordNotFound),
		errors.Is(err, session.ErrThreadDeleted):
		return http.StatusNotFound
	case errors.Is(err, session.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.As(err, &cfgErr):
		return http.StatusPreconditionFailed
	case errors.As(err, &upErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(models.NewErrorInfo(err, "http_error")).
			WithField("trace_id", c.GetString("traceID")).
			WithPayload(map[string]interface{}{"user_id": UserID(c), "path": c.FullPath()}).
			Error(msg)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
