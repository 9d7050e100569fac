package httpmiddleware

import (
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/pkg/logger"
	"BizAdvisor/backend/go/pkg/ratelimiter"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TraceHeader carries the request trace id in and out.
const TraceHeader = "X-Trace-Id"

// RateLimit rejects requests with 429 once the bucket for key(c) is empty.
func RateLimit(limiter *ratelimiter.Keyed, key func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(key(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
			return
		}
		c.Next()
	}
}

// Trace assigns a trace id to every request, reusing the caller's when present.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set("traceID", traceID)
		c.Header(TraceHeader, traceID)
		c.Next()
	}
}

// RequestLogger logs one structured line per request.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithRequest(models.RequestInfo{
			Method:     c.Request.Method,
			Path:       c.FullPath(),
			RemoteAddr: c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
			Status:     c.Writer.Status(),
			LatencyMs:  time.Since(start).Milliseconds(),
		}).WithField("trace_id", c.GetString("traceID"))

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request handled")
		}
	}
}
