package api

import (
	"BizAdvisor/backend/go/internal/config"
	"BizAdvisor/backend/go/pkg/httpmiddleware"
	"BizAdvisor/backend/go/pkg/logger"
	"BizAdvisor/backend/go/pkg/ratelimiter"
	"strconv"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置和返回一个 Gin 引擎实例。
func SetupRouter(h *Handler, cfg *config.AppConfig, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpmiddleware.Trace(), httpmiddleware.RequestLogger(log))

	r.GET("/healthz", h.Healthz)

	auth := AuthMiddleware(cfg.Auth.JwtSecret)
	protected := []gin.HandlerFunc{auth}
	if rl := cfg.Middleware.RateLimiter; rl.Enabled {
		limiter := ratelimiter.NewKeyed(rl.Rate, rl.Capacity)
		protected = append(protected, httpmiddleware.RateLimit(limiter, func(c *gin.Context) string {
			return strconv.FormatUint(uint64(UserID(c)), 10)
		}))
	}

	apiV1 := r.Group("/api/v1", protected...)
	{
		threads := apiV1.Group("/threads")
		threads.POST("", h.CreateThread)
		threads.GET("", h.ListThreads)
		threads.DELETE("/:id", h.DeleteThread)
		threads.POST("/:id/select", h.SelectThread)
		threads.GET("/:id/messages", h.Messages)
		threads.POST("/:id/messages", h.SendMessage)
		threads.GET("/:id/status", h.Status)

		if h.Catalog != nil && h.Credentials != nil {
			apiV1.GET("/models/:provider", h.Models)
		}
		if h.Embeddings != nil && h.Records != nil {
			apiV1.POST("/embeddings/:kind/:id/reembed", h.Reembed)
			apiV1.POST("/embeddings/:kind/backfill", h.Backfill)
		}
		if h.Settings != nil {
			apiV1.PUT("/settings", h.PutSetting)
		}
		if h.Insights != nil {
			apiV1.POST("/insights/scan", h.ScanInsights)
		}
	}

	if h.Subscribers != nil {
		r.GET("/ws/subscribe", auth, h.Subscribe)
	}
	return r
}
