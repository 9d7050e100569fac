// Package api exposes the advisory subsystem over HTTP and WebSocket.
package api

import (
	"BizAdvisor/backend/go/internal/advisor/session"
	"BizAdvisor/backend/go/internal/embedding/lifecycle"
	"BizAdvisor/backend/go/internal/insight"
	"BizAdvisor/backend/go/internal/llm"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/internal/settings"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Advisor is the session orchestrator as seen by the handlers.
type Advisor interface {
	CreateThread(ctx context.Context, userID uint, title string) (*models.AdvisoryThread, error)
	SelectThread(ctx context.Context, userID, threadID uint) error
	DeleteThread(ctx context.Context, userID, threadID uint) error
	ListThreads(ctx context.Context, userID uint) ([]models.AdvisoryThread, error)
	Messages(ctx context.Context, userID, threadID uint) ([]models.AdvisoryMessage, error)
	SendMessage(ctx context.Context, userID, threadID uint, content string) (*models.AdvisoryMessage, error)
	ThreadStatus(ctx context.Context, userID, threadID uint) (session.Status, error)
}

// ModelCatalog lists the chat models available to a credential.
type ModelCatalog interface {
	Models(ctx context.Context, provider llm.ProviderName, apiKey string) ([]string, error)
}

// Credentials resolves a user's provider credential.
type Credentials interface {
	APIKey(ctx context.Context, userID uint, name llm.ProviderName) (string, error)
}

// Embeddings schedules manual embedding work.
type Embeddings interface {
	Reembed(ctx context.Context, ref models.RecordRef) error
	Backfill(ctx context.Context, lister lifecycle.Lister, kind models.RecordKind, limit int) (int, error)
}

// Records reads embeddable records.
type Records interface {
	lifecycle.Lister
	LoadSource(ctx context.Context, ref models.RecordRef) (*models.EmbeddingSource, error)
}

// SettingsWriter stores one user setting.
type SettingsWriter interface {
	Set(ctx context.Context, userID uint, key, value string) error
}

// InsightScanner runs proactive insight detection for a user.
type InsightScanner interface {
	Scan(ctx context.Context, userID uint, now time.Time) (*insight.ScanResult, error)
}

// Subscribers tracks the WebSocket connection of each user.
type Subscribers interface {
	Add(userID uint, conn session.Conn)
	Remove(userID uint, conn session.Conn)
}

// HealthChecker reports per-backend health; an empty value means healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]string
}

// Deps are the handler dependencies. Only Advisor is required; routes whose
// dependency is nil are not registered.
type Deps struct {
	Advisor     Advisor
	Catalog     ModelCatalog
	Credentials Credentials
	Embeddings  Embeddings
	Records     Records
	Settings    SettingsWriter
	Insights    InsightScanner
	Subscribers Subscribers
	Health      HealthChecker
}

// Handler 封装了所有 API endpoint 的处理函数。
type Handler struct {
	Deps
	logger   *logger.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewHandler 创建一个新的 Handler 实例。
func NewHandler(deps Deps, log *logger.Logger) *Handler {
	return &Handler{
		Deps:   deps,
		logger: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// --- Threads ---

type createThreadRequest struct {
	Title string `json:"title"`
}

// CreateThread 创建会话并设为当前会话。
func (h *Handler) CreateThread(c *gin.Context) {
	var req createThreadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	thread, err := h.Advisor.CreateThread(c.Request.Context(), UserID(c), req.Title)
	if err != nil {
		h.fail(c, err, "failed to create thread")
		return
	}
	c.JSON(http.StatusCreated, thread)
}

// ListThreads 按最近活跃排序返回会话列表。
func (h *Handler) ListThreads(c *gin.Context) {
	threads, err := h.Advisor.ListThreads(c.Request.Context(), UserID(c))
	if err != nil {
		h.fail(c, err, "failed to list threads")
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

func (h *Handler) DeleteThread(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Advisor.DeleteThread(c.Request.Context(), UserID(c), id); err != nil {
		h.fail(c, err, "failed to delete thread")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SelectThread(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Advisor.SelectThread(c.Request.Context(), UserID(c), id); err != nil {
		h.fail(c, err, "failed to select thread")
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_thread_id": id})
}

func (h *Handler) Messages(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	msgs, err := h.Advisor.Messages(c.Request.Context(), UserID(c), id)
	if err != nil {
		h.fail(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage 处理一轮对话。失败时仍返回已保存的致歉消息。
func (h *Handler) SendMessage(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.Advisor.SendMessage(c.Request.Context(), UserID(c), id, req.Content)
	var turnErr *session.TurnError
	switch {
	case errors.As(err, &turnErr):
		c.JSON(StatusFor(turnErr.Err), gin.H{"error": turnErr.Err.Error(), "message": msg})
	case err != nil:
		h.fail(c, err, "failed to send message")
	default:
		c.JSON(http.StatusOK, gin.H{"message": msg})
	}
}

func (h *Handler) Status(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	status, err := h.Advisor.ThreadStatus(c.Request.Context(), UserID(c), id)
	if err != nil {
		h.fail(c, err, "failed to read status")
		return
	}
	c.JSON(http.StatusOK, status)
}

// --- Models ---

// Models 返回当前凭据可用的聊天模型，按推荐顺序排列。
func (h *Handler) Models(c *gin.Context) {
	name := llm.ProviderName(strings.ToLower(c.Param("provider")))
	key, err := h.Credentials.APIKey(c.Request.Context(), UserID(c), name)
	if err != nil {
		h.fail(c, err, "failed to resolve credential")
		return
	}
	ids, err := h.Catalog.Models(c.Request.Context(), name, key)
	if err != nil {
		h.fail(c, err, "failed to list models")
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": name, "models": ids})
}

// --- Embeddings ---

func kindParam(c *gin.Context) (models.RecordKind, bool) {
	kind := models.RecordKind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown record kind"})
		return "", false
	}
	return kind, true
}

// Reembed 立即重新生成一条记录的向量。新闻为全局记录，其余记录必须属于当前用户。
func (h *Handler) Reembed(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ref := models.RecordRef{Kind: kind, ID: id}
	src, err := h.Records.LoadSource(c.Request.Context(), ref)
	if err != nil {
		h.fail(c, err, "failed to load record")
		return
	}
	if src.OwnerID != 0 && src.OwnerID != UserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": lifecycle.ErrRecordNotFound.Error()})
		return
	}
	if err := h.Embeddings.Reembed(c.Request.Context(), ref); err != nil {
		h.fail(c, err, "failed to schedule embedding")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scheduled": 1})
}

// Backfill 为尚未生成向量的记录安排任务。
func (h *Handler) Backfill(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	n, err := h.Embeddings.Backfill(c.Request.Context(), h.Records, kind, limit)
	if err != nil {
		h.fail(c, err, "backfill failed")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scheduled": n})
}

// --- Settings & insights ---

type settingRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value"`
}

func (h *Handler) PutSetting(c *gin.Context) {
	var req settingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !settings.KnownKey(req.Key) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown setting " + req.Key})
		return
	}
	if err := h.Settings.Set(c.Request.Context(), UserID(c), req.Key, req.Value); err != nil {
		h.fail(c, err, "failed to save setting")
		return
	}
	c.Status(http.StatusNoContent)
}

// Healthz 返回各后端的健康状况，任一失败时为 503。
func (h *Handler) Healthz(c *gin.Context) {
	if h.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	checks := h.Health.HealthCheck(c.Request.Context())
	status, code := "ok", http.StatusOK
	for _, msg := range checks {
		if msg != "" {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}

func (h *Handler) ScanInsights(c *gin.Context) {
	res, err := h.Insights.Scan(c.Request.Context(), UserID(c), h.now())
	if err != nil {
		h.fail(c, err, "insight scan failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- WebSocket ---

// Subscribe 升级为 WebSocket 连接，用于推送回复片段。
func (h *Handler) Subscribe(c *gin.Context) {
	userID := UserID(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(models.NewErrorInfo(err, "websocket_error")).Error("Failed to upgrade WebSocket connection")
		return
	}
	h.Subscribers.Add(userID, conn)

	go func() {
		defer h.Subscribers.Remove(userID, conn)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}
