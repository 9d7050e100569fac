package api

import (
	"BizAdvisor/backend/go/internal/advisor/contextbuilder"
	"BizAdvisor/backend/go/internal/advisor/session"
	"BizAdvisor/backend/go/internal/config"
	"BizAdvisor/backend/go/internal/database/testdb"
	"BizAdvisor/backend/go/internal/embedding/lifecycle"
	"BizAdvisor/backend/go/internal/insight"
	"BizAdvisor/backend/go/internal/llm"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/internal/settings"
	"BizAdvisor/backend/go/internal/store"
	"BizAdvisor/backend/go/pkg/logger"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type recordingQueue struct {
	mu    sync.Mutex
	tasks []lifecycle.Task
}

func (q *recordingQueue) Schedule(_ context.Context, task lifecycle.Task, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type replyProvider struct {
	reply string
	err   error
}

func (p *replyProvider) Name() llm.ProviderName { return llm.ProviderOpenAI }
func (p *replyProvider) Model() string          { return "reply-1" }

func (p *replyProvider) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return p.ChatStream(ctx, req, nil)
}

func (p *replyProvider) ChatStream(_ context.Context, _ llm.Request, onChunk llm.ChunkFunc) (*llm.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	if onChunk != nil {
		onChunk(p.reply)
	}
	return &llm.Response{Content: p.reply, Provider: llm.ProviderOpenAI, Model: "reply-1"}, nil
}

type fixedResolver struct{ p llm.Provider }

func (r fixedResolver) Default(context.Context, uint) (llm.Provider, error) { return r.p, nil }

type fakeCatalog struct {
	provider llm.ProviderName
	key      string
}

func (c *fakeCatalog) Models(_ context.Context, provider llm.ProviderName, apiKey string) ([]string, error) {
	c.provider, c.key = provider, apiKey
	if apiKey == "" {
		return nil, &llm.ConfigurationError{Provider: provider, Reason: "missing API key"}
	}
	return []string{"gpt-4o", "gpt-4o-mini"}, nil
}

type fakeScanner struct{ userID uint }

func (s *fakeScanner) Scan(_ context.Context, userID uint, _ time.Time) (*insight.ScanResult, error) {
	s.userID = userID
	return &insight.ScanResult{Insights: []*models.ProactiveInsight{{Title: "Watch costs"}}}, nil
}

type fixture struct {
	router   *gin.Engine
	store    *store.Store
	queue    *recordingQueue
	catalog  *fakeCatalog
	scanner  *fakeScanner
	conns    *session.ConnectionManager
	provider *replyProvider
	health   *fakeHealth
}

type fakeHealth struct{ checks map[string]string }

func (f *fakeHealth) HealthCheck(context.Context) map[string]string { return f.checks }

func newFixture(t *testing.T, secret string) *fixture {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Auth.JwtSecret = secret

	db := testdb.Open(t)
	q := &recordingQueue{}
	tracker := lifecycle.NewTracker(q, time.Second, logger.Discard())
	s := store.New(db, 3, tracker)
	sp := settings.NewStore(db, settings.Defaults(cfg))
	provider := &replyProvider{reply: "Keep three months of runway."}
	advisor := session.New(s, contextbuilder.NewFactory(sp, s, nil, nil, logger.Discard()),
		fixedResolver{provider}, session.Options{Timeout: 5 * time.Second}, logger.Discard())

	f := &fixture{store: s, queue: q, catalog: &fakeCatalog{}, scanner: &fakeScanner{},
		conns: session.NewConnectionManager(), provider: provider,
		health: &fakeHealth{checks: map[string]string{"mysql": ""}}}
	h := NewHandler(Deps{
		Advisor:     advisor,
		Catalog:     f.catalog,
		Credentials: llm.NewManager(cfg.LLM, config.CircuitBreakerConfig{}, sp, logger.Discard()),
		Embeddings:  tracker,
		Records:     s,
		Settings:    sp,
		Insights:    f.scanner,
		Subscribers: f.conns,
		Health:      f.health,
	}, logger.Discard())
	f.router = SetupRouter(h, cfg, logger.Discard())
	return f
}

func token(t *testing.T, userID uint) string {
	tok, err := IssueToken(testSecret, userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, userID uint, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func createThread(t *testing.T, f *fixture, userID uint) uint {
	w := f.do(t, userID, http.MethodPost, "/api/v1/threads", map[string]string{"title": ""})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var thread models.AdvisoryThread
	decode(t, w, &thread)
	return thread.ID
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t, testSecret)

	w := f.do(t, 0, http.MethodGet, "/api/v1/threads", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/threads", nil)
	req.Header.Set("Authorization", "Token abc")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	bad, err := IssueToken("other-secret", 1, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/threads", nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, 1, http.MethodGet, "/api/v1/threads", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestParseToken(t *testing.T) {
	tok := token(t, 7)
	id, err := ParseToken(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, uint(7), id)

	expired, err := IssueToken(testSecret, 7, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, expired)
	assert.Error(t, err)

	forever, err := IssueToken(testSecret, 7, 0)
	require.NoError(t, err)
	id, err = ParseToken(testSecret, forever)
	require.NoError(t, err)
	assert.Equal(t, uint(7), id)

	_, err = IssueToken("", 7, time.Hour)
	assert.Error(t, err)
}

func TestDevModeWithoutSecret(t *testing.T) {
	f := newFixture(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/threads", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var thread models.AdvisoryThread
	decode(t, w, &thread)
	assert.Equal(t, DevUserID, thread.UserID)
}

func TestThreadConversation(t *testing.T) {
	f := newFixture(t, testSecret)
	id := createThread(t, f, 1)

	w := f.do(t, 1, http.MethodPost, fmt.Sprintf("/api/v1/threads/%d/messages", id), map[string]string{"content": "How much runway do we need?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sent struct {
		Message models.AdvisoryMessage `json:"message"`
	}
	decode(t, w, &sent)
	assert.Equal(t, "Keep three months of runway.", sent.Message.Content)
	assert.Equal(t, models.RoleAssistant, sent.Message.Role)

	w = f.do(t, 1, http.MethodGet, fmt.Sprintf("/api/v1/threads/%d/messages", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Messages []models.AdvisoryMessage `json:"messages"`
	}
	decode(t, w, &listed)
	require.Len(t, listed.Messages, 2)
	assert.Equal(t, "How much runway do we need?", listed.Messages[0].Content)

	w = f.do(t, 1, http.MethodGet, fmt.Sprintf("/api/v1/threads/%d/status", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"completed"`)

	w = f.do(t, 1, http.MethodGet, "/api/v1/threads", nil)
	var threads struct {
		Threads []models.AdvisoryThread `json:"threads"`
	}
	decode(t, w, &threads)
	require.Len(t, threads.Threads, 1)
	assert.Equal(t, "How much runway do we need?", threads.Threads[0].Title)

	w = f.do(t, 1, http.MethodPost, fmt.Sprintf("/api/v1/threads/%d/select", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, 1, http.MethodDelete, fmt.Sprintf("/api/v1/threads/%d", id), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, 1, http.MethodGet, fmt.Sprintf("/api/v1/threads/%d/messages", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestThreadsAreOwnerScoped(t *testing.T) {
	f := newFixture(t, testSecret)
	id := createThread(t, f, 1)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, fmt.Sprintf("/api/v1/threads/%d/messages", id)},
		{http.MethodGet, fmt.Sprintf("/api/v1/threads/%d/status", id)},
		{http.MethodPost, fmt.Sprintf("/api/v1/threads/%d/select", id)},
		{http.MethodDelete, fmt.Sprintf("/api/v1/threads/%d", id)},
	} {
		w := f.do(t, 2, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, tc.path)
	}
	w := f.do(t, 2, http.MethodPost, fmt.Sprintf("/api/v1/threads/%d/messages", id), map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, 1, http.MethodGet, "/api/v1/threads/abc/messages", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t, testSecret)
	id := createThread(t, f, 1)
	path := fmt.Sprintf("/api/v1/threads/%d/messages", id)

	assert.Equal(t, http.StatusBadRequest, f.do(t, 1, http.MethodPost, path, map[string]string{}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, 1, http.MethodPost, path, map[string]string{"content": "   "}).Code)
}

func TestSendMessageFailureReturnsApology(t *testing.T) {
	f := newFixture(t, testSecret)
	id := createThread(t, f, 1)
	path := fmt.Sprintf("/api/v1/threads/%d/messages", id)

	f.provider.err = &llm.ConfigurationError{Provider: llm.ProviderOpenAI, Reason: "missing API key"}
	w := f.do(t, 1, http.MethodPost, path, map[string]string{"content": "hello"})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	var body struct {
		Error   string                 `json:"error"`
		Message models.AdvisoryMessage `json:"message"`
	}
	decode(t, w, &body)
	assert.Contains(t, body.Error, "missing API key")
	assert.True(t, strings.HasPrefix(body.Message.Content, "I'm sorry, I couldn't complete that request."))
	assert.Nil(t, body.Message.Provider)

	f.provider.err = &llm.UpstreamError{Provider: llm.ProviderOpenAI, StatusCode: 500, Body: "boom"}
	w = f.do(t, 1, http.MethodPost, path, map[string]string{"content": "again"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestModelsUsesUserCredential(t *testing.T) {
	f := newFixture(t, testSecret)

	w := f.do(t, 1, http.MethodGet, "/api/v1/models/openai", nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = f.do(t, 1, http.MethodPut, "/api/v1/settings", map[string]string{"key": settings.KeyOpenAIAPIKey, "value": "sk-user"})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = f.do(t, 1, http.MethodGet, "/api/v1/models/OpenAI", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Provider string   `json:"provider"`
		Models   []string `json:"models"`
	}
	decode(t, w, &body)
	assert.Equal(t, "openai", body.Provider)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, body.Models)
	assert.Equal(t, "sk-user", f.catalog.key)

	w = f.do(t, 1, http.MethodGet, "/api/v1/models/mistral", nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestPutSettingRejectsUnknownKey(t *testing.T) {
	f := newFixture(t, testSecret)
	w := f.do(t, 1, http.MethodPut, "/api/v1/settings", map[string]string{"key": "ai.unknown", "value": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReembed(t *testing.T) {
	f := newFixture(t, testSecret)
	ctx := context.Background()
	ev := &models.BusinessEvent{UserID: 1, EventType: "expense_change", Title: "Rent up", Significance: models.SignificanceHigh}
	require.NoError(t, f.store.CreateBusinessEvent(ctx, ev))
	before := f.queue.len()

	w := f.do(t, 1, http.MethodPost, fmt.Sprintf("/api/v1/embeddings/business_event/%d/reembed", ev.ID), nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, before+1, f.queue.len())

	w = f.do(t, 2, http.MethodPost, fmt.Sprintf("/api/v1/embeddings/business_event/%d/reembed", ev.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, 1, http.MethodPost, "/api/v1/embeddings/business_event/999/reembed", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, 1, http.MethodPost, "/api/v1/embeddings/invoice/1/reembed", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, before+1, f.queue.len())
}

func TestBackfill(t *testing.T) {
	f := newFixture(t, testSecret)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.CreateBusinessEvent(ctx, &models.BusinessEvent{
			UserID: 1, EventType: "note", Title: fmt.Sprintf("event %d", i), Significance: models.SignificanceNone,
		}))
	}
	require.Zero(t, f.queue.len())

	w := f.do(t, 1, http.MethodPost, "/api/v1/embeddings/business_event/backfill?limit=2", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.JSONEq(t, `{"scheduled":2}`, w.Body.String())
	assert.Equal(t, 2, f.queue.len())

	w = f.do(t, 1, http.MethodPost, "/api/v1/embeddings/business_event/backfill?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScanInsights(t *testing.T) {
	f := newFixture(t, testSecret)
	w := f.do(t, 3, http.MethodPost, "/api/v1/insights/scan", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Watch costs")
	assert.Equal(t, uint(3), f.scanner.userID)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", lifecycle.ErrRecordNotFound), http.StatusNotFound},
		{session.ErrEmptyMessage, http.StatusBadRequest},
		{&llm.ConfigurationError{Provider: llm.ProviderClaude}, http.StatusPreconditionFailed},
		{fmt.Errorf("turn: %w", &llm.UpstreamError{Provider: llm.ProviderClaude}), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestWebSocketSubscribe(t *testing.T) {
	f := newFixture(t, testSecret)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/subscribe?token=" + token(t, 1)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.conns.Connected(1) }, time.Second, 10*time.Millisecond)
	require.True(t, f.conns.Publish(1, session.Event{Type: session.EventChunk, ThreadID: 4, Content: "hi"}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chunk","thread_id":4,"content":"hi"}`, string(data))

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/subscribe", nil)
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, testSecret)

	w := f.do(t, 0, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"mysql":""}}`, w.Body.String())

	f.health.checks["redis"] = "connection refused"
	w = f.do(t, 0, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}
