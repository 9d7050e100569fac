package main

import (
	"BizAdvisor/backend/go/internal/advisor/api"
	"BizAdvisor/backend/go/internal/advisor/contextbuilder"
	"BizAdvisor/backend/go/internal/advisor/session"
	"BizAdvisor/backend/go/internal/advisor/tools"
	"BizAdvisor/backend/go/internal/bootstrap"
	"BizAdvisor/backend/go/internal/config"
	"BizAdvisor/backend/go/internal/insight"
	"BizAdvisor/backend/go/internal/llm"
	"BizAdvisor/backend/go/internal/models"
	httpx "BizAdvisor/backend/go/pkg/http"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "backend/go/internal/config/config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	serviceLogger := logger.New("AdvisorService", "", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	comps, err := bootstrap.New(ctx, cfg, serviceLogger)
	if err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err, "startup_error")).Fatal("Failed to initialise storage")
	}
	defer comps.Close()

	manager := llm.NewManager(cfg.LLM, cfg.Middleware.CircuitBreaker, comps.Settings, serviceLogger)
	var modelCache llm.ModelCache
	if comps.Redis != nil {
		modelCache = llm.NewRedisModelCache(comps.Redis)
	}
	catalog := llm.NewCatalog(llm.CatalogEndpoints{
		ClaudeBaseURL: cfg.LLM.Claude.BaseURL,
		OpenAIBaseURL: cfg.LLM.OpenAI.BaseURL,
	}, httpx.NewClient(cfg.Middleware.CircuitBreaker, config.Duration(cfg.LLM.CatalogTimeout, 30*time.Second)), modelCache, serviceLogger)

	builders := contextbuilder.NewFactory(comps.Settings, comps.Store, comps.Search, time.Now, serviceLogger)
	connManager := session.NewConnectionManager()
	orchestrator := session.New(comps.Store, builders, manager, session.Options{
		Publisher: connManager,
		Tools:     tools.NewSet(comps.Store, comps.Search, time.Now),
		Timeout:   manager.Timeout(),
	}, serviceLogger)

	policy := insight.PolicyFromConfig(cfg.Insight)
	insights := insight.NewService(
		insight.NewDetector(comps.Store, policy, serviceLogger),
		insight.NewGenerator(manager, comps.Search, comps.Store, policy, serviceLogger),
		serviceLogger)

	handler := api.NewHandler(api.Deps{
		Advisor:     orchestrator,
		Catalog:     catalog,
		Credentials: manager,
		Embeddings:  comps.Tracker,
		Records:     comps.Store,
		Settings:    comps.Settings,
		Insights:    insights,
		Subscribers: connManager,
		Health:      comps,
	}, serviceLogger)

	gin.SetMode(gin.ReleaseMode)
	srv, err := httpx.NewServer(api.SetupRouter(handler, cfg, serviceLogger),
		httpx.WithAddress(cfg.App.HTTPAddr),
		httpx.WithWriteTimeout(manager.Timeout()+30*time.Second))
	if err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err, "startup_error")).Fatal("Failed to create HTTP server")
	}

	go func() {
		serviceLogger.Info("Starting HTTP server on " + srv.Addr())
		if err := srv.ListenAndServe(); err != nil {
			serviceLogger.WithError(models.NewErrorInfo(err, "http_error")).Fatal("HTTP server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	serviceLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err, "http_error")).Error("Server forced to shutdown")
	}
	serviceLogger.Info("Server gracefully stopped")
}
