package main

import (
	"BizAdvisor/backend/go/internal/advisor/tools"
	"BizAdvisor/backend/go/internal/bootstrap"
	"BizAdvisor/backend/go/internal/config"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
)

// STDIO transport (default):
//   go run ./backend/go/cmd/advisor_mcp -user=1
//
// SSE transport on port 8084:
//   go run ./backend/go/cmd/advisor_mcp -transport=sse -port=8084 -user=1
//
// StreamableHTTP transport on port 9000:
//   go run ./backend/go/cmd/advisor_mcp -transport=httpstream -port=9000 -user=1

func main() {
	configPath := flag.String("config", "backend/go/internal/config/config.yaml", "path to the YAML config")
	transport := flag.String("transport", "stdio", "Transport method: stdio, sse, or httpstream")
	port := flag.String("port", "8084", "Port for HTTP-based transports (sse, httpstream)")
	userID := flag.Uint("user", 0, "owner whose business data the tools read")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	// stdout 属于 stdio 传输
	logrus.SetOutput(os.Stderr)
	mcpLogger := logger.New("AdvisorMCP", "", "")

	if *userID == 0 {
		mcpLogger.Fatal("-user is required")
	}

	comps, err := bootstrap.New(context.Background(), cfg, mcpLogger)
	if err != nil {
		mcpLogger.WithError(models.NewErrorInfo(err, "startup_error")).Fatal("Failed to initialise storage")
	}
	defer comps.Close()

	s := tools.NewMCPServer(tools.NewSet(comps.Store, comps.Search, time.Now), uint(*userID))
	entry := mcpLogger.WithPayload(map[string]interface{}{"transport": *transport, "port": *port, "user_id": *userID})

	switch *transport {
	case "sse":
		entry.Info("Starting advisor MCP server")
		if err := server.NewSSEServer(s).Start(":" + *port); err != nil {
			mcpLogger.WithError(models.NewErrorInfo(err, "server_error")).Error("SSE server error")
		}
	case "httpstream":
		entry.Info("Starting advisor MCP server")
		if err := server.NewStreamableHTTPServer(s).Start(":" + *port); err != nil {
			mcpLogger.WithError(models.NewErrorInfo(err, "server_error")).Error("HTTP server error")
		}
	case "stdio":
		entry.Info("Starting advisor MCP server")
		if err := server.ServeStdio(s); err != nil {
			mcpLogger.WithError(models.NewErrorInfo(err, "server_error")).Error("STDIO server error")
		}
	default:
		mcpLogger.Fatal("Unknown transport " + *transport + ". Use stdio, sse, or httpstream")
	}
}
