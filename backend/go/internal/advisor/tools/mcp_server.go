package tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Version 是 MCP 服务的版本号
var Version = "1.0"

// NewMCPServer 把 userID 的顾问工具注册到一个 MCP 服务上，
// 供外部 MCP 客户端（桌面助手、IDE 等）直接调用。
func NewMCPServer(set *Set, userID uint) *server.MCPServer {
	s := server.NewMCPServer(
		"bizadvisor-tools",
		Version,
		server.WithToolCapabilities(false),
	)
	for _, tool := range set.For(userID) {
		s.AddTool(tool.Definition, mcpHandler(tool.Handler))
	}
	return s
}

// mcpHandler 适配 llm.ToolHandler。工具错误作为结果返回给调用方，而不是协议错误。
func mcpHandler(h func(ctx context.Context, args json.RawMessage) (string, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}
		out, err := h(ctx, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}
