package llm

import (
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/pkg/logger"
	"encoding/json"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	openai "github.com/meguminnnnnnnnn/go-openai"
)

// inputSchema renders an MCP tool's input schema as a JSON Schema object.
func inputSchema(def mcp.Tool) json.RawMessage {
	if len(def.RawInputSchema) > 0 {
		return def.RawInputSchema
	}
	schema := convertMCPParamsToSchema(def.InputSchema)
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return raw
}

// convertMCPParamsToSchema converts mcp.ToolInputSchema to a plain JSON Schema map.
func convertMCPParamsToSchema(params mcp.ToolInputSchema) map[string]interface{} {
	properties := params.Properties
	if properties == nil {
		properties = map[string]interface{}{}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(params.Required) > 0 {
		schema["required"] = params.Required
	}
	return schema
}

// toOpenAITools converts tool definitions to the function list of the OpenAI SDK.
func toOpenAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Definition.Name,
				Description: t.Definition.Description,
				Parameters:  inputSchema(t.Definition),
			},
		})
	}
	return out
}

func logFailure(log *logger.Logger, err error, start time.Time) {
	info := models.NewErrorInfo(err, "upstream_error")
	var up *UpstreamError
	var cfgErr *ConfigurationError
	switch {
	case errors.As(err, &up):
		info.StatusCode = up.StatusCode
		info.Body = up.Body
	case errors.As(err, &cfgErr):
		info.Type = "configuration_error"
	case errors.Is(err, ErrToolLoopExceeded):
		info.Type = "tool_loop_exceeded"
	}
	log.WithError(info).
		WithPayload(map[string]interface{}{"latency_ms": time.Since(start).Milliseconds()}).
		Error("chat request failed")
}
