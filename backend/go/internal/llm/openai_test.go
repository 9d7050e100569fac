package llm

import (
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type openAIWireRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role       string `json:"role"`
		Content    string `json:"content"`
		ToolCallID string `json:"tool_call_id"`
	} `json:"messages"`
	Tools []struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools"`
}

func newTestOpenAI(baseURL, apiKey string) *OpenAI {
	return NewOpenAI(ProviderSettings{APIKey: apiKey, Model: "gpt-test", BaseURL: baseURL + "/v1"},
		testHTTPClient(), logger.Discard())
}

func TestOpenAIChat(t *testing.T) {
	var got openAIWireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-oa", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","model":"gpt-test-0613",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Cash looks fine."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":9,"completion_tokens":4,"total_tokens":13}}`)
	}))
	defer srv.Close()

	resp, err := newTestOpenAI(srv.URL, "sk-oa").Chat(context.Background(), Request{
		System:   "system prompt",
		Messages: []Message{{Role: RoleUser, Content: "cash?"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Cash looks fine.", resp.Content)
	assert.Equal(t, ProviderOpenAI, resp.Provider)
	assert.Equal(t, "gpt-test-0613", resp.Model)
	require.NotNil(t, resp.TokensUsed)
	assert.Equal(t, 13, *resp.TokensUsed)

	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "system prompt", got.Messages[0].Content)
}

// Scenario: the backend answers 500 and the error surfaces with its body.
func TestOpenAIServerErrorCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"the model exploded","type":"server_error"}}`)
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL, "sk-oa")
	req := Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}}

	_, err := p.Chat(context.Background(), req)
	var up *UpstreamError
	require.True(t, errors.As(err, &up), "got %v", err)
	assert.Equal(t, ProviderOpenAI, up.Provider)
	assert.Equal(t, http.StatusInternalServerError, up.StatusCode)
	assert.Contains(t, err.Error(), "the model exploded")

	var chunks []string
	_, err = p.ChatStream(context.Background(), req, func(c string) { chunks = append(chunks, c) })
	require.True(t, errors.As(err, &up))
	assert.Contains(t, up.Body, "the model exploded")
	assert.Empty(t, chunks)
}

func TestOpenAIMissingKey(t *testing.T) {
	_, err := newTestOpenAI("http://unused", "").ChatStream(context.Background(), Request{}, nil)

	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestOpenAIStreamWithToolCalls(t *testing.T) {
	var requests []openAIWireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIWireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)
		w.Header().Set("Content-Type", "text/event-stream")
		var chunks []string
		if len(requests) == 1 {
			chunks = []string{
				`{"id":"s1","object":"chat.completion.chunk","model":"gpt-test","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":""}}]}}]}`,
				`{"id":"s1","object":"chat.completion.chunk","model":"gpt-test","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}`,
				`{"id":"s1","object":"chat.completion.chunk","model":"gpt-test","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"contracts\"}"}}]}}]}`,
				`{"id":"s1","object":"chat.completion.chunk","model":"gpt-test","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
			}
		} else {
			chunks = []string{
				`{"id":"s2","object":"chat.completion.chunk","model":"gpt-test","choices":[{"index":0,"delta":{"content":"Two "}}]}`,
				`{"id":"s2","object":"chat.completion.chunk","model":"gpt-test","choices":[{"index":0,"delta":{"content":"contracts."}}]}`,
				`{"id":"s2","object":"chat.completion.chunk","model":"gpt-test","choices":[],"usage":{"prompt_tokens":8,"completion_tokens":3,"total_tokens":11}}`,
			}
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var calls, chunks []string
	resp, err := newTestOpenAI(srv.URL, "sk-oa").ChatStream(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "contracts?"}},
		Tools:    []Tool{lookupTool(&calls)},
	}, func(c string) { chunks = append(chunks, c) })

	require.NoError(t, err)
	assert.Equal(t, "Two contracts.", resp.Content)
	assert.Equal(t, []string{"Two ", "contracts."}, chunks)
	assert.Equal(t, []string{"contracts"}, calls)
	require.NotNil(t, resp.TokensUsed)
	assert.Equal(t, 18, *resp.TokensUsed)

	require.Len(t, requests, 2)
	assert.True(t, requests[0].Stream)
	require.Len(t, requests[0].Tools, 1)
	assert.Equal(t, "lookup", requests[0].Tools[0].Function.Name)
	last := requests[1].Messages[len(requests[1].Messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Equal(t, "result for contracts", last.Content)
}
