package tools

import (
	"BizAdvisor/backend/go/internal/database/testdb"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/internal/store"
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMCPClient(t *testing.T, s *store.Store, userID uint) *client.Client {
	set := NewSet(s, nil, func() time.Time { return now })
	c, err := client.NewInProcessClient(NewMCPServer(set, userID))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "test", Version: "1.0.0"},
		},
	})
	require.NoError(t, err)
	return c
}

func callText(t *testing.T, c *client.Client, name string, args map[string]any) (string, bool) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func TestMCPServerListsAdvisorTools(t *testing.T) {
	c := newMCPClient(t, store.New(testdb.Open(t), 3, nil), 1)

	res, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolFinancialSummary, ToolSearchBusinessEvents, ToolListActiveContracts}, names)
}

func TestMCPServerCallsAreOwnerScoped(t *testing.T) {
	s := store.New(testdb.Open(t), 3, nil)
	require.NoError(t, s.DB.Create(&models.Contract{UserID: 1, Title: "Retainer", Value: 900, Status: models.ContractActive}).Error)
	require.NoError(t, s.DB.Create(&models.Contract{UserID: 2, Title: "Other", Value: 10, Status: models.ContractActive}).Error)

	out, isErr := callText(t, newMCPClient(t, s, 1), ToolListActiveContracts, nil)
	assert.False(t, isErr)
	assert.JSONEq(t, `{"contracts":[{"title":"Retainer","value":900}]}`, out)
}

func TestMCPServerReportsToolErrorsAsResults(t *testing.T) {
	c := newMCPClient(t, store.New(testdb.Open(t), 3, nil), 1)

	out, isErr := callText(t, c, ToolSearchBusinessEvents, map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, out, "query is required")

	out, isErr = callText(t, c, ToolSearchBusinessEvents, map[string]any{"query": "rent"})
	assert.False(t, isErr)
	assert.JSONEq(t, `{"events":[]}`, out)
}
