// Package tools exposes business lookups to the chat model as MCP tool definitions.
package tools

import (
	"BizAdvisor/backend/go/internal/advisor/contextbuilder"
	"BizAdvisor/backend/go/internal/llm"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/internal/vectorsearch"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	ToolFinancialSummary     = "get_financial_summary"
	ToolSearchBusinessEvents = "search_business_events"
	ToolListActiveContracts  = "list_active_contracts"
)

// Data is what the tools read.
type Data interface {
	contextbuilder.BusinessData
	RecentBusinessEvents(ctx context.Context, userID uint, since time.Time, limit int) ([]models.BusinessEvent, error)
}

// EventSearcher runs semantic search over business events.
type EventSearcher interface {
	SearchBusinessEvents(ctx context.Context, userID uint, text string, opts ...vectorsearch.Option) []vectorsearch.Result
}

// Set builds the advisor tools for one owner.
type Set struct {
	data     Data
	searcher EventSearcher
	clock    contextbuilder.Clock
}

// NewSet creates a tool set. searcher may be nil, in which case event search
// falls back to the most recent events.
func NewSet(data Data, searcher EventSearcher, clock contextbuilder.Clock) *Set {
	if clock == nil {
		clock = time.Now
	}
	return &Set{data: data, searcher: searcher, clock: clock}
}

// Definitions returns the tool definitions without handlers.
func Definitions() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(ToolFinancialSummary,
			mcp.WithDescription("Get the current financial position: cash, active contracts, expenses by category and revenue over the last 30 days, and active products."),
		),
		mcp.NewTool(ToolSearchBusinessEvents,
			mcp.WithDescription("Search the company's recent business events (for example large expense or revenue changes) related to a topic."),
			mcp.WithString("query", mcp.Required(), mcp.Description("What the events should be about.")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of events to return (default 5, at most 20).")),
		),
		mcp.NewTool(ToolListActiveContracts,
			mcp.WithDescription("List active client contracts with value and dates, ordered by end date."),
		),
	}
}

// For returns the tools bound to userID.
func (s *Set) For(userID uint) []llm.Tool {
	handlers := map[string]llm.ToolHandler{
		ToolFinancialSummary: func(ctx context.Context, _ json.RawMessage) (string, error) {
			return s.financialSummary(ctx, userID)
		},
		ToolSearchBusinessEvents: func(ctx context.Context, args json.RawMessage) (string, error) {
			return s.searchEvents(ctx, userID, args)
		},
		ToolListActiveContracts: func(ctx context.Context, _ json.RawMessage) (string, error) {
			return s.activeContracts(ctx, userID)
		},
	}
	defs := Definitions()
	out := make([]llm.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, llm.Tool{Definition: def, Handler: handlers[def.Name]})
	}
	return out
}

func (s *Set) financialSummary(ctx context.Context, userID uint) (string, error) {
	fin, err := contextbuilder.LoadFinancials(ctx, s.data, userID, s.clock())
	if err != nil {
		return "", err
	}
	if fin == nil {
		return `{"message":"no financial data recorded"}`, nil
	}
	return encode(fin)
}

type eventView struct {
	ID           uint                `json:"id"`
	EventType    string              `json:"event_type"`
	Title        string              `json:"title"`
	Description  string              `json:"description,omitempty"`
	Significance models.Significance `json:"significance"`
	Date         string              `json:"date"`
	Distance     *float64            `json:"distance,omitempty"`
}

func (s *Set) searchEvents(ctx context.Context, userID uint, args json.RawMessage) (string, error) {
	var in struct {
		Query string  `json:"query"`
		Limit float64 `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Query == "" {
		return "", fmt.Errorf("query is required")
	}
	limit := int(in.Limit)
	if limit <= 0 {
		limit = 5
	}
	if limit > 20 {
		limit = 20
	}

	var views []eventView
	if s.searcher != nil {
		for _, r := range s.searcher.SearchBusinessEvents(ctx, userID, in.Query, vectorsearch.WithLimit(limit)) {
			d := r.Distance
			views = append(views, eventView{
				ID: r.Ref.ID, EventType: r.EventType, Title: r.Title, Description: r.Content,
				Significance: r.Significance, Date: r.RecordedAt.Format("2006-01-02"), Distance: &d,
			})
		}
	}
	if len(views) == 0 {
		events, err := s.data.RecentBusinessEvents(ctx, userID, s.clock().AddDate(0, 0, -90), limit)
		if err != nil {
			return "", err
		}
		for _, ev := range events {
			views = append(views, eventView{
				ID: ev.ID, EventType: ev.EventType, Title: ev.Title, Description: ev.Description,
				Significance: ev.Significance, Date: ev.OccurredAt.Format("2006-01-02"),
			})
		}
	}
	if views == nil {
		views = []eventView{}
	}
	return encode(map[string]interface{}{"events": views})
}

type contractView struct {
	Title      string  `json:"title"`
	ClientName string  `json:"client_name,omitempty"`
	Value      float64 `json:"value"`
	StartDate  string  `json:"start_date,omitempty"`
	EndDate    string  `json:"end_date,omitempty"`
}

func (s *Set) activeContracts(ctx context.Context, userID uint) (string, error) {
	contracts, err := s.data.ActiveContracts(ctx, userID)
	if err != nil {
		return "", err
	}
	views := make([]contractView, 0, len(contracts))
	for _, c := range contracts {
		v := contractView{Title: c.Title, ClientName: c.ClientName, Value: c.Value}
		if c.StartDate != nil {
			v.StartDate = c.StartDate.Format("2006-01-02")
		}
		if c.EndDate != nil {
			v.EndDate = c.EndDate.Format("2006-01-02")
		}
		views = append(views, v)
	}
	return encode(map[string]interface{}{"contracts": views})
}

func encode(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
