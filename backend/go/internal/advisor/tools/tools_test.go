package tools

import (
	"BizAdvisor/backend/go/internal/database/testdb"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/internal/store"
	"BizAdvisor/backend/go/internal/vectorsearch"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type stubSearcher struct {
	results []vectorsearch.Result
	query   string
}

func (s *stubSearcher) SearchBusinessEvents(ctx context.Context, userID uint, text string, opts ...vectorsearch.Option) []vectorsearch.Result {
	s.query = text
	return s.results
}

func newFixture(t *testing.T, searcher EventSearcher) (*store.Store, map[string]func(string) (string, error)) {
	s := store.New(testdb.Open(t), 3, nil)
	set := NewSet(s, searcher, func() time.Time { return now })
	calls := map[string]func(string) (string, error){}
	for _, tool := range set.For(1) {
		tool := tool
		calls[tool.Definition.Name] = func(args string) (string, error) {
			return tool.Handler(context.Background(), json.RawMessage(args))
		}
	}
	return s, calls
}

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, 3)
	names := []string{defs[0].Name, defs[1].Name, defs[2].Name}
	assert.Equal(t, []string{ToolFinancialSummary, ToolSearchBusinessEvents, ToolListActiveContracts}, names)
	assert.Equal(t, []string{"query"}, defs[1].InputSchema.Required)
	assert.Contains(t, defs[1].InputSchema.Properties, "limit")
}

func TestFinancialSummary(t *testing.T) {
	s, calls := newFixture(t, nil)

	out, err := calls[ToolFinancialSummary]("{}")
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"no financial data recorded"}`, out)

	require.NoError(t, s.DB.Create(&models.Revenue{UserID: 1, Amount: 500, ReceivedOn: now.AddDate(0, 0, -2)}).Error)
	out, err = calls[ToolFinancialSummary]("{}")
	require.NoError(t, err)
	var fin map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &fin))
	assert.Equal(t, 500.0, fin["revenue"])
}

func TestListActiveContracts(t *testing.T) {
	s, calls := newFixture(t, nil)
	end := now.AddDate(0, 2, 0)
	require.NoError(t, s.DB.Create(&models.Contract{UserID: 1, Title: "Retainer", ClientName: "Globex", Value: 1200, Status: models.ContractActive, EndDate: &end}).Error)
	require.NoError(t, s.DB.Create(&models.Contract{UserID: 1, Title: "Draft", Status: models.ContractDraft}).Error)
	require.NoError(t, s.DB.Create(&models.Contract{UserID: 2, Title: "Not mine", Status: models.ContractActive}).Error)

	out, err := calls[ToolListActiveContracts]("")
	require.NoError(t, err)
	assert.JSONEq(t, `{"contracts":[{"title":"Retainer","client_name":"Globex","value":1200,"end_date":"2026-12-14"}]}`, out)
}

func TestSearchBusinessEventsUsesSemanticResults(t *testing.T) {
	searcher := &stubSearcher{results: []vectorsearch.Result{{
		Ref:       models.RecordRef{Kind: models.KindBusinessEvent, ID: 4},
		Distance:  0.25,
		EventType: "expense_change", Title: "Rent up", Significance: models.SignificanceMedium,
		RecordedAt: now,
	}}}
	_, calls := newFixture(t, searcher)

	out, err := calls[ToolSearchBusinessEvents](`{"query":"rent","limit":3}`)
	require.NoError(t, err)
	assert.Equal(t, "rent", searcher.query)
	assert.JSONEq(t, `{"events":[{"id":4,"event_type":"expense_change","title":"Rent up","significance":"medium","date":"2026-10-14","distance":0.25}]}`, out)
}

func TestSearchBusinessEventsFallsBackToRecent(t *testing.T) {
	s, calls := newFixture(t, &stubSearcher{})
	require.NoError(t, s.DB.Create(&models.BusinessEvent{UserID: 1, EventType: "revenue_change", Title: "Revenue down",
		Significance: models.SignificanceHigh, OccurredAt: now.AddDate(0, 0, -5)}).Error)

	out, err := calls[ToolSearchBusinessEvents](`{"query":"revenue"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"title":"Revenue down"`)

	_, err = calls[ToolSearchBusinessEvents](`{}`)
	assert.Error(t, err)
	_, err = calls[ToolSearchBusinessEvents](`not json`)
	assert.Error(t, err)
}

func TestSearchBusinessEventsEmpty(t *testing.T) {
	_, calls := newFixture(t, nil)
	out, err := calls[ToolSearchBusinessEvents](`{"query":"anything"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"events":[]}`, out)
}
