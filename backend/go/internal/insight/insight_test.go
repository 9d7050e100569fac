package insight

import (
	"BizAdvisor/backend/go/internal/config"
	"BizAdvisor/backend/go/internal/database/testdb"
	"BizAdvisor/backend/go/internal/llm"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/internal/store"
	"BizAdvisor/backend/go/internal/vectorsearch"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)

type cannedProvider struct {
	reply string
	err   error
	calls int
	last  llm.Request
}

func (p *cannedProvider) Name() llm.ProviderName { return llm.ProviderClaude }
func (p *cannedProvider) Model() string          { return "canned-1" }

func (p *cannedProvider) Chat(_ context.Context, req llm.Request) (*llm.Response, error) {
	p.calls++
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Content: p.reply, Provider: llm.ProviderClaude, Model: "canned-1"}, nil
}

func (p *cannedProvider) ChatStream(ctx context.Context, req llm.Request, _ llm.ChunkFunc) (*llm.Response, error) {
	return p.Chat(ctx, req)
}

type fixedResolver struct{ p llm.Provider }

func (r fixedResolver) Default(context.Context, uint) (llm.Provider, error) { return r.p, nil }

type stubSearcher struct {
	results []vectorsearch.Result
	queries []string
}

func (s *stubSearcher) SearchInsights(_ context.Context, _ uint, text string, _ ...vectorsearch.Option) []vectorsearch.Result {
	s.queries = append(s.queries, text)
	return s.results
}

func newStore(t *testing.T) *store.Store {
	return store.New(testdb.Open(t), 3, nil)
}

func seedMoney(t *testing.T, s *store.Store, userID uint, prevExp, curExp, prevRev, curRev float64) {
	prev, cur := now.AddDate(0, 0, -45), now.AddDate(0, 0, -10)
	rows := []interface{}{
		&models.Expense{UserID: userID, Category: "rent", Amount: prevExp, IncurredOn: prev},
		&models.Expense{UserID: userID, Category: "rent", Amount: curExp, IncurredOn: cur},
		&models.Revenue{UserID: userID, Amount: prevRev, ReceivedOn: prev},
		&models.Revenue{UserID: userID, Amount: curRev, ReceivedOn: cur},
	}
	for _, r := range rows {
		require.NoError(t, s.DB.Create(r).Error)
	}
}

func TestPolicyFromConfigDefaults(t *testing.T) {
	p := PolicyFromConfig(config.InsightConfig{})
	assert.Equal(t, models.SignificanceLow, p.MinSignificance)
	assert.Equal(t, 10.0, p.ExpenseChangePct)
	assert.Equal(t, 20.0, p.RevenueChangePct)

	p = PolicyFromConfig(config.InsightConfig{MinSignificance: "HIGH", ExpenseChangePct: 5, RevenueChangePct: 7})
	assert.Equal(t, models.SignificanceHigh, p.MinSignificance)
	assert.Equal(t, 5.0, p.ExpenseChangePct)
}

func TestMonthOverMonthEmitsEvents(t *testing.T) {
	s := newStore(t)
	seedMoney(t, s, 1, 1000, 1150, 2000, 1000)
	d := NewDetector(s, PolicyFromConfig(config.InsightConfig{}), logger.Discard())

	events, err := d.MonthOverMonth(context.Background(), 1, now)
	require.NoError(t, err)
	require.Len(t, events, 2)

	exp := events[0]
	assert.Equal(t, EventExpenseChange, exp.EventType)
	assert.Equal(t, "Expenses up 15.0% month over month", exp.Title)
	assert.Equal(t, models.SignificanceMedium, exp.Significance)
	assert.Contains(t, exp.Description, "1150.00")
	assert.NotZero(t, exp.ID)

	rev := events[1]
	assert.Equal(t, EventRevenueChange, rev.EventType)
	assert.Equal(t, "Revenue down 50.0% month over month", rev.Title)
	assert.Equal(t, models.SignificanceHigh, rev.Significance)

	stored, err := s.RecentBusinessEvents(context.Background(), 1, now.AddDate(0, 0, -1), 10)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestMonthOverMonthBelowThreshold(t *testing.T) {
	s := newStore(t)
	seedMoney(t, s, 1, 1000, 1050, 2000, 2300)
	d := NewDetector(s, PolicyFromConfig(config.InsightConfig{}), logger.Discard())

	events, err := d.MonthOverMonth(context.Background(), 1, now)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMonthOverMonthNeedsBaseline(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.DB.Create(&models.Expense{UserID: 1, Category: "rent", Amount: 500, IncurredOn: now.AddDate(0, 0, -3)}).Error)
	d := NewDetector(s, PolicyFromConfig(config.InsightConfig{}), logger.Discard())

	events, err := d.MonthOverMonth(context.Background(), 1, now)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func newEvent(t *testing.T, s *store.Store, sig models.Significance) *models.BusinessEvent {
	ev := &models.BusinessEvent{UserID: 1, EventType: EventExpenseChange, Title: "Expenses up 40.0% month over month",
		Description: "Rent went up.", Significance: sig, OccurredAt: now}
	require.NoError(t, s.CreateBusinessEvent(context.Background(), ev))
	return ev
}

func TestForEventCreatesInsight(t *testing.T) {
	s := newStore(t)
	ev := newEvent(t, s, models.SignificanceHigh)
	p := &cannedProvider{reply: "Here you go:\n```json\n{\"title\":\"Renegotiate rent\",\"description\":\"Ask the landlord for a multi-year rate.\",\"priority\":\"HIGH\",\"insight_type\":\"cost_saving\"}\n```"}
	searcher := &stubSearcher{}
	g := NewGenerator(fixedResolver{p}, searcher, s, PolicyFromConfig(config.InsightConfig{}), logger.Discard())

	in, err := g.ForEvent(context.Background(), ev)
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.Equal(t, "Renegotiate rent", in.Title)
	assert.Equal(t, "high", in.Priority)
	assert.Equal(t, "cost_saving", in.InsightType)
	require.NotNil(t, in.BusinessEventID)
	assert.Equal(t, ev.ID, *in.BusinessEventID)
	assert.NotZero(t, in.ID)

	assert.Equal(t, []string{"Expenses up 40.0% month over month\n\nRent went up."}, searcher.queries)
	assert.Contains(t, p.last.Messages[0].Content, "Significance: high")
	assert.NotEmpty(t, p.last.System)
}

func TestForEventSkipsBelowPolicy(t *testing.T) {
	s := newStore(t)
	ev := newEvent(t, s, models.SignificanceLow)
	p := &cannedProvider{reply: `{"title":"t","description":"d"}`}
	g := NewGenerator(fixedResolver{p}, nil, s, PolicyFromConfig(config.InsightConfig{MinSignificance: "medium"}), logger.Discard())

	in, err := g.ForEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Nil(t, in)
	assert.Zero(t, p.calls)
}

func TestForEventSkipsDuplicates(t *testing.T) {
	s := newStore(t)
	ev := newEvent(t, s, models.SignificanceHigh)
	p := &cannedProvider{reply: `{"title":"t","description":"d"}`}
	searcher := &stubSearcher{results: []vectorsearch.Result{{Ref: models.RecordRef{Kind: models.KindProactiveInsight, ID: 9}, Distance: 0.1}}}
	g := NewGenerator(fixedResolver{p}, searcher, s, PolicyFromConfig(config.InsightConfig{}), logger.Discard())

	in, err := g.ForEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Nil(t, in)
	assert.Zero(t, p.calls)
}

func TestForEventMalformedOutput(t *testing.T) {
	s := newStore(t)
	ev := newEvent(t, s, models.SignificanceHigh)
	for _, reply := range []string{"no json here", `{"title": "missing description"}`, `{"title": broken`} {
		p := &cannedProvider{reply: reply}
		g := NewGenerator(fixedResolver{p}, nil, s, PolicyFromConfig(config.InsightConfig{}), logger.Discard())

		in, err := g.ForEvent(context.Background(), ev)
		assert.NoError(t, err, reply)
		assert.Nil(t, in, reply)
	}
	var n int64
	require.NoError(t, s.DB.Model(&models.ProactiveInsight{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestForEventProviderError(t *testing.T) {
	s := newStore(t)
	ev := newEvent(t, s, models.SignificanceHigh)
	boom := errors.New("boom")
	g := NewGenerator(fixedResolver{&cannedProvider{err: boom}}, nil, s, PolicyFromConfig(config.InsightConfig{}), logger.Discard())

	in, err := g.ForEvent(context.Background(), ev)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, in)
}

func TestParseDefaults(t *testing.T) {
	out, err := parse(`{"title":" T ","description":" D ","priority":"urgent"}`)
	require.NoError(t, err)
	assert.Equal(t, "T", out.Title)
	assert.Equal(t, "D", out.Description)
	assert.Equal(t, "medium", out.Priority)
	assert.Equal(t, "general", out.InsightType)

	_, err = parse("[]")
	assert.ErrorIs(t, err, ErrParse)
}

func TestSnippet(t *testing.T) {
	long := strings.Repeat("é", 300)
	assert.Len(t, []rune(snippet(long)), snippetRunes)
	assert.Equal(t, "short", snippet("short"))
}

func TestScan(t *testing.T) {
	s := newStore(t)
	seedMoney(t, s, 1, 1000, 1500, 2000, 2000)
	policy := PolicyFromConfig(config.InsightConfig{})
	p := &cannedProvider{reply: `{"title":"Watch costs","description":"Expenses grew quickly.","priority":"high","insight_type":"cost"}`}
	svc := NewService(NewDetector(s, policy, logger.Discard()),
		NewGenerator(fixedResolver{p}, nil, s, policy, logger.Discard()), logger.Discard())

	res, err := svc.Scan(context.Background(), 1, now)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	require.Len(t, res.Insights, 1)
	assert.Equal(t, "Watch costs", res.Insights[0].Title)
	assert.Equal(t, 1, p.calls)
}
