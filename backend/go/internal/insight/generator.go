package insight

import (
	"BizAdvisor/backend/go/internal/llm"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/internal/vectorsearch"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DuplicateThreshold is the distance under which an existing insight counts as the same advice.
const DuplicateThreshold = 0.20

const snippetRunes = 200

// ErrParse marks model output that is not a usable insight.
var ErrParse = errors.New("insight: malformed model output")

const systemPrompt = `You are a business advisor. Given one business event, reply with a single JSON object and nothing else:
{"title": "...", "description": "...", "priority": "low|medium|high", "insight_type": "..."}
The title is one short sentence. The description gives concrete, actionable advice in at most three sentences.`

// ProviderResolver returns the chat provider to use for a user.
type ProviderResolver interface {
	Default(ctx context.Context, userID uint) (llm.Provider, error)
}

// InsightSearcher finds insights similar to a text.
type InsightSearcher interface {
	SearchInsights(ctx context.Context, userID uint, text string, opts ...vectorsearch.Option) []vectorsearch.Result
}

// InsightStore persists generated insights.
type InsightStore interface {
	CreateInsight(ctx context.Context, in *models.ProactiveInsight) error
}

// Generator writes one proactive insight per significant business event.
type Generator struct {
	providers ProviderResolver
	searcher  InsightSearcher
	store     InsightStore
	policy    Policy
	logger    *logger.Logger
}

// NewGenerator creates a Generator. searcher may be nil to skip duplicate detection.
func NewGenerator(providers ProviderResolver, searcher InsightSearcher, store InsightStore, policy Policy, log *logger.Logger) *Generator {
	return &Generator{providers: providers, searcher: searcher, store: store, policy: policy, logger: log}
}

type generated struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	InsightType string `json:"insight_type"`
}

// ForEvent generates and stores an insight for ev. It returns nil, nil when
// the event is below the policy, already covered by a similar insight, or the
// model output cannot be parsed.
func (g *Generator) ForEvent(ctx context.Context, ev *models.BusinessEvent) (*models.ProactiveInsight, error) {
	if ev.Significance.Rank() < g.policy.MinSignificance.Rank() {
		return nil, nil
	}
	log := g.logger.WithPayload(map[string]interface{}{"user_id": ev.UserID, "event_id": ev.ID})

	text := strings.TrimSpace(ev.Title + "\n\n" + ev.Description)
	if g.searcher != nil {
		dupes := g.searcher.SearchInsights(ctx, ev.UserID, text,
			vectorsearch.WithThreshold(DuplicateThreshold), vectorsearch.WithLimit(1))
		if len(dupes) > 0 {
			log.WithField("duplicate_of", dupes[0].Ref.ID).Debug("similar insight exists, skipping")
			return nil, nil
		}
	}

	provider, err := g.providers.Default(ctx, ev.UserID)
	if err != nil {
		return nil, err
	}
	resp, err := provider.Chat(ctx, llm.Request{
		System: systemPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(
			"Event type: %s\nSignificance: %s\nDate: %s\nTitle: %s\nDetails: %s",
			ev.EventType, ev.Significance, ev.OccurredAt.Format("2006-01-02"), ev.Title, ev.Description)}},
		MaxTokens: 512,
	})
	if err != nil {
		return nil, fmt.Errorf("generate insight: %w", err)
	}

	out, err := parse(resp.Content)
	if err != nil {
		log.WithError(models.NewErrorInfo(err, "parse_error")).
			WithField("snippet", snippet(resp.Content)).
			Warn("insight generation failed")
		return nil, nil
	}

	eventID := ev.ID
	in := &models.ProactiveInsight{
		UserID:          ev.UserID,
		BusinessEventID: &eventID,
		InsightType:     out.InsightType,
		Priority:        out.Priority,
		Title:           out.Title,
		Description:     out.Description,
	}
	if err := g.store.CreateInsight(ctx, in); err != nil {
		return nil, fmt.Errorf("save insight: %w", err)
	}
	return in, nil
}

// parse extracts the JSON object from the model reply, tolerating code fences
// and surrounding prose.
func parse(content string) (*generated, error) {
	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object", ErrParse)
	}
	var out generated
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	out.Title = strings.TrimSpace(out.Title)
	out.Description = strings.TrimSpace(out.Description)
	if out.Title == "" || out.Description == "" {
		return nil, fmt.Errorf("%w: title and description are required", ErrParse)
	}
	switch p := strings.ToLower(strings.TrimSpace(out.Priority)); p {
	case "low", "medium", "high":
		out.Priority = p
	default:
		out.Priority = "medium"
	}
	out.InsightType = strings.TrimSpace(out.InsightType)
	if out.InsightType == "" {
		out.InsightType = "general"
	}
	return &out, nil
}

func snippet(s string) string {
	runes := []rune(s)
	if len(runes) <= snippetRunes {
		return s
	}
	return string(runes[:snippetRunes])
}
