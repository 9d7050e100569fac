// Package vectorsearch ranks embedded records by cosine distance to a query.
package vectorsearch

import (
	"BizAdvisor/backend/go/internal/config"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"sort"
	"time"
)

// Result is one ranked match. Only the fields of its kind are set.
type Result struct {
	Ref      models.RecordRef `json:"ref"`
	Distance float64          `json:"distance"`

	Title        string              `json:"title,omitempty"`
	Content      string              `json:"content,omitempty"`
	Role         models.MessageRole  `json:"role,omitempty"`
	ThreadID     uint                `json:"thread_id,omitempty"`
	EventType    string              `json:"event_type,omitempty"`
	Significance models.Significance `json:"significance,omitempty"`
	InsightType  string              `json:"insight_type,omitempty"`
	Priority     string              `json:"priority,omitempty"`
	URL          string              `json:"url,omitempty"`
	Source       string              `json:"source,omitempty"`
	RecordedAt   time.Time           `json:"recorded_at"`
}

// Filter narrows an index search.
type Filter struct {
	Kind models.RecordKind
	// OwnerID is ignored when Global is set.
	OwnerID       uint
	Global        bool
	Since         time.Time // zero means no window
	ExcludeThread uint
	Threshold     float64
	Limit         int
}

// Index returns candidates for a query vector. Results need not be ordered or
// cut to the limit; the Engine does both.
type Index interface {
	Search(ctx context.Context, vec []float32, f Filter) ([]Result, error)
}

// QueryEmbedder turns query text into a vector; nil means unavailable.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) []float32
}

type query struct {
	limit         int
	threshold     float64
	days          int
	excludeThread uint
}

// Option adjusts one search call.
type Option func(*query)

func WithLimit(n int) Option             { return func(q *query) { q.limit = n } }
func WithThreshold(t float64) Option     { return func(q *query) { q.threshold = t } }
func WithinDays(days int) Option         { return func(q *query) { q.days = days } }
func ExcludeThread(threadID uint) Option { return func(q *query) { q.excludeThread = threadID } }

// Engine runs semantic searches over the four embeddable kinds.
type Engine struct {
	embedder QueryEmbedder
	index    Index
	defaults config.SearchConfig
	log      *logger.Logger
	now      func() time.Time
}

func NewEngine(embedder QueryEmbedder, index Index, defaults config.SearchConfig, log *logger.Logger) *Engine {
	return &Engine{embedder: embedder, index: index, defaults: defaults, log: log, now: time.Now}
}

// SearchAdvisoryMessages searches the user's past messages across all threads.
func (e *Engine) SearchAdvisoryMessages(ctx context.Context, userID uint, text string, opts ...Option) []Result {
	return e.search(ctx, e.embedder.Embed(ctx, text), models.KindAdvisoryMessage, userID, e.defaults.Messages, opts)
}

// SearchNews searches the global news feed.
func (e *Engine) SearchNews(ctx context.Context, text string, opts ...Option) []Result {
	return e.search(ctx, e.embedder.Embed(ctx, text), models.KindNewsItem, 0, e.defaults.News, opts)
}

// SearchBusinessEvents searches the user's events inside the day window.
func (e *Engine) SearchBusinessEvents(ctx context.Context, userID uint, text string, opts ...Option) []Result {
	return e.search(ctx, e.embedder.Embed(ctx, text), models.KindBusinessEvent, userID, e.defaults.Events, opts)
}

// SearchInsights searches insights already generated for the user.
func (e *Engine) SearchInsights(ctx context.Context, userID uint, text string, opts ...Option) []Result {
	return e.search(ctx, e.embedder.Embed(ctx, text), models.KindProactiveInsight, userID, e.defaults.Insights, opts)
}

// RelevantContext groups the retrieval used to build an advisory prompt.
type RelevantContext struct {
	Messages []Result `json:"messages"`
	Events   []Result `json:"events"`
	Insights []Result `json:"insights"`
}

// Empty reports whether nothing was retrieved.
func (r RelevantContext) Empty() bool {
	return len(r.Messages) == 0 && len(r.Events) == 0 && len(r.Insights) == 0
}

// RelevantContext embeds text once and runs the message, event and insight
// searches with their default parameters. messageOpts apply to the message
// search only, e.g. ExcludeThread for the thread whose history is already sent.
func (e *Engine) RelevantContext(ctx context.Context, userID uint, text string, messageOpts ...Option) RelevantContext {
	vec := e.embedder.Embed(ctx, text)
	return RelevantContext{
		Messages: e.search(ctx, vec, models.KindAdvisoryMessage, userID, e.defaults.Messages, messageOpts),
		Events:   e.search(ctx, vec, models.KindBusinessEvent, userID, e.defaults.Events, nil),
		Insights: e.search(ctx, vec, models.KindProactiveInsight, userID, e.defaults.Insights, nil),
	}
}

func (e *Engine) search(ctx context.Context, vec []float32, kind models.RecordKind, userID uint, params config.SearchParams, opts []Option) []Result {
	if vec == nil {
		return []Result{}
	}
	q := query{limit: params.Limit, threshold: params.Threshold, days: params.Days}
	for _, opt := range opts {
		opt(&q)
	}
	if q.limit <= 0 {
		return []Result{}
	}

	f := Filter{
		Kind:          kind,
		OwnerID:       userID,
		Global:        kind == models.KindNewsItem,
		ExcludeThread: q.excludeThread,
		Threshold:     q.threshold,
		Limit:         q.limit,
	}
	if q.days > 0 {
		f.Since = e.now().AddDate(0, 0, -q.days)
	}

	candidates, err := e.index.Search(ctx, vec, f)
	if err != nil {
		e.log.WithError(models.NewErrorInfo(err, "search_error")).
			WithPayload(map[string]interface{}{"kind": kind, "user_id": userID}).
			Error("vector search failed")
		return []Result{}
	}
	return Rank(candidates, f)
}

// Rank keeps candidates of f.Kind strictly under the threshold and inside the
// window, sorts them by ascending distance (ties by ID) and cuts to f.Limit.
func Rank(candidates []Result, f Filter) []Result {
	out := make([]Result, 0, len(candidates))
	for _, r := range candidates {
		if r.Ref.Kind != f.Kind || !(r.Distance < f.Threshold) {
			continue
		}
		if !f.Since.IsZero() && r.RecordedAt.Before(f.Since) {
			continue
		}
		if f.ExcludeThread != 0 && r.ThreadID == f.ExcludeThread {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Ref.ID < out[j].Ref.ID
	})
	if f.Limit >= 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
