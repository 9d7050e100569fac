// Package contextbuilder renders the system prompt of an advisory turn from
// the business profile, the financial position and retrieved records, and
// keeps a snapshot of exactly what went into it.
package contextbuilder

import (
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/internal/settings"
	"BizAdvisor/backend/go/internal/vectorsearch"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout   = "2006-01-02"
	previewRunes = 200
)

const preamble = `You are a business advisor for a small company. Give specific, practical advice grounded in the context below. When the context lacks something you need, say so instead of guessing.`

// ErrNoBuild is returned by Snapshot before the first build.
var ErrNoBuild = errors.New("contextbuilder: no context has been built")

// Clock returns the current time.
type Clock func() time.Time

// Retriever finds records related to a query.
type Retriever interface {
	RelevantContext(ctx context.Context, userID uint, text string, messageOpts ...vectorsearch.Option) vectorsearch.RelevantContext
}

// RetrievedItem identifies one retrieved record.
type RetrievedItem struct {
	Kind     models.RecordKind `json:"kind"`
	ID       uint              `json:"id"`
	Distance float64           `json:"distance"`
}

// Retrieved lists what a RAG build retrieved, in ranked order.
type Retrieved struct {
	Messages []RetrievedItem `json:"messages"`
	Events   []RetrievedItem `json:"events"`
	Insights []RetrievedItem `json:"insights"`
}

// Snapshot records the inputs of one build.
type Snapshot struct {
	Query           string            `json:"query,omitempty"`
	BusinessProfile map[string]string `json:"business_profile"`
	Financial       *Financials       `json:"financial"`
	Retrieved       *Retrieved        `json:"retrieved,omitempty"`
	BuiltAt         time.Time         `json:"built_at"`
}

// JSON encodes the snapshot for persistence.
func (s Snapshot) JSON() ([]byte, error) {
	return json.Marshal(s)
}

// Factory creates one Builder per turn.
type Factory struct {
	settings  settings.Provider
	data      BusinessData
	retriever Retriever
	clock     Clock
	logger    *logger.Logger
}

// NewFactory wires the builder dependencies. retriever may be nil, in which
// case BuildWithRAG behaves like Build. A nil clock means time.Now.
func NewFactory(sp settings.Provider, data BusinessData, retriever Retriever, clock Clock, log *logger.Logger) *Factory {
	if clock == nil {
		clock = time.Now
	}
	return &Factory{settings: sp, data: data, retriever: retriever, clock: clock, logger: log}
}

// New returns a Builder with no build recorded.
func (f *Factory) New() *Builder {
	return &Builder{f: f}
}

// Builder renders prompt context. It is not safe for concurrent use.
type Builder struct {
	f    *Factory
	last *Snapshot
}

// Build renders the profile and financial sections for userID.
func (b *Builder) Build(ctx context.Context, userID uint) (string, error) {
	var sb strings.Builder
	snap, err := b.base(ctx, userID, &sb)
	if err != nil {
		return "", err
	}
	b.last = snap
	return sb.String(), nil
}

// BuildWithRAG renders Build plus a RELEVANT CONTEXT section for query.
// messageOpts narrow the past-conversation search.
func (b *Builder) BuildWithRAG(ctx context.Context, userID uint, query string, messageOpts ...vectorsearch.Option) (string, error) {
	var sb strings.Builder
	snap, err := b.base(ctx, userID, &sb)
	if err != nil {
		return "", err
	}
	snap.Query = query

	if b.f.retriever != nil && strings.TrimSpace(query) != "" {
		rc := b.f.retriever.RelevantContext(ctx, userID, query, messageOpts...)
		snap.Retrieved = &Retrieved{
			Messages: items(rc.Messages),
			Events:   items(rc.Events),
			Insights: items(rc.Insights),
		}
		if !rc.Empty() {
			writeRelevant(&sb, rc)
		}
	}
	b.last = snap
	return sb.String(), nil
}

// Snapshot returns the inputs of the most recent build.
func (b *Builder) Snapshot() (Snapshot, error) {
	if b.last == nil {
		return Snapshot{}, ErrNoBuild
	}
	return *b.last, nil
}

func (b *Builder) base(ctx context.Context, userID uint, sb *strings.Builder) (*Snapshot, error) {
	s, err := b.f.settings.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	now := b.f.clock()
	snap := &Snapshot{BusinessProfile: map[string]string{}, BuiltAt: now}

	sb.WriteString(preamble)
	fmt.Fprintf(sb, "\n\nToday's date: %s\n", now.Format(dateLayout))

	if fields := s.Profile.Fields(); len(fields) > 0 {
		sb.WriteString("\nBUSINESS PROFILE\n")
		for _, f := range fields {
			fmt.Fprintf(sb, "- %s: %s\n", f.Label, f.Value)
			snap.BusinessProfile[f.Key] = f.Value
		}
	}

	if b.f.data != nil {
		fin, err := LoadFinancials(ctx, b.f.data, userID, now)
		if err != nil {
			b.f.logger.WithError(models.NewErrorInfo(err, "business_data_error")).
				WithPayload(map[string]interface{}{"user_id": userID}).
				Warn("financial position unavailable, omitting section")
		} else if fin != nil {
			writeFinancials(sb, fin)
			snap.Financial = fin
		}
	}
	return snap, nil
}

func writeFinancials(sb *strings.Builder, f *Financials) {
	sb.WriteString("\nFINANCIAL POSITION\n")
	if f.CashBalance != nil {
		fmt.Fprintf(sb, "- Cash position: %s (as of %s)\n", money(*f.CashBalance), f.CashRecordedOn)
	}
	fmt.Fprintf(sb, "- Active contracts: %d (total value %s)\n", f.ActiveContracts, money(f.ActiveContractValue))
	if len(f.UpcomingEndDates) > 0 {
		sb.WriteString("- Upcoming contract end dates:\n")
		for _, c := range f.UpcomingEndDates {
			fmt.Fprintf(sb, "  - %s: %s\n", c.Title, c.EndDate)
		}
	}
	fmt.Fprintf(sb, "- Expenses (last 30 days): %s\n", money(f.ExpensesTotal))
	for _, c := range f.ExpensesByCategory {
		fmt.Fprintf(sb, "  - %s: %s\n", c.Category, money(c.Amount))
	}
	fmt.Fprintf(sb, "- Revenue (last 30 days): %s\n", money(f.Revenue))
	fmt.Fprintf(sb, "- Active products: %d\n", f.ActiveProducts)
}

func writeRelevant(sb *strings.Builder, rc vectorsearch.RelevantContext) {
	sb.WriteString("\nRELEVANT CONTEXT\n")
	if len(rc.Messages) > 0 {
		sb.WriteString("Related past conversations:\n")
		for _, r := range rc.Messages {
			fmt.Fprintf(sb, "- [%s] %s: %s\n", r.RecordedAt.Format(dateLayout), r.Role, Preview(r.Content))
		}
	}
	if len(rc.Events) > 0 {
		sb.WriteString("Related business events:\n")
		for _, r := range rc.Events {
			fmt.Fprintf(sb, "- [%s] %s (%s): %s\n", r.RecordedAt.Format(dateLayout), r.EventType, r.Significance,
				Preview(joinNonEmpty(r.Title, r.Content)))
		}
	}
	if len(rc.Insights) > 0 {
		sb.WriteString("Related insights:\n")
		for _, r := range rc.Insights {
			fmt.Fprintf(sb, "- [%s] %s (%s): %s\n", r.RecordedAt.Format(dateLayout), r.InsightType, r.Priority,
				Preview(joinNonEmpty(r.Title, r.Content)))
		}
	}
}

// Preview flattens whitespace and cuts s to 200 runes, marking the cut with "...".
func Preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= previewRunes {
		return s
	}
	return string(runes[:previewRunes]) + "..."
}

func joinNonEmpty(title, body string) string {
	switch {
	case title == "":
		return body
	case body == "":
		return title
	}
	return title + " - " + body
}

func items(results []vectorsearch.Result) []RetrievedItem {
	out := make([]RetrievedItem, 0, len(results))
	for _, r := range results {
		out = append(out, RetrievedItem{Kind: r.Ref.Kind, ID: r.Ref.ID, Distance: r.Distance})
	}
	return out
}
