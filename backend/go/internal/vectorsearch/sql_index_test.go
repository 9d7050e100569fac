package vectorsearch

import (
	"BizAdvisor/backend/go/internal/database/testdb"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/internal/store"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLIndexScopesAndRanks(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t)
	s := store.New(db, 2, nil)

	mine, err := s.CreateThread(ctx, 1, "")
	require.NoError(t, err)
	theirs, err := s.CreateThread(ctx, 2, "")
	require.NoError(t, err)

	attach := func(threadID uint, content string, vec []float32) uint {
		msg := &models.AdvisoryMessage{ThreadID: threadID, Role: models.RoleUser, Content: content}
		require.NoError(t, s.AppendMessage(ctx, msg))
		if vec != nil {
			require.NoError(t, s.AttachEmbedding(ctx, models.RecordRef{Kind: models.KindAdvisoryMessage, ID: msg.ID}, vec))
		}
		return msg.ID
	}
	near := attach(mine.ID, "close", []float32{1, 0.1})
	exact := attach(mine.ID, "exact", []float32{1, 0})
	attach(mine.ID, "orthogonal", []float32{0, 1})
	attach(mine.ID, "pending", nil)
	attach(theirs.ID, "other user", []float32{1, 0})

	e := NewEngine(&fixedEmbedder{vec: []float32{1, 0}}, NewSQLIndex(db), defaults(), logger.Discard())
	got := e.SearchAdvisoryMessages(ctx, 1, "q")

	require.Len(t, got, 2)
	assert.Equal(t, exact, got[0].Ref.ID)
	assert.Equal(t, near, got[1].Ref.ID)
	assert.InDelta(t, 0, got[0].Distance, 1e-6)
	assert.Equal(t, "exact", got[0].Content)
	assert.Equal(t, models.RoleUser, got[0].Role)
	assert.Equal(t, mine.ID, got[0].ThreadID)
}

func TestSQLIndexNewsAndDescribe(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t)
	s := store.New(db, 2, nil)

	item := &models.NewsItem{Title: "Rates cut", Snippet: "Lower borrowing costs", URL: "https://example.com/a", Source: "Wire"}
	require.NoError(t, s.CreateNews(ctx, item))
	require.NoError(t, s.AttachEmbedding(ctx, models.RecordRef{Kind: models.KindNewsItem, ID: item.ID}, []float32{0.6, 0.8}))

	idx := NewSQLIndex(db)
	got, err := idx.Search(ctx, []float32{0.6, 0.8}, Filter{Kind: models.KindNewsItem, Global: true, Threshold: 0.3, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Rates cut", got[0].Title)
	assert.Equal(t, "Lower borrowing costs", got[0].Content)
	assert.Equal(t, "https://example.com/a", got[0].URL)

	described, err := idx.Describe(ctx, models.KindNewsItem, []uint{item.ID, 999})
	require.NoError(t, err)
	assert.Len(t, described, 1)
	assert.Equal(t, "Wire", described[item.ID].Source)
}

func TestSQLIndexEventWindow(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t)
	s := store.New(db, 2, nil)

	ev := &models.BusinessEvent{UserID: 1, EventType: "expense_change", Title: "Old", Significance: models.SignificanceHigh}
	require.NoError(t, s.CreateBusinessEvent(ctx, ev))
	require.NoError(t, s.AttachEmbedding(ctx, models.RecordRef{Kind: models.KindBusinessEvent, ID: ev.ID}, []float32{1, 0}))
	require.NoError(t, db.Model(ev).UpdateColumn("created_at", time.Now().AddDate(0, 0, -200)).Error)

	idx := NewSQLIndex(db)
	got, err := idx.Search(ctx, []float32{1, 0}, Filter{Kind: models.KindBusinessEvent, OwnerID: 1, Threshold: 0.4, Since: time.Now().AddDate(0, 0, -90)})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = idx.Search(ctx, []float32{1, 0}, Filter{Kind: models.KindBusinessEvent, OwnerID: 1, Threshold: 0.4})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "expense_change", got[0].EventType)
	assert.Equal(t, models.SignificanceHigh, got[0].Significance)
}
