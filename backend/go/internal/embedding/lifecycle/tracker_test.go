package lifecycle

import (
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	ID       uint
	Title    string
	Body     string
	Priority int
	Draft    bool
}

var noteCapability = Capability[*note]{
	Kind:    models.KindBusinessEvent,
	Columns: []string{"title", "body"},
	ID:      func(n *note) uint { return n.ID },
	Fields: func(n *note) map[string]string {
		return map[string]string{"title": n.Title, "body": n.Body}
	},
	AutoEmbed: func(n *note) bool { return !n.Draft },
}

type scheduled struct {
	task  Task
	delay time.Duration
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []scheduled
	err   error
}

func (q *recordingQueue) Schedule(_ context.Context, task Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, scheduled{task: task, delay: delay})
	return nil
}

func TestPayloadJoinsNonBlankColumns(t *testing.T) {
	assert.Equal(t, "Title\n\nBody", noteCapability.Payload(&note{Title: "Title", Body: "Body"}))
	assert.Equal(t, "Body", noteCapability.Payload(&note{Title: "  ", Body: "Body"}))
	assert.Equal(t, "", noteCapability.Payload(&note{}))
}

func TestCreatedSchedulesAfterDelay(t *testing.T) {
	q := &recordingQueue{}
	tr := NewTracker(q, 5*time.Second, logger.Discard())

	ok, err := tr.Created(context.Background(), noteCapability.Bind(&note{ID: 7, Title: "Lost client"}))

	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, q.tasks, 1)
	assert.Equal(t, Task{Kind: models.KindBusinessEvent, ID: 7}, q.tasks[0].task)
	assert.Equal(t, 5*time.Second, q.tasks[0].delay)
}

func TestCreatedSkipsBlankAndOptedOut(t *testing.T) {
	q := &recordingQueue{}
	tr := NewTracker(q, time.Second, logger.Discard())

	ok, err := tr.Created(context.Background(), noteCapability.Bind(&note{ID: 1}))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tr.Created(context.Background(), noteCapability.Bind(&note{ID: 2, Title: "x", Draft: true}))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, q.tasks)
}

func TestUpdatedOnlySchedulesOnEmbeddableChange(t *testing.T) {
	q := &recordingQueue{}
	tr := NewTracker(q, time.Second, logger.Discard())
	before := &note{ID: 3, Title: "Quarterly review", Body: "ok", Priority: 1}

	unrelated := *before
	unrelated.Priority = 5
	ok, err := tr.Updated(context.Background(), noteCapability.Bind(before), noteCapability.Bind(&unrelated))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, q.tasks)

	edited := *before
	edited.Body = "revenue dropped"
	ok, err = tr.Updated(context.Background(), noteCapability.Bind(before), noteCapability.Bind(&edited))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, q.tasks, 1)
}

func TestUpdatedToBlankStillSchedules(t *testing.T) {
	q := &recordingQueue{}
	tr := NewTracker(q, time.Second, logger.Discard())

	ok, err := tr.Updated(context.Background(),
		noteCapability.Bind(&note{ID: 4, Title: "t"}),
		noteCapability.Bind(&note{ID: 4}))

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdatedSchedulesOnEligibilityChange(t *testing.T) {
	q := &recordingQueue{}
	tr := NewTracker(q, time.Second, logger.Discard())
	draft := &note{ID: 5, Title: "Same text", Draft: true}
	published := &note{ID: 5, Title: "Same text"}

	ok, err := tr.Updated(context.Background(), noteCapability.Bind(draft), noteCapability.Bind(published))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.Updated(context.Background(), noteCapability.Bind(published), noteCapability.Bind(draft))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.Updated(context.Background(), noteCapability.Bind(draft), noteCapability.Bind(draft))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, q.tasks, 2)
}

func TestDebounceCollapsesBursts(t *testing.T) {
	q := &recordingQueue{}
	d := NewMemoryDebouncer()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	tr := NewTracker(q, 5*time.Second, logger.Discard(), WithDebouncer(d))
	rec := noteCapability.Bind(&note{ID: 9, Title: "a"})

	for i := 0; i < 3; i++ {
		_, err := tr.Created(context.Background(), rec)
		require.NoError(t, err)
	}
	assert.Len(t, q.tasks, 1)

	now = now.Add(6 * time.Second)
	ok, err := tr.Created(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, q.tasks, 2)

	require.NoError(t, tr.Reembed(context.Background(), rec.Ref()))
	assert.Len(t, q.tasks, 3)
	assert.Zero(t, q.tasks[2].delay)
}

func TestKindDelayOverride(t *testing.T) {
	tr := NewTracker(&recordingQueue{}, 5*time.Second, logger.Discard(),
		WithKindDelay(models.KindNewsItem, 0))
	assert.Equal(t, time.Duration(0), tr.Delay(models.KindNewsItem))
	assert.Equal(t, 5*time.Second, tr.Delay(models.KindAdvisoryMessage))
}

func TestReembedRejectsUnknownKind(t *testing.T) {
	tr := NewTracker(&recordingQueue{}, time.Second, logger.Discard())
	assert.Error(t, tr.Reembed(context.Background(), models.RecordRef{Kind: "invoice", ID: 1}))
}

func TestCreateLeavesRecordWhenScheduleFails(t *testing.T) {
	q := &recordingQueue{err: errors.New("broker down")}
	tr := NewTracker(q, time.Second, logger.Discard())
	saved := false

	err := Create(context.Background(), tr, noteCapability, &note{ID: 1, Title: "x"},
		func(context.Context, *note) error { saved = true; return nil })

	require.NoError(t, err)
	assert.True(t, saved)
}

func TestCreatePropagatesSaveError(t *testing.T) {
	q := &recordingQueue{}
	tr := NewTracker(q, time.Second, logger.Discard())
	boom := errors.New("constraint")

	err := Create(context.Background(), tr, noteCapability, &note{ID: 1, Title: "x"},
		func(context.Context, *note) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.Empty(t, q.tasks)
}

type fakeLister struct{ ids []uint }

func (l fakeLister) NotEmbeddedIDs(_ context.Context, _ models.RecordKind, limit int) ([]uint, error) {
	if limit < len(l.ids) {
		return l.ids[:limit], nil
	}
	return l.ids, nil
}

func TestBackfillSchedulesPending(t *testing.T) {
	q := &recordingQueue{}
	tr := NewTracker(q, time.Second, logger.Discard())

	n, err := tr.Backfill(context.Background(), fakeLister{ids: []uint{1, 2, 3}}, models.KindNewsItem, 2)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint(2), q.tasks[1].task.ID)
}

type fakeStore struct {
	sources  map[uint]*models.EmbeddingSource
	attached map[uint][]float32
	cleared  []uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{sources: map[uint]*models.EmbeddingSource{}, attached: map[uint][]float32{}}
}

func (s *fakeStore) LoadSource(_ context.Context, ref models.RecordRef) (*models.EmbeddingSource, error) {
	src, ok := s.sources[ref.ID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return src, nil
}

func (s *fakeStore) AttachEmbedding(_ context.Context, ref models.RecordRef, vec []float32) error {
	s.attached[ref.ID] = vec
	return nil
}

func (s *fakeStore) ClearEmbedding(_ context.Context, ref models.RecordRef) error {
	s.cleared = append(s.cleared, ref.ID)
	return nil
}

type fakeEmbedder struct {
	calls []string
	vec   []float32
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) []float32 {
	e.calls = append(e.calls, text)
	return e.vec
}

type fakeIndexer struct {
	upserts []uint
	deletes []uint
}

func (i *fakeIndexer) Upsert(_ context.Context, src *models.EmbeddingSource, _ []float32) error {
	i.upserts = append(i.upserts, src.Ref.ID)
	return nil
}

func (i *fakeIndexer) Delete(_ context.Context, ref models.RecordRef) error {
	i.deletes = append(i.deletes, ref.ID)
	return nil
}

func TestRunnerEmbedsLatestPayload(t *testing.T) {
	store := newFakeStore()
	store.sources[1] = &models.EmbeddingSource{Ref: models.RecordRef{Kind: models.KindNewsItem, ID: 1}, Payload: "latest"}
	emb := &fakeEmbedder{vec: []float32{0.1, 0.2}}
	idx := &fakeIndexer{}
	r := NewRunner(store, emb, idx, logger.Discard())

	require.NoError(t, r.Handle(context.Background(), Task{Kind: models.KindNewsItem, ID: 1}))

	assert.Equal(t, []string{"latest"}, emb.calls)
	assert.Equal(t, []float32{0.1, 0.2}, store.attached[1])
	assert.Equal(t, []uint{1}, idx.upserts)
}

func TestRunnerLeavesRecordWhenEmbeddingUnavailable(t *testing.T) {
	store := newFakeStore()
	store.sources[1] = &models.EmbeddingSource{Payload: "text"}
	r := NewRunner(store, &fakeEmbedder{}, nil, logger.Discard())

	require.NoError(t, r.Handle(context.Background(), Task{Kind: models.KindNewsItem, ID: 1}))

	assert.Empty(t, store.attached)
	assert.Empty(t, store.cleared)
}

func TestRunnerClearsBlankPayload(t *testing.T) {
	store := newFakeStore()
	store.sources[1] = &models.EmbeddingSource{Payload: "  "}
	emb := &fakeEmbedder{vec: []float32{1}}
	idx := &fakeIndexer{}
	r := NewRunner(store, emb, idx, logger.Discard())

	require.NoError(t, r.Handle(context.Background(), Task{Kind: models.KindNewsItem, ID: 1}))

	assert.Empty(t, emb.calls)
	assert.Equal(t, []uint{1}, store.cleared)
	assert.Equal(t, []uint{1}, idx.deletes)
}

func TestRunnerIgnoresDeletedRecord(t *testing.T) {
	r := NewRunner(newFakeStore(), &fakeEmbedder{vec: []float32{1}}, nil, logger.Discard())
	assert.NoError(t, r.Handle(context.Background(), Task{Kind: models.KindNewsItem, ID: 404}))
}

func TestLocalQueueRunsAndRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	q := NewLocalQueue(HandlerFunc(func(context.Context, Task) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	}), logger.Discard())
	q.backoff = time.Millisecond

	require.NoError(t, q.Schedule(context.Background(), Task{Kind: models.KindNewsItem, ID: 1}, time.Millisecond))
	q.Wait()

	assert.Equal(t, 2, attempts)
}

func TestLocalQueueCloseDropsPending(t *testing.T) {
	ran := false
	q := NewLocalQueue(HandlerFunc(func(context.Context, Task) error { ran = true; return nil }), logger.Discard())

	require.NoError(t, q.Schedule(context.Background(), Task{Kind: models.KindNewsItem, ID: 1}, time.Hour))
	q.Close()

	assert.False(t, ran)
	assert.ErrorIs(t, q.Schedule(context.Background(), Task{Kind: models.KindNewsItem, ID: 2}, 0), ErrQueueClosed)
}

type fakeWriter struct{ msgs []kafka.Message }

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func TestKafkaQueueRoundTripsThroughConsumer(t *testing.T) {
	w := &fakeWriter{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewKafkaQueue(w, "embedding-tasks")
	q.now = func() time.Time { return now }

	require.NoError(t, q.Schedule(context.Background(), Task{Kind: models.KindAdvisoryMessage, ID: 11}, 5*time.Second))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "embedding-tasks", w.msgs[0].Topic)
	assert.Equal(t, "advisory_message:11", string(w.msgs[0].Key))

	var decoded Task
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.True(t, decoded.NotBefore.Equal(now.Add(5*time.Second)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	garbage := kafka.Message{Offset: 1, Value: []byte("not json")}
	valid := w.msgs[0]
	valid.Offset = 2
	reader := &fakeReader{msgs: []kafka.Message{garbage, valid}, cancel: cancel}
	var handled []Task
	c := NewKafkaConsumer(reader, HandlerFunc(func(_ context.Context, task Task) error {
		handled = append(handled, task)
		return nil
	}), logger.Discard())
	c.now = func() time.Time { return now.Add(time.Minute) }

	require.NoError(t, c.Run(ctx))

	require.Len(t, handled, 1)
	assert.Equal(t, uint(11), handled[0].ID)
	assert.Equal(t, []int64{1, 2}, reader.committed)
}
