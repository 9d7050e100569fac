package embedding

import (
	"BizAdvisor/backend/go/internal/config"
	"BizAdvisor/backend/go/internal/settings"
	httpx "BizAdvisor/backend/go/pkg/http"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions"`
}

type fakeEmbeddingServer struct {
	*httptest.Server
	calls    atomic.Int32
	requests []embeddingRequest
	auth     string
	status   int
	dims     int
	reverse  bool
}

// newFakeEmbeddingServer answers with vector [i+1, len(input), 0...] per input,
// optionally listing results in reverse index order.
func newFakeEmbeddingServer(t *testing.T) *fakeEmbeddingServer {
	f := &fakeEmbeddingServer{status: http.StatusOK, dims: 3}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.auth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.requests = append(f.requests, req)

		if f.status != http.StatusOK {
			w.WriteHeader(f.status)
			w.Write([]byte(`{"error":{"message":"embedding backend exploded","type":"server_error"}}`))
			return
		}

		type datum struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]datum, len(req.Input))
		for i, in := range req.Input {
			vec := make([]float32, f.dims)
			vec[0] = float32(i + 1)
			if f.dims > 1 {
				vec[1] = float32(len([]rune(in)))
			}
			data[i] = datum{Object: "embedding", Index: i, Embedding: vec}
		}
		if f.reverse {
			for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
				data[i], data[j] = data[j], data[i]
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestGenerator(baseURL, apiKey string, maxTokens int) *Generator {
	cfg := config.Default().Embedding
	cfg.BaseURL = baseURL + "/v1"
	cfg.Dimensions = 3
	cfg.MaxTokens = maxTokens
	sp := &settings.Static{Settings: settings.Settings{AI: settings.AI{EmbeddingAPIKey: apiKey}}}
	return NewGenerator(cfg, sp, logger.Discard(),
		WithHTTPClient(httpx.NewClient(config.CircuitBreakerConfig{}, 5*time.Second)))
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	srv := newFakeEmbeddingServer(t)
	srv.reverse = true
	g := newTestGenerator(srv.URL, "sk-test", 8000)

	out := g.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})

	require.Len(t, out, 3)
	for i, vec := range out {
		assert.Equal(t, float32(i+1), vec[0], "vector %d out of order", i)
	}
	assert.Equal(t, "Bearer sk-test", srv.auth)
	require.Len(t, srv.requests, 1)
	assert.Equal(t, 3, srv.requests[0].Dimensions)
	assert.Equal(t, "text-embedding-3-small", srv.requests[0].Model)
}

func TestEmbedBatchEmptyInputMakesNoCall(t *testing.T) {
	srv := newFakeEmbeddingServer(t)
	g := newTestGenerator(srv.URL, "sk-test", 8000)

	out := g.EmbedBatch(context.Background(), nil)

	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Zero(t, srv.calls.Load())
}

func TestEmbedBatchTruncatesLongInputs(t *testing.T) {
	srv := newFakeEmbeddingServer(t)
	g := newTestGenerator(srv.URL, "sk-test", 5) // 5 tokens * 4 chars = 20

	long := strings.Repeat("a very long text repeated many times ", 20)
	out := g.EmbedBatch(context.Background(), []string{"short text", long})

	require.Len(t, out, 2)
	require.Len(t, srv.requests, 1)
	sent := srv.requests[0].Input
	require.Len(t, sent, 2)
	assert.Equal(t, "short text", sent[0])
	assert.Equal(t, long[:20], sent[1])
	assert.Equal(t, float32(20), out[1][1])
}

func TestEmbedWithoutCredentialReturnsNil(t *testing.T) {
	srv := newFakeEmbeddingServer(t)
	g := newTestGenerator(srv.URL, "", 8000)

	assert.Nil(t, g.Embed(context.Background(), "hello"))
	assert.Zero(t, srv.calls.Load())
}

func TestEmbedUpstreamFailureReturnsNil(t *testing.T) {
	srv := newFakeEmbeddingServer(t)
	srv.status = http.StatusInternalServerError
	g := newTestGenerator(srv.URL, "sk-test", 8000)

	assert.Nil(t, g.Embed(context.Background(), "hello"))
	assert.Nil(t, g.EmbedBatch(context.Background(), []string{"a", "b"}))
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestEmbedRejectsWrongDimensions(t *testing.T) {
	srv := newFakeEmbeddingServer(t)
	srv.dims = 2
	g := newTestGenerator(srv.URL, "sk-test", 8000)

	assert.Nil(t, g.Embed(context.Background(), "hello"))
}

func TestEmbedBatchSkipsBlankTexts(t *testing.T) {
	srv := newFakeEmbeddingServer(t)
	g := newTestGenerator(srv.URL, "sk-test", 8000)

	out := g.EmbedBatch(context.Background(), []string{"first", "   ", "third"})

	require.Len(t, out, 3)
	assert.NotNil(t, out[0])
	assert.Nil(t, out[1])
	assert.NotNil(t, out[2])
	assert.Equal(t, []string{"first", "third"}, srv.requests[0].Input)
	assert.Nil(t, g.Embed(context.Background(), ""))
	assert.Equal(t, int32(1), srv.calls.Load())
}

func TestGeneratorMetadata(t *testing.T) {
	g := newTestGenerator("http://unused", "k", 8000)
	assert.Equal(t, 3, g.Dimensions())
	assert.Equal(t, "text-embedding-3-small", g.Model())
	assert.Equal(t, 32000, g.MaxChars())
}

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "héllo", Truncate("héllo", 10))
	assert.Equal(t, "héllo", Truncate("héllo", 0))
}
