package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Aman-CERP/mail2rag/internal/config"
	"github.com/Aman-CERP/mail2rag/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() errs.RetryPolicy {
	return errs.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, Jitter: false}
}

func TestEmbedOllama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := New(
		config.EmbeddingsConfig{Provider: "ollama", Model: "nomic-embed-text", Endpoint: srv.URL, BatchSize: 10},
		config.LLMConfig{},
		config.RerankerConfig{},
		fastRetry(),
	)

	out, err := c.Embed(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, out[0])
}

func TestEmbedOpenAICompatible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(openAIEmbedResponse{
			Data: []struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{
				{Embedding: []float32{1, 2}, Index: 1},
				{Embedding: []float32{3, 4}, Index: 0},
			},
		})
	}))
	defer srv.Close()

	c := New(
		config.EmbeddingsConfig{Provider: "openai", Model: "text-embedding-3-small", Endpoint: srv.URL, BatchSize: 10},
		config.LLMConfig{},
		config.RerankerConfig{},
		fastRetry(),
	)

	out, err := c.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{3, 4}, out[0])
	assert.Equal(t, []float32{1, 2}, out[1])
}

func TestChatOllama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		json.NewEncoder(w).Encode(ollamaChatResponse{Message: Message{Role: "assistant", Content: "hi there"}})
	}))
	defer srv.Close()

	c := New(
		config.EmbeddingsConfig{},
		config.LLMConfig{Provider: "ollama", Model: "qwen2.5:7b", Endpoint: srv.URL},
		config.RerankerConfig{},
		fastRetry(),
	)

	reply, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hello"}}, 0.2, 256)
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
}

func TestRerankUnsupportedWhenDisabled(t *testing.T) {
	c := New(config.EmbeddingsConfig{}, config.LLMConfig{}, config.RerankerConfig{Enabled: false}, fastRetry())

	_, err := c.Rerank(context.Background(), "query", []string{"a", "b"})
	assert.ErrorIs(t, err, ErrRerankUnsupported{})
}

func TestRerankScoresByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rerankResponse{
			Results: []struct {
				Index          int     `json:"index"`
				RelevanceScore float64 `json:"relevance_score"`
			}{
				{Index: 1, RelevanceScore: 0.9},
				{Index: 0, RelevanceScore: 0.1},
			},
		})
	}))
	defer srv.Close()

	c := New(config.EmbeddingsConfig{}, config.LLMConfig{}, config.RerankerConfig{Enabled: true, Host: srv.URL}, fastRetry())

	scores, err := c.Rerank(context.Background(), "q", []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, 0.1, scores[0])
	assert.Equal(t, 0.9, scores[1])
}

func TestDoJSONRetriesOnTransientThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{9}})
	}))
	defer srv.Close()

	c := New(
		config.EmbeddingsConfig{Provider: "ollama", Endpoint: srv.URL, BatchSize: 10},
		config.LLMConfig{},
		config.RerankerConfig{},
		fastRetry(),
	)

	out, err := c.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []float32{9}, out[0])
}

func TestDoJSONDoesNotRetryOn4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(
		config.EmbeddingsConfig{Provider: "ollama", Endpoint: srv.URL, BatchSize: 10},
		config.LLMConfig{},
		config.RerankerConfig{},
		fastRetry(),
	)

	_, err := c.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "non-retryable status must not be retried")
}
