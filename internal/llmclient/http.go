package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/Aman-CERP/mail2rag/internal/config"
	"github.com/Aman-CERP/mail2rag/internal/errs"
)

func randFloat() float64 { return rand.Float64() }

// HTTPClient is the default Client implementation: it speaks either the
// Ollama-native API or an OpenAI-compatible API, selected by
// EmbeddingsConfig.Provider / LLMConfig.Provider ("ollama" vs anything
// else, treated as openai-compatible).
type HTTPClient struct {
	embeddings config.EmbeddingsConfig
	llm        config.LLMConfig
	reranker   config.RerankerConfig
	retry      errs.RetryPolicy
	http       *http.Client
}

// New builds an HTTPClient from the daemon's configuration sections.
func New(embeddings config.EmbeddingsConfig, llm config.LLMConfig, reranker config.RerankerConfig, retry errs.RetryPolicy) *HTTPClient {
	return &HTTPClient{
		embeddings: embeddings,
		llm:        llm,
		reranker:   reranker,
		retry:      retry,
		http:       &http.Client{},
	}
}

var _ Client = (*HTTPClient)(nil)

// retryTransient runs fn, retrying with the client's backoff policy
// only while the error is Transient: a Permanent or InvalidArgument
// failure from doJSON returns to the caller immediately, without
// consuming a retry attempt.
func retryTransient[T any](ctx context.Context, policy errs.RetryPolicy, fn func() (T, error)) (T, error) {
	delay := policy.InitialDelay
	var result T
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		default:
		}

		var err error
		result, err = fn()
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !errs.IsRetryable(err) || attempt >= policy.MaxRetries {
			var zero T
			return zero, err
		}

		wait := delay
		if policy.Jitter {
			wait = time.Duration(float64(delay) * (0.5 + randFloat()*0.5))
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	var zero T
	return zero, lastErr
}

func isOllama(provider string) bool {
	return strings.EqualFold(provider, "ollama") || provider == ""
}

// Embed embeds texts in batches of embeddings.BatchSize.
func (c *HTTPClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := c.embeddings.BatchSize
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}

	return out, nil
}

func (c *HTTPClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	timeout := c.embeddings.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return retryTransient(ctx, c.retry, func() ([][]float32, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if isOllama(c.embeddings.Provider) {
			return c.embedOllama(ctx, texts)
		}
		return c.embedOpenAI(ctx, texts)
	})
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *HTTPClient) embedOllama(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		reqBody := ollamaEmbedRequest{Model: c.embeddings.Model, Prompt: text}

		var resp ollamaEmbedResponse
		if err := c.doJSON(ctx, http.MethodPost, c.embeddings.Endpoint+"/api/embeddings", "", reqBody, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Embedding)
	}
	return out, nil
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *HTTPClient) embedOpenAI(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := openAIEmbedRequest{Model: c.embeddings.Model, Input: texts}

	var resp openAIEmbedResponse
	if err := c.doJSON(ctx, http.MethodPost, c.embeddings.Endpoint+"/v1/embeddings", "", reqBody, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

// Chat runs a completion against the configured LLM provider.
func (c *HTTPClient) Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	timeout := c.llm.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return retryTransient(ctx, c.retry, func() (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if isOllama(c.llm.Provider) {
			return c.chatOllama(ctx, messages, temperature, maxTokens)
		}
		return c.chatOpenAI(ctx, messages, temperature, maxTokens)
	})
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  struct {
		Temperature float64 `json:"temperature"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
}

func (c *HTTPClient) chatOllama(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	reqBody := ollamaChatRequest{Model: c.llm.Model, Messages: messages, Stream: false}
	reqBody.Options.Temperature = temperature
	reqBody.Options.NumPredict = maxTokens

	var resp ollamaChatResponse
	if err := c.doJSON(ctx, http.MethodPost, c.llm.Endpoint+"/api/chat", c.llm.APIKey, reqBody, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func (c *HTTPClient) chatOpenAI(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	reqBody := openAIChatRequest{
		Model:       c.llm.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	var resp openAIChatResponse
	if err := c.doJSON(ctx, http.MethodPost, c.llm.Endpoint+"/v1/chat/completions", c.llm.APIKey, reqBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errs.Permanent("no choices in chat completion response", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores texts against query via the configured cross-encoder
// endpoint, or returns ErrRerankUnsupported when none is configured so
// HybridRetriever can fall back to its local pairwise scorer.
func (c *HTTPClient) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	if !c.reranker.Enabled {
		return nil, ErrRerankUnsupported{}
	}
	if len(texts) == 0 {
		return nil, nil
	}

	timeout := c.reranker.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return retryTransient(ctx, c.retry, func() ([]float64, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		reqBody := rerankRequest{Model: c.reranker.Model, Query: query, Documents: texts}

		var resp rerankResponse
		if err := c.doJSON(ctx, http.MethodPost, c.reranker.Host+"/rerank", "", reqBody, &resp); err != nil {
			return nil, err
		}

		scores := make([]float64, len(texts))
		for _, r := range resp.Results {
			if r.Index >= 0 && r.Index < len(scores) {
				scores[r.Index] = r.RelevanceScore
			}
		}
		return scores, nil
	})
}

// doJSON POSTs body as JSON to url and decodes the response into out,
// classifying failures (Transient on network error or 5xx, Permanent
// otherwise) so the caller's retry wrapper knows whether to keep
// trying.
func (c *HTTPClient) doJSON(ctx context.Context, method, url, apiKey string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return errs.Permanent("marshal request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(encoded))
	if err != nil {
		return errs.Permanent("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Transient(fmt.Sprintf("request to %s failed", url), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Transient("read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("%s returned status %d: %s", url, resp.StatusCode, string(respBody))
		if errs.IsTransientHTTP(method, resp.StatusCode, nil) {
			return errs.Transient(msg, nil)
		}
		return errs.Permanent(msg, nil)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return errs.Permanent("decode response body", err)
		}
	}

	return nil
}
