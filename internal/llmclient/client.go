// Package llmclient implements a provider-agnostic chat/embed/rerank
// client: embed(text) -> [float], chat(messages, temperature,
// maxTokens) -> text, rerank(query, texts) -> [score]. It speaks the
// Ollama-compatible `/api/embeddings` and `/api/chat` routes by
// default, or an OpenAI-compatible `/v1/chat/completions` route when
// configured.
package llmclient

import (
	"context"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the external LLM collaborator: it embeds text for vector
// search, answers chat completions, and optionally reranks (query,
// passage) pairs with a cross-encoder.
type Client interface {
	// Embed returns one embedding vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Chat runs a chat completion and returns the assistant's reply text.
	Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error)

	// Rerank scores each of texts against query; returns one score per
	// text in the same order (higher is more relevant). Returns
	// ErrRerankUnsupported if no reranker is configured, letting callers
	// fall back to a local pairwise scorer.
	Rerank(ctx context.Context, query string, texts []string) ([]float64, error)
}

// ErrRerankUnsupported is returned by Rerank when the client has no
// reranking backend configured; reranking is always optional.
type ErrRerankUnsupported struct{}

func (ErrRerankUnsupported) Error() string {
	return "llmclient: rerank is not supported by this client"
}
