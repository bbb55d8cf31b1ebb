// Package answer builds a context block from the reranked chunks,
// picks the per-collection system prompt, and asks the LLM to answer
// strictly from that context. Transient retrying is already handled
// inside llmclient.HTTPClient.Chat, so this package calls it directly
// rather than wrapping it again.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/mail2rag/internal/config"
	"github.com/Aman-CERP/mail2rag/internal/domain"
	"github.com/Aman-CERP/mail2rag/internal/errs"
	"github.com/Aman-CERP/mail2rag/internal/llmclient"
)

// sourceSnippetLen bounds each source's text_snippet length, in runes.
const sourceSnippetLen = 200

// defaultRefusalInstruction tells the model to admit insufficient
// context rather than hallucinate an answer.
const defaultRefusalInstruction = "Answer using only the context provided above. If the answer is not contained in the context, say so plainly rather than guessing."

// Chunk is one piece of retrieved context handed to Generate.
type Chunk struct {
	Text     string
	Score    float64
	Metadata domain.Metadata
}

// Source is one citation returned alongside the answer.
type Source struct {
	TextSnippet string
	Score       float64
	Metadata    domain.Metadata
}

// Result is the output of Generate: the answer text plus the sources
// cited in building it.
type Result struct {
	Answer  string
	Sources []Source
}

// Generator wires the LLM client and per-collection prompt config
// together into the single answer-generation operation.
type Generator struct {
	llm     llmclient.Client
	prompts config.PromptsConfig
	llmCfg  config.LLMConfig
}

// New constructs a Generator.
func New(llm llmclient.Client, prompts config.PromptsConfig) *Generator {
	return &Generator{llm: llm, prompts: prompts}
}

// NewWithLLMConfig constructs a Generator that also knows the
// configured default/per-collection temperature overrides, used as
// Generate's fallback when a caller's Option does not set one
// explicitly.
func NewWithLLMConfig(llm llmclient.Client, prompts config.PromptsConfig, llmCfg config.LLMConfig) *Generator {
	return &Generator{llm: llm, prompts: prompts, llmCfg: llmCfg}
}

// Option overrides one of Generate's request-scoped parameters. Used
// by the HTTP /chat endpoint, which accepts explicit
// temperature/max_tokens on each request; mail-driven chat jobs call
// Generate with none, falling back to collection/global configured
// defaults.
type Option func(*genOptions)

type genOptions struct {
	temperature *float64
	maxTokens   int
}

// WithTemperature overrides the system/per-collection default temperature.
func WithTemperature(t float64) Option {
	return func(o *genOptions) { o.temperature = &t }
}

// WithMaxTokens overrides the provider's default response length cap.
func WithMaxTokens(n int) Option {
	return func(o *genOptions) { o.maxTokens = n }
}

// Generate answers query using chunks as the only admissible context,
// using collection to pick a per-collection system prompt if one is
// configured.
func (g *Generator) Generate(ctx context.Context, collection, query string, chunks []Chunk, opts ...Option) (Result, error) {
	if strings.TrimSpace(query) == "" {
		return Result{}, errs.InvalidArgument("answer: query must not be empty")
	}

	o := genOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	contextBlock := buildContext(chunks)
	systemPrompt := g.systemPromptFor(collection)
	userPrompt := fmt.Sprintf("CONTEXT:\n%s\nQUESTION:\n%s\n\n%s", contextBlock, query, defaultRefusalInstruction)

	reply, err := g.llm.Chat(ctx, []llmclient.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}, g.temperatureFor(collection, o), o.maxTokens)
	if err != nil {
		return Result{}, fmt.Errorf("answer: chat completion: %w", err)
	}

	return Result{Answer: reply, Sources: buildSources(chunks)}, nil
}

// temperatureFor resolves the effective temperature: an explicit
// request-level Option wins, then the per-collection override, then
// the configured global default.
func (g *Generator) temperatureFor(collection string, o genOptions) float64 {
	if o.temperature != nil {
		return *o.temperature
	}
	if t, ok := g.llmCfg.TemperatureByColl[collection]; ok {
		return t
	}
	return g.llmCfg.Temperature
}

func (g *Generator) systemPromptFor(collection string) string {
	if prompt, ok := g.prompts.ByCollection[collection]; ok && prompt != "" {
		return prompt
	}
	return g.prompts.DefaultSystemPrompt
}

// buildContext concatenates each chunk as "[Document i]\n<text>\n".
func buildContext(chunks []Chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		fmt.Fprintf(&b, "[Document %d]\n%s\n", i+1, c.Text)
	}
	return b.String()
}

func buildSources(chunks []Chunk) []Source {
	sources := make([]Source, len(chunks))
	for i, c := range chunks {
		sources[i] = Source{
			TextSnippet: snippet(c.Text, sourceSnippetLen),
			Score:       c.Score,
			Metadata:    c.Metadata.Clone(),
		}
	}
	return sources
}

func snippet(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen])
}
