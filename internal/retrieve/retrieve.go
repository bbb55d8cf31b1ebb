// Package retrieve implements hybrid retrieval: embed the query, fan
// out to vector and lexical search in parallel, merge and dedupe by
// text, cap the batch handed to the reranker, rerank with a
// transient-failure fallback to the pre-rerank order, and return the
// top finalK.
package retrieve

import (
	"context"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/mail2rag/internal/domain"
	"github.com/Aman-CERP/mail2rag/internal/errs"
	"github.com/Aman-CERP/mail2rag/internal/llmclient"
	"github.com/Aman-CERP/mail2rag/internal/registry"
)

// queryCacheSize bounds the LRU cache of query embeddings.
const queryCacheSize = 256

// Request is the input to Retrieve.
type Request struct {
	Query      string
	Collection string
	TopK       int
	FinalK     int
	UseBM25    bool
}

// Bounds carries the configured limits Retrieve validates against.
type Bounds struct {
	MaxTopK           int
	MaxQueryChars     int
	MaxRerankPassages int
}

// candidate is one in-flight passage while merging/reranking.
type candidate struct {
	text        string
	metadata    domain.Metadata
	vectorScore float64
	bm25Score   float64
	hasVector   bool
	hasBM25     bool
	score       float64
	order       int
}

// Result is one ranked chunk returned to the caller.
type Result struct {
	Text     string
	Metadata domain.Metadata
	Score    float64
	Degraded bool // true if reranking fell back to pre-rerank order
}

// Retriever wires the embedding client, collection registry, and
// reranker together into the single retrieve operation.
type Retriever struct {
	registry *registry.Registry
	llm      llmclient.Client
	bounds   Bounds
	cache    *lru.Cache[string, []float32]
}

// New constructs a Retriever.
func New(reg *registry.Registry, llm llmclient.Client, bounds Bounds) *Retriever {
	cache, _ := lru.New[string, []float32](queryCacheSize)
	return &Retriever{registry: reg, llm: llm, bounds: bounds, cache: cache}
}

// Retrieve runs the full hybrid retrieve-rerank pipeline for req and
// returns up to req.FinalK results ordered best-first.
func (r *Retriever) Retrieve(ctx context.Context, req Request) ([]Result, error) {
	if err := r.validate(req); err != nil {
		return nil, err
	}

	queryVec, err := r.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	var vecHits []candidate
	var bm25Hits []candidate

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.vectorSearch(gctx, req.Collection, queryVec, req.TopK)
		if err != nil {
			return err
		}
		vecHits = hits
		return nil
	})
	if req.UseBM25 {
		g.Go(func() error {
			hits, err := r.lexicalSearch(gctx, req.Collection, req.Query, req.TopK)
			if err != nil {
				return err
			}
			bm25Hits = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeAndDedupe(vecHits, bm25Hits)
	if len(merged) == 0 {
		return nil, nil
	}

	capped := capForRerank(merged, r.bounds.MaxRerankPassages)

	ranked, degraded, err := r.rerank(ctx, req.Query, capped)
	if err != nil {
		return nil, err
	}

	if len(ranked) > req.FinalK {
		ranked = ranked[:req.FinalK]
	}

	out := make([]Result, len(ranked))
	for i, c := range ranked {
		out[i] = Result{Text: c.text, Metadata: c.metadata, Score: c.score, Degraded: degraded}
	}
	return out, nil
}

func (r *Retriever) validate(req Request) error {
	if req.FinalK <= 0 || req.TopK <= 0 || req.FinalK > req.TopK {
		return errs.InvalidArgument("retrieve: require 0 < finalK <= topK")
	}
	if req.TopK > r.bounds.MaxTopK {
		return errs.InvalidArgument("retrieve: topK exceeds max_top_k")
	}
	if len(req.Query) > r.bounds.MaxQueryChars {
		return errs.InvalidArgument("retrieve: query exceeds max_query_chars")
	}
	if strings.TrimSpace(req.Query) == "" {
		return errs.InvalidArgument("retrieve: query must not be empty")
	}
	return nil
}

// embedQuery returns a cached embedding for query if present, otherwise
// embeds and caches it.
func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if v, ok := r.cache.Get(query); ok {
		return v, nil
	}
	embeddings, err := r.llm.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, errs.Permanent("retrieve: embedding service returned no vectors for query", nil)
	}
	r.cache.Add(query, embeddings[0])
	return embeddings[0], nil
}

func (r *Retriever) vectorSearch(ctx context.Context, collection string, queryVec []float32, topK int) ([]candidate, error) {
	hits, err := r.registry.Vectors().Search(ctx, collection, queryVec, topK)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, len(hits))
	for i, h := range hits {
		out[i] = candidate{
			text:        h.Text,
			metadata:    h.Metadata,
			vectorScore: float64(h.Score),
			hasVector:   true,
			score:       float64(h.Score),
			order:       i,
		}
	}
	return out, nil
}

// lexicalSearch returns BM25 hits, or an empty slice with no error if
// the collection has no BM25 index yet, degrading silently to
// vector-only search.
func (r *Retriever) lexicalSearch(ctx context.Context, collection, query string, topK int) ([]candidate, error) {
	idx, err := r.registry.BM25For(collection)
	if err != nil {
		if errs.GetCode(err) == errs.ErrCodeCollectionGoneRead {
			return nil, nil
		}
		return nil, err
	}
	if idx == nil || !idx.IsReady() {
		return nil, nil
	}

	hits, err := idx.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, len(hits))
	for i, h := range hits {
		out[i] = candidate{
			text:      h.Text,
			metadata:  domain.Metadata{},
			bm25Score: h.Score,
			hasBM25:   true,
			score:     h.Score,
			order:     i,
		}
	}
	return out, nil
}

// mergeAndDedupe merges vector and lexical hits: for identical chunk
// text, keep the candidate with the highest current score, preserving
// both vector_score and bm25_score in metadata.
func mergeAndDedupe(vecHits, bm25Hits []candidate) []candidate {
	byText := make(map[string]*candidate)
	order := 0

	add := func(c candidate) {
		existing, ok := byText[c.text]
		if !ok {
			cc := c
			cc.order = order
			order++
			meta := annotateScores(cc)
			cc.metadata = meta
			byText[c.text] = &cc
			return
		}

		if c.hasVector {
			existing.hasVector = true
			existing.vectorScore = c.vectorScore
		}
		if c.hasBM25 {
			existing.hasBM25 = true
			existing.bm25Score = c.bm25Score
		}
		if c.score > existing.score {
			existing.score = c.score
		}
		existing.metadata = annotateScores(*existing)
	}

	for _, c := range vecHits {
		add(c)
	}
	for _, c := range bm25Hits {
		add(c)
	}

	out := make([]candidate, 0, len(byText))
	for _, c := range byText {
		out = append(out, *c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].order < out[j].order
	})
	return out
}

func annotateScores(c candidate) domain.Metadata {
	meta := c.metadata.Clone()
	if meta == nil {
		meta = domain.Metadata{}
	}
	if c.hasVector {
		meta["vector_score"] = strconv.FormatFloat(c.vectorScore, 'f', -1, 64)
	}
	if c.hasBM25 {
		meta["bm25_score"] = strconv.FormatFloat(c.bm25Score, 'f', -1, 64)
	}
	return meta
}

// capForRerank keeps the highest-scored candidates up to maxPassages,
// tie-breaking vector hits first then by original insertion order.
func capForRerank(candidates []candidate, maxPassages int) []candidate {
	sorted := make([]candidate, len(candidates))
	copy(sorted, candidates)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.hasVector != b.hasVector {
			return a.hasVector
		}
		if a.bm25Score != b.bm25Score {
			return a.bm25Score > b.bm25Score
		}
		return a.order < b.order
	})

	if maxPassages > 0 && len(sorted) > maxPassages {
		sorted = sorted[:maxPassages]
	}
	return sorted
}

// rerank scores capped against query via the configured cross-encoder.
// A transient failure falls back to the pre-rerank order (degraded=true);
// any other failure propagates.
func (r *Retriever) rerank(ctx context.Context, query string, capped []candidate) ([]candidate, bool, error) {
	if len(capped) == 0 {
		return nil, false, nil
	}

	texts := make([]string, len(capped))
	for i, c := range capped {
		texts[i] = c.text
	}

	scores, err := r.llm.Rerank(ctx, query, texts)
	if err != nil {
		if _, unsupported := err.(llmclient.ErrRerankUnsupported); unsupported {
			return preRankOrder(capped), true, nil
		}
		if errs.IsRetryable(err) {
			return preRankOrder(capped), true, nil
		}
		return nil, false, err
	}
	if len(scores) != len(capped) {
		return preRankOrder(capped), true, nil
	}

	ranked := make([]candidate, len(capped))
	copy(ranked, capped)
	for i := range ranked {
		ranked[i].score = scores[i]
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked, false, nil
}

func preRankOrder(capped []candidate) []candidate {
	out := make([]candidate, len(capped))
	copy(out, capped)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.score != b.score {
			return a.score > b.score
		}
		return a.order < b.order
	})
	return out
}
