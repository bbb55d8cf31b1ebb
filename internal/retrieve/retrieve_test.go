package retrieve

import (
	"context"
	"testing"

	"github.com/Aman-CERP/mail2rag/internal/domain"
	"github.com/Aman-CERP/mail2rag/internal/errs"
	"github.com/Aman-CERP/mail2rag/internal/llmclient"
	"github.com/Aman-CERP/mail2rag/internal/registry"
	"github.com/Aman-CERP/mail2rag/internal/store"
	"github.com/Aman-CERP/mail2rag/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVectorStore returns a fixed, caller-configured hit list regardless
// of the query vector, so tests can control exactly what vector search
// returns.
type fakeVectorStore struct {
	hits []vectorstore.Result
}

func (f *fakeVectorStore) Upsert(ctx context.Context, collection string, items []vectorstore.Item) error {
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, collection string, queryVec []float32, k int) ([]vectorstore.Result, error) {
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *fakeVectorStore) DeleteByFilter(ctx context.Context, collection string, filter map[string]string) error {
	return nil
}
func (f *fakeVectorStore) DeleteCollection(ctx context.Context, collection string) error { return nil }
func (f *fakeVectorStore) Scroll(ctx context.Context, collection string, limit int) ([]vectorstore.Result, error) {
	return f.hits, nil
}
func (f *fakeVectorStore) ListCollections(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeVectorStore) Count(ctx context.Context, collection string) (int, error) {
	return len(f.hits), nil
}
func (f *fakeVectorStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return true, nil
}
func (f *fakeVectorStore) Dimension(ctx context.Context, collection string) (int, error) {
	return 4, nil
}
func (f *fakeVectorStore) Close() error { return nil }

var _ vectorstore.VectorStore = (*fakeVectorStore)(nil)

// fakeLLM embeds deterministically and records whether rerank ran;
// unless configured with fixed scores or an error, it scores passages
// in descending input order, so reranking keeps their order.
type fakeLLM struct {
	rerankErr     error
	rerankScores  []float64
	rerankCalled  bool
}

func (f *fakeLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3, 4}
	}
	return out, nil
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llmclient.Message, temperature float64, maxTokens int) (string, error) {
	return "", nil
}

func (f *fakeLLM) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	f.rerankCalled = true
	if f.rerankErr != nil {
		return nil, f.rerankErr
	}
	if f.rerankScores != nil {
		return f.rerankScores, nil
	}
	scores := make([]float64, len(texts))
	for i := range texts {
		scores[i] = float64(len(texts) - i)
	}
	return scores, nil
}

var _ llmclient.Client = (*fakeLLM)(nil)

func newTestRetriever(t *testing.T, fv *fakeVectorStore, llm *fakeLLM) *Retriever {
	t.Helper()
	reg := registry.New(fv, t.TempDir(), store.DefaultBM25Config())
	return New(reg, llm, Bounds{MaxTopK: 50, MaxQueryChars: 4000, MaxRerankPassages: 50})
}

func TestRetrieveValidatesFinalKLessEqualTopK(t *testing.T) {
	r := newTestRetriever(t, &fakeVectorStore{}, &fakeLLM{})

	_, err := r.Retrieve(context.Background(), Request{Query: "q", Collection: "c", TopK: 5, FinalK: 10})
	require.Error(t, err)
	assert.Equal(t, errs.ErrCodeInvalidArgument, errs.GetCode(err))
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	r := newTestRetriever(t, &fakeVectorStore{}, &fakeLLM{})

	_, err := r.Retrieve(context.Background(), Request{Query: "   ", Collection: "c", TopK: 5, FinalK: 1})
	require.Error(t, err)
	assert.Equal(t, errs.ErrCodeInvalidArgument, errs.GetCode(err))
}

func TestRetrieveRejectsQueryOverMaxChars(t *testing.T) {
	r := newTestRetriever(t, &fakeVectorStore{}, &fakeLLM{})

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'a'
	}
	_, err := r.Retrieve(context.Background(), Request{Query: string(long), Collection: "c", TopK: 5, FinalK: 1})
	require.Error(t, err)
}

func TestRetrieveReturnsVectorOnlyWhenBM25Unready(t *testing.T) {
	fv := &fakeVectorStore{hits: []vectorstore.Result{
		{ID: "1", Text: "alpha", Score: 0.9},
		{ID: "2", Text: "beta", Score: 0.5},
	}}
	r := newTestRetriever(t, fv, &fakeLLM{})

	results, err := r.Retrieve(context.Background(), Request{
		Query: "q", Collection: "c", TopK: 5, FinalK: 2, UseBM25: true,
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetrieveDedupesIdenticalTextKeepingHigherScore(t *testing.T) {
	fv := &fakeVectorStore{hits: []vectorstore.Result{
		{ID: "1", Text: "same text", Score: 0.9},
		{ID: "2", Text: "same text", Score: 0.4},
	}}
	llm := &fakeLLM{}
	r := newTestRetriever(t, fv, llm)

	results, err := r.Retrieve(context.Background(), Request{
		Query: "q", Collection: "c", TopK: 5, FinalK: 5, UseBM25: false,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Metadata, "vector_score")
}

func TestRetrieveFallsBackOnTransientRerankFailure(t *testing.T) {
	fv := &fakeVectorStore{hits: []vectorstore.Result{
		{ID: "1", Text: "alpha", Score: 0.9},
		{ID: "2", Text: "beta", Score: 0.5},
	}}
	llm := &fakeLLM{rerankErr: errs.Transient("reranker down", nil)}
	r := newTestRetriever(t, fv, llm)

	results, err := r.Retrieve(context.Background(), Request{
		Query: "q", Collection: "c", TopK: 5, FinalK: 2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Degraded)
	assert.Equal(t, "alpha", results[0].Text)
}

func TestRetrievePropagatesPermanentRerankFailure(t *testing.T) {
	fv := &fakeVectorStore{hits: []vectorstore.Result{
		{ID: "1", Text: "alpha", Score: 0.9},
	}}
	llm := &fakeLLM{rerankErr: errs.Permanent("reranker misconfigured", nil)}
	r := newTestRetriever(t, fv, llm)

	_, err := r.Retrieve(context.Background(), Request{Query: "q", Collection: "c", TopK: 5, FinalK: 1})
	require.Error(t, err)
}

func TestRetrieveFallsBackWhenRerankUnsupported(t *testing.T) {
	fv := &fakeVectorStore{hits: []vectorstore.Result{
		{ID: "1", Text: "alpha", Score: 0.9},
	}}
	llm := &fakeLLM{rerankErr: llmclient.ErrRerankUnsupported{}}
	r := newTestRetriever(t, fv, llm)

	results, err := r.Retrieve(context.Background(), Request{Query: "q", Collection: "c", TopK: 5, FinalK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Degraded)
}

func TestRetrieveCapsRerankInputToMaxRerankPassages(t *testing.T) {
	hits := make([]vectorstore.Result, 10)
	for i := range hits {
		hits[i] = vectorstore.Result{ID: string(rune('a' + i)), Text: string(rune('a' + i)), Score: float32(10 - i)}
	}
	fv := &fakeVectorStore{hits: hits}
	llm := &fakeLLM{}
	reg := registry.New(fv, t.TempDir(), store.DefaultBM25Config())
	r := New(reg, llm, Bounds{MaxTopK: 50, MaxQueryChars: 4000, MaxRerankPassages: 3})

	results, err := r.Retrieve(context.Background(), Request{Query: "q", Collection: "c", TopK: 10, FinalK: 10})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestRetrieveEmbedsQueryOnceThenCaches(t *testing.T) {
	fv := &fakeVectorStore{hits: []vectorstore.Result{{ID: "1", Text: "a", Score: 1}}}
	llm := &fakeLLM{}
	r := newTestRetriever(t, fv, llm)

	_, err := r.Retrieve(context.Background(), Request{Query: "same query", Collection: "c", TopK: 1, FinalK: 1})
	require.NoError(t, err)

	v, ok := r.cache.Get("same query")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3, 4}, v)
}

func TestRetrieveMetadataIsClonedNotSharedWithHit(t *testing.T) {
	meta := domain.Metadata{"doc_id": "d1"}
	fv := &fakeVectorStore{hits: []vectorstore.Result{{ID: "1", Text: "a", Score: 1, Metadata: meta}}}
	r := newTestRetriever(t, fv, &fakeLLM{})

	results, err := r.Retrieve(context.Background(), Request{Query: "q", Collection: "c", TopK: 1, FinalK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	results[0].Metadata["mutated"] = "yes"
	_, leaked := meta["mutated"]
	assert.False(t, leaked)
}
