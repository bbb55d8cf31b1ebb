package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/Aman-CERP/mail2rag/internal/domain"
	"github.com/Aman-CERP/mail2rag/internal/errs"
	"github.com/Aman-CERP/mail2rag/internal/llmclient"
	"github.com/Aman-CERP/mail2rag/internal/rebuild"
	"github.com/Aman-CERP/mail2rag/internal/registry"
	"github.com/Aman-CERP/mail2rag/internal/store"
	"github.com/Aman-CERP/mail2rag/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLLM is a minimal llmclient.Client test double. Embed returns one
// fixed-dimension vector per text unless embedErr is set, or dimOverride
// is non-zero for a specific call index (used to simulate a mismatch).
type fakeLLM struct {
	mu          sync.Mutex
	dim         int
	calls       int
	embedErr    error
	errOnCall   int // 0 means never
	dimOnCall   map[int]int
}

func (f *fakeLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.errOnCall != 0 && call == f.errOnCall {
		return nil, f.embedErr
	}

	dim := f.dim
	if d, ok := f.dimOnCall[call]; ok {
		dim = d
	}

	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, dim)
	}
	return out, nil
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llmclient.Message, temperature float64, maxTokens int) (string, error) {
	return "", nil
}

func (f *fakeLLM) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	return nil, llmclient.ErrRerankUnsupported{}
}

var _ llmclient.Client = (*fakeLLM)(nil)

// fakeVectorStore is a minimal in-memory VectorStore recording upserts.
type fakeVectorStore struct {
	mu    sync.Mutex
	items map[string][]vectorstore.Item
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{items: make(map[string][]vectorstore.Item)}
}

func (f *fakeVectorStore) Upsert(ctx context.Context, collection string, items []vectorstore.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[collection] = append(f.items[collection], items...)
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, collection string, queryVec []float32, k int) ([]vectorstore.Result, error) {
	return nil, nil
}

func (f *fakeVectorStore) DeleteByFilter(ctx context.Context, collection string, filter map[string]string) error {
	return nil
}

func (f *fakeVectorStore) DeleteCollection(ctx context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, collection)
	return nil
}

func (f *fakeVectorStore) Scroll(ctx context.Context, collection string, limit int) ([]vectorstore.Result, error) {
	return nil, nil
}

func (f *fakeVectorStore) ListCollections(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeVectorStore) Count(ctx context.Context, collection string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items[collection]), nil
}

func (f *fakeVectorStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[collection]
	return ok, nil
}

func (f *fakeVectorStore) Dimension(ctx context.Context, collection string) (int, error) { return 0, nil }

func (f *fakeVectorStore) Close() error { return nil }

var _ vectorstore.VectorStore = (*fakeVectorStore)(nil)

func newTestIngestor(t *testing.T, llm *fakeLLM) (*Ingestor, *fakeVectorStore, *registry.Registry) {
	t.Helper()
	fv := newFakeVectorStore()
	reg := registry.New(fv, t.TempDir(), store.DefaultBM25Config())
	mgr := rebuild.NewManager(func(ctx context.Context, collection string) error { return nil }, nil)
	return New(reg, llm, mgr, nil), fv, reg
}

func TestIngestCreatesChunksAndUpsertsAll(t *testing.T) {
	llm := &fakeLLM{dim: 8}
	ig, fv, _ := newTestIngestor(t, llm)

	text := strings.Repeat("A", 2000)
	res, err := ig.Ingest(context.Background(), Request{
		Collection:   "coll",
		Text:         text,
		Metadata:     domain.Metadata{"doc_id": "d1"},
		ChunkSize:    500,
		ChunkOverlap: 50,
	})
	require.NoError(t, err)
	assert.Greater(t, res.ChunksCreated, 0)

	count, err := fv.Count(context.Background(), "coll")
	require.NoError(t, err)
	assert.Equal(t, res.ChunksCreated, count)
}

func TestIngestRejectsEmptyText(t *testing.T) {
	llm := &fakeLLM{dim: 8}
	ig, _, _ := newTestIngestor(t, llm)

	_, err := ig.Ingest(context.Background(), Request{Collection: "coll", Text: ""})
	require.Error(t, err)
	assert.Equal(t, errs.ErrCodeEmptyInput, errs.GetCode(err))
}

func TestIngestAbortsOnDimensionMismatchNoPartialBatchWrite(t *testing.T) {
	llm := &fakeLLM{dim: 8, dimOnCall: map[int]int{2: 16}}
	ig, fv, _ := newTestIngestor(t, llm)

	text := strings.Repeat("B ", 3000)
	res, err := ig.Ingest(context.Background(), Request{
		Collection:   "coll",
		Text:         text,
		ChunkSize:    50,
		ChunkOverlap: 5,
	})
	require.Error(t, err)

	count, countErr := fv.Count(context.Background(), "coll")
	require.NoError(t, countErr)
	assert.Equal(t, res.ChunksCreated, count)
	assert.Less(t, count, 100)
}

func TestIngestPropagatesEmbedFailureWithoutWritingFailedBatch(t *testing.T) {
	llm := &fakeLLM{dim: 8, errOnCall: 1}
	llm.embedErr = assertErr{}
	ig, fv, _ := newTestIngestor(t, llm)

	res, err := ig.Ingest(context.Background(), Request{
		Collection:   "coll",
		Text:         "short text that still becomes one chunk",
		ChunkSize:    500,
		ChunkOverlap: 0,
	})
	require.Error(t, err)
	assert.Equal(t, 0, res.ChunksCreated)

	count, countErr := fv.Count(context.Background(), "coll")
	require.NoError(t, countErr)
	assert.Equal(t, 0, count)
}

func TestIngestTriggersImplicitCollectionCreation(t *testing.T) {
	llm := &fakeLLM{dim: 4}
	ig, _, reg := newTestIngestor(t, llm)

	_, err := ig.Ingest(context.Background(), Request{
		Collection: "new-coll",
		Text:       "hello world",
		ChunkSize:  100,
	})
	require.NoError(t, err)
	assert.Equal(t, registry.StateReady, reg.StateOf("new-coll"))
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated embed failure" }
