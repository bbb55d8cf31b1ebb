package registry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Aman-CERP/mail2rag/internal/store"
	"github.com/Aman-CERP/mail2rag/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVectorStore is a minimal in-memory VectorStore test double.
type fakeVectorStore struct {
	mu          sync.Mutex
	deleted     []string
	deleteErr   error
	collections map[string]bool
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{collections: make(map[string]bool)}
}

func (f *fakeVectorStore) Upsert(ctx context.Context, collection string, items []vectorstore.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[collection] = true
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
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, collection)
	delete(f.collections, collection)
	return nil
}

func (f *fakeVectorStore) Scroll(ctx context.Context, collection string, limit int) ([]vectorstore.Result, error) {
	return nil, nil
}

func (f *fakeVectorStore) ListCollections(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.collections {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeVectorStore) Count(ctx context.Context, collection string) (int, error) { return 0, nil }

func (f *fakeVectorStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections[collection], nil
}

func (f *fakeVectorStore) Dimension(ctx context.Context, collection string) (int, error) {
	return 0, nil
}

func (f *fakeVectorStore) Close() error { return nil }

var _ vectorstore.VectorStore = (*fakeVectorStore)(nil)

func newTestRegistry(t *testing.T) (*Registry, *fakeVectorStore) {
	t.Helper()
	fv := newFakeVectorStore()
	reg := New(fv, filepath.Join(t.TempDir(), "bm25"), store.DefaultBM25Config())
	return reg, fv
}

func TestEnsureCreatingIsImplicitAndIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)

	idx1, err := reg.EnsureCreating(context.Background(), "coll-a")
	require.NoError(t, err)
	require.NotNil(t, idx1)
	assert.Equal(t, StateReady, reg.StateOf("coll-a"))

	idx2, err := reg.EnsureCreating(context.Background(), "coll-a")
	require.NoError(t, err)
	assert.Same(t, idx1, idx2, "repeat EnsureCreating must return the same open index")
}

func TestBM25ForUnknownCollectionReturnsNilNoError(t *testing.T) {
	reg, _ := newTestRegistry(t)

	idx, err := reg.BM25For("never-created")
	require.NoError(t, err)
	assert.Nil(t, idx)
}

func TestDeleteCollectionDeletesVectorBeforeBM25(t *testing.T) {
	reg, fv := newTestRegistry(t)

	_, err := reg.EnsureCreating(context.Background(), "coll-a")
	require.NoError(t, err)

	require.NoError(t, reg.DeleteCollection(context.Background(), "coll-a"))
	assert.Contains(t, fv.deleted, "coll-a")
	assert.Equal(t, StateAbsent, reg.StateOf("coll-a"))

	idx, err := reg.BM25For("coll-a")
	require.NoError(t, err)
	assert.Nil(t, idx)
}

func TestDeleteCollectionAbortsIfVectorDeleteFails(t *testing.T) {
	reg, fv := newTestRegistry(t)
	fv.deleteErr = assertErr{}

	_, err := reg.EnsureCreating(context.Background(), "coll-a")
	require.NoError(t, err)

	err = reg.DeleteCollection(context.Background(), "coll-a")
	require.Error(t, err)

	// BM25 index must still be open/usable: the vector delete failed so
	// BM25 teardown must never have been attempted.
	idx, err := reg.BM25For("coll-a")
	require.NoError(t, err)
	assert.NotNil(t, idx)
}

func TestNamesOnlyListsNonAbsentCollections(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.EnsureCreating(context.Background(), "coll-a")
	require.NoError(t, err)
	_, err = reg.EnsureCreating(context.Background(), "coll-b")
	require.NoError(t, err)
	require.NoError(t, reg.DeleteCollection(context.Background(), "coll-b"))

	names := reg.Names()
	assert.Contains(t, names, "coll-a")
	assert.NotContains(t, names, "coll-b")
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated vector delete failure" }
