package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mail2rag/internal/domain"
)

func TestHNSWUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s := NewHNSWStore("")
	defer s.Close()

	items := []Item{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: domain.Metadata{"text": "apple", "source": "x"}},
		{ID: "b", Vector: []float32{0, 1, 0}, Payload: domain.Metadata{"text": "banana", "source": "y"}},
	}
	require.NoError(t, s.Upsert(ctx, "emails", items))

	results, err := s.Search(ctx, "emails", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "apple", results[0].Text)
}

func TestHNSWUpsertReplacesExistingID(t *testing.T) {
	ctx := context.Background()
	s := NewHNSWStore("")
	defer s.Close()

	require.NoError(t, s.Upsert(ctx, "c", []Item{{ID: "a", Vector: []float32{1, 0}, Payload: domain.Metadata{"text": "v1"}}}))
	require.NoError(t, s.Upsert(ctx, "c", []Item{{ID: "a", Vector: []float32{0, 1}, Payload: domain.Metadata{"text": "v2"}}}))

	count, err := s.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := s.Search(ctx, "c", []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v2", results[0].Text)
}

func TestHNSWDimensionMismatchOnSearch(t *testing.T) {
	ctx := context.Background()
	s := NewHNSWStore("")
	defer s.Close()

	require.NoError(t, s.Upsert(ctx, "c", []Item{{ID: "a", Vector: []float32{1, 0, 0}}}))
	_, err := s.Search(ctx, "c", []float32{1, 0}, 1)
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})
}

func TestHNSWDimensionMismatchOnUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewHNSWStore("")
	defer s.Close()

	require.NoError(t, s.Upsert(ctx, "c", []Item{{ID: "a", Vector: []float32{1, 0, 0}}}))
	err := s.Upsert(ctx, "c", []Item{{ID: "b", Vector: []float32{1, 0}}})
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})
}

func TestHNSWDeleteByFilter(t *testing.T) {
	ctx := context.Background()
	s := NewHNSWStore("")
	defer s.Close()

	items := []Item{
		{ID: "a", Vector: []float32{1, 0}, Payload: domain.Metadata{"archive_id": "1"}},
		{ID: "b", Vector: []float32{0, 1}, Payload: domain.Metadata{"archive_id": "2"}},
	}
	require.NoError(t, s.Upsert(ctx, "c", items))

	require.NoError(t, s.DeleteByFilter(ctx, "c", map[string]string{"archive_id": "1"}))

	count, err := s.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHNSWDeleteCollection(t *testing.T) {
	ctx := context.Background()
	s := NewHNSWStore("")
	defer s.Close()

	require.NoError(t, s.Upsert(ctx, "c", []Item{{ID: "a", Vector: []float32{1, 0}}}))
	require.NoError(t, s.DeleteCollection(ctx, "c"))

	exists, err := s.CollectionExists(ctx, "c")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHNSWListCollectionsAndIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewHNSWStore("")
	defer s.Close()

	require.NoError(t, s.Upsert(ctx, "c1", []Item{{ID: "a", Vector: []float32{1, 0}}}))
	require.NoError(t, s.Upsert(ctx, "c2", []Item{{ID: "a", Vector: []float32{1, 0, 0}}}))

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, names)

	d1, _ := s.Dimension(ctx, "c1")
	d2, _ := s.Dimension(ctx, "c2")
	assert.Equal(t, 2, d1)
	assert.Equal(t, 3, d2)
}

func TestHNSWScroll(t *testing.T) {
	ctx := context.Background()
	s := NewHNSWStore("")
	defer s.Close()

	items := []Item{
		{ID: "a", Vector: []float32{1, 0}, Payload: domain.Metadata{"text": "a"}},
		{ID: "b", Vector: []float32{0, 1}, Payload: domain.Metadata{"text": "b"}},
	}
	require.NoError(t, s.Upsert(ctx, "c", items))

	results, err := s.Scroll(ctx, "c", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestHNSWSearchEmptyCollection(t *testing.T) {
	ctx := context.Background()
	s := NewHNSWStore("")
	defer s.Close()

	results, err := s.Search(ctx, "nonexistent", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNormalizeVectorInPlace(t *testing.T) {
	v := []float32{3, 4, 0}
	normalizeVectorInPlace(v)
	assert.InDelta(t, 1.0, float64(v[0]*v[0]+v[1]*v[1]+v[2]*v[2]), 1e-5)
}

func TestNormalizeVectorInPlaceZero(t *testing.T) {
	v := []float32{0, 0, 0}
	normalizeVectorInPlace(v)
	assert.Equal(t, []float32{0, 0, 0}, v)
}
