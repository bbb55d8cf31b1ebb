package chunk

import (
	"strings"
	"testing"

	"github.com/Aman-CERP/mail2rag/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSplitterValidation(t *testing.T) {
	_, err := NewSplitter(0, 0)
	assert.Error(t, err)

	_, err = NewSplitter(4, 4)
	assert.Error(t, err)

	_, err = NewSplitter(4, -1)
	assert.Error(t, err)

	s, err := NewSplitter(4, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Size)
}

// "abcdefghij" (10 chars), chunk_size=4, chunk_overlap=1 ->
// (0,4)"abcd" (3,7)"defg" (6,10)"ghij", total_chunks=3.
func TestSplitCharFallbackProducesOverlappingFixedWidthChunks(t *testing.T) {
	s, err := NewSplitter(4, 1)
	require.NoError(t, err)

	chunks := s.Split("abcdefghij", domain.Metadata{"doc_id": "d1"})
	require.Len(t, chunks, 3)

	assert.Equal(t, "abcd", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, 4, chunks[0].CharEnd)

	assert.Equal(t, "defg", chunks[1].Text)
	assert.Equal(t, 3, chunks[1].CharStart)
	assert.Equal(t, 7, chunks[1].CharEnd)

	assert.Equal(t, "ghij", chunks[2].Text)
	assert.Equal(t, 6, chunks[2].CharStart)
	assert.Equal(t, 10, chunks[2].CharEnd)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, 3, c.TotalChunks)
		assert.Equal(t, "d1", c.Metadata["doc_id"])
	}
}

func TestSplitShortTextYieldsSingleChunk(t *testing.T) {
	s, err := NewSplitter(100, 10)
	require.NoError(t, err)

	chunks := s.Split("short text", domain.Metadata{})
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, 1, chunks[0].TotalChunks)
}

func TestSplitEmptyTextYieldsNoChunks(t *testing.T) {
	s, err := NewSplitter(10, 2)
	require.NoError(t, err)

	assert.Empty(t, s.Split("", domain.Metadata{}))
	assert.Empty(t, s.Split("   \n\t  ", domain.Metadata{}))
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	s, err := NewSplitter(20, 5)
	require.NoError(t, err)

	text := "first paragraph here\n\nsecond paragraph here\n\nthird paragraph here"
	chunks := s.Split(text, domain.Metadata{})
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		assert.LessOrEqual(t, runeLen(c.Text), 20+10, "pieces should roughly respect chunk_size")
	}
}

func TestSplitMetadataIsClonedNotShared(t *testing.T) {
	s, err := NewSplitter(4, 1)
	require.NoError(t, err)

	base := domain.Metadata{"doc_id": "d1"}
	chunks := s.Split("abcdefgh", base)
	require.NotEmpty(t, chunks)

	chunks[0].Metadata["mutated"] = "yes"
	_, present := base["mutated"]
	assert.False(t, present, "splitter must not mutate caller's metadata")
}

func TestSplitCollapsesRunsOfSpaces(t *testing.T) {
	s, err := NewSplitter(100, 10)
	require.NoError(t, err)

	chunks := s.Split("hello     world", domain.Metadata{})
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Text)
}

func TestSplitOverlapBetweenConsecutiveChunks(t *testing.T) {
	s, err := NewSplitter(10, 3)
	require.NoError(t, err)

	text := strings.Repeat("abcdefghij ", 5)
	chunks := s.Split(text, domain.Metadata{})
	require.Greater(t, len(chunks), 1)

	for i := 0; i < len(chunks)-1; i++ {
		assert.LessOrEqual(t, chunks[i+1].CharStart, chunks[i].CharEnd)
	}
}

func TestSplitLargePieceRecursesIntoLowerPrioritySeparators(t *testing.T) {
	s, err := NewSplitter(15, 2)
	require.NoError(t, err)

	text := "onereallylongwordwithoutspaces. short."
	chunks := s.Split(text, domain.Metadata{})
	require.NotEmpty(t, chunks)
}
