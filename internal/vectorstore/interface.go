// Package vectorstore defines the VectorStore contract used for
// similarity search and two concrete backends — an in-process HNSW
// graph (default) and an external Qdrant-backed store.
package vectorstore

import (
	"context"

	"github.com/Aman-CERP/mail2rag/internal/domain"
)

// Item is one vector to upsert: Payload carries the chunk's text and
// metadata so Scroll/Search can return self-contained results without a
// side lookup.
type Item struct {
	ID       string
	Vector   []float32
	Payload  domain.Metadata
}

// Result is one hit from Search or Scroll.
type Result struct {
	ID       string
	Text     string
	Metadata domain.Metadata
	Score    float32
}

// VectorStore is the external similarity-search collaborator every
// backend implements.
type VectorStore interface {
	// Upsert creates the collection on first write, inferring its
	// dimension from the first item's vector length; ids are always
	// caller-supplied, never server-generated.
	Upsert(ctx context.Context, collection string, items []Item) error

	// Search returns up to k nearest neighbours, higher Score is better.
	Search(ctx context.Context, collection string, queryVec []float32, k int) ([]Result, error)

	// DeleteByFilter removes every item whose payload matches all of
	// filter's key/value pairs.
	DeleteByFilter(ctx context.Context, collection string, filter map[string]string) error

	// DeleteCollection removes a whole collection; idempotent.
	DeleteCollection(ctx context.Context, collection string) error

	// Scroll returns up to limit items verbatim, used by BM25 rebuild to
	// re-read all chunk texts for a collection.
	Scroll(ctx context.Context, collection string, limit int) ([]Result, error)

	ListCollections(ctx context.Context) ([]string, error)
	Count(ctx context.Context, collection string) (int, error)
	CollectionExists(ctx context.Context, collection string) (bool, error)
	Dimension(ctx context.Context, collection string) (int, error)

	Close() error
}

// ErrDimensionMismatch is returned by Upsert/Search when a vector's
// length does not match the collection's established dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return "vector dimension mismatch"
}
