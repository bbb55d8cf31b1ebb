// Package store implements a whole-corpus, rebuild-on-write lexical
// index over bleve, one per collection.
package store

// BM25Doc is one document handed to Build: a chunk's id and its text,
// which the index tokenizes when it is built.
type BM25Doc struct {
	ID   string
	Text string
}

// BM25Result is one hit from Search. Text is the stored chunk text,
// returned alongside the score so retrieve.Retriever can merge a
// lexical-only hit (one absent from the vector search results) without
// a second round trip to the vector store.
type BM25Result struct {
	DocID        string
	Text         string
	Score        float64
	MatchedTerms []string
}

// IndexStats summarizes a built index, used by diagnostics.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Config holds the Okapi BM25 parameters K1 and B. BleveBM25Index
// keeps the value it is given but does not pass it to bleve, so these
// parameters do not change search scores.
type BM25Config struct {
	K1 float64
	B  float64
}

// DefaultBM25Config returns the standard Okapi BM25 parameters.
func DefaultBM25Config() BM25Config {
	return BM25Config{K1: 1.2, B: 0.75}
}
