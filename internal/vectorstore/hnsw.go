package vectorstore

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/Aman-CERP/mail2rag/internal/domain"
)

// HNSWStore is the default in-process VectorStore implementation, built
// on coder/hnsw (pure Go, no cgo). One collection is one hnswCollection;
// collections are created lazily on first Upsert and isolated from each
// other, so two collections can carry different dimensions and metrics
// at once.
//
// String chunk ids are mapped to the uint64 keys coder/hnsw requires.
// Updating an existing id orphans its old graph node rather than
// removing it, which sidesteps a coder/hnsw issue when the last
// remaining node is deleted. Each collection also carries a payload
// (text + metadata) alongside its vectors, persisted as a separate
// gob-encoded metadata file, so Search and Scroll can return
// self-contained results without a side lookup.
type HNSWStore struct {
	mu          sync.RWMutex
	collections map[string]*hnswCollection
	root        string // directory for on-disk persistence; empty = in-memory only
}

type hnswCollection struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	dim     int
	metric  string
	idMap   map[string]uint64
	keyMap  map[uint64]string
	payload map[string]domain.Metadata
	nextKey uint64
}

// NewHNSWStore creates a store; root may be empty for a purely in-memory
// store (used in tests), or a directory under which each collection is
// persisted as "<name>.hnsw" + "<name>.hnsw.meta".
func NewHNSWStore(root string) *HNSWStore {
	return &HNSWStore{
		collections: make(map[string]*hnswCollection),
		root:        root,
	}
}

func newHNSWCollection(dim int) *hnswCollection {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &hnswCollection{
		graph:   graph,
		dim:     dim,
		metric:  "cos",
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		payload: make(map[string]domain.Metadata),
	}
}

func (s *HNSWStore) getOrCreate(name string, dim int) (*hnswCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		if c.dim != dim {
			return nil, ErrDimensionMismatch{Expected: c.dim, Got: dim}
		}
		return c, nil
	}

	c := newHNSWCollection(dim)
	s.collections[name] = c
	return c, nil
}

func (s *HNSWStore) get(name string) (*hnswCollection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	return c, ok
}

func (s *HNSWStore) Upsert(ctx context.Context, collection string, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	c, err := s.getOrCreate(collection, len(items[0].Vector))
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, item := range items {
		if len(item.Vector) != c.dim {
			return ErrDimensionMismatch{Expected: c.dim, Got: len(item.Vector)}
		}

		if existingKey, exists := c.idMap[item.ID]; exists {
			// Lazy deletion: orphan the old key rather than removing it
			// from the graph, which avoids a coder/hnsw issue when the
			// last remaining node is deleted.
			delete(c.keyMap, existingKey)
			delete(c.idMap, item.ID)
		}

		vec := make([]float32, len(item.Vector))
		copy(vec, item.Vector)
		normalizeVectorInPlace(vec)

		key := c.nextKey
		c.nextKey++
		c.graph.Add(hnsw.MakeNode(key, vec))

		c.idMap[item.ID] = key
		c.keyMap[key] = item.ID
		c.payload[item.ID] = item.Payload.Clone()
	}

	return nil
}

func (s *HNSWStore) Search(ctx context.Context, collection string, queryVec []float32, k int) ([]Result, error) {
	c, ok := s.get(collection)
	if !ok {
		return []Result{}, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(queryVec) != c.dim {
		return nil, ErrDimensionMismatch{Expected: c.dim, Got: len(queryVec)}
	}
	if c.graph.Len() == 0 {
		return []Result{}, nil
	}

	q := make([]float32, len(queryVec))
	copy(q, queryVec)
	normalizeVectorInPlace(q)

	nodes := c.graph.Search(q, k)

	results := make([]Result, 0, len(nodes))
	for _, node := range nodes {
		id, exists := c.keyMap[node.Key]
		if !exists {
			continue // orphaned (lazily deleted) node
		}
		distance := c.graph.Distance(q, node.Value)
		payload := c.payload[id]
		results = append(results, Result{
			ID:       id,
			Text:     payload["text"],
			Metadata: payload,
			Score:    distanceToScore(distance, c.metric),
		})
	}

	return results, nil
}

func (s *HNSWStore) DeleteByFilter(ctx context.Context, collection string, filter map[string]string) error {
	c, ok := s.get(collection)
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, payload := range c.payload {
		if matchesFilter(payload, filter) {
			if key, exists := c.idMap[id]; exists {
				delete(c.keyMap, key)
				delete(c.idMap, id)
			}
			delete(c.payload, id)
		}
	}
	return nil
}

func matchesFilter(payload domain.Metadata, filter map[string]string) bool {
	for k, v := range filter {
		if payload[k] != v {
			return false
		}
	}
	return true
}

func (s *HNSWStore) DeleteCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
	return nil
}

func (s *HNSWStore) Scroll(ctx context.Context, collection string, limit int) ([]Result, error) {
	c, ok := s.get(collection)
	if !ok {
		return []Result{}, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make([]Result, 0, min(limit, len(c.payload)))
	for id, payload := range c.payload {
		if len(results) >= limit {
			break
		}
		results = append(results, Result{ID: id, Text: payload["text"], Metadata: payload})
	}
	return results, nil
}

func (s *HNSWStore) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	return names, nil
}

func (s *HNSWStore) Count(ctx context.Context, collection string) (int, error) {
	c, ok := s.get(collection)
	if !ok {
		return 0, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.idMap), nil
}

func (s *HNSWStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	_, ok := s.get(collection)
	return ok, nil
}

func (s *HNSWStore) Dimension(ctx context.Context, collection string) (int, error) {
	c, ok := s.get(collection)
	if !ok {
		return 0, nil
	}
	return c.dim, nil
}

// Close persists every collection to s.root (if configured) and releases
// in-memory graphs.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root != "" {
		for name, c := range s.collections {
			if err := s.persist(name, c); err != nil {
				slog.Warn("hnsw collection persist failed on close",
					slog.String("collection", name), slog.String("error", err.Error()))
			}
		}
	}
	s.collections = nil
	return nil
}

type hnswMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dim     int
	Metric  string
	Payload map[string]domain.Metadata
}

// persist writes a collection's graph and metadata to disk using a
// temp-file-plus-rename for the graph, and a gob-encoded metadata file
// for everything else.
func (s *HNSWStore) persist(name string, c *hnswCollection) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create vector store dir: %w", err)
	}

	graphPath := filepath.Join(s.root, name+".hnsw")
	tmpPath := graphPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create graph temp file: %w", err)
	}
	if err := c.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close graph temp file: %w", err)
	}
	if err := os.Rename(tmpPath, graphPath); err != nil {
		return fmt.Errorf("rename graph file: %w", err)
	}

	metaPath := graphPath + ".meta"
	metaTmp := metaPath + ".tmp"
	mf, err := os.Create(metaTmp)
	if err != nil {
		return fmt.Errorf("create metadata temp file: %w", err)
	}
	meta := hnswMetadata{IDMap: c.idMap, NextKey: c.nextKey, Dim: c.dim, Metric: c.metric, Payload: c.payload}
	if err := gob.NewEncoder(mf).Encode(meta); err != nil {
		mf.Close()
		os.Remove(metaTmp)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := mf.Close(); err != nil {
		os.Remove(metaTmp)
		return fmt.Errorf("close metadata temp file: %w", err)
	}
	return os.Rename(metaTmp, metaPath)
}

// Load restores a collection from disk into memory, used at startup to
// repopulate collections previously persisted by Close.
func (s *HNSWStore) Load(name string) error {
	graphPath := filepath.Join(s.root, name+".hnsw")
	metaPath := graphPath + ".meta"

	mf, err := os.Open(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open metadata: %w", err)
	}
	defer mf.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	c := newHNSWCollection(meta.Dim)
	c.idMap = meta.IDMap
	c.nextKey = meta.NextKey
	c.metric = meta.Metric
	c.payload = meta.Payload
	c.keyMap = make(map[uint64]string, len(c.idMap))
	for id, key := range c.idMap {
		c.keyMap[key] = id
	}

	gf, err := os.Open(graphPath)
	if err != nil {
		return fmt.Errorf("open graph file: %w", err)
	}
	defer gf.Close()

	if err := c.graph.Import(bufio.NewReader(gf)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	s.mu.Lock()
	s.collections[name] = c
	s.mu.Unlock()
	return nil
}

var _ VectorStore = (*HNSWStore)(nil)

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore converts cosine distance (range 0-2) into a [0,1]
// similarity score, higher is better.
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
