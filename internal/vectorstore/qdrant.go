package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/Aman-CERP/mail2rag/internal/domain"
)

// payloadIDField stores the caller-supplied chunk id in the payload when
// it is not itself a valid UUID, since Qdrant point ids must be a UUID
// or an unsigned integer; a deterministic UUID derived from the id is
// used as the point id instead.
const payloadIDField = "_original_id"

// payloadTextField stores chunk text in the payload so Search/Scroll can
// return it without a side lookup, matching the VectorStore.Result shape.
const payloadTextField = "_text"

// QdrantStore is the external VectorStore backend, for deployments that
// want vector search as a separate service rather than in-process HNSW.
// One qdrant collection per logical collection name; collections are
// created lazily on first Upsert since dimension is not known up front.
type QdrantStore struct {
	client *qdrant.Client
	metric string

	mu      sync.RWMutex
	ensured map[string]int // collection -> dimension, once created
}

// NewQdrantStore connects to a Qdrant instance. dsn is a URL like
// "http://localhost:6334?api_key=...". metric selects the distance
// function used for newly created collections (cosine|l2|euclidean|
// ip|dot|manhattan; default cosine).
func NewQdrantStore(dsn, metric string) (*QdrantStore, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}

	config := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		config.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		config.APIKey = apiKey
	}

	client, err := qdrant.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	return &QdrantStore{
		client:  client,
		metric:  strings.ToLower(strings.TrimSpace(metric)),
		ensured: make(map[string]int),
	}, nil
}

func (q *QdrantStore) distance() qdrant.Distance {
	switch q.metric {
	case "l2", "euclidean":
		return qdrant.Distance_Euclid
	case "ip", "dot":
		return qdrant.Distance_Dot
	case "manhattan":
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Cosine
	}
}

func (q *QdrantStore) ensureCollection(ctx context.Context, collection string, dim int) error {
	q.mu.RLock()
	known, ok := q.ensured[collection]
	q.mu.RUnlock()
	if ok {
		if known != dim {
			return ErrDimensionMismatch{Expected: known, Got: dim}
		}
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if known, ok := q.ensured[collection]; ok {
		if known != dim {
			return ErrDimensionMismatch{Expected: known, Got: dim}
		}
		return nil
	}

	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if !exists {
		if dim <= 0 {
			return fmt.Errorf("qdrant requires a positive vector dimension")
		}
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: q.distance(),
			}),
		}); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}

	q.ensured[collection] = dim
	return nil
}

func pointID(id string) (*qdrant.PointId, string) {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id), ""
	}
	deterministic := uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
	return qdrant.NewIDUUID(deterministic), id
}

func (q *QdrantStore) Upsert(ctx context.Context, collection string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, collection, len(items[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(items))
	for _, item := range items {
		id, original := pointID(item.ID)

		metadataAny := make(map[string]any, len(item.Payload)+2)
		for k, v := range item.Payload {
			metadataAny[k] = v
		}
		metadataAny[payloadTextField] = item.Payload["text"]
		if original != "" {
			metadataAny[payloadIDField] = original
		}

		vec := make([]float32, len(item.Vector))
		copy(vec, item.Vector)

		points = append(points, &qdrant.PointStruct{
			Id:      id,
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(metadataAny),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	return err
}

func (q *QdrantStore) Search(ctx context.Context, collection string, queryVec []float32, k int) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(queryVec))
	copy(vec, queryVec)

	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, hitToResult(hit.Id, hit.Payload, hit.Score))
	}
	return results, nil
}

func hitToResult(id *qdrant.PointId, payload map[string]*qdrant.Value, score float32) Result {
	uuidStr := id.GetUuid()
	if uuidStr == "" {
		uuidStr = id.String()
	}

	metadata := make(domain.Metadata, len(payload))
	var originalID, text string
	for k, v := range payload {
		switch k {
		case payloadIDField:
			originalID = v.GetStringValue()
		case payloadTextField:
			text = v.GetStringValue()
		default:
			metadata[k] = v.GetStringValue()
		}
	}

	resolvedID := originalID
	if resolvedID == "" {
		resolvedID = uuidStr
	}

	return Result{ID: resolvedID, Text: text, Metadata: metadata, Score: score}
}

func (q *QdrantStore) DeleteByFilter(ctx context.Context, collection string, filter map[string]string) error {
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, qdrant.NewMatch(k, v))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{Must: must}),
	})
	return err
}

func (q *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	q.mu.Lock()
	delete(q.ensured, collection)
	q.mu.Unlock()
	return q.client.DeleteCollection(ctx, collection)
}

func (q *QdrantStore) Scroll(ctx context.Context, collection string, limit int) ([]Result, error) {
	uLimit := uint32(limit)
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          &uLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant scroll: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		results = append(results, hitToResult(p.Id, p.Payload, 0))
	}
	return results, nil
}

func (q *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	return q.client.ListCollections(ctx)
}

func (q *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	count, err := q.client.Count(ctx, &qdrant.CountPoints{CollectionName: collection})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(count), nil
}

func (q *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return q.client.CollectionExists(ctx, collection)
}

func (q *QdrantStore) Dimension(ctx context.Context, collection string) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.ensured[collection], nil
}

func (q *QdrantStore) Close() error {
	return q.client.Close()
}

var _ VectorStore = (*QdrantStore)(nil)
