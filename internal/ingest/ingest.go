// Package ingest implements the document ingestion pipeline: given a
// collection name, raw text, and caller-supplied metadata, it chunks
// the text, embeds every chunk, and upserts the results into the
// vector store, inferring (and enforcing) the embedding dimension for
// the collection from the first successfully embedded chunk.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/mail2rag/internal/chunk"
	"github.com/Aman-CERP/mail2rag/internal/domain"
	"github.com/Aman-CERP/mail2rag/internal/errs"
	"github.com/Aman-CERP/mail2rag/internal/llmclient"
	"github.com/Aman-CERP/mail2rag/internal/rebuild"
	"github.com/Aman-CERP/mail2rag/internal/registry"
	"github.com/Aman-CERP/mail2rag/internal/vectorstore"
)

// upsertBatchSize bounds how many chunks are embedded/upserted per
// vector store round trip.
const upsertBatchSize = 100

// Request is the input to Ingest.
type Request struct {
	Collection   string
	Text         string
	Metadata     domain.Metadata
	ChunkSize    int
	ChunkOverlap int
}

// Result reports how much of the document was actually written.
type Result struct {
	ChunksCreated int
}

// Ingestor wires the chunker, embedding client, collection registry and
// rebuild coalescer together into the single ingest operation.
type Ingestor struct {
	registry *registry.Registry
	llm      llmclient.Client
	rebuild  *rebuild.Manager
	logger   *slog.Logger
}

// New constructs an Ingestor.
func New(reg *registry.Registry, llm llmclient.Client, rebuildMgr *rebuild.Manager, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{registry: reg, llm: llm, rebuild: rebuildMgr, logger: logger}
}

// Ingest splits req.Text into chunks, embeds every chunk, and only then
// upserts them into req.Collection in batches, kicking off a coalesced
// BM25 rebuild for the collection once at least one chunk has been
// written successfully.
//
// Embedding dimension is inferred from the first chunk's embedding and
// enforced for every later chunk in the same call. A mismatch or an
// embedding failure aborts the whole request before anything is
// written. If an upsert fails, ChunksCreated reports exactly how many
// chunks the earlier batches wrote.
func (ig *Ingestor) Ingest(ctx context.Context, req Request) (Result, error) {
	if len(req.Text) == 0 {
		return Result{}, errs.EmptyInput("ingest: text must not be empty")
	}

	splitter, err := chunk.NewSplitter(req.ChunkSize, req.ChunkOverlap)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: %w", err)
	}

	chunks := splitter.Split(req.Text, req.Metadata)
	if len(chunks) == 0 {
		return Result{}, errs.EmptyInput("ingest: text produced no chunks")
	}

	if _, err := ig.registry.EnsureCreating(ctx, req.Collection); err != nil {
		return Result{}, fmt.Errorf("ingest: %w", err)
	}

	ig.logger.Info("ingest: chunked document", "collection", req.Collection, "chunks", len(chunks))

	var (
		created    int
		expectDim  int
		haveDim    bool
		pending    [][]vectorstore.Item
	)

	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		embeddings, err := ig.llm.Embed(ctx, texts)
		if err != nil {
			return Result{ChunksCreated: created}, fmt.Errorf("ingest: embed batch: %w", err)
		}
		if len(embeddings) != len(batch) {
			return Result{ChunksCreated: created}, fmt.Errorf(
				"ingest: embedding count mismatch: got %d embeddings for %d chunks", len(embeddings), len(batch))
		}

		items := make([]vectorstore.Item, len(batch))
		for i, c := range batch {
			dim := len(embeddings[i])
			if !haveDim {
				expectDim = dim
				haveDim = true
			} else if dim != expectDim {
				return Result{ChunksCreated: created}, errs.DimensionMismatch(expectDim, dim)
			}

			id := chunkID(req.Metadata, req.Collection, start+i)
			payload := c.Metadata.Clone()
			if payload == nil {
				payload = domain.Metadata{}
			}
			payload["text"] = c.Text

			items[i] = vectorstore.Item{ID: id, Vector: embeddings[i], Payload: payload}
		}

		pending = append(pending, items)
	}

	for _, items := range pending {
		if err := ig.registry.Vectors().Upsert(ctx, req.Collection, items); err != nil {
			return Result{ChunksCreated: created}, fmt.Errorf("ingest: upsert batch: %w", err)
		}
		created += len(items)
	}

	if created > 0 && ig.rebuild != nil {
		ig.rebuild.Request(ctx, req.Collection)
	}

	return Result{ChunksCreated: created}, nil
}

// chunkID derives a per-chunk identifier scoped to the originating
// document, so deleting by doc_id can be implemented purely as a
// metadata filter without needing the ids themselves. It prefers
// doc_id, falling back to uid then message_id (the same precedence
// document deletion uses), and finally to the collection name when
// none of those are present.
func chunkID(meta domain.Metadata, collection string, index int) string {
	docID := meta["doc_id"]
	if docID == "" {
		docID = meta["uid"]
	}
	if docID == "" {
		docID = meta["message_id"]
	}
	if docID == "" {
		docID = collection
	}
	return fmt.Sprintf("%s:%d", docID, index)
}
