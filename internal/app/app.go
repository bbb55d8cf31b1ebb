// Package app wires every component into one running daemon: it owns
// construction order, the BM25 rebuild function that scrolls the
// vector store, and the delete-by-doc_id operation the HTTP API and
// the CLI both need but no single component owns on its own.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/mail2rag/internal/answer"
	"github.com/Aman-CERP/mail2rag/internal/config"
	"github.com/Aman-CERP/mail2rag/internal/ingest"
	"github.com/Aman-CERP/mail2rag/internal/llmclient"
	"github.com/Aman-CERP/mail2rag/internal/mail"
	"github.com/Aman-CERP/mail2rag/internal/rebuild"
	"github.com/Aman-CERP/mail2rag/internal/registry"
	"github.com/Aman-CERP/mail2rag/internal/retrieve"
	"github.com/Aman-CERP/mail2rag/internal/router"
	"github.com/Aman-CERP/mail2rag/internal/scheduler"
	"github.com/Aman-CERP/mail2rag/internal/state"
	"github.com/Aman-CERP/mail2rag/internal/store"
	"github.com/Aman-CERP/mail2rag/internal/vectorstore"
)

// scrollBatchLimit bounds one BM25 rebuild's Scroll call, and the
// Scroll that counts matching chunks. Each of them reads at most this
// many chunks, so for a larger collection the BM25 index and the counts
// cover only the chunks that Scroll returns.
const scrollBatchLimit = 100_000

// App owns every long-lived collaborator the daemon needs, constructed
// once at startup and shared by the HTTP API, the mail loop, and any
// one-shot CLI subcommand that needs the same wiring.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Vectors   vectorstore.VectorStore
	Registry  *registry.Registry
	LLM       llmclient.Client
	Rebuilder *rebuild.Manager
	Ingestor  *ingest.Ingestor
	Retriever *retrieve.Retriever
	Generator *answer.Generator
	Router    *router.Router

	state    state.Store
	archiver *mail.Archiver
}

// New constructs every component in dependency order: vector store,
// collection registry, LLM client, BM25 rebuild manager, then the
// components that compose them (ingestor, retriever, generator,
// router). It does not start the mail loop or HTTP listener; callers
// do that with the returned App.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	vectors, err := newVectorStore(cfg.Embeddings, cfg.Paths.VectorDir)
	if err != nil {
		return nil, fmt.Errorf("app: construct vector store: %w", err)
	}

	reg := registry.New(vectors, cfg.Paths.BM25Dir, store.DefaultBM25Config())

	llm := llmclient.New(cfg.Embeddings, cfg.LLM, cfg.Reranker, cfg.Retry.ToRetryPolicy())

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Vectors:  vectors,
		Registry: reg,
		LLM:      llm,
	}

	a.Rebuilder = rebuild.NewManager(a.rebuildCollection, logger)
	a.Ingestor = ingest.New(reg, llm, a.Rebuilder, logger)
	a.Retriever = retrieve.New(reg, llm, retrieve.Bounds{
		MaxTopK:           cfg.Search.MaxTopK,
		MaxQueryChars:     cfg.Search.MaxQueryChars,
		MaxRerankPassages: cfg.Search.MaxRerankPassages,
	})
	a.Generator = answer.NewWithLLMConfig(llm, cfg.Prompts, cfg.LLM)

	rtr, err := router.New(cfg.Routing)
	if err != nil {
		return nil, fmt.Errorf("app: construct router: %w", err)
	}
	a.Router = rtr

	return a, nil
}

func newVectorStore(cfg config.EmbeddingsConfig, vectorDir string) (vectorstore.VectorStore, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		return vectorstore.NewQdrantStore(cfg.QdrantDSN, cfg.QdrantMetric)
	default:
		vs := vectorstore.NewHNSWStore(vectorDir)
		for _, name := range loadableCollections(vectorDir) {
			if err := vs.Load(name); err != nil {
				slog.Warn("app: failed to load persisted hnsw collection", "collection", name, "error", err)
			}
		}
		return vs, nil
	}
}

// loadableCollections lists the collection names persisted under dir by
// a prior HNSWStore.Close, so New can repopulate them at startup.
func loadableCollections(dir string) []string {
	entries, err := filepath.Glob(filepath.Join(dir, "*.hnsw"))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, path := range entries {
		base := filepath.Base(path)
		names = append(names, strings.TrimSuffix(base, ".hnsw"))
	}
	return names
}

// rebuildCollection is the rebuild.Func passed to the Manager: scroll
// every chunk currently in the vector store for collection and Build a
// fresh BM25 snapshot from them, replacing the whole index atomically.
func (a *App) rebuildCollection(ctx context.Context, collection string) error {
	bm25, err := a.Registry.EnsureCreating(ctx, collection)
	if err != nil {
		return fmt.Errorf("rebuild: ensure bm25 index: %w", err)
	}

	hits, err := a.Vectors.Scroll(ctx, collection, scrollBatchLimit)
	if err != nil {
		return fmt.Errorf("rebuild: scroll collection %s: %w", collection, err)
	}
	if len(hits) == 0 {
		return nil
	}

	docs := make([]store.BM25Doc, len(hits))
	for i, h := range hits {
		docs[i] = store.BM25Doc{ID: h.ID, Text: h.Text}
	}

	a.Registry.BeginRebuild(collection)
	defer a.Registry.EndRebuild(collection)

	return bm25.Build(ctx, docs)
}

// RebuildNow forces an immediate, synchronous BM25 rebuild of
// collection, bypassing the coalescing Manager. Used by the HTTP
// /build-bm25 endpoint and the rebuild-bm25 CLI subcommand, both of
// which need the rebuild to have completed by the time they respond
// rather than the fire-and-forget coalesced rebuild ingest triggers.
func (a *App) RebuildNow(ctx context.Context, collection string) error {
	return a.rebuildCollection(ctx, collection)
}

// DeleteDocument deletes by precedence: try doc_id, then uid, then
// message_id, stopping at the first key that matches at least one
// chunk. Returns the number of chunks that matched that key, counted
// by countMatching before the delete (VectorStore.DeleteByFilter does
// not itself report a count), or 0 if every key matched nothing.
func (a *App) DeleteDocument(ctx context.Context, collection, id string) (int, error) {
	for _, key := range []string{"doc_id", "uid", "message_id"} {
		filter := map[string]string{key: id}
		count, err := a.countMatching(ctx, collection, filter)
		if err != nil {
			return 0, err
		}
		if count == 0 {
			continue
		}
		if err := a.Vectors.DeleteByFilter(ctx, collection, filter); err != nil {
			return 0, fmt.Errorf("app: delete by %s: %w", key, err)
		}
		a.Rebuilder.Request(ctx, collection)
		return count, nil
	}
	return 0, nil
}

// countMatching scrolls the collection and counts payloads matching
// filter exactly, since VectorStore's contract has no count-by-filter
// operation of its own.
func (a *App) countMatching(ctx context.Context, collection string, filter map[string]string) (int, error) {
	hits, err := a.Vectors.Scroll(ctx, collection, scrollBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("app: scroll for delete: %w", err)
	}
	count := 0
	for _, h := range hits {
		if matchesFilter(h.Metadata, filter) {
			count++
		}
	}
	return count, nil
}

func matchesFilter(meta map[string]string, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// WithMailLoop constructs the MailLoop, its IMAP/SMTP adapters, the
// archiver, the job scheduler, and the chat-vs-ingest handler, wiring
// them all against the already-constructed App. Returns nil, nil if
// cfg.Mail has no IMAP host configured (CLI-only / HTTP-only
// deployments do not need a mail loop).
func (a *App) WithMailLoop(ctx context.Context, cursorStore state.Store) (*mail.Loop, *scheduler.Scheduler, error) {
	if a.Config.Mail.IMAPHost == "" {
		return nil, nil, nil
	}

	archiver, err := mail.NewArchiver(a.Config.Paths.ArchiveDir)
	if err != nil {
		return nil, nil, fmt.Errorf("app: construct archiver: %w", err)
	}
	a.archiver = archiver
	a.state = cursorStore

	source := mail.NewIMAPSource(a.Config.Mail)
	sink := mail.NewSMTPSink(a.Config.Mail)

	handler := mail.NewHandler(a.Router, a.Ingestor, a.Retriever, a.Generator, sink, archiver, mail.HandlerConfig{
		ChunkSize:      a.Config.Chunking.ChunkSize,
		ChunkOverlap:   a.Config.Chunking.ChunkOverlap,
		TopK:           a.Config.Search.MaxTopK,
		FinalK:         minInt(a.Config.Search.MaxTopK, 10),
		UseBM25Default: a.Config.Search.UseBM25Default,
	}, a.Logger)

	sched := scheduler.New(ctx, a.Config.Workers.WorkerCount, a.Config.Workers.WorkerQueueSize, handler.Process, a.Logger)
	loop := mail.NewLoop(source, archiver, sched, cursorStore, a.Config.Mail.PollInterval, a.Logger)

	a.Router.Watch(ctx)

	return loop, sched, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Close releases every long-lived resource App constructed.
func (a *App) Close() error {
	var firstErr error
	if a.Registry != nil {
		if err := a.Registry.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Vectors != nil {
		if err := a.Vectors.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.state != nil {
		if err := a.state.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
