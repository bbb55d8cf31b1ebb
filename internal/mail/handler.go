package mail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/mail2rag/internal/answer"
	"github.com/Aman-CERP/mail2rag/internal/domain"
	"github.com/Aman-CERP/mail2rag/internal/ingest"
	"github.com/Aman-CERP/mail2rag/internal/retrieve"
	"github.com/Aman-CERP/mail2rag/internal/router"
	"github.com/Aman-CERP/mail2rag/internal/scheduler"
)

// HandlerConfig bundles the retrieve/generate-path tuning knobs a
// chat-mode message needs: top_k/final_k/use_bm25 defaults, sourced
// from config rather than a per-request override since mail has no
// request body to carry them in.
type HandlerConfig struct {
	ChunkSize, ChunkOverlap int
	TopK, FinalK            int
	UseBM25Default          bool
}

// Handler turns one scheduler.Job into a routed, processed message and
// a reply (or a silently-dropped job for a synthetic message that
// failed). It is the scheduler.Func passed to scheduler.New, branching
// on the message subject into a chat-query path or an ingestion path.
type Handler struct {
	router    *router.Router
	ingestor  *ingest.Ingestor
	retriever *retrieve.Retriever
	generator *answer.Generator
	sink      Sink
	archiver  *Archiver
	cfg       HandlerConfig
	logger    *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(
	rtr *router.Router,
	ingestor *ingest.Ingestor,
	retriever *retrieve.Retriever,
	generator *answer.Generator,
	sink Sink,
	archiver *Archiver,
	cfg HandlerConfig,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		router:    rtr,
		ingestor:  ingestor,
		retriever: retriever,
		generator: generator,
		sink:      sink,
		archiver:  archiver,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process implements scheduler.Func.
func (h *Handler) Process(ctx context.Context, job scheduler.Job) error {
	parsed, err := ParseMessage(job.RawMessage)
	if err != nil {
		h.logger.Error("mail: failed to parse message", "uid", job.UID, "error", err)
		return err
	}

	if h.archiver != nil {
		if err := h.archiver.WriteBody(job.ArchiveID, parsed.Body); err != nil {
			h.logger.Warn("mail: failed to archive body", "archive_id", job.ArchiveID, "error", err)
		}
	}

	collection := h.router.Route(router.Email{
		From:    parsed.From,
		Subject: parsed.Subject,
		Body:    parsed.Body,
	})

	if parsed.IsChatMode() {
		return h.handleChat(ctx, collection, parsed)
	}
	return h.handleIngest(ctx, collection, parsed, job.ArchiveID)
}

func (h *Handler) handleChat(ctx context.Context, collection string, parsed ParsedMessage) error {
	query := strings.TrimSpace(parsed.Body)
	if query == "" {
		query = parsed.CleanSubject()
	}

	results, err := h.retriever.Retrieve(ctx, retrieve.Request{
		Query:      query,
		Collection: collection,
		TopK:       h.cfg.TopK,
		FinalK:     h.cfg.FinalK,
		UseBM25:    h.cfg.UseBM25Default,
	})
	if err != nil {
		h.replyError(ctx, parsed, err)
		return fmt.Errorf("mail: chat retrieve: %w", err)
	}

	chunks := make([]answer.Chunk, len(results))
	for i, r := range results {
		chunks[i] = answer.Chunk{Text: r.Text, Score: r.Score, Metadata: r.Metadata}
	}

	res, err := h.generator.Generate(ctx, collection, query, chunks)
	if err != nil {
		h.replyError(ctx, parsed, err)
		return fmt.Errorf("mail: chat generate: %w", err)
	}

	subject := fmt.Sprintf("Re: %s", parsed.CleanSubject())
	if err := h.sink.SendReply(ctx, parsed.From, subject, formatChatReply(res)); err != nil {
		return fmt.Errorf("mail: send chat reply: %w", err)
	}
	return nil
}

func (h *Handler) handleIngest(ctx context.Context, collection string, parsed ParsedMessage, archiveID string) error {
	meta := domain.Metadata{
		"doc_id":     archiveID,
		"collection": collection,
		"from":       parsed.From,
		"subject":    parsed.Subject,
	}

	result, err := h.ingestor.Ingest(ctx, ingest.Request{
		Collection:   collection,
		Text:         parsed.Body,
		Metadata:     meta,
		ChunkSize:    h.cfg.ChunkSize,
		ChunkOverlap: h.cfg.ChunkOverlap,
	})
	if err != nil {
		// Every non-synthetic message produces a failure reply; a
		// synthetic message (one our own archival tooling injected)
		// gets no reply either way.
		if !parsed.Synthetic {
			h.replyError(ctx, parsed, err)
		}
		return fmt.Errorf("mail: ingest: %w", err)
	}

	if !parsed.Synthetic {
		subject := fmt.Sprintf("Ingestion complete: %s", parsed.Subject)
		body := fmt.Sprintf("Indexed %d chunk(s) into collection %q.", result.ChunksCreated, collection)
		if err := h.sink.SendReply(ctx, parsed.From, subject, body); err != nil {
			h.logger.Warn("mail: failed to send ingestion confirmation", "error", err)
		}
	}
	return nil
}

func (h *Handler) replyError(ctx context.Context, parsed ParsedMessage, cause error) {
	if parsed.Synthetic {
		return
	}
	subject := fmt.Sprintf("Error processing: %s", parsed.Subject)
	body := fmt.Sprintf("Your message could not be processed: %s", cause)
	if err := h.sink.SendReply(ctx, parsed.From, subject, body); err != nil {
		h.logger.Error("mail: failed to send error reply", "error", err)
	}
}

func formatChatReply(res answer.Result) string {
	var b strings.Builder
	b.WriteString(res.Answer)
	if len(res.Sources) > 0 {
		b.WriteString("\n\n--- Sources ---\n")
		for i, src := range res.Sources {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, src.TextSnippet)
		}
	}
	return b.String()
}
