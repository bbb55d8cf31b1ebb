// Package httpapi implements the minimal REST layer the core exposes
// for ingest/search/chat/admin operations, independent of the
// mail-driven path (internal/mail.Handler covers that instead, sharing
// the same internal/app.App collaborators). One registerXEndpoints
// function per concern, all registering on a single echo.Group with
// no path prefix.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Aman-CERP/mail2rag/internal/answer"
	"github.com/Aman-CERP/mail2rag/internal/app"
	"github.com/Aman-CERP/mail2rag/internal/domain"
	"github.com/Aman-CERP/mail2rag/internal/errs"
	"github.com/Aman-CERP/mail2rag/internal/ingest"
	"github.com/Aman-CERP/mail2rag/internal/retrieve"
)

// NewServer builds an *echo.Echo wired against a with every route
// registered, API-key middleware applied to everything except the two
// health probes.
func NewServer(a *app.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/healthz", healthzHandler)
	e.GET("/readyz", readyzHandler(a))

	api := e.Group("")
	api.Use(apiKeyMiddleware(a.Config.HTTP.APIKey))

	registerIngestEndpoints(api, a)
	registerSearchEndpoints(api, a)
	registerChatEndpoints(api, a)
	registerDocumentEndpoints(api, a)
	registerCollectionEndpoints(api, a)
	registerBM25Endpoints(api, a)

	return e
}

// apiKeyMiddleware requires a shared-secret X-API-Key header on every
// endpoint except the health probes; missing or mismatched returns
// 401. An empty configured key disables the check, for local/dev use.
func apiKeyMiddleware(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if expected == "" {
				return next(c)
			}
			got := c.Request().Header.Get("X-API-Key")
			if got == "" || got != expected {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing or invalid X-API-Key"})
			}
			return next(c)
		}
	}
}

func healthzHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// readyzHandler probes each external dependency retrieval, ingest and
// answer generation rely on: the vector store (ListCollections), the
// LLM (a cheap Embed call), and BM25 (always considered available
// since search degrades to vector-only rather than failing).
func readyzHandler(a *app.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		deps := map[string]bool{"bm25": true}

		_, err := a.Vectors.ListCollections(ctx)
		deps["vector_store"] = err == nil

		_, err = a.LLM.Embed(ctx, []string{"readyz probe"})
		deps["llm"] = err == nil

		ready := deps["vector_store"] && deps["llm"]
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, map[string]interface{}{"ready": ready, "deps": deps})
	}
}

// registerIngestEndpoints registers POST /ingest.
func registerIngestEndpoints(api *echo.Group, a *app.App) {
	api.POST("/ingest", ingestHandler(a))
}

func ingestHandler(a *app.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req struct {
			Collection   string            `json:"collection"`
			Text         string            `json:"text"`
			Metadata     map[string]string `json:"metadata"`
			ChunkSize    int               `json:"chunk_size"`
			ChunkOverlap int               `json:"chunk_overlap"`
		}
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid request body"})
		}
		if req.Collection == "" {
			req.Collection = a.Config.Routing.DefaultWorkspace
		}
		if req.ChunkSize <= 0 {
			req.ChunkSize = a.Config.Chunking.ChunkSize
		}
		if req.ChunkOverlap <= 0 {
			req.ChunkOverlap = a.Config.Chunking.ChunkOverlap
		}

		meta := domain.Metadata{}
		for k, v := range req.Metadata {
			meta[k] = v
		}

		ctx := c.Request().Context()
		result, err := a.Ingestor.Ingest(ctx, ingest.Request{
			Collection:   req.Collection,
			Text:         req.Text,
			Metadata:     meta,
			ChunkSize:    req.ChunkSize,
			ChunkOverlap: req.ChunkOverlap,
		})
		if err != nil {
			status, message := statusForError(err)
			return c.JSON(status, map[string]interface{}{
				"status":         "error",
				"chunks_created": result.ChunksCreated,
				"message":        message,
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":         "ok",
			"chunks_created": result.ChunksCreated,
		})
	}
}

// registerSearchEndpoints registers POST /search.
func registerSearchEndpoints(api *echo.Group, a *app.App) {
	api.POST("/search", searchHandler(a))
}

func searchHandler(a *app.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req struct {
			Query      string `json:"query"`
			Collection string `json:"collection"`
			TopK       int    `json:"top_k"`
			FinalK     int    `json:"final_k"`
			UseBM25    *bool  `json:"use_bm25"`
		}
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
		applySearchDefaults(a, &req.Collection, &req.TopK, &req.FinalK)
		useBM25 := a.Config.Search.UseBM25Default
		if req.UseBM25 != nil {
			useBM25 = *req.UseBM25
		}

		ctx := c.Request().Context()
		results, err := a.Retriever.Retrieve(ctx, retrieve.Request{
			Query:      req.Query,
			Collection: req.Collection,
			TopK:       req.TopK,
			FinalK:     req.FinalK,
			UseBM25:    useBM25,
		})
		if err != nil {
			status, message := statusForError(err)
			return c.JSON(status, map[string]string{"error": message})
		}

		chunks := make([]map[string]interface{}, len(results))
		degraded := false
		for i, r := range results {
			chunks[i] = map[string]interface{}{
				"text":     r.Text,
				"score":    r.Score,
				"metadata": r.Metadata,
			}
			degraded = degraded || r.Degraded
		}

		resp := map[string]interface{}{
			"query":  req.Query,
			"chunks": chunks,
		}
		if degraded {
			resp["debug_info"] = map[string]string{"rerank": "degraded"}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// registerChatEndpoints registers POST /chat.
func registerChatEndpoints(api *echo.Group, a *app.App) {
	api.POST("/chat", chatHandler(a))
}

func chatHandler(a *app.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req struct {
			Query       string   `json:"query"`
			Collection  string   `json:"collection"`
			TopK        int      `json:"top_k"`
			FinalK      int      `json:"final_k"`
			UseBM25     *bool    `json:"use_bm25"`
			Temperature *float64 `json:"temperature"`
			MaxTokens   int      `json:"max_tokens"`
		}
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
		applySearchDefaults(a, &req.Collection, &req.TopK, &req.FinalK)
		useBM25 := a.Config.Search.UseBM25Default
		if req.UseBM25 != nil {
			useBM25 = *req.UseBM25
		}

		ctx := c.Request().Context()
		results, err := a.Retriever.Retrieve(ctx, retrieve.Request{
			Query:      req.Query,
			Collection: req.Collection,
			TopK:       req.TopK,
			FinalK:     req.FinalK,
			UseBM25:    useBM25,
		})
		if err != nil {
			status, message := statusForError(err)
			return c.JSON(status, map[string]string{"error": message})
		}

		chunks := make([]answer.Chunk, len(results))
		for i, r := range results {
			chunks[i] = answer.Chunk{Text: r.Text, Score: r.Score, Metadata: r.Metadata}
		}

		var opts []answer.Option
		if req.Temperature != nil {
			opts = append(opts, answer.WithTemperature(*req.Temperature))
		}
		if req.MaxTokens > 0 {
			opts = append(opts, answer.WithMaxTokens(req.MaxTokens))
		}

		res, err := a.Generator.Generate(ctx, req.Collection, req.Query, chunks, opts...)
		if err != nil {
			status, message := statusForError(err)
			return c.JSON(status, map[string]string{"error": message})
		}

		sources := make([]map[string]interface{}, len(res.Sources))
		for i, s := range res.Sources {
			sources[i] = map[string]interface{}{
				"text_snippet": s.TextSnippet,
				"score":        s.Score,
				"metadata":     s.Metadata,
			}
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"query":   req.Query,
			"answer":  res.Answer,
			"sources": sources,
		})
	}
}

// registerDocumentEndpoints registers DELETE /document/{doc_id}.
func registerDocumentEndpoints(api *echo.Group, a *app.App) {
	api.DELETE("/document/:doc_id", deleteDocumentHandler(a))
}

func deleteDocumentHandler(a *app.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		docID := c.Param("doc_id")
		collection := c.QueryParam("collection")
		if collection == "" {
			collection = a.Config.Routing.DefaultWorkspace
		}

		ctx := c.Request().Context()
		count, err := a.DeleteDocument(ctx, collection, docID)
		if err != nil {
			status, message := statusForError(err)
			return c.JSON(status, map[string]string{"error": message})
		}
		return c.JSON(http.StatusOK, map[string]int{"deleted_count": count})
	}
}

// registerCollectionEndpoints registers DELETE /collection/{name} and
// GET /collections.
func registerCollectionEndpoints(api *echo.Group, a *app.App) {
	api.DELETE("/collection/:name", deleteCollectionHandler(a))
	api.GET("/collections", listCollectionsHandler(a))
}

func deleteCollectionHandler(a *app.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		ctx := c.Request().Context()

		// Registry.DeleteCollection removes the vector collection first
		// (restoring StateReady if that fails) and the BM25 index only
		// after it succeeds. It returns one error for either step, so
		// both flags carry the same value: a failed BM25 delete reports
		// both as false although the vector collection is already gone.
		err := a.Registry.DeleteCollection(ctx, name)
		return c.JSON(http.StatusOK, map[string]bool{
			"vector_deleted": err == nil,
			"bm25_deleted":   err == nil,
		})
	}
}

func listCollectionsHandler(a *app.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		names, err := a.Vectors.ListCollections(ctx)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}

		out := make([]map[string]interface{}, 0, len(names))
		for _, name := range names {
			vectorCount, _ := a.Vectors.Count(ctx, name)

			bm25Ready := false
			bm25Count := 0
			if idx, err := a.Registry.BM25For(name); err == nil && idx != nil && idx.IsReady() {
				bm25Ready = true
				bm25Count = idx.Stats().DocumentCount
			}

			out = append(out, map[string]interface{}{
				"name":          name,
				"vector_count":  vectorCount,
				"bm25_ready":    bm25Ready,
				"bm25_count":    bm25Count,
			})
		}
		return c.JSON(http.StatusOK, out)
	}
}

// registerBM25Endpoints registers POST /build-bm25/{collection} and
// DELETE /bm25/{collection}.
func registerBM25Endpoints(api *echo.Group, a *app.App) {
	api.POST("/build-bm25/:collection", buildBM25Handler(a))
	api.DELETE("/bm25/:collection", deleteBM25Handler(a))
}

func buildBM25Handler(a *app.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		collection := c.Param("collection")
		ctx := c.Request().Context()

		// Run synchronously (not via the coalescing Manager) so the
		// caller's response accurately reflects this specific rebuild,
		// distinct from the automatic, fire-and-forget coalesced
		// rebuild triggered by ingest.
		if err := a.RebuildNow(ctx, collection); err != nil {
			status, message := statusForError(err)
			return c.JSON(status, map[string]string{"error": message})
		}

		docsCount := 0
		if idx, err := a.Registry.BM25For(collection); err == nil && idx != nil {
			docsCount = idx.Stats().DocumentCount
		}
		return c.JSON(http.StatusOK, map[string]int{"docs_count": docsCount})
	}
}

func deleteBM25Handler(a *app.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		collection := c.Param("collection")
		deleted, err := a.Registry.DeleteBM25Only(collection)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]bool{"deleted": deleted})
	}
}

func applySearchDefaults(a *app.App, collection *string, topK, finalK *int) {
	if *collection == "" {
		*collection = a.Config.Routing.DefaultWorkspace
	}
	if *topK <= 0 {
		*topK = a.Config.Search.MaxTopK
	}
	if *finalK <= 0 {
		*finalK = *topK
		if *finalK > 10 {
			*finalK = 10
		}
	}
}

// statusForError maps a typed error kind onto its HTTP status:
// InvalidArgument/EmptyInput/EmptyCorpus/CollectionGone-on-write/
// DimensionMismatch-on-write are 4xx, everything else 5xx.
func statusForError(err error) (int, string) {
	switch errs.GetCode(err) {
	case errs.ErrCodeInvalidArgument, errs.ErrCodeEmptyInput, errs.ErrCodeEmptyCorpus,
		errs.ErrCodeCollectionGoneWrite, errs.ErrCodeDimensionMismatch:
		return http.StatusBadRequest, stripPrefix(err.Error())
	case errs.ErrCodeCollectionGoneRead:
		return http.StatusInternalServerError, stripPrefix(err.Error())
	case errs.ErrCodeTimeout:
		return http.StatusGatewayTimeout, stripPrefix(err.Error())
	default:
		return http.StatusInternalServerError, stripPrefix(err.Error())
	}
}

// stripPrefix removes the "[ERR_XXX_YYY] " code prefix errs.Error
// renders, since the HTTP body already has a distinct error field.
func stripPrefix(msg string) string {
	if idx := strings.Index(msg, "] "); idx != -1 && strings.HasPrefix(msg, "[") {
		return msg[idx+2:]
	}
	return msg
}
