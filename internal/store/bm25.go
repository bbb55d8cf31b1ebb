package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	// plainTokenizerName is the name under which Tokenize is registered
	// with Bleve.
	plainTokenizerName = "mail2rag_plain"
	plainAnalyzerName  = "mail2rag_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(plainTokenizerName, plainTokenizerConstructor)
}

// BleveBM25Index is a whole-corpus, rebuild-on-write lexical index
// over a single Bleve index. Build replaces the underlying index
// wholesale so the index always reflects exactly one Scroll of a
// collection's chunks — an immutable snapshot, not an incrementally
// updated one.
type BleveBM25Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string // empty for an in-memory-only index
	config BM25Config
	ready  bool
	closed bool
}

type bleveDocument struct {
	Text string `json:"text"`
}

// validateIndexIntegrity checks if a Bleve index is valid before opening.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// isCorruptionError reports whether err indicates Bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		strings.Contains(errStr, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveBM25Index opens (or creates) the index at path. If path is
// empty, the index is in-memory only — used for collections that have
// not yet had a snapshot taken, and in tests. An index opened this way
// is not marked ready until Build has run at least once in this
// process; a previously-built on-disk index is considered ready
// immediately since Scroll-and-rebuild already happened in a prior run.
func NewBleveBM25Index(path string, config BM25Config) (*BleveBM25Index, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	ready := false

	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("bm25 index corrupted, recreating",
				slog.String("path", path), slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("bm25 index corrupted at %s and cannot remove: %w (original: %v)", path, removeErr, validErr)
			}
		}

		idx, err = bleve.Open(path)
		switch {
		case err == bleve.ErrorIndexPathDoesNotExist:
			idx, err = bleve.New(path, indexMapping)
		case err != nil && isCorruptionError(err):
			slog.Warn("bm25 index open failed, recreating",
				slog.String("path", path), slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("bm25 index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			idx, err = bleve.New(path, indexMapping)
		case err == nil:
			ready = true
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create/open index: %w", err)
	}

	return &BleveBM25Index{index: idx, path: path, config: config, ready: ready}, nil
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(plainAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": plainTokenizerName,
		"token_filters": []string{
			lowercase.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = plainAnalyzerName
	return indexMapping, nil
}

// Build replaces the whole index atomically with docs: a fresh index
// is populated at a side location, then swapped in for the live one.
// This is the only write path — there is no incremental Add/Delete.
func (b *BleveBM25Index) Build(ctx context.Context, docs []BM25Doc) error {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return fmt.Errorf("create index mapping: %w", err)
	}

	var fresh bleve.Index
	var freshPath string

	if b.path == "" {
		fresh, err = bleve.NewMemOnly(indexMapping)
	} else {
		freshPath = b.path + ".building"
		_ = os.RemoveAll(freshPath)
		fresh, err = bleve.New(freshPath, indexMapping)
	}
	if err != nil {
		return fmt.Errorf("create staging index: %w", err)
	}

	batch := fresh.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveDocument{Text: doc.Text}); err != nil {
			_ = fresh.Close()
			if freshPath != "" {
				_ = os.RemoveAll(freshPath)
			}
			return fmt.Errorf("index document %s: %w", doc.ID, err)
		}
	}
	if err := fresh.Batch(batch); err != nil {
		_ = fresh.Close()
		if freshPath != "" {
			_ = os.RemoveAll(freshPath)
		}
		return fmt.Errorf("execute batch: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.index
	oldPath := b.path

	if freshPath != "" {
		if err := fresh.Close(); err != nil {
			return fmt.Errorf("close staging index: %w", err)
		}
		if old != nil {
			_ = old.Close()
		}
		if oldPath != "" {
			_ = os.RemoveAll(oldPath)
		}
		if err := os.Rename(freshPath, oldPath); err != nil {
			return fmt.Errorf("swap staging index into place: %w", err)
		}
		reopened, err := bleve.Open(oldPath)
		if err != nil {
			return fmt.Errorf("reopen swapped-in index: %w", err)
		}
		b.index = reopened
	} else {
		if old != nil {
			_ = old.Close()
		}
		b.index = fresh
	}

	b.ready = true
	b.closed = false
	return nil
}

// IsReady reports whether Build has populated the index at least once.
func (b *BleveBM25Index) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready && !b.closed
}

// Search returns documents matching queryStr, scored by BM25.
func (b *BleveBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*BM25Result{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("text")

	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = limit
	searchRequest.IncludeLocations = true
	searchRequest.Fields = []string{"text"}

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]*BM25Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		text, _ := hit.Fields["text"].(string)
		results = append(results, &BM25Result{
			DocID:        hit.ID,
			Text:         text,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}

	return results, nil
}

// Delete tears down the index's storage entirely, used when a
// collection is removed. There is no per-document delete: the only way
// to remove a document is to Build without it.
func (b *BleveBM25Index) Delete() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.index != nil {
		_ = b.index.Close()
	}
	if b.path != "" {
		if err := os.RemoveAll(b.path); err != nil {
			return fmt.Errorf("remove index storage: %w", err)
		}
	}
	b.closed = true
	b.ready = false
	return nil
}

// Stats returns index statistics.
func (b *BleveBM25Index) Stats() *IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &IndexStats{}
	}

	docCount, _ := b.index.DocCount()
	return &IndexStats{DocumentCount: int(docCount)}
}

// Snapshot returns the on-disk path backing this index, for callers that
// want to copy it aside as a backup. Empty for an in-memory index.
func (b *BleveBM25Index) Snapshot() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.path
}

// Restore replaces this index's contents with a previously-Snapshotted
// directory, used to recover a collection without a full re-embed.
func (b *BleveBM25Index) Restore(snapshotPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.path == "" {
		return fmt.Errorf("cannot restore into an in-memory index")
	}
	if b.index != nil {
		_ = b.index.Close()
	}
	_ = os.RemoveAll(b.path)

	if err := copyDir(snapshotPath, b.path); err != nil {
		return fmt.Errorf("copy snapshot: %w", err)
	}

	idx, err := bleve.Open(b.path)
	if err != nil {
		return fmt.Errorf("open restored index: %w", err)
	}
	b.index = idx
	b.ready = true
	b.closed = false
	return nil
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}

// Close closes the index without removing its storage.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field == "text" {
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
	}

	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}

// plainTokenizerConstructor creates the Bleve adapter for Tokenize.
func plainTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &blevePlainTokenizer{}, nil
}

// blevePlainTokenizer adapts Tokenize to Bleve's analysis.Tokenizer
// interface.
type blevePlainTokenizer struct{}

func (t *blevePlainTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}

	return result
}
