// Package registry tracks every collection's lifecycle state and BM25
// index: name -> {BM25Index, state, inflightRebuildCount}, with
// operations serialized per collection via a per-name lock. Creation
// on first upsert is implicit; deletion removes the vector collection
// before the BM25 index, so a crash mid-delete never leaves a BM25
// index pointing at a vector collection that no longer exists.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Aman-CERP/mail2rag/internal/errs"
	"github.com/Aman-CERP/mail2rag/internal/store"
	"github.com/Aman-CERP/mail2rag/internal/vectorstore"
)

// State is a collection's lifecycle stage.
type State int

const (
	StateAbsent State = iota
	StateCreating
	StateReady
	StateDeleting
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateCreating:
		return "creating"
	case StateReady:
		return "ready"
	case StateDeleting:
		return "deleting"
	default:
		return "unknown"
	}
}

// entry is one collection's registry record.
type entry struct {
	mu                   sync.Mutex
	name                 string
	state                State
	bm25                 *store.BleveBM25Index
	inflightRebuildCount int
}

// Registry owns every collection's BM25 index and serializes
// per-collection operations. The vector store is a single shared
// client addressed by collection name on every call, so only one
// instance is held here (not one per entry).
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	vectors vectorstore.VectorStore
	bm25Dir string
	bm25Cfg store.BM25Config
}

// New constructs an empty Registry. bm25Dir is the parent directory
// under which each collection gets its own BM25 index subdirectory.
func New(vectors vectorstore.VectorStore, bm25Dir string, bm25Cfg store.BM25Config) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		vectors: vectors,
		bm25Dir: bm25Dir,
		bm25Cfg: bm25Cfg,
	}
}

// Vectors exposes the shared vector store client, used directly by
// internal/ingest and internal/retrieve for upsert/search calls that
// don't need per-collection registry bookkeeping beyond existence.
func (r *Registry) Vectors() vectorstore.VectorStore {
	return r.vectors
}

// entryFor returns (creating if absent) the in-memory entry for name.
// It does not itself change State; callers decide the transition.
func (r *Registry) entryFor(name string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		e = &entry{name: name, state: StateAbsent}
		r.entries[name] = e
	}
	return e
}

// EnsureCreating marks a collection as implicitly created by a write
// if it is currently absent, opening its BM25 index lazily. Returns
// CollectionGoneOnWrite if the collection is mid-deletion.
func (r *Registry) EnsureCreating(ctx context.Context, name string) (*store.BleveBM25Index, error) {
	e := r.entryFor(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateDeleting:
		return nil, errs.CollectionGoneOnWrite(name)
	case StateReady, StateCreating:
		return e.bm25, nil
	}

	e.state = StateCreating
	idx, err := store.NewBleveBM25Index(r.bm25Path(name), r.bm25Cfg)
	if err != nil {
		e.state = StateAbsent
		return nil, fmt.Errorf("registry: open bm25 index for %s: %w", name, err)
	}
	e.bm25 = idx
	e.state = StateReady
	return e.bm25, nil
}

// BM25For returns the collection's BM25 index, or nil with
// CollectionGoneOnRead if it was deleted, or nil with no error if it
// was never created (the caller degrades to vector-only search).
func (r *Registry) BM25For(name string) (*store.BleveBM25Index, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateDeleting {
		return nil, errs.CollectionGoneOnRead(name)
	}
	return e.bm25, nil
}

// BeginRebuild and EndRebuild track inflightRebuildCount for
// diagnostics; they never block a rebuild from running, that
// coalescing is internal/rebuild's job.
func (r *Registry) BeginRebuild(name string) {
	e := r.entryFor(name)
	e.mu.Lock()
	e.inflightRebuildCount++
	e.mu.Unlock()
}

func (r *Registry) EndRebuild(name string) {
	e := r.entryFor(name)
	e.mu.Lock()
	if e.inflightRebuildCount > 0 {
		e.inflightRebuildCount--
	}
	e.mu.Unlock()
}

// DeleteCollection removes a collection's vector data and BM25 index.
// The vector delete happens first and must succeed before the BM25
// index is torn down, so a failure partway through never leaves a
// BM25 index referencing a gone vector collection.
func (r *Registry) DeleteCollection(ctx context.Context, name string) error {
	e := r.entryFor(name)

	e.mu.Lock()
	e.state = StateDeleting
	bm25 := e.bm25
	e.mu.Unlock()

	if err := r.vectors.DeleteCollection(ctx, name); err != nil {
		e.mu.Lock()
		e.state = StateReady
		e.mu.Unlock()
		return fmt.Errorf("registry: delete vector collection %s: %w", name, err)
	}

	if bm25 != nil {
		if err := bm25.Delete(); err != nil {
			return fmt.Errorf("registry: delete bm25 index for %s: %w", name, err)
		}
	}

	e.mu.Lock()
	e.bm25 = nil
	e.state = StateAbsent
	e.mu.Unlock()

	r.mu.Lock()
	delete(r.entries, name)
	r.mu.Unlock()

	return nil
}

// DeleteBM25Only removes a collection's BM25 index while leaving its
// vector data in place, for the admin-triggered "drop the lexical
// index, keep the vectors" operation distinct from DeleteCollection.
// The next write or EnsureCreating call rebuilds it fresh.
func (r *Registry) DeleteBM25Only(name string) (bool, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bm25 == nil {
		return false, nil
	}
	if err := e.bm25.Delete(); err != nil {
		return false, fmt.Errorf("registry: delete bm25 index for %s: %w", name, err)
	}
	e.bm25 = nil
	if e.state == StateReady {
		e.state = StateAbsent
	}
	return true, nil
}

// StateOf reports a collection's current lifecycle state, for
// diagnostics and the /collections HTTP endpoint.
func (r *Registry) StateOf(name string) State {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return StateAbsent
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Names returns every collection name the registry currently tracks
// (any state other than absent).
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		e.mu.Lock()
		if e.state != StateAbsent {
			names = append(names, name)
		}
		e.mu.Unlock()
	}
	return names
}

func (r *Registry) bm25Path(name string) string {
	return filepath.Join(r.bm25Dir, name)
}

// Close releases every open BM25 index.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, e := range r.entries {
		e.mu.Lock()
		if e.bm25 != nil {
			if err := e.bm25.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		e.mu.Unlock()
	}
	return firstErr
}
