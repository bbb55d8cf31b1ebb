// Package rebuild implements the per-collection BM25 rebuild actor.
// Each collection gets at most one rebuild running at a time; any
// Request arriving while one is in flight sets a dirty bit instead of
// starting a second rebuild, and exactly one more rebuild runs once
// the in-flight one finishes.
package rebuild

import (
	"context"
	"log/slog"
	"sync"
)

// Func performs the actual rebuild for one collection: scroll the
// vector store's payloads and Build a fresh BM25Index from them.
type Func func(ctx context.Context, collection string) error

// Manager owns one coalescing actor per collection name.
type Manager struct {
	mu     sync.Mutex
	actors map[string]*actor
	fn     Func
	logger *slog.Logger
}

type actor struct {
	mu       sync.Mutex
	inFlight bool
	dirty    bool
	done     chan struct{} // closed and replaced each time the actor goes idle
}

// NewManager creates a Manager that runs fn to rebuild a collection.
func NewManager(fn Func, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		actors: make(map[string]*actor),
		fn:     fn,
		logger: logger,
	}
}

func (m *Manager) actorFor(collection string) *actor {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actors[collection]
	if !ok {
		a = &actor{done: make(chan struct{})}
		close(a.done) // idle: nothing to wait for yet
		m.actors[collection] = a
	}
	return a
}

// Request asks for a rebuild of collection. Non-blocking: if a rebuild
// is already running for this collection, this request is coalesced
// into a single follow-up rebuild rather than queued or dropped.
func (m *Manager) Request(ctx context.Context, collection string) {
	a := m.actorFor(collection)

	a.mu.Lock()
	if a.inFlight {
		a.dirty = true
		a.mu.Unlock()
		return
	}
	a.inFlight = true
	a.done = make(chan struct{})
	a.mu.Unlock()

	go m.run(ctx, collection, a)
}

func (m *Manager) run(ctx context.Context, collection string, a *actor) {
	for {
		if err := m.fn(ctx, collection); err != nil {
			m.logger.Warn("bm25 rebuild failed",
				slog.String("collection", collection), slog.String("error", err.Error()))
		}

		a.mu.Lock()
		if a.dirty {
			a.dirty = false
			a.mu.Unlock()
			continue
		}
		a.inFlight = false
		done := a.done
		a.mu.Unlock()
		close(done)
		return
	}
}

// Wait blocks until collection has no in-flight or queued rebuild. Used
// by tests to drain pending work.
func (m *Manager) Wait(collection string) {
	a := m.actorFor(collection)
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	<-done
}

// InFlight reports whether collection currently has a rebuild running
// or queued (dirty), for diagnostics.
func (m *Manager) InFlight(collection string) bool {
	a := m.actorFor(collection)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight
}
