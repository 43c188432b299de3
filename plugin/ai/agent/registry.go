package agent

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Factory builds the engine of an identity.
type Factory func(userID string) *Engine

// Registry hands out one engine per identity and serializes the cycles of
// each identity. Different identities run concurrently.
type Registry struct {
	factory Factory

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	engine *Engine
	sem    *semaphore.Weighted
}

// NewRegistry creates a registry.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		entries: make(map[string]*registryEntry),
	}
}

func (r *Registry) entry(userID string) *registryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[userID]; ok {
		return e
	}
	e := &registryEntry{
		engine: r.factory(userID),
		sem:    semaphore.NewWeighted(1),
	}
	r.entries[userID] = e
	return e
}

// Do runs fn with the engine of userID once no other call of the same
// identity is running. Waiting stops when ctx is done.
func (r *Registry) Do(ctx context.Context, userID string, fn func(*Engine) error) error {
	e := r.entry(userID)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)
	return fn(e.engine)
}

// Identities returns the identities with an engine.
func (r *Registry) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
