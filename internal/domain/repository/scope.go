package repository

import (
	"context"
	"sync"
)

// ScopeRegistry tracks the in-flight call per (namespace, key). Acquiring a
// key that is already held cancels the previous holder.
type ScopeRegistry struct {
	mu     sync.Mutex
	active map[string]*scopeEntry
}

type scopeEntry struct {
	cancel context.CancelFunc
}

func NewScopeRegistry() *ScopeRegistry {
	return &ScopeRegistry{active: make(map[string]*scopeEntry)}
}

// Acquire derives a cancellable context for key within namespace. The
// returned release func must be called when the call finishes; it only
// clears the slot if the caller is still the current holder.
func (r *ScopeRegistry) Acquire(parent context.Context, namespace, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	entry := &scopeEntry{cancel: cancel}
	slot := namespace + "|" + key

	r.mu.Lock()
	if prev, ok := r.active[slot]; ok {
		prev.cancel()
	}
	r.active[slot] = entry
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		if r.active[slot] == entry {
			delete(r.active, slot)
		}
		r.mu.Unlock()
		cancel()
	}
}

// Cancel aborts the current holder of key, if any.
func (r *ScopeRegistry) Cancel(namespace, key string) {
	slot := namespace + "|" + key
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.active[slot]; ok {
		prev.cancel()
		delete(r.active, slot)
	}
}

// Active counts keys with an in-flight holder.
func (r *ScopeRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
