package controller

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Router resolves a resource key to the worker that should handle it
// (spec.md §4.C): reuse the existing owner if it is still healthy,
// otherwise round-robin from just after the last-assigned cursor position
// to find the next healthy worker, and bind it as the new owner.
//
// The cursor only advances on a NEW binding, never on a cache hit that
// reuses an existing healthy owner — this was one of the spec's Open
// Questions and is resolved that way here (see DESIGN.md).
type Router struct {
	registry *Registry
	binding  *BindingTable

	mu     sync.Mutex
	cursor int
}

// NewRouter builds a router over the given registry and binding table.
func NewRouter(registry *Registry, binding *BindingTable) *Router {
	return &Router{registry: registry, binding: binding}
}

// Resolve returns the worker that should serve key. The owner check and,
// when needed, the new-binding decision both happen inside a single call
// to BindingTable.ResolveOwner so that two concurrent first-time requests
// for the same key cannot each bind a different worker (spec.md §5
// ordering guarantee 3): whichever caller's shard-lock acquisition wins
// picks the owner, and the other observes that binding instead of racing
// past it.
func (rt *Router) Resolve(key string) (*WorkerRecord, error) {
	id, ok := rt.binding.ResolveOwner(key, rt.isHealthy, rt.pickHealthy)
	if !ok {
		return nil, &RouteError{Kind: KindNoWorkers, Message: fmt.Sprintf("No workers available for resource %s.", key)}
	}

	w, ok := rt.registry.Lookup(id)
	if !ok {
		// The chosen worker disconnected between pickHealthy returning and
		// this lookup; treat it the same as finding no healthy candidate.
		return nil, &RouteError{Kind: KindNoWorkers, Message: fmt.Sprintf("No workers available for resource %s.", key)}
	}
	return w, nil
}

// isHealthy reports whether id still names a healthy registered worker. It
// is ResolveOwner's callback for validating an existing binding.
func (rt *Router) isHealthy(id uuid.UUID) bool {
	w, ok := rt.registry.Lookup(id)
	return ok && w.Healthy()
}

// pickHealthy scans the registry starting just after the router's cursor
// for the next healthy worker, advances the cursor to it, and returns its
// id. It is ResolveOwner's callback for choosing a replacement owner, and
// runs with key's shard lock already held by the caller.
func (rt *Router) pickHealthy() (uuid.UUID, bool) {
	ids := rt.registry.orderedIDs()
	if len(ids) == 0 {
		return uuid.UUID{}, false
	}

	rt.mu.Lock()
	start := rt.cursor
	rt.mu.Unlock()

	for i := 1; i <= len(ids); i++ {
		idx := (start + i) % len(ids)
		id := ids[idx]
		w, ok := rt.registry.Lookup(id)
		if !ok || !w.Healthy() {
			continue
		}

		rt.mu.Lock()
		rt.cursor = idx
		rt.mu.Unlock()

		return id, true
	}

	return uuid.UUID{}, false
}

// clampCursor brings the cursor back into range after the registry's
// worker count shrinks, so the next Resolve scan starts from a valid
// position instead of modulo-wrapping on a now-empty slice.
func (rt *Router) clampCursor(workerCount int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if workerCount == 0 {
		rt.cursor = 0
		return
	}
	if rt.cursor >= workerCount {
		rt.cursor = rt.cursor % workerCount
	}
}
