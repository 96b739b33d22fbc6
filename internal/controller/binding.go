package controller

import (
	"sync"

	"github.com/artemis/constellation-proxy/internal/observability"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// shardCount is the number of independent locked buckets the binding table
// is split across. Sharding by xxhash(key) keeps a hot single resource
// from serializing lookups for unrelated resources (spec.md §4.B).
const shardCount = 32

type bindingShard struct {
	mu    sync.RWMutex
	owner map[string]uuid.UUID
}

// BindingTable maps a resource key (the request path, per spec.md's
// resolved Open Question excluding the query string) to the worker
// currently pinned to it.
type BindingTable struct {
	shards [shardCount]*bindingShard
	logger *observability.Logger
}

// NewBindingTable creates an empty, shard-initialized binding table.
func NewBindingTable(logger *observability.Logger) *BindingTable {
	bt := &BindingTable{logger: logger}
	for i := range bt.shards {
		bt.shards[i] = &bindingShard{owner: make(map[string]uuid.UUID)}
	}
	return bt
}

func (bt *BindingTable) shardFor(key string) *bindingShard {
	h := xxhash.Sum64String(key)
	return bt.shards[h%uint64(shardCount)]
}

// Owner returns the worker currently bound to key, if any.
func (bt *BindingTable) Owner(key string) (uuid.UUID, bool) {
	s := bt.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownerLocked(key)
}

func (s *bindingShard) ownerLocked(key string) (uuid.UUID, bool) {
	id, ok := s.owner[key]
	return id, ok
}

func (s *bindingShard) bindLocked(key string, id uuid.UUID) {
	s.owner[key] = id
}

// Bind pins key to worker id, overwriting any previous owner. Bind never
// calls into the registry. The one place a shard lock is held while the
// registry lock is taken is ResolveOwner's callbacks; no path takes a
// shard lock while holding the registry lock.
func (bt *BindingTable) Bind(key string, id uuid.UUID) {
	s := bt.shardFor(key)
	s.mu.Lock()
	s.bindLocked(key, id)
	s.mu.Unlock()
	observability.ActiveBindings.Set(float64(bt.Count()))
}

// ResolveOwner resolves key's owner under a single acquisition of key's
// shard lock, so a caller's check-existing-owner-then-bind-a-new-one
// sequence is atomic with respect to every other caller touching the same
// key. Without this, two concurrent first-time requests for the same
// unbound key can each miss the binding and each bind a different worker,
// racing on Router's cursor and leaving the binding table pointing at
// whichever caller's Bind ran last — violating the single-consistent-owner
// guarantee (spec.md §5 ordering guarantee 3) and the all-pinned-to-one-
// worker requirement of concurrent-same-resource traffic (spec.md §8
// scenario 4).
//
// isHealthy reports whether a candidate owner id is still a valid choice.
// It is called only for an existing binding; on a miss or an unhealthy
// owner, that binding is dropped and pick is called to choose and bind a
// replacement. Both callbacks run with the shard lock held, so neither may
// call back into this BindingTable.
func (bt *BindingTable) ResolveOwner(key string, isHealthy func(uuid.UUID) bool, pick func() (uuid.UUID, bool)) (uuid.UUID, bool) {
	s := bt.shardFor(key)
	s.mu.Lock()

	if id, ok := s.ownerLocked(key); ok {
		if isHealthy(id) {
			s.mu.Unlock()
			return id, true
		}
		delete(s.owner, key)
	}

	id, ok := pick()
	if !ok {
		s.mu.Unlock()
		return uuid.UUID{}, false
	}
	s.bindLocked(key, id)
	s.mu.Unlock()

	observability.ActiveBindings.Set(float64(bt.Count()))
	return id, true
}

// EvictKey removes a single resource key's binding, if present.
func (bt *BindingTable) EvictKey(key string) {
	s := bt.shardFor(key)
	s.mu.Lock()
	delete(s.owner, key)
	s.mu.Unlock()
	observability.ActiveBindings.Set(float64(bt.Count()))
}

// evictWorker drops every binding owned by id, returning the freed keys.
// Invoked by Registry.Remove under invariant I3: a removed worker must
// never remain the resolved owner of any resource.
func (bt *BindingTable) evictWorker(id uuid.UUID) []string {
	var freed []string
	for _, s := range bt.shards {
		s.mu.Lock()
		for key, owner := range s.owner {
			if owner == id {
				delete(s.owner, key)
				freed = append(freed, key)
			}
		}
		s.mu.Unlock()
	}
	if len(freed) > 0 {
		observability.ActiveBindings.Set(float64(bt.Count()))
	}
	return freed
}

// Count returns the total number of bound resource keys across all shards.
func (bt *BindingTable) Count() int {
	n := 0
	for _, s := range bt.shards {
		s.mu.RLock()
		n += len(s.owner)
		s.mu.RUnlock()
	}
	return n
}

// Snapshot returns a copy of the full binding table, keyed by owning
// worker id, for the admin `/maps` surface (spec.md §6).
func (bt *BindingTable) Snapshot() map[uuid.UUID][]string {
	out := make(map[uuid.UUID][]string)
	for _, s := range bt.shards {
		s.mu.RLock()
		for key, owner := range s.owner {
			out[owner] = append(out[owner], key)
		}
		s.mu.RUnlock()
	}
	return out
}
