// Package controller implements the controller-side routing engine:
// worker registry, resource binding table, router, correlator, and the
// per-worker heartbeat/health loop.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/artemis/constellation-proxy/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errSenderUnavailable = errors.New("controller: worker has no active transport")

// Sender pushes an encoded frame onto a worker's transport. It is the
// seam between the controller core and the concrete socket transport
// (gorilla/websocket in this codebase, but the core never imports it
// directly).
type Sender interface {
	Send(data []byte) error
	Close() error
}

// WorkerRecord is the registry's entry for one connected worker (spec.md
// §3 "Worker record").
type WorkerRecord struct {
	ID         uuid.UUID
	RemoteAddr string
	AdmittedAt time.Time

	mu         sync.RWMutex
	lastActive time.Time
	healthy    bool
	sender     Sender
	cancel     context.CancelFunc
}

// Healthy reports whether the worker is currently eligible to be chosen as
// a new binding owner.
func (w *WorkerRecord) Healthy() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.healthy
}

func (w *WorkerRecord) setHealthy(v bool) {
	w.mu.Lock()
	w.healthy = v
	w.mu.Unlock()
}

func (w *WorkerRecord) touch() {
	w.mu.Lock()
	w.lastActive = time.Now().UTC()
	w.mu.Unlock()
}

// Send pushes data onto the worker's transport.
func (w *WorkerRecord) Send(data []byte) error {
	w.mu.RLock()
	sender := w.sender
	w.mu.RUnlock()
	if sender == nil {
		return errSenderUnavailable
	}
	return sender.Send(data)
}

// Cancel invokes the worker's scoped cancellation signal, tearing down its
// heartbeat loop and transport handling.
func (w *WorkerRecord) Cancel() {
	w.mu.RLock()
	cancel := w.cancel
	w.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot is an immutable copy of a WorkerRecord safe to read without the
// registry lock.
type Snapshot struct {
	ID         uuid.UUID
	RemoteAddr string
	AdmittedAt time.Time
	LastActive time.Time
	Healthy    bool
}

func (w *WorkerRecord) snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Snapshot{
		ID:         w.ID,
		RemoteAddr: w.RemoteAddr,
		AdmittedAt: w.AdmittedAt,
		LastActive: w.lastActive,
		Healthy:    w.healthy,
	}
}

// Registry holds the set of connected workers and their health state
// (spec.md §4.A). All operations are serialized by a single mutex; Snapshot
// returns copies so callers never iterate while holding the lock.
type Registry struct {
	mu      sync.Mutex
	order   []uuid.UUID
	workers map[uuid.UUID]*WorkerRecord
	binding *BindingTable
	logger  *observability.Logger
}

// NewRegistry creates an empty registry. binding is the table this
// registry cascades evictions into (spec.md I3); it may be nil for tests
// that only exercise the registry in isolation.
func NewRegistry(binding *BindingTable, logger *observability.Logger) *Registry {
	return &Registry{
		order:   make([]uuid.UUID, 0),
		workers: make(map[uuid.UUID]*WorkerRecord),
		binding: binding,
		logger:  logger,
	}
}

// Add admits a new worker, healthy by default. ctx is the controller's
// root context; a new cancellation scope is derived for this worker alone.
func (r *Registry) Add(ctx context.Context, remoteAddr string, sender Sender) (*WorkerRecord, context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	now := time.Now().UTC()
	w := &WorkerRecord{
		ID:         uuid.New(),
		RemoteAddr: remoteAddr,
		AdmittedAt: now,
		lastActive: now,
		healthy:    true,
		sender:     sender,
		cancel:     cancel,
	}

	r.mu.Lock()
	r.workers[w.ID] = w
	r.order = append(r.order, w.ID)
	r.mu.Unlock()

	observability.ConnectedWorkers.Set(float64(r.Count()))
	observability.HealthyWorkers.Set(float64(r.HealthyCount()))

	if r.logger != nil {
		r.logger.Info("worker admitted", zap.String("worker_id", w.ID.String()), zap.String("remote_addr", remoteAddr))
	}

	return w, workerCtx
}

// Remove evicts a worker and cascades the removal into the binding table
// (I3). It reports whether the worker was present.
func (r *Registry) Remove(id uuid.UUID, reason string) bool {
	r.mu.Lock()
	w, ok := r.workers[id]
	if ok {
		delete(r.workers, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	w.Cancel()

	if r.binding != nil {
		r.binding.evictWorker(id)
	}

	observability.ConnectedWorkers.Set(float64(r.Count()))
	observability.HealthyWorkers.Set(float64(r.HealthyCount()))
	observability.WorkerEvictions.WithLabelValues(reason).Inc()

	if r.logger != nil {
		r.logger.Info("worker evicted", zap.String("worker_id", id.String()), zap.String("reason", reason))
	}
	return true
}

// Lookup returns the record for id, if present.
func (r *Registry) Lookup(id uuid.UUID) (*WorkerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	return w, ok
}

// SetHealthy updates a worker's health flag. Only the heartbeat loop
// should call this (spec.md §4.A: "health flag mutation only from
// heartbeat loop").
func (r *Registry) SetHealthy(id uuid.UUID, healthy bool) {
	r.mu.Lock()
	w, ok := r.workers[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	w.setHealthy(healthy)
	observability.HealthyWorkers.Set(float64(r.HealthyCount()))
}

// Touch refreshes a worker's last-activity timestamp.
func (r *Registry) Touch(id uuid.UUID) {
	r.mu.Lock()
	w, ok := r.workers[id]
	r.mu.Unlock()
	if ok {
		w.touch()
	}
}

// Snapshot returns a copy of every currently registered worker, in
// admission order, stable for the caller to iterate without the registry
// lock held.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.order))
	for _, id := range r.order {
		if w, ok := r.workers[id]; ok {
			out = append(out, w.snapshot())
		}
	}
	return out
}

// orderedIDs returns the current admission-ordered id list, used by the
// router to do cursor-indexed round robin under the same lock acquisition
// the rest of the registry uses.
func (r *Registry) orderedIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uuid.UUID, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered workers, healthy or not.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// HealthyCount returns the number of currently healthy workers.
func (r *Registry) HealthyCount() int {
	r.mu.Lock()
	ids := make([]uuid.UUID, len(r.order))
	copy(ids, r.order)
	workers := r.workers
	r.mu.Unlock()

	n := 0
	for _, id := range ids {
		if w, ok := workers[id]; ok && w.Healthy() {
			n++
		}
	}
	return n
}
