package controller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// toggleSender is a Sender double whose Send can be switched between
// succeeding and failing at runtime, so tests can drive the controller's
// heartbeat-probe failure counting directly instead of pushing frames onto
// a channel (the controller, not the worker, originates heartbeats under
// spec.md §4.E).
type toggleSender struct {
	failing atomic.Bool
}

func (s *toggleSender) Send([]byte) error {
	if s.failing.Load() {
		return errors.New("send failed")
	}
	return nil
}

func (s *toggleSender) Close() error { return nil }

func TestHeartbeatLoopEvictsAfterMaxFailures(t *testing.T) {
	binding := NewBindingTable(nil)
	registry := NewRegistry(binding, nil)
	sender := &toggleSender{}
	w, ctx := registry.Add(context.Background(), "a", sender)
	binding.Bind("/pinned", w.ID)
	sender.failing.Store(true)

	var evicted uuid.UUID
	var reason string
	loop := NewHeartbeatLoop(registry, 5*time.Millisecond, 2, nil, func(id uuid.UUID, r string) {
		evicted, reason = id, r
		registry.Remove(id, r)
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go loop.Run(runCtx, w)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, ok := registry.Lookup(w.ID); !ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	_, stillPresent := registry.Lookup(w.ID)
	assert.False(t, stillPresent, "worker should be removed from the registry once its failure budget is exhausted")
	assert.Equal(t, w.ID, evicted)
	assert.Equal(t, "heartbeat_exhausted", reason)

	_, bound := binding.Owner("/pinned")
	assert.False(t, bound, "eviction must cascade into the binding table (I3)")
}

func TestHeartbeatLoopRecoversAfterTransientSendFailures(t *testing.T) {
	binding := NewBindingTable(nil)
	registry := NewRegistry(binding, nil)
	sender := &toggleSender{}
	w, ctx := registry.Add(context.Background(), "a", sender)

	loop := NewHeartbeatLoop(registry, 5*time.Millisecond, 3, nil, nil)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go loop.Run(runCtx, w)

	registry.SetHealthy(w.ID, false)
	sender.failing.Store(true)
	time.Sleep(12 * time.Millisecond)
	sender.failing.Store(false)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if w.Healthy() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	assert.True(t, w.Healthy(), "worker should recover health once heartbeat sends succeed again")
}

func TestHeartbeatLoopDoesNotEvictWithinFailureBudget(t *testing.T) {
	binding := NewBindingTable(nil)
	registry := NewRegistry(binding, nil)
	sender := &toggleSender{}
	w, ctx := registry.Add(context.Background(), "a", sender)
	sender.failing.Store(true)

	evicted := false
	loop := NewHeartbeatLoop(registry, 20*time.Millisecond, 100, nil, func(uuid.UUID, string) {
		evicted = true
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go loop.Run(runCtx, w)

	time.Sleep(60 * time.Millisecond)

	_, stillPresent := registry.Lookup(w.ID)
	assert.True(t, stillPresent, "worker must not be evicted while still within its failure budget")
	assert.False(t, evicted)
}
