package controller

import (
	"context"
	"time"

	"github.com/artemis/constellation-proxy/internal/frame"
	"github.com/artemis/constellation-proxy/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeartbeatLoop is the controller-side probe for a single worker (spec.md
// §4.E): it actively pushes a heartbeat frame down the worker's transport
// on every tick and counts consecutive *send* failures, not missed
// receipts — the worker side only has to ignore the frame, per spec, so
// all of the failure accounting lives here.
//
// The first iteration sends immediately; each later one waits interval
// and sends again. A successful send resets the failure counter to zero.
// A failed send increments it; once the counter exceeds MaxFailures —
// i.e. it tolerates exactly MaxFailures consecutive failures and trips on
// the (MaxFailures+1)th, see DESIGN.md for why this reading of the
// boundary was chosen over marking unhealthy at the Nth miss — the
// worker is evicted via evict and this loop terminates.
type HeartbeatLoop struct {
	registry    *Registry
	interval    time.Duration
	maxFailures int
	logger      *observability.Logger
	evict       func(id uuid.UUID, reason string)
}

// NewHeartbeatLoop builds a heartbeat loop bound to registry. evict is
// called, at most once, when a worker's failure budget is exhausted; it is
// expected to remove the worker from the registry (cascading into the
// binding table per I3) and clamp the router's cursor — see
// Controller.RemoveWorker, which Controller.New wires in here. evict may be
// nil in tests that only want the failure-counting behavior.
func NewHeartbeatLoop(registry *Registry, interval time.Duration, maxFailures int, logger *observability.Logger, evict func(uuid.UUID, string)) *HeartbeatLoop {
	return &HeartbeatLoop{
		registry:    registry,
		interval:    interval,
		maxFailures: maxFailures,
		logger:      logger,
		evict:       evict,
	}
}

// Run watches a single worker until ctx is cancelled, the worker's own
// cancellation scope fires (on removal), or the worker's failure budget is
// exhausted, in which case Run evicts the worker and returns.
func (h *HeartbeatLoop) Run(ctx context.Context, w *WorkerRecord) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	failures := 0
	if h.probe(w, &failures) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.probe(w, &failures) {
				return
			}
		}
	}
}

// probe sends one heartbeat frame to w and updates failures accordingly.
// It reports whether the caller must stop: the worker has just been
// evicted for exhausting its failure budget.
func (h *HeartbeatLoop) probe(w *WorkerRecord, failures *int) bool {
	hb := frame.NewHeartbeat(w.ID.String())
	data, err := hb.Encode()
	if err == nil {
		err = w.Send(data)
	}

	if err == nil {
		if *failures > 0 && h.logger != nil {
			h.logger.Info("worker heartbeat recovered", zap.String("worker_id", w.ID.String()))
		}
		*failures = 0
		h.registry.Touch(w.ID)
		if !w.Healthy() {
			h.registry.SetHealthy(w.ID, true)
		}
		return false
	}

	*failures++
	observability.HeartbeatFailures.WithLabelValues(w.ID.String()).Inc()

	if *failures > h.maxFailures {
		if h.logger != nil {
			h.logger.WarnRedacted("worker heartbeat budget exhausted, evicting",
				zap.String("worker_id", w.ID.String()), zap.Int("consecutive_failures", *failures))
		}
		if h.evict != nil {
			h.evict(w.ID, "heartbeat_exhausted")
		} else {
			h.registry.SetHealthy(w.ID, false)
		}
		return true
	}

	if h.logger != nil {
		h.logger.WarnRedacted("heartbeat send failed",
			zap.String("worker_id", w.ID.String()), zap.Error(err), zap.Int("consecutive_failures", *failures))
	}
	return false
}
