package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/artemis/constellation-proxy/internal/config"
	"github.com/artemis/constellation-proxy/internal/frame"
	"github.com/artemis/constellation-proxy/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Controller wires together the registry, binding table, router,
// correlator, and per-worker heartbeat loops into the single object the
// HTTP/websocket surface drives (spec.md §4).
type Controller struct {
	cfg       *config.Config
	logger    *observability.Logger
	registry  *Registry
	binding   *BindingTable
	router    *Router
	correlator *Correlator
	heartbeat *HeartbeatLoop
	health    *observability.HealthChecker
}

// New builds a Controller from its ambient config and logger.
func New(cfg *config.Config, logger *observability.Logger, health *observability.HealthChecker) *Controller {
	binding := NewBindingTable(logger)
	registry := NewRegistry(binding, logger)
	router := NewRouter(registry, binding)
	correlator := NewCorrelator(cfg.ResponseRetention())
	heartbeat := NewHeartbeatLoop(registry, cfg.HeartbeatInterval(), cfg.Heartbeat.MaxFailures, logger, nil)

	c := &Controller{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		binding:    binding,
		router:     router,
		correlator: correlator,
		heartbeat:  heartbeat,
		health:     health,
	}

	// Wired after construction since RemoveWorker is a method on c itself:
	// budget exhaustion now evicts through the same path as a transport
	// disconnect (registry cascade into the binding table + router cursor
	// clamp), not just a health-flag flip.
	heartbeat.evict = c.RemoveWorker

	if health != nil {
		health.RegisterCheck("registry", observability.RegistryHealthCheck(registry.HealthyCount))
	}

	return c
}

// Start launches background loops (correlator sweep) until ctx is done.
func (c *Controller) Start(ctx context.Context) {
	go c.correlator.StartSweeper(ctx, c.cfg.ResponseRetention())
}

// AdmitWorker registers a new worker connection and starts the controller-
// driven heartbeat probe for it (spec.md §4.E sends from the controller
// side; the worker is only required to ignore what it receives).
func (c *Controller) AdmitWorker(ctx context.Context, remoteAddr string, sender Sender) (*WorkerRecord, context.Context) {
	w, workerCtx := c.registry.Add(ctx, remoteAddr, sender)
	go c.heartbeat.Run(workerCtx, w)
	return w, workerCtx
}

// RemoveWorker evicts a worker from the registry, cascading into the
// binding table and clamping the router's cursor.
func (c *Controller) RemoveWorker(id uuid.UUID, reason string) {
	c.registry.Remove(id, reason)
	c.router.clampCursor(c.registry.Count())
}

// Deliver hands a response frame from a worker to the correlator so a
// blocked Route call can complete.
func (c *Controller) Deliver(resp *frame.Frame) {
	c.correlator.Deliver(resp)
}

// Route resolves the resource key for the incoming request frame,
// dispatches it to the owning worker, and returns its response, applying
// the configured proxy timeout.
func (c *Controller) Route(ctx context.Context, key string, req *frame.Frame) (*frame.Frame, error) {
	w, err := c.router.Resolve(key)
	if err != nil {
		return nil, err
	}

	timeout := c.cfg.ProxyTimeout()
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < timeout {
			timeout = remaining
		}
	}

	resp, err := c.correlator.Dispatch(ctx, w, req, timeout)
	if err != nil {
		if rerr, ok := err.(*RouteError); ok && rerr.Kind == KindProxyFailed {
			c.RemoveWorker(w.ID, "send_failed")
		}
		return nil, err
	}
	resp.WorkerID = w.ID.String()
	return resp, nil
}

// Registry exposes the underlying registry for the admin surface.
func (c *Controller) Registry() *Registry { return c.registry }

// Binding exposes the underlying binding table for the admin surface.
func (c *Controller) Binding() *BindingTable { return c.binding }

// AuthorizeAdmin checks key against the configured admin API keys.
func (c *Controller) AuthorizeAdmin(key string) bool {
	if key == "" {
		return false
	}
	for _, k := range c.cfg.Admin.ApiKeys {
		if k == key {
			return true
		}
	}
	return false
}

// LogDisconnect logs a worker disconnection at info level, or at warn level
// when err is non-nil, redacting any secret-shaped fields in that case per
// the ambient logging convention.
func (c *Controller) LogDisconnect(id uuid.UUID, err error) {
	if c.logger == nil {
		return
	}
	if err != nil {
		c.logger.WarnRedacted(fmt.Sprintf("worker %s disconnected: %v", id, err), zap.String("worker_id", id.String()))
		return
	}
	c.logger.Info("worker disconnected", zap.String("worker_id", id.String()))
}
