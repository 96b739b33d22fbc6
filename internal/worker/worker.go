// Package worker implements the worker-side process: it connects to the
// controller's duplex socket, ignores the heartbeat frames the controller
// sends, and serves proxied requests through a RequestHandler.
package worker

import (
	"context"

	"github.com/artemis/constellation-proxy/internal/config"
	"github.com/artemis/constellation-proxy/internal/observability"
)

// Worker wires a connector and its request handler together.
type Worker struct {
	connector *Connector
	logger    *observability.Logger
}

// New builds a worker process that will serve requests via handler. If
// handler is nil, a FileBackedHandler is used.
func New(cfg *config.Config, handler RequestHandler, logger *observability.Logger) *Worker {
	if handler == nil {
		handler = NewFileBackedHandler()
	}
	return &Worker{
		connector: NewConnector(cfg, handler, logger),
		logger:    logger,
	}
}

// Run blocks, connecting and reconnecting to the controller until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.logger != nil {
		w.logger.Info("worker starting")
	}
	w.connector.Run(ctx)
}
