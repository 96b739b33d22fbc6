package worker

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/artemis/constellation-proxy/internal/config"
	"github.com/artemis/constellation-proxy/internal/frame"
	"github.com/artemis/constellation-proxy/internal/observability"
	"github.com/artemis/constellation-proxy/internal/transport"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connector is the worker-side connection manager (spec.md §4.F): it
// dials the controller's duplex socket and dispatches inbound request
// frames to a RequestHandler. Heartbeat frames arrive from the controller
// (spec.md §4.E); this side only has to ignore them, which the
// request-only filter in connectAndServe's read loop already does. On
// disconnect it reconnects with a fresh worker id, retrying every
// ConnectionCheckInterval until cancellation or success. The worker id
// appears only in this side's log lines; it is not sent to the controller,
// which assigns its own id to each accepted connection.
type Connector struct {
	cfg     *config.Config
	handler RequestHandler
	logger  *observability.Logger

	workerID uuid.UUID
}

// NewConnector builds a connector that will dispatch inbound requests to
// handler.
func NewConnector(cfg *config.Config, handler RequestHandler, logger *observability.Logger) *Connector {
	return &Connector{cfg: cfg, handler: handler, logger: logger}
}

// Run dials and serves until ctx is cancelled, reconnecting on every
// disconnect. Reconnect attempts are spaced by ConnectionCheckInterval
// (spec.md §4.F: "periodically ... recreates the socket"), not an
// exponential backoff.
func (c *Connector) Run(ctx context.Context) {
	interval := c.cfg.ConnectionCheckInterval()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.workerID = uuid.New()
		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}

		if c.logger != nil {
			c.logger.WarnRedacted(fmt.Sprintf("worker connection lost, reconnecting in %s: %v", interval, err), zap.String("worker_id", c.workerID.String()))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (c *Connector) connectAndServe(ctx context.Context) error {
	wsURL, err := toWebsocketURL(c.cfg.Worker.ControllerURL)
	if err != nil {
		return fmt.Errorf("worker: bad controller url: %w", err)
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("worker: dial controller: %w", err)
	}

	conn := transport.NewConn(ws)
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.logger != nil {
		c.logger.Info("worker connected", zap.String("worker_id", c.workerID.String()), zap.String("controller_url", c.cfg.Worker.ControllerURL))
	}

	return conn.ReadLoop(func(data []byte) {
		f, decodeErr := frame.Decode(data)
		if decodeErr != nil {
			if c.logger != nil {
				c.logger.WarnRedacted("failed to decode controller frame", zap.Error(decodeErr))
			}
			return
		}
		if f.Type != frame.KindRequest {
			// Heartbeat frames land here too; ignoring them is the whole
			// of this side's obligation under the controller-driven model
			// (spec.md §4.E).
			return
		}
		go c.handleRequest(connCtx, conn, f)
	})
}

func (c *Connector) handleRequest(ctx context.Context, conn *transport.Conn, req *frame.Frame) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.ProxyTimeout())
	defer cancel()

	resp := c.handler.Handle(reqCtx, req)
	resp.GUID = req.GUID

	data, err := resp.Encode()
	if err != nil {
		if c.logger != nil {
			c.logger.ErrorRedacted("failed to encode response frame", zap.Error(err))
		}
		return
	}
	if err := conn.Send(data); err != nil && c.logger != nil {
		c.logger.WarnRedacted("failed to send response to controller", zap.Error(err))
	}
}

func toWebsocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		u.Scheme = "ws"
	}
	u.Path = "/__constellation/connect"
	return u.String(), nil
}
