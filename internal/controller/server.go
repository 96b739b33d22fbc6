package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/artemis/constellation-proxy/internal/config"
	"github.com/artemis/constellation-proxy/internal/frame"
	"github.com/artemis/constellation-proxy/internal/observability"
	"github.com/artemis/constellation-proxy/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the public HTTP surface: reserved routes, the gated admin
// API, the proxy catch-all, and the worker-facing websocket endpoint
// (spec.md §2, §6).
type Server struct {
	cfg        *config.Config
	logger     *observability.Logger
	health     *observability.HealthChecker
	controller *Controller
	engine     *gin.Engine
}

// NewServer builds the gin engine and registers every route group.
func NewServer(cfg *config.Config, logger *observability.Logger, health *observability.HealthChecker, ctrl *Controller) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, logger: logger, health: health, controller: ctrl}
	s.setupRouter()
	return s
}

// Engine returns the underlying gin engine, e.g. for http.Server wiring.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) setupRouter() {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.loggingMiddleware())

	r.GET("/health", s.health.HealthHandler())
	r.GET("/ready", s.health.ReadyHandler())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/favicon.ico", s.handleFavicon)
	r.HEAD("/favicon.ico", s.handleFavicon)
	r.GET("/", s.handleWelcome)
	r.HEAD("/", s.handleWelcome)

	r.GET("/__constellation/connect", s.handleWorkerConnect)

	// /workers and /maps are the spec's two reserved admin paths (§6). A
	// wrong key 401s; an absent key is deliberately indistinguishable
	// from an ordinary proxy request and falls through to handleProxy.
	admin := r.Group("/")
	admin.Use(s.adminAuthMiddleware())
	s.controller.registerAdminRoutes(admin)

	r.NoRoute(s.handleProxy)

	s.engine = r
}

const welcomeHTML = `<!DOCTYPE html><html><head><title>constellation-proxy</title></head>` +
	`<body><h1>constellation-proxy</h1><p>Resource-pinning reverse proxy control plane.</p></body></html>`

// transparentFaviconPNG is a single-pixel transparent PNG so /favicon.ico
// can answer 200 image/png without bundling a real asset.
var transparentFaviconPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

func (s *Server) handleWelcome(c *gin.Context) {
	c.Data(http.StatusOK, "text/html", []byte(welcomeHTML))
}

func (s *Server) handleFavicon(c *gin.Context) {
	c.Data(http.StatusOK, "image/png", transparentFaviconPNG)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.logger != nil {
			s.logger.Debug("request",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", c.Writer.Status()),
				zap.Duration("elapsed", time.Since(start)),
			)
		}
	}
}

// adminAuthMiddleware gates /workers and /maps behind the admin API key.
// A present-but-wrong key is a 401. An absent key is deliberately treated
// the same as a request for any other unreserved path: it falls through
// to the ordinary proxy handler rather than revealing that the path is
// admin-gated at all (spec.md §6).
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(s.cfg.Admin.ApiKeyHeader)
		if key == "" {
			s.handleProxy(c)
			c.Abort()
			return
		}
		if !s.controller.AuthorizeAdmin(key) {
			observability.AdminAuthFailures.Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization key"})
			return
		}
		c.Next()
	}
}

// handleWorkerConnect upgrades an inbound worker connection and runs its
// demux loop until the socket drops (spec.md §4.F).
func (s *Server) handleWorkerConnect(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnRedacted("websocket upgrade failed", zap.Error(err))
		}
		return
	}

	conn := transport.NewConn(ws)
	w, _ := s.controller.AdmitWorker(c.Request.Context(), c.Request.RemoteAddr, conn)

	defer func() {
		conn.Close()
		s.controller.RemoveWorker(w.ID, "disconnected")
	}()

	// Heartbeat frames flow controller -> worker (spec.md §4.E); anything
	// the worker sends back up is either its response to a proxied
	// request or a frame kind this surface doesn't expect, which is
	// ignored exactly as a receiver is required to ignore a heartbeat.
	err = conn.ReadLoop(func(data []byte) {
		f, decodeErr := frame.Decode(data)
		if decodeErr != nil {
			if s.logger != nil {
				s.logger.WarnRedacted("failed to decode worker frame", zap.String("worker_id", w.ID.String()), zap.Error(decodeErr))
			}
			return
		}
		if f.Type == frame.KindResponse {
			s.controller.Deliver(f)
		}
	})

	s.controller.LogDisconnect(w.ID, err)
}

// handleProxy is the catch-all route that forwards an inbound HTTP
// request to the worker pinned to its path (spec.md §5).
func (s *Server) handleProxy(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read request body"})
		return
	}

	urlDetails, err := frame.NewURLDetails(c.Request.URL.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to parse request url"})
		return
	}

	req := frame.New(frame.KindRequest)
	req.Method = c.Request.Method
	req.ContentType = c.Request.Header.Get("Content-Type")
	req.Url = urlDetails
	req.Data = body
	req.Headers = make(frame.Header)
	for k, values := range c.Request.Header {
		for _, v := range values {
			req.Headers.Add(k, v)
		}
	}
	req.Headers.Set("x-forwarded-for", c.ClientIP())

	requestID := req.GUID
	c.Writer.Header().Set("x-request", requestID)

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.ProxyTimeout())
	defer cancel()

	resp, err := s.controller.Route(ctx, req.Url.Path, req)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnRedacted("proxy request failed", zap.String("request_id", requestID), zap.Error(err))
		}
		var rerr *RouteError
		if errors.As(err, &rerr) {
			c.JSON(rerr.Kind.HTTPStatus(), gin.H{"kind": rerr.Kind.Label(), "message": rerr.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"kind": KindInternalError.Label(), "message": err.Error()})
		return
	}

	if resp.WorkerID != "" {
		c.Writer.Header().Set("x-worker", resp.WorkerID)
	}

	status := http.StatusOK
	if resp.StatusCode != nil {
		status = *resp.StatusCode
	}
	for k, values := range resp.Headers {
		for _, v := range values {
			c.Writer.Header().Add(k, v)
		}
	}
	if resp.ContentType != "" {
		c.Data(status, resp.ContentType, resp.Data)
		return
	}
	c.Data(status, "application/octet-stream", resp.Data)
}

func parseWorkerID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
