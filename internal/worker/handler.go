package worker

import (
	"context"
	"sync"

	"github.com/artemis/constellation-proxy/internal/frame"
)

// RequestHandler answers one proxied request frame with a response
// frame carrying the same correlation GUID (spec.md §3 "Worker request
// handler").
type RequestHandler interface {
	Handle(ctx context.Context, req *frame.Frame) *frame.Frame
}

// FileBackedHandler is the reference handler shipped with this worker: it
// models "the resource" a request's path names as an exclusive, in-process
// lock, so two requests pinned to the same worker for the same resource
// serialize rather than interleave, and echoes back the request it saw.
// A real deployment would replace this with a handler backed by whatever
// the pinned resource actually is (a file, a DB connection, a device).
type FileBackedHandler struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileBackedHandler builds an empty handler.
func NewFileBackedHandler() *FileBackedHandler {
	return &FileBackedHandler{locks: make(map[string]*sync.Mutex)}
}

func (h *FileBackedHandler) lockFor(key string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.locks[key]
	if !ok {
		l = &sync.Mutex{}
		h.locks[key] = l
	}
	return l
}

// Handle serializes access per resource path and returns a response frame
// describing what it received.
func (h *FileBackedHandler) Handle(ctx context.Context, req *frame.Frame) *frame.Frame {
	key := ""
	if req.Url != nil {
		key = req.Url.Path
	}

	l := h.lockFor(key)
	l.Lock()
	defer l.Unlock()

	resp := frame.New(frame.KindResponse)
	resp.GUID = req.GUID
	resp.ContentType = "application/json"
	resp.Headers = make(frame.Header)
	resp.Headers.Set("X-Handled-By", "file-backed-handler")
	_ = resp.SetStatusCode(200)

	if ctx.Err() != nil {
		_ = resp.SetStatusCode(408)
		return resp
	}

	resp.Data = []byte(`{"resource":"` + key + `","method":"` + req.Method + `"}`)
	return resp
}
