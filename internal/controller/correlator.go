package controller

import (
	"context"
	"sync"
	"time"

	"github.com/artemis/constellation-proxy/internal/frame"
	"github.com/artemis/constellation-proxy/internal/observability"
)

// pending is one in-flight request awaiting a matching response frame,
// keyed by the request frame's GUID (spec.md §4.D).
type pending struct {
	response chan *frame.Frame
	created  time.Time
}

// Correlator matches request frames sent to a worker against response
// frames the worker later sends back, using the frame GUID as the
// correlation id. A background sweep drops entries older than the
// configured response retention window even if no response ever arrives.
type Correlator struct {
	retention time.Duration

	mu      sync.Mutex
	inFlight map[string]*pending
}

// NewCorrelator builds a correlator that retains unmatched entries for at
// most retention before they are swept.
func NewCorrelator(retention time.Duration) *Correlator {
	return &Correlator{
		retention: retention,
		inFlight:  make(map[string]*pending),
	}
}

// Dispatch sends req to w and blocks until a matching response arrives,
// ctx is cancelled, or timeout elapses, whichever comes first.
func (c *Correlator) Dispatch(ctx context.Context, w *WorkerRecord, req *frame.Frame, timeout time.Duration) (*frame.Frame, error) {
	p := &pending{response: make(chan *frame.Frame, 1), created: time.Now()}

	c.mu.Lock()
	c.inFlight[req.GUID] = p
	c.mu.Unlock()
	observability.InFlightRequests.Set(float64(c.Count()))

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, req.GUID)
		c.mu.Unlock()
		observability.InFlightRequests.Set(float64(c.Count()))
	}()

	data, err := req.Encode()
	if err != nil {
		return nil, &RouteError{Kind: KindInternalError, Message: "encode request: " + err.Error()}
	}

	start := time.Now()
	if err := w.Send(data); err != nil {
		observability.RecordRoute(KindProxyFailed.String(), time.Since(start).Seconds())
		return nil, &RouteError{Kind: KindProxyFailed, Message: "send to worker: " + err.Error()}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-p.response:
		observability.RecordRoute("ok", time.Since(start).Seconds())
		return resp, nil
	case <-timer.C:
		observability.RecordRoute(KindTimeout.String(), time.Since(start).Seconds())
		return nil, &RouteError{Kind: KindTimeout, Message: "timed out waiting for worker response"}
	case <-ctx.Done():
		observability.RecordRoute(KindTimeout.String(), time.Since(start).Seconds())
		return nil, &RouteError{Kind: KindTimeout, Message: ctx.Err().Error()}
	}
}

// Deliver hands a response frame to the goroutine blocked in Dispatch for
// its correlation id. It is a no-op if nothing is waiting (the request
// already timed out or was never ours).
func (c *Correlator) Deliver(resp *frame.Frame) {
	c.mu.Lock()
	p, ok := c.inFlight[resp.GUID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case p.response <- resp:
	default:
	}
}

// Count returns the number of requests currently awaiting a response.
func (c *Correlator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// sweep drops in-flight entries older than the retention window. It runs
// on StartSweeper's ticker; Dispatch's own timeout already bounds most
// entries' lifetime, but a worker death mid-flight without signaling a
// disconnect could otherwise leak one until the process exits.
func (c *Correlator) sweep() {
	cutoff := time.Now().Add(-c.retention)
	c.mu.Lock()
	defer c.mu.Unlock()
	for guid, p := range c.inFlight {
		if p.created.Before(cutoff) {
			delete(c.inFlight, guid)
		}
	}
}

// StartSweeper runs sweep on the given interval until ctx is cancelled.
func (c *Correlator) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}
