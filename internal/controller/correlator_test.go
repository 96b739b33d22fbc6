package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/artemis/constellation-proxy/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu  sync.Mutex
	out [][]byte
}

func (c *captureSender) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, data)
	return nil
}
func (c *captureSender) Close() error { return nil }

func (c *captureSender) last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.out) == 0 {
		return nil
	}
	return c.out[len(c.out)-1]
}

type failingSender struct{}

func (failingSender) Send(data []byte) error { return assert.AnError }
func (failingSender) Close() error           { return nil }

func TestCorrelatorDispatchAndDeliver(t *testing.T) {
	c := NewCorrelator(time.Minute)
	sender := &captureSender{}
	binding := NewBindingTable(nil)
	registry := NewRegistry(binding, nil)
	w, _ := registry.Add(context.Background(), "a", sender)

	req := frame.New(frame.KindRequest)

	go func() {
		for i := 0; i < 50 && sender.last() == nil; i++ {
			time.Sleep(time.Millisecond)
		}
		sent, err := frame.Decode(sender.last())
		require.NoError(t, err)
		resp := frame.New(frame.KindResponse)
		resp.GUID = sent.GUID
		c.Deliver(resp)
	}()

	resp, err := c.Dispatch(context.Background(), w, req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, req.GUID, resp.GUID)
	assert.Equal(t, 0, c.Count())
}

func TestCorrelatorDispatchTimesOut(t *testing.T) {
	c := NewCorrelator(time.Minute)
	binding := NewBindingTable(nil)
	registry := NewRegistry(binding, nil)
	w, _ := registry.Add(context.Background(), "a", &captureSender{})

	req := frame.New(frame.KindRequest)
	_, err := c.Dispatch(context.Background(), w, req, 10*time.Millisecond)
	require.Error(t, err)
	rerr, ok := err.(*RouteError)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, rerr.Kind)
}

func TestCorrelatorDispatchSendFailure(t *testing.T) {
	c := NewCorrelator(time.Minute)
	binding := NewBindingTable(nil)
	registry := NewRegistry(binding, nil)
	w, _ := registry.Add(context.Background(), "a", failingSender{})

	req := frame.New(frame.KindRequest)
	_, err := c.Dispatch(context.Background(), w, req, time.Second)
	require.Error(t, err)
	rerr, ok := err.(*RouteError)
	require.True(t, ok)
	assert.Equal(t, KindProxyFailed, rerr.Kind)
}

func TestCorrelatorDeliverWithNoWaiterIsNoop(t *testing.T) {
	c := NewCorrelator(time.Minute)
	resp := frame.New(frame.KindResponse)
	assert.NotPanics(t, func() { c.Deliver(resp) })
}
