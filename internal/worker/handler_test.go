package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/artemis/constellation-proxy/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackedHandlerEchoesRequest(t *testing.T) {
	h := NewFileBackedHandler()
	req := frame.New(frame.KindRequest)
	req.Method = "GET"
	url, err := frame.NewURLDetails("http://controller/resource/42")
	require.NoError(t, err)
	req.Url = url

	resp := h.Handle(context.Background(), req)
	require.NotNil(t, resp.StatusCode)
	assert.Equal(t, 200, *resp.StatusCode)
	assert.Equal(t, req.GUID, resp.GUID)
	assert.Contains(t, string(resp.Data), "/resource/42")
}

func TestFileBackedHandlerSerializesSameResource(t *testing.T) {
	h := NewFileBackedHandler()
	url, err := frame.NewURLDetails("http://controller/shared")
	require.NoError(t, err)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := frame.New(frame.KindRequest)
			req.Url = url
			h.Handle(context.Background(), req)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
		time.Sleep(time.Millisecond)
	}
	wg.Wait()
	assert.Len(t, order, 2)
}

func TestFileBackedHandlerTimesOutOnCancelledContext(t *testing.T) {
	h := NewFileBackedHandler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := frame.New(frame.KindRequest)
	url, err := frame.NewURLDetails("http://controller/x")
	require.NoError(t, err)
	req.Url = url

	resp := h.Handle(ctx, req)
	require.NotNil(t, resp.StatusCode)
	assert.Equal(t, 408, *resp.StatusCode)
}
