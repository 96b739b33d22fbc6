// Package transport implements the duplex socket between controller and
// worker processes as a gorilla/websocket connection carrying
// JSON-encoded frames, one frame per binary message.
package transport

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

var errClosed = errors.New("transport: connection closed")

// Conn wraps a single websocket connection with a buffered send side, so
// a slow or blocked peer never stalls the goroutine that produced the
// frame. It satisfies controller.Sender.
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
}

// NewConn wraps ws and starts its write pump. Callers must separately
// drive ReadLoop to receive frames.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send enqueues data for delivery, returning an error if the connection
// has already been closed or the send buffer is saturated.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.closed:
		return errClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return errClosed
	default:
		return errors.New("transport: send buffer full")
	}
}

// Close tears down the connection and stops the write pump.
func (c *Conn) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	return c.ws.Close()
}

// ReadLoop blocks, delivering each inbound data message to onFrame, until
// the connection errors or closes. The caller is expected to run this in
// its own goroutine and treat return as disconnection.
func (c *Conn) ReadLoop(onFrame func(data []byte)) error {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		onFrame(data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
