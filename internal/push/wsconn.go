package push

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn exposes a WebSocket as a byte stream for the STOMP codec. Each
// Write is sent as one text message; reads concatenate incoming messages.
// It is used on both the client and the test broker side.
type WSConn struct {
	ws *websocket.Conn

	// rmu serializes readers; gorilla allows one concurrent reader.
	rmu    sync.Mutex
	reader io.Reader

	wmu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}

	errMu  sync.Mutex
	closed bool
	err    error
}

// NewWSConn wraps ws. The caller hands ownership of ws to the WSConn.
func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws, done: make(chan struct{})}
}

// Read implements io.Reader.
func (c *WSConn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				c.fail(err)
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write implements io.Writer.
func (c *WSConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		c.fail(err)
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame when possible and closes the socket.
func (c *WSConn) Close() error {
	var err error
	c.errMu.Lock()
	c.closed = true
	c.errMu.Unlock()

	c.closeOnce.Do(func() {
		// WriteControl may run concurrently with Write.
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
		close(c.done)
	})
	return err
}

// Done is closed once the socket is closed or has failed.
func (c *WSConn) Done() <-chan struct{} {
	return c.done
}

// Err returns the first transport error seen, nil after a clean local Close.
func (c *WSConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *WSConn) fail(err error) {
	c.errMu.Lock()
	if !c.closed {
		c.closed = true
		c.err = err
	}
	c.errMu.Unlock()
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
		close(c.done)
	})
}
