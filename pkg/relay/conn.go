package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn is the subset of *websocket.Conn a session uses.
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// clientConn serializes writes to the browser socket and closes it once.
// gorilla allows one concurrent writer; the output writer, the teardown path
// and shutdown notices all write through here.
type clientConn struct {
	ws           WSConn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func newClientConn(ws WSConn, writeTimeout time.Duration) *clientConn {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &clientConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *clientConn) configureRead(limit int64, timeout time.Duration) {
	if limit > 0 {
		c.ws.SetReadLimit(limit)
	}
	if timeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(timeout))
		})
	}
}

func (c *clientConn) read() (int, []byte, error) {
	return c.ws.ReadMessage()
}

func (c *clientConn) writeBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *clientConn) writeText(text string) error {
	return c.write(websocket.TextMessage, []byte(text))
}

func (c *clientConn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return ErrClientGone
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.closed.Store(true)
		return err
	}
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		c.closed.Store(true)
		return err
	}
	return nil
}

func (c *clientConn) ping() error {
	if c.closed.Load() {
		return ErrClientGone
	}
	return c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.writeTimeout))
}

// markClosed records that the peer is gone so later writes are skipped.
func (c *clientConn) markClosed() {
	c.closed.Store(true)
}

func (c *clientConn) isClosed() bool {
	return c.closed.Load()
}

// close sends a normal close frame when the peer may still be listening, then
// closes the socket. Only the first call has any effect.
func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		wasClosed := c.closed.Swap(true)
		if !wasClosed {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		}
		_ = c.ws.Close()
	})
}
