package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cyclopcam/livetrack/server/session"
	"github.com/gorilla/websocket"
)

// Maximum size of one incoming frame message
const maxFrameMessageBytes = 16 * 1024 * 1024

// Maximum time to write one frame to the client before we consider the connection dead
const wsWriteTimeout = 10 * time.Second

type wsReadResult struct {
	frame session.Frame
	err   error
}

// wsConn adapts a gorilla websocket connection into a session.Transport.
// A reader goroutine posts incoming messages to an unbuffered channel, so at
// most one frame is read ahead of the session loop.
// Text messages carry base64 JPEG, and binary messages carry raw JPEG.
type wsConn struct {
	conn      *websocket.Conn
	incoming  chan wsReadResult
	closed    chan struct{}
	closeOnce sync.Once
	writeLock sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	conn.SetReadLimit(maxFrameMessageBytes)
	c := &wsConn{
		conn:     conn,
		incoming: make(chan wsReadResult),
		closed:   make(chan struct{}),
	}
	go c.reader()
	return c
}

// Read from the websocket and post to our own channel, so that ReadFrame can
// also watch its context.
func (c *wsConn) reader() {
	for {
		msgType, data, err := c.conn.ReadMessage()
		var res wsReadResult
		if err != nil {
			res.err = mapWebSocketError(err)
		} else {
			switch msgType {
			case websocket.TextMessage:
				res.frame = session.Frame{Data: data, Base64: true}
			case websocket.BinaryMessage:
				res.frame = session.Frame{Data: data}
			default:
				continue
			}
		}
		select {
		case c.incoming <- res:
		case <-c.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *wsConn) ReadFrame(ctx context.Context) (session.Frame, error) {
	select {
	case <-ctx.Done():
		return session.Frame{}, ctx.Err()
	case <-c.closed:
		return session.Frame{}, fmt.Errorf("%w: connection closed", session.ErrTransport)
	case res := <-c.incoming:
		return res.frame, res.err
	}
}

func (c *wsConn) WriteFrame(jpg []byte) error {
	return c.write(websocket.BinaryMessage, jpg)
}

func (c *wsConn) WriteText(msg []byte) error {
	return c.write(websocket.TextMessage, msg)
}

func (c *wsConn) write(msgType int, data []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(msgType, data); err != nil {
		return mapWebSocketError(err)
	}
	return nil
}

// Close sends a close message (best effort), and closes the underlying connection.
// The reader goroutine exits once the connection is closed.
func (c *wsConn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.writeLock.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeLock.Unlock()
		close(c.closed)
		c.conn.Close()
	})
}

// A close handshake from the client is a normal disconnect. Anything else is a transport failure.
func mapWebSocketError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return fmt.Errorf("%w: %w", session.ErrClientDisconnected, err)
	}
	return fmt.Errorf("%w: %w", session.ErrTransport, err)
}
