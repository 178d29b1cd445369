package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 1 << 20
)

// conn is one viewer connection. Outbound frames go through a bounded
// queue drained by writeLoop, so a slow viewer never blocks the sender.
type conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, buffer int, logger *slog.Logger) *conn {
	id := uuid.NewString()
	return &conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, buffer),
		logger: logger.With("conn", id),
		done:   make(chan struct{}),
	}
}

// enqueue queues f for delivery. A full queue drops the frame.
func (c *conn) enqueue(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Warn("failed to encode frame", "type", f.Type, "error", err)
		return
	}
	c.enqueueRaw(data, f.Type)
}

func (c *conn) enqueueRaw(data []byte, typ string) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("send queue full, dropping frame", "type", typ)
	}
}

// close asks writeLoop to send a close frame and release the socket. Safe
// to call repeatedly.
func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writeLoop owns the socket's write side and closes the socket on exit,
// which also ends a blocked readLoop.
func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.ws.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// readLoop calls handle for each inbound message until the peer goes away.
func (c *conn) readLoop(handle func([]byte)) {
	c.ws.SetReadLimit(maxInboundSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		handle(data)
	}
}
