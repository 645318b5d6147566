package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	defaultSendBuffer = 64
)

// Connection wraps a single live websocket transport. It is owned by exactly
// one session: the read loop runs on the serving goroutine, a dedicated
// writer drains the bounded send queue, and close happens exactly once no
// matter which side fails first.
type Connection struct {
	id     string
	userID string

	hub    *Hub
	socket *websocket.Conn
	send   chan []byte
	once   sync.Once

	log *zap.Logger
}

func newConnection(hub *Hub, socket *websocket.Conn, userID string, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = defaultSendBuffer
	}
	id := uuid.NewString()
	return &Connection{
		id:     id,
		userID: userID,
		hub:    hub,
		socket: socket,
		send:   make(chan []byte, bufferSize),
		log:    hub.log.With(zap.String("user_id", userID), zap.String("connection_id", id)),
	}
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string { return c.id }

// UserID returns the authenticated owner of this connection.
func (c *Connection) UserID() string { return c.userID }

// enqueue places a pre-serialised payload on the outbound queue without
// blocking. It reports false when the queue is full or the connection is
// already closed; the caller decides what a rejected send means.
func (c *Connection) enqueue(payload []byte) (ok bool) {
	defer func() {
		// send on a closed channel during shutdown races is not an error,
		// just a rejected enqueue
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// enqueueEnvelope marshals and enqueues an envelope destined for this
// connection only (acknowledgments and pong replies).
func (c *Connection) enqueueEnvelope(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		c.log.Error("marshal envelope", zap.Error(err))
		return
	}
	if !c.enqueue(payload) {
		c.log.Warn("send queue full, dropping envelope", zap.String("type", env.EnvelopeType()))
	}
}

// readLoop consumes inbound control frames until the transport errors or the
// peer disconnects. Unrecognised frames are ignored.
func (c *Connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("unexpected close", zap.Error(err))
			}
			return
		}

		if len(payload) == 0 {
			continue
		}

		var frame controlFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.log.Debug("invalid control payload", zap.Error(err))
			continue
		}

		switch frame.Type {
		case controlPing:
			c.enqueueEnvelope(NewPong(c.hub.now()))
		case controlUserTyping:
			if frame.TaskID != "" {
				c.hub.broadcaster.BroadcastTyping(context.Background(), frame.TaskID, c.userID)
			}
		default:
			// Unknown control types are ignored for forward compatibility.
			c.log.Debug("ignoring control frame", zap.String("type", frame.Type))
		}
	}
}

// writeLoop drains the send queue onto the socket and keeps the peer alive
// with protocol pings. Any write failure tears the connection down.
func (c *Connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close deregisters from the registry and releases the transport. Guarded by
// sync.Once: every exit path (read error, write error, backpressure kill)
// funnels through here exactly once.
func (c *Connection) close() {
	c.once.Do(func() {
		c.hub.registry.Deregister(c.userID, c)
		close(c.send)
		_ = c.socket.Close()
	})
}
