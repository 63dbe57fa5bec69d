package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lumentreeinfo/lumentree/pkg/log"
)

const (
	sendBuffer   = 16
	readLimit    = 64 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Conn is one websocket client.
type Conn struct {
	id   string
	ws   *websocket.Conn
	hub  *Hub
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id string, ws *websocket.Conn, h *Hub) *Conn {
	return &Conn{
		id:   id,
		ws:   ws,
		hub:  h,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// ID returns the connection's identifier.
func (c *Conn) ID() string {
	return c.id
}

// Send queues msg without blocking. It returns false if the buffer is full or
// the connection is closed.
func (c *Conn) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) readPump(ctx context.Context) {
	defer func() {
		c.hub.Remove(c)
		c.close()
	}()

	c.ws.SetReadLimit(readLimit)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Ctx(ctx).InfoContext(ctx, "websocket read closed", slog.Any("error", err))
			}
			return
		}
		// any frame from the client proves it is alive
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := decode(raw)
		if err != nil {
			c.hub.SendError(ctx, c, "", err)
			continue
		}
		if err := c.hub.Handle(ctx, c, msg); err != nil {
			log.Ctx(ctx).DebugContext(ctx, "failed to handle frame", slog.String("type", msg.Type), slog.Any("error", err))
			c.hub.SendError(ctx, c, msg.DeviceID, err)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.write(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

// ServeHTTP upgrades the request to a websocket and serves the client until
// it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		log.Ctx(r.Context()).WarnContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := newConn(uuid.NewString(), ws, h)
	ctx := log.WithAttrs(context.WithoutCancel(r.Context()), slog.String("clientId", c.id))
	h.Register(c)
	log.Ctx(ctx).DebugContext(ctx, "websocket connected")

	go c.writePump()
	c.readPump(ctx)
}
