package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/parley/internal/stream"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	maxFrameSize = 64 * 1024
)

// Frame is one relayed websocket message, republished verbatim.
type Frame struct {
	Type int
	Data []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Any origin may connect, matching the CORS policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Relay upgrades to a websocket and relays every inbound frame to all
// connected peers, the sender included. Nothing is persisted.
func (h *Handler) Relay(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	pingPeriod := h.keepAlive
	if pingPeriod <= 0 || pingPeriod >= pongWait {
		pingPeriod = pongWait * 9 / 10
	}

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	relay := stream.NewRelay[Frame](h.relay, &wsConn{conn: conn, pingPeriod: pingPeriod}, stream.Options{
		KeepAlive: pingPeriod,
		Transport: "ws",
		Logger:    h.logger,
	})
	relay.Run(r.Context())
}

// wsConn adapts a gorilla connection to stream.Conn. Writes come from the
// forwarding loop only; Close may race it, which gorilla allows for
// control frames.
type wsConn struct {
	conn       *websocket.Conn
	pingPeriod time.Duration
	lastPing   time.Time
	closeOnce  sync.Once
}

func (c *wsConn) Send(ctx context.Context, f Frame) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(f.Type, f.Data); err != nil {
		return err
	}
	// A busy stream never goes idle, so pings are also due between messages.
	if time.Since(c.lastPing) >= c.pingPeriod {
		return c.KeepAlive(ctx)
	}
	return nil
}

func (c *wsConn) KeepAlive(ctx context.Context) error {
	c.lastPing = time.Now()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Lagged is a no-op: relay frames carry no structured diagnostics.
func (c *wsConn) Lagged(ctx context.Context, skipped uint64) error {
	return nil
}

func (c *wsConn) Receive(ctx context.Context) (Frame, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	return Frame{Type: mt, Data: data}, nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
