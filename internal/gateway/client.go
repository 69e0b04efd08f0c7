package gateway

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lobbyd/lobbyd/internal/config"
)

// Client wraps a single websocket connection. The read pump is the only
// reader and the write pump the only writer, so no additional locking is
// needed around the underlying connection.
type Client struct {
	id       string
	username string // from an optional session cookie, for logging only
	hub      *Hub
	conn     *websocket.Conn
	cfg      config.WebSocketConfig
	logger   *zap.Logger

	// send is the buffered outbound channel; the hub closes it when the
	// client is dropped, which terminates the write pump.
	send chan *Message
}

func newClient(id, username string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig, logger *zap.Logger) *Client {
	return &Client{
		id:       id,
		username: username,
		hub:      hub,
		conn:     conn,
		cfg:      cfg,
		logger:   logger,
		send:     make(chan *Message, cfg.SendBuffer),
	}
}

// ID returns the opaque connection id minted at upgrade time.
func (c *Client) ID() string {
	return c.id
}

// readPump pumps messages from the websocket to the hub. It runs in a
// per-connection goroutine and drops the client when the transport closes.
func (c *Client) readPump() {
	defer c.hub.drop(c)

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("reading client message",
					zap.String("conn_id", c.id),
					zap.Error(err),
				)
			}
			return
		}
		c.hub.dispatch(c, &msg)
	}
}

// writePump pumps messages from the send channel to the websocket and
// keeps the connection alive with periodic pings.
func (c *Client) writePump() {
	pingPeriod := c.cfg.PongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				// Hub dropped the client.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("writing client message",
					zap.String("conn_id", c.id),
					zap.String("type", msg.Type),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
