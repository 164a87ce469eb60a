package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Identity is the authenticated principal behind a channel connection,
// extracted from the channel token by the upgrade handler.
type Identity struct {
	AccountID string
	Username  string
	AvatarID  string
}

// Client is one websocket connection attached to the hub. A connection may be
// joined to several dispute rooms; the role per room is cached at join time.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	accountID string
	username  string
	avatarID  string

	rooms map[int64]roomState
}

// NewClient wraps an upgraded websocket connection
func NewClient(hub *Hub, conn *websocket.Conn, id Identity) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 64),
		done:      make(chan struct{}),
		accountID: id.AccountID,
		username:  id.Username,
		avatarID:  id.AvatarID,
		rooms:     make(map[int64]roomState),
	}
}

// Serve runs the read and write pumps; it returns when the connection closes
func (c *Client) Serve() {
	go c.writePump()
	c.readPump()
}

// shutdown releases the write pump; safe to call from both the hub and the
// read pump.
func (c *Client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.S().Debugw("chat connection closed", "accountId", c.accountID, "error", err)
			}
			return
		}
		c.dispatch(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
