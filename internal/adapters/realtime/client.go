package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/okian/proctor/pkg/logger"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	readLimit      = 4096
	sendBufferSize = 64
)

// Client is one websocket connection following a session.
type Client struct {
	ID        string
	SessionID string
	JoinedAt  time.Time
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	logger    logger.Logger
}

// Serve upgrades the request and streams the session's notices until the
// peer goes away. It blocks for the lifetime of the connection.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	ctx := context.WithoutCancel(r.Context())
	c := &Client{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		JoinedAt:  time.Now(),
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		logger:    h.logger,
	}
	h.Register(ctx, c)
	go c.writePump()
	c.readPump(ctx)
	return nil
}

// readPump only services control frames; subscribers do not send data.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(ctx, c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
