package chathub

import (
	"encoding/json"
	"fundchat/backend/internal/models"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192

	// SendBufferSize must hold a replayed history burst.
	SendBufferSize = 256
)

// WebSocketClient implements Client over a gorilla/websocket connection.
// UserID is the public key bound by the connection ticket.
type WebSocketClient struct {
	UserID string
	Conn   *websocket.Conn
	Hub    *ManagerService
	Send   chan models.FeedEvent
	Log    zerolog.Logger

	mu         sync.Mutex
	projectUID string
	closeOnce  sync.Once
}

func NewWebSocketClient(userID string, conn *websocket.Conn, hub *ManagerService, log zerolog.Logger) *WebSocketClient {
	return &WebSocketClient{
		UserID: userID,
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan models.FeedEvent, SendBufferSize),
		Log:    log.With().Str("user", userID).Logger(),
	}
}

func (c *WebSocketClient) GetUserID() string { return c.UserID }

func (c *WebSocketClient) GetProjectUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectUID
}

func (c *WebSocketClient) SetProjectUID(id string) {
	c.mu.Lock()
	c.projectUID = id
	c.mu.Unlock()
}

func (c *WebSocketClient) GetSendChannel() chan<- models.FeedEvent { return c.Send }

// Run starts the read and write pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes Send, which stops the write pump and the connection.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.Hub.UnregisterCh <- c:
		case <-c.Hub.Done():
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Log.Warn().Err(err).Msg("websocket read failed")
			}
			break
		}

		var cmd models.ClientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.Log.Debug().Err(err).Msg("skipping undecodable command")
			continue
		}

		cmd.SenderID = c.UserID
		select {
		case c.Hub.IncomingCh <- cmd:
		case <-c.Hub.Done():
			return
		}
	}
}

// writePump writes feed events from Send to the connection, one JSON
// document per line when several are batched into a frame.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			enc := json.NewEncoder(w)
			if err := enc.Encode(event); err != nil {
				c.Log.Error().Err(err).Msg("encoding feed event failed")
			}

			n := len(c.Send)
			for i := 0; i < n; i++ {
				next, ok := <-c.Send
				if !ok {
					break
				}
				if err := enc.Encode(next); err != nil {
					c.Log.Error().Err(err).Msg("encoding feed event failed")
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
