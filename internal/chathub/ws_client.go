package chathub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"relaychat/backend/internal/config"
	"relaychat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// WebSocketClient implements Client over a gorilla/websocket connection.
type WebSocketClient struct {
	id     string
	userID string
	conn   *websocket.Conn
	hub    *ManagerService

	send      chan models.Envelope
	done      chan struct{}
	closeOnce sync.Once

	limiter *rate.Limiter
}

func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, userID string) *WebSocketClient {
	return &WebSocketClient{
		id:      uuid.NewString(),
		userID:  userID,
		conn:    conn,
		hub:     hub,
		send:    make(chan models.Envelope, hub.Config.SendBufferSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(hub.Config.EventRate, hub.Config.EventBurst),
	}
}

func (c *WebSocketClient) ID() string        { return c.id }
func (c *WebSocketClient) GetUserID() string { return c.userID }

// Send never closes or blocks on c.send; a closed client reports false.
func (c *WebSocketClient) Send(env models.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Run starts the pumps. It is called by the hub once the connection is
// registered, with the hub's own context.
func (c *WebSocketClient) Run(ctx context.Context) {
	go c.writePump()
	go c.readPump(ctx)
}

// Close stops the write pump, which closes the socket and ends the read pump.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *WebSocketClient) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.Config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WARNING: reading from %s (user %s): %v", c.id, c.userID, err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("INFO: undecodable frame from %s (user %s): %v", c.id, c.userID, err)
			c.hub.Dispatcher.Fail(c, models.Envelope{Event: "unknown"}, models.ErrInvalidPayload)
			continue
		}
		if !c.limiter.Allow() {
			c.hub.Dispatcher.Fail(c, env, ErrRateLimited)
			continue
		}
		c.hub.Dispatcher.Dispatch(ctx, c, env)
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.conn.WriteJSON(env); err != nil {
				log.Printf("WARNING: writing to %s (user %s): %v", c.id, c.userID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
