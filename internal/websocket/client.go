package websocket

import (
	"sync"
	"time"

	"github.com/brayns/brayns_server/internal/auth"
	"github.com/brayns/brayns_server/internal/frame"
	"github.com/fasthttp/websocket"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	writeTimeout          = 10 * time.Second
	pongWait              = 60 * time.Second
	pingInterval          = 30 * time.Second
	defaultMaxMessageSize = 64 * 1024 * 1024 // 64MB
	sendBufferSize        = 256
)

// Client is one websocket connection. Replies and notifications go through Send.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	claims *auth.Claims
	send   chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, claims *auth.Claims) *Client {
	return &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		claims: claims,
		send:   make(chan []byte, sendBufferSize),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Subject() string {
	if c.claims == nil {
		return ""
	}
	return c.claims.Subject
}

// Send queues a JSON message. It returns false once the client is closed or when its buffer is full.
func (c *Client) Send(message interface{}) bool {
	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Str("clientId", c.id).Msg("[WS] Failed to encode message")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		log.Warn().Str("clientId", c.id).Msg("[WS] Client send buffer full, dropping message")
		return false
	}
}

func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

func (c *Client) ReadPump(readLimit int64) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if readLimit <= 0 {
		readLimit = defaultMaxMessageSize
	}
	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().Str("clientId", c.id).Err(err).Msg("[WS] Read error")
			} else {
				log.Debug().Str("clientId", c.id).Msg("[WS] Client disconnected")
			}
			return
		}
		// Any traffic proves the peer is alive.
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		c.hub.Inbound(c, frame.FromMessage(messageType, data))
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Str("clientId", c.id).Err(err).Msg("[WS] Write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Str("clientId", c.id).Err(err).Msg("[WS] Ping error")
				return
			}
		}
	}
}
