package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/brayns/brayns_server/internal/frame"
	"github.com/brayns/brayns_server/internal/rpc"
	"github.com/rs/zerolog/log"
)

const (
	defaultPollInterval = time.Second
	inboundBufferSize   = 256
)

// Dispatcher consumes the client traffic collected by the hub.
type Dispatcher interface {
	HandleFrame(clientID string, sender rpc.Sender, f frame.Frame)
	ClientConnected(clientID string)
	ClientDisconnected(clientID string)
	Poll() int
}

type inboundFrame struct {
	client *Client
	frame  frame.Frame
}

// Hub owns the connected clients. Frames of every client are handled in arrival order by the Run goroutine.
type Hub struct {
	dispatcher   Dispatcher
	pollInterval time.Duration

	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

func NewHub(dispatcher Dispatcher, pollInterval time.Duration) *Hub {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Hub{
		dispatcher:   dispatcher,
		pollInterval: pollInterval,
		clients:      make(map[string]*Client),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		inbound:      make(chan inboundFrame, inboundBufferSize),
		done:         make(chan struct{}),
	}
}

// Run dispatches until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pollInterval)
	defer func() {
		ticker.Stop()
		h.stop()
	}()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case in := <-h.inbound:
			if h.isRegistered(in.client) {
				h.dispatcher.HandleFrame(in.client.ID(), in.client, in.frame)
			}

		case <-ticker.C:
			h.dispatcher.Poll()

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		clients := make([]*Client, 0, len(h.clients))
		for id, client := range h.clients {
			clients = append(clients, client)
			delete(h.clients, id)
		}
		h.mu.Unlock()

		for _, client := range clients {
			client.close()
			h.dispatcher.ClientDisconnected(client.ID())
		}
		log.Info().Int("closedClients", len(clients)).Msg("[WS] Hub stopped")
	})
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID()] = client
	total := len(h.clients)
	h.mu.Unlock()

	h.dispatcher.ClientConnected(client.ID())

	log.Info().
		Str("clientId", client.ID()).
		Str("subject", client.Subject()).
		Int("totalClients", total).
		Msg("[WS] Client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID()]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID())
	total := len(h.clients)
	h.mu.Unlock()

	// Close first so replies of cancelled uploads are dropped.
	client.close()
	h.dispatcher.ClientDisconnected(client.ID())

	log.Info().
		Str("clientId", client.ID()).
		Int("totalClients", total).
		Msg("[WS] Client unregistered")
}

// Register returns false when the hub is stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		client.close()
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Inbound queues a frame read from client. Frames of one client are dispatched
// in arrival order while it is registered. Unregister travels on its own channel
// and may be handled before frames still queued, which are then dropped.
func (h *Hub) Inbound(client *Client, f frame.Frame) {
	select {
	case h.inbound <- inboundFrame{client: client, frame: f}:
	case <-h.done:
	}
}

func (h *Hub) isRegistered(client *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[client.ID()] == client
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
