package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/arcade-progression/internal/domain"
)

// Message types
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeScoreSubmitted    = "score_submitted"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string        `json:"type"`
	Window    domain.Window `json:"window,omitempty"`
	Data      interface{}   `json:"data,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// LeaderboardUpdate carries the fresh first page of a window
type LeaderboardUpdate struct {
	Window  domain.Window             `json:"window"`
	Entries []domain.LeaderboardEntry `json:"entries"`
}

// Hub maintains the set of active clients and broadcasts messages.
// Leaderboard updates reach the clients subscribed to that window; score
// events reach every client.
type Hub struct {
	// Subscribed clients by window
	clients map[domain.Window]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	window domain.Window
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[domain.Window]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.window]; !ok {
				h.clients[req.window] = make(map[*Client]bool)
			}
			h.clients[req.window][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "window", req.window)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.window]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.window)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "window", req.window)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub and closes every client connection
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.allClients[client]; !ok {
		return
	}
	delete(h.allClients, client)
	for window, clients := range h.clients {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.clients, window)
			}
		}
	}
	close(client.send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.allClients {
		client.conn.Close()
	}
	h.allClients = make(map[*Client]bool)
	h.clients = make(map[domain.Window]map[*Client]bool)
}

// broadcastMessage sends a message to its audience without blocking on
// slow clients
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	audience := h.allClients
	if message.Window != "" {
		audience = h.clients[message.Window]
	}
	for client := range audience {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id, "type", message.Type)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type)
	}
}

// LeaderboardUpdated sends the fresh page of a window to its subscribers
func (h *Hub) LeaderboardUpdated(window domain.Window, entries []domain.LeaderboardEntry) {
	h.enqueue(&Message{
		Type:      MessageTypeLeaderboardUpdate,
		Window:    window,
		Data:      LeaderboardUpdate{Window: window, Entries: entries},
		Timestamp: h.now(),
	})
}

// ScoreSubmitted announces an accepted submission to every client
func (h *Hub) ScoreSubmitted(event domain.ScoreSubmittedEvent) {
	h.enqueue(&Message{
		Type:      MessageTypeScoreSubmitted,
		Data:      event,
		Timestamp: h.now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a window's updates
func (h *Hub) Subscribe(client *Client, window domain.Window) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, window: window}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a window's updates
func (h *Hub) Unsubscribe(client *Client, window domain.Window) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, window: window}:
	case <-h.ctx.Done():
	}
}

// SubscriberCount returns the number of subscribers of a window
func (h *Hub) SubscriberCount(window domain.Window) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[window])
}

// TotalConnections returns the total number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
