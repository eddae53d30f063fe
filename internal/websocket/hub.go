package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"FleetRiskAPI/internal/logger"
)

// Message types pushed to dashboard clients.
const (
	TypeAlertNotification = "alert_notification"
	TypeAlertResolved     = "alert_resolved"
	TypePrediction        = "prediction"
)

var ErrUserOffline = errors.New("user has no open websocket session")

// Message defines the generic structure for WS communication
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	log        *logger.Logger
	mu         sync.RWMutex
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub logic in a goroutine. It listens for context cancellation for clean shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("WebSocket Hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.log.Info("WebSocket Hub shutting down...")
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("WS client connected (user=%s). Total: %d", client.userID, total)
		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) enqueue(ch chan *Client, client *Client) bool {
	select {
	case ch <- client:
		return true
	case <-h.done:
		return false
	}
}

// drop must be called with mu held.
func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Broadcast queues a message for every connected client. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	select {
	case h.broadcast <- Message{Type: msgType, Payload: payload}:
	default:
		h.log.Warn("WS broadcast queue full, dropping %s message", msgType)
	}
}

// SendToUser delivers to every session of userID. It fails when the user has
// no session or every session's buffer is full.
func (h *Hub) SendToUser(userID, msgType string, payload interface{}) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg := Message{Type: msgType, Payload: payload}
	sessions, delivered := 0, 0
	for client := range h.clients {
		if client.userID != userID {
			continue
		}
		sessions++
		select {
		case client.send <- msg:
			delivered++
		default:
		}
	}

	if sessions == 0 {
		return fmt.Errorf("%w: %s", ErrUserOffline, userID)
	}
	if delivered == 0 {
		return fmt.Errorf("all %d session(s) of user %s are saturated", sessions, userID)
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
