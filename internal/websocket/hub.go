package websocket

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub maintains the set of connected operator clients and broadcasts job
// progress events to the clients watching an account.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("👀 Operator connected (account %d)", client.AccountID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("👋 Operator disconnected (account %d)", client.AccountID)
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastAccount sends a message to every client watching the account.
// Clients with a full buffer are skipped; progress events are best-effort.
func (h *Hub) BroadcastAccount(accountID int64, message interface{}) {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.AccountID != accountID {
			continue
		}
		select {
		case client.send <- jsonMsg:
		default:
			// Buffer full or client dead
		}
	}
}
