package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event types pushed to connected users.
const (
	EventTaskStatusChanged       = "task_status_changed"
	EventAssignmentCreated       = "assignment_created"
	EventAssignmentStatusChanged = "assignment_status_changed"
)

// Client represents a single websocket client connection.
// The actual network conn is managed in the ws handler.
type Client interface {
	Send(message []byte) bool
	Close()
}

// Event is the JSON frame sent to clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Hub maintains active user connections and pushes events to them.
type Hub struct {
	mu              sync.RWMutex
	userIDToClients map[string]map[Client]struct{}
	log             *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		userIDToClients: make(map[string]map[Client]struct{}),
		log:             log,
	}
}

// Register adds a client under a user ID.
func (h *Hub) Register(userID string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.userIDToClients[userID]; !ok {
		h.userIDToClients[userID] = make(map[Client]struct{})
	}
	h.userIDToClients[userID][client] = struct{}{}
}

// Unregister removes a client; if user has no more clients, cleans up map.
func (h *Hub) Unregister(userID string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.userIDToClients[userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.userIDToClients, userID)
		}
	}
}

// Connected reports how many clients the user has open.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userIDToClients[userID])
}

// Broadcast sends a message to all clients of a user and returns how many
// accepted it. Failed clients are cleaned up by their handler.
func (h *Hub) Broadcast(userID string, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.userIDToClients[userID] {
		if c.Send(message) {
			sent++
		}
	}
	return sent
}

// Notify encodes an event and broadcasts it to the user.
func (h *Hub) Notify(userID, eventType string, data any) {
	if userID == "" {
		return
	}
	message, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		h.log.Error("failed to encode realtime event", "type", eventType, "error", err)
		return
	}
	h.Broadcast(userID, message)
}
