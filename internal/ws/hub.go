package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cardscan/internal/pipeline"
)

const writeWait = 10 * time.Second

// Client pairs a connection with a write lock. gorilla/websocket allows
// only one concurrent writer per connection, and three paths write to the
// same one: the connect-time snapshot, the broadcast loop, and the ping
// ticker. Every write must go through Client.write.
type Client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *Client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// StateHub manages WebSocket connections receiving scanner state updates.
type StateHub struct {
	clients map[*websocket.Conn]*Client
	mu      sync.RWMutex
}

// NewStateHub creates an empty hub.
func NewStateHub() *StateHub {
	return &StateHub{
		clients: make(map[*websocket.Conn]*Client),
	}
}

// Register adds a connection and returns its client handle.
func (h *StateHub) Register(conn *websocket.Conn) *Client {
	cl := &Client{id: uuid.NewString(), conn: conn}

	h.mu.Lock()
	h.clients[conn] = cl
	total := len(h.clients)
	h.mu.Unlock()

	fmt.Printf("[WS] Client %s registered (total: %d)\n", cl.id[:8], total)
	return cl
}

// Unregister removes a connection.
func (h *StateHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	cl, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()

	if ok {
		fmt.Printf("[WS] Client %s unregistered\n", cl.id[:8])
	}
}

// ClientCount returns the number of connected clients.
func (h *StateHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastState marshals the snapshot and sends it to every client.
func (h *StateHub) BroadcastState(snap pipeline.Snapshot) {
	if h.ClientCount() == 0 {
		return
	}

	data, err := json.Marshal(NewStatusMessage(snap))
	if err != nil {
		fmt.Printf("[WS] Error marshaling status message: %v\n", err)
		return
	}
	h.broadcast(data)
}

func (h *StateHub) broadcast(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.RUnlock()

	for _, cl := range clients {
		if err := cl.write(websocket.TextMessage, message); err != nil {
			fmt.Printf("[WS] Error sending to client: %v\n", err)
			h.Unregister(cl.conn)
			cl.conn.Close()
		}
	}
}

// Run pumps snapshots from the channel to all clients until it closes.
// The channel side drops updates when the pump lags, so slow clients
// never back-pressure the producer.
func (h *StateHub) Run(updates <-chan pipeline.Snapshot) {
	for snap := range updates {
		h.BroadcastState(snap)
	}
}
