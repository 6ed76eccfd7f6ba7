package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"cardscan/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; the display client runs on a separate host.
		return true
	},
}

// Handler upgrades HTTP requests to WebSocket connections and registers
// them with the hub.
type Handler struct {
	hub      *StateHub
	snapshot func() pipeline.Snapshot
}

// NewHandler creates a WebSocket handler. snapshot provides the current
// scanner state, sent once to each client on connect.
func NewHandler(hub *StateHub, snapshot func() pipeline.Snapshot) *Handler {
	return &Handler{hub: hub, snapshot: snapshot}
}

// ServeHTTP handles WebSocket upgrade requests on /ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("[WS] Upgrade error: %v\n", err)
		return
	}

	fmt.Printf("[WS] New connection from %s\n", r.RemoteAddr)
	cl := h.hub.Register(conn)

	// Send the current state immediately so new clients don't wait for
	// the next inference to complete. Goes through the client write lock
	// since the broadcast loop may already be targeting this connection.
	if h.snapshot != nil {
		if data, err := json.Marshal(NewStatusMessage(h.snapshot())); err == nil {
			cl.write(websocket.TextMessage, data)
		}
	}

	go h.readPump(cl)
}

// readPump keeps the connection alive and detects client disconnection.
func (h *Handler) readPump(cl *Client) {
	defer func() {
		h.hub.Unregister(cl.conn)
		cl.conn.Close()
	}()

	cl.conn.SetReadLimit(512)
	cl.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for range ticker.C {
			if err := cl.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("[WS] Read error: %v\n", err)
			}
			break
		}
	}
}
