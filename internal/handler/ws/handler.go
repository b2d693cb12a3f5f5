package ws

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/qiwen/lan-chat/internal/model/presence"
)

// Handler upgrades HTTP requests into hub-managed websocket sessions.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// New creates the websocket handler for the given hub.
func New(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// LAN deployment serves the app shell itself; cross-origin
			// checks happen in the CORS middleware for the HTTP API.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	c := newClient(uuid.NewString(), conn, h.hub)

	// The welcome frame must be the first thing the client reads: it
	// carries the connection id every later announce is keyed by.
	env, err := presence.NewEnvelope(presence.EventWelcome, presence.Welcome{ConnectionID: c.id})
	if err == nil {
		if frame, merr := json.Marshal(env); merr == nil {
			c.enqueue(frame)
		}
	}

	select {
	case h.hub.register <- c:
	case <-h.hub.ctx.Done():
		_ = conn.Close()
	}
}
