package ws

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qiwen/lan-chat/internal/model/presence"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

// client is one live websocket connection, identified by the hub-assigned
// connection id it was welcomed with.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

func newClient(id string, conn *websocket.Conn, hub *Hub) *client {
	conn.SetReadLimit(maxMessageSize)
	return &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, 64),
		hub:  hub,
	}
}

// enqueue queues a frame for delivery, reporting whether there was room.
func (c *client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error from %s: %v", c.id, err)
			}
			return
		}
		c.dispatch(frame)
	}
}

// dispatch routes one inbound frame by envelope type.
func (c *client) dispatch(frame []byte) {
	var env presence.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		log.Printf("[ws] invalid frame from %s: %v", c.id, err)
		return
	}

	switch env.Type {
	case presence.EventUserJoin:
		var p presence.Participant
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Printf("[ws] invalid join payload from %s: %v", c.id, err)
			return
		}
		// Announces are handled on the hub run loop, never here.
		select {
		case c.hub.join <- joinRequest{c: c, p: p}:
		case <-c.hub.ctx.Done():
		}

	case presence.EventChatMessage:
		// Chat is a pass-through once presence is established: relay the
		// normalized frame to everyone.
		relay, err := json.Marshal(env)
		if err != nil {
			log.Printf("[ws] failed to normalize chat frame from %s: %v", c.id, err)
			return
		}
		select {
		case c.hub.broadcast <- relay:
		case <-c.hub.ctx.Done():
		}

	default:
		log.Printf("[ws] unknown event %q from %s", env.Type, c.id)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
