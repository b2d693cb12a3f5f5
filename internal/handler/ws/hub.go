package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/qiwen/lan-chat/internal/model/presence"
	presencesvc "github.com/qiwen/lan-chat/internal/service/presence"
)

// Hub owns every live websocket client and the roster they project. All
// roster mutations and broadcasts funnel through its run loop, so
// clients observe updates in a single consistent order.
type Hub struct {
	roster *presencesvc.Service

	mu      sync.RWMutex
	clients map[*client]bool

	register   chan *client
	unregister chan *client
	join       chan joinRequest
	broadcast  chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// joinRequest carries an announce from a reader goroutine into the run
// loop, which owns all roster mutation and fan-out.
type joinRequest struct {
	c *client
	p presence.Participant
}

// NewHub creates a hub bound to the given roster service. Call Run in
// its own goroutine before accepting connections.
func NewHub(roster *presencesvc.Service) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		roster:     roster,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		join:       make(chan joinRequest, 16),
		broadcast:  make(chan []byte, 16),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop: registration, cleanup and fan-out.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[ws] client %s connected (%d online)", c.id, total)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				c.writePump()
			}()
			go func() {
				defer h.wg.Done()
				c.readPump()
			}()

		case c := <-h.unregister:
			h.drop(c)
			// The closed connection leaves the roster and everyone else
			// hears about it.
			h.roster.Remove(c.id)
			h.broadcastRoster()

		case req := <-h.join:
			h.handleJoin(req.c, req.p)

		case frame := <-h.broadcast:
			h.fanOut(frame)
		}
	}
}

// handleJoin upserts the announced participant and pushes a fresh roster
// snapshot to every client, the announcer included. It runs only on the
// run loop, so it never races a client being dropped.
func (h *Hub) handleJoin(c *client, p presence.Participant) {
	// The hub's id for the connection is authoritative; a client cannot
	// announce under someone else's id.
	p.ConnectionID = c.id
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}

	h.roster.Upsert(p)
	log.Printf("[ws] %s announced as %q", c.id, p.DisplayName)
	h.broadcastRoster()
}

func (h *Hub) broadcastRoster() {
	env, err := presence.NewEnvelope(presence.EventUsersUpdate, h.roster.Snapshot())
	if err != nil {
		log.Printf("[ws] failed to encode roster: %v", err)
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		log.Printf("[ws] failed to encode roster frame: %v", err)
		return
	}
	h.fanOut(frame)
}

// fanOut delivers a frame to every live client. It runs only on the run
// loop: send channels are closed on that same goroutine, so a send can
// never race a close.
func (h *Hub) fanOut(frame []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- frame:
		default:
			// Slow consumer: drop it rather than stalling the hub.
			log.Printf("[ws] client %s send buffer full, dropping connection", c.id)
			h.drop(c)
			h.roster.Remove(c.id)
		}
	}
}

// drop removes the client from the set and closes its send channel,
// exactly once.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	log.Printf("[ws] client %s disconnected (%d online)", c.id, total)
}

// closeAll unregisters every client: closing the send channels lets idle
// write pumps exit immediately instead of waiting out a ping interval.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		_ = c.conn.Close()
	}
}

// Shutdown stops the run loop, closes every connection and waits for
// the pump goroutines to finish, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}
