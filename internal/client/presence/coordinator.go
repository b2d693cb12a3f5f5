// Package presence keeps the client's announced identity in sync with
// the server roster across connects, reconnects and renames.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/qiwen/lan-chat/internal/client/identity"
	"github.com/qiwen/lan-chat/internal/client/session"
	"github.com/qiwen/lan-chat/internal/model/presence"
)

var ErrNotAnnounced = errors.New("identity not announced on current connection")

// Transport is the slice of the connection session the coordinator uses.
type Transport interface {
	Connect(ctx context.Context) (string, error)
	Emit(event string, payload any) error
	On(event string, handler session.Handler)
	Off(event string)
	Subscribe() <-chan session.Status
	Connected() bool
	ConnectionID() string
	Disconnect()
}

// Storage persists the local identity record. Failures are logged and
// never block presence traffic.
type Storage interface {
	Load() (presence.Participant, error)
	Save(presence.Participant) error
}

// Coordinator announces the local identity, tracks the roster broadcast
// by the server, and re-announces after every reconnect.
type Coordinator struct {
	transport Transport
	store     Storage

	mu     sync.Mutex
	self   presence.Participant
	online []presence.Participant

	updates  chan []presence.Participant
	messages chan presence.ChatMessage
	stopOnce sync.Once
}

// New creates a coordinator over the given transport and storage.
func New(transport Transport, store Storage) *Coordinator {
	return &Coordinator{
		transport: transport,
		store:     store,
		updates:   make(chan []presence.Participant, 1),
		messages:  make(chan presence.ChatMessage, 64),
	}
}

// Start resolves the display name, connects, and announces. Name
// resolution order: explicit argument, stored record, generated name.
func (c *Coordinator) Start(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		if record, err := c.store.Load(); err == nil && record.DisplayName != "" {
			name = record.DisplayName
			log.Printf("[presence] loaded identity %q from storage", name)
		} else {
			if err != nil {
				log.Printf("[presence] no stored identity: %v", err)
			}
			name = identity.RandomName()
			log.Printf("[presence] generated name %q", name)
		}
	}

	// The identity must exist before the connectivity watcher can fire:
	// a reconnect landing while Connect is still settling re-announces
	// whatever is here.
	c.mu.Lock()
	c.self = presence.Participant{
		DisplayName: name,
		JoinedAt:    time.Now().UTC(),
	}
	c.mu.Unlock()

	c.transport.On(presence.EventUsersUpdate, c.handleRoster)
	c.transport.On(presence.EventChatMessage, c.handleChat)
	go c.watchConnectivity(c.transport.Subscribe())

	connectionID, err := c.transport.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A reconnect may already have recorded a newer id than the one this
	// Connect call settled with; keep it.
	if c.self.ConnectionID == "" {
		c.self.ConnectionID = connectionID
	}
	c.announceLocked()
	return nil
}

// watchConnectivity re-runs the join logic whenever the transport
// reconnects under a new connection id.
func (c *Coordinator) watchConnectivity(statuses <-chan session.Status) {
	for status := range statuses {
		if !status.Connected || !status.Reconnect {
			continue
		}

		c.mu.Lock()
		// The id changed; the name and original join time survive.
		c.self.ConnectionID = status.ConnectionID
		name := c.self.DisplayName
		c.announceLocked()
		c.mu.Unlock()
		log.Printf("[presence] reconnected, re-announced as %q (%s)", name, status.ConnectionID)
	}
}

// announceLocked persists the identity and emits the join message. The
// persist runs first but is best-effort: its failure never blocks the
// announce.
func (c *Coordinator) announceLocked() {
	if err := c.store.Save(c.self); err != nil {
		log.Printf("[presence] failed to persist identity: %v", err)
	}
	if err := c.transport.Emit(presence.EventUserJoin, c.self); err != nil {
		log.Printf("[presence] failed to announce: %v", err)
	}
}

// handleRoster filters the local participant out of the broadcast before
// exposing it: a client never lists itself among "other online users".
func (c *Coordinator) handleRoster(data json.RawMessage) {
	var roster []presence.Participant
	if err := json.Unmarshal(data, &roster); err != nil {
		log.Printf("[presence] invalid roster payload: %v", err)
		return
	}

	c.mu.Lock()
	selfID := c.self.ConnectionID
	others := make([]presence.Participant, 0, len(roster))
	for _, p := range roster {
		if p.ConnectionID == selfID {
			continue
		}
		others = append(others, p)
	}
	c.online = others
	c.mu.Unlock()

	// Latest snapshot wins; a slow consumer only sees the newest.
	select {
	case <-c.updates:
	default:
	}
	c.updates <- others
}

func (c *Coordinator) handleChat(data json.RawMessage) {
	var msg presence.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[presence] invalid chat payload: %v", err)
		return
	}
	select {
	case c.messages <- msg:
	default:
		log.Printf("[presence] dropping chat message, consumer too slow")
	}
}

// Rename updates the display name. The new name is always persisted;
// the server is informed only while connected, otherwise the change
// rides along with the next announce.
func (c *Coordinator) Rename(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.self.DisplayName = name

	if err := c.store.Save(c.self); err != nil {
		log.Printf("[presence] failed to persist rename: %v", err)
	}
	if c.transport.Connected() {
		if err := c.transport.Emit(presence.EventUserJoin, c.self); err != nil {
			log.Printf("[presence] failed to announce rename: %v", err)
		}
	}
}

// SendMessage emits a chat message. It refuses to send before the
// identity has been announced on the current connection, so the server
// never attributes a message to a stale id.
func (c *Coordinator) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.self.ConnectionID == "" || c.self.ConnectionID != c.transport.ConnectionID() {
		return ErrNotAnnounced
	}

	return c.transport.Emit(presence.EventChatMessage, presence.ChatMessage{
		ConnectionID: c.self.ConnectionID,
		DisplayName:  c.self.DisplayName,
		Content:      text,
		SentAt:       time.Now().UTC(),
	})
}

// Self returns the current local identity.
func (c *Coordinator) Self() presence.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// OnlineUsers returns the latest self-filtered roster.
func (c *Coordinator) OnlineUsers() []presence.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]presence.Participant, len(c.online))
	copy(out, c.online)
	return out
}

// Updates delivers self-filtered roster snapshots as they arrive.
func (c *Coordinator) Updates() <-chan []presence.Participant {
	return c.updates
}

// Messages delivers broadcast chat messages.
func (c *Coordinator) Messages() <-chan presence.ChatMessage {
	return c.messages
}

// Stop tears down listeners and disconnects the transport. This is the
// terminal state: no further reconnection is attempted.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.transport.Off(presence.EventUsersUpdate)
		c.transport.Off(presence.EventChatMessage)
		c.transport.Disconnect()
	})
}
