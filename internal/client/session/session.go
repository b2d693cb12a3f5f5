// Package session owns a single logical websocket connection to the chat
// server: connect, reconnect and disconnect lifecycle, event emission and
// ordered event dispatch.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qiwen/lan-chat/internal/model/presence"
)

var (
	ErrConnectFailed = errors.New("connection handshake failed")
	ErrNotConnected  = errors.New("not connected")
	ErrClosed        = errors.New("session closed")
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	readIdleTimeout  = 90 * time.Second
	reconnectBase    = time.Second
	reconnectMax     = 30 * time.Second
)

// Status is published to subscribers on every connectivity transition.
// Reconnect distinguishes an automatic reconnection from the initial
// connect so dependent components can re-run their join logic.
type Status struct {
	Connected    bool
	Reconnect    bool
	ConnectionID string
}

// Handler receives the raw payload of one event, in transport delivery
// order.
type Handler func(data json.RawMessage)

// Session wraps one persistent connection. All methods are safe for
// concurrent use; event handlers run sequentially on a single dispatch
// goroutine and are never preempted by one another.
type Session struct {
	url    string
	dialer *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	connID     string
	connected  bool
	closed     bool
	connecting chan struct{} // non-nil while a connect attempt is in flight
	connectErr error
	handlers   map[string]Handler
	subs       []chan Status

	writeMu sync.Mutex
	done    chan struct{}
}

// New creates a session for the given websocket URL (ws://host:port/ws).
// No connection is made until Connect.
func New(url string) *Session {
	return &Session{
		url:      url,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
}

// Connect establishes the connection and returns the server-assigned
// connection id. It is idempotent: when already connected it returns the
// current id, and a call made while another Connect is in flight waits
// for that attempt instead of opening a second transport.
func (s *Session) Connect(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return "", ErrClosed
		}
		if s.connected {
			id := s.connID
			s.mu.Unlock()
			return id, nil
		}
		if waiting := s.connecting; waiting != nil {
			s.mu.Unlock()
			select {
			case <-waiting:
			case <-ctx.Done():
				return "", ctx.Err()
			}
			// Re-read the settled result.
			s.mu.Lock()
			id, err := s.connID, s.connectErr
			connected := s.connected
			s.mu.Unlock()
			if connected {
				return id, nil
			}
			if err != nil {
				return "", err
			}
			continue
		}
		waiting := make(chan struct{})
		s.connecting = waiting
		s.mu.Unlock()

		id, err := s.establish(ctx, false)

		s.mu.Lock()
		s.connecting = nil
		s.connectErr = err
		s.mu.Unlock()
		close(waiting)

		return id, err
	}
}

// establish dials, waits for the welcome frame, and on success installs
// the connection and notifies subscribers.
func (s *Session) establish(ctx context.Context, reconnect bool) (string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-dialCtx.Done():
		}
	}()

	conn, _, err := s.dialer.DialContext(dialCtx, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	id, err := readWelcome(conn)
	if err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return "", ErrClosed
	}
	if s.connected {
		// Another attempt won the race; keep the established transport.
		id := s.connID
		s.mu.Unlock()
		_ = conn.Close()
		return id, nil
	}
	s.conn = conn
	s.connID = id
	s.connected = true
	s.mu.Unlock()

	go s.readLoop(conn)
	s.notify(Status{Connected: true, Reconnect: reconnect, ConnectionID: id})
	return id, nil
}

// readWelcome blocks for the first frame, which must carry the
// connection id.
func readWelcome(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("awaiting welcome: %w", err)
	}

	var env presence.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", fmt.Errorf("decode welcome: %w", err)
	}
	if env.Type != presence.EventWelcome {
		return "", fmt.Errorf("expected %s frame, got %q", presence.EventWelcome, env.Type)
	}

	var welcome presence.Welcome
	if err := json.Unmarshal(env.Data, &welcome); err != nil {
		return "", fmt.Errorf("decode welcome payload: %w", err)
	}
	if welcome.ConnectionID == "" {
		return "", errors.New("welcome carried no connection id")
	}
	return welcome.ConnectionID, nil
}

// readLoop dispatches inbound events in arrival order until the
// connection drops, then hands off to the reconnect loop.
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			s.handleDrop(conn, err)
			return
		}

		var env presence.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			log.Printf("[session] invalid frame: %v", err)
			continue
		}
		if env.Type == presence.EventWelcome {
			continue
		}

		s.mu.Lock()
		handler := s.handlers[env.Type]
		s.mu.Unlock()
		if handler != nil {
			handler(env.Data)
		}
	}
}

func (s *Session) handleDrop(conn *websocket.Conn, err error) {
	_ = conn.Close()

	s.mu.Lock()
	// A stale loop for an already-replaced connection has nothing to do.
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.connected = false
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}

	log.Printf("[session] connection dropped: %v", err)
	s.notify(Status{Connected: false})
	go s.reconnectLoop()
}

// reconnectLoop redials with capped backoff until it succeeds or the
// session is closed. Each success yields a fresh connection id.
func (s *Session) reconnectLoop() {
	delay := reconnectBase
	for attempt := 1; ; attempt++ {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		if _, err := s.establish(context.Background(), true); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			log.Printf("[session] reconnect attempt %d failed: %v", attempt, err)
			delay *= 2
			if delay > reconnectMax {
				delay = reconnectMax
			}
			continue
		}
		return
	}
}

// Emit sends one event to the server. Concurrent emits are serialized in
// call order.
func (s *Session) Emit(event string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.connected
	s.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	env, err := presence.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// On registers the handler for an event, replacing any previous one.
func (s *Session) On(event string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = handler
}

// Off removes the handler for an event.
func (s *Session) Off(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, event)
}

// Subscribe returns a channel of connectivity transitions. Slow
// subscribers miss intermediate transitions rather than blocking the
// session.
func (s *Session) Subscribe() <-chan Status {
	ch := make(chan Status, 8)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch
	}
	s.subs = append(s.subs, ch)
	return ch
}

func (s *Session) notify(status Status) {
	s.mu.Lock()
	subs := make([]chan Status, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- status:
		default:
		}
	}
}

// ConnectionID returns the current id, or "" when disconnected.
func (s *Session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ""
	}
	return s.connID
}

// Connected reports current connectivity.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect tears the session down: it stops reconnection, unregisters
// every handler, closes subscriber channels and the transport. Calling
// it on a never-connected or already-closed session is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.handlers = make(map[string]Handler)
	subs := s.subs
	s.subs = nil
	close(s.done)
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	for _, ch := range subs {
		close(ch)
	}
}
