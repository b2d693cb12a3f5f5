package ws_test

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/qiwen/lan-chat/internal/handler/ws"
	presencemodel "github.com/qiwen/lan-chat/internal/model/presence"
	presencesvc "github.com/qiwen/lan-chat/internal/service/presence"
)

func startServer(t *testing.T) (string, *presencesvc.Service) {
	t.Helper()

	roster := presencesvc.NewService()
	hub := ws.NewHub(roster)
	go hub.Run()

	r := chi.NewRouter()
	ws.New(hub).RegisterRoutes(r)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		_ = hub.Shutdown(2 * time.Second)
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", roster
}

// dial connects and consumes the welcome frame, returning the conn and
// the assigned connection id.
func dial(t *testing.T, url string) (*websocket.Conn, string) {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	env := readEnvelope(t, conn)
	require.Equal(t, presencemodel.EventWelcome, env.Type)

	var welcome presencemodel.Welcome
	require.NoError(t, json.Unmarshal(env.Data, &welcome))
	require.NotEmpty(t, welcome.ConnectionID)
	return conn, welcome.ConnectionID
}

func readEnvelope(t *testing.T, conn *websocket.Conn) presencemodel.Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var env presencemodel.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

// waitForRoster reads frames until the next users:update and returns its
// payload.
func waitForRoster(t *testing.T, conn *websocket.Conn) []presencemodel.Participant {
	t.Helper()

	for i := 0; i < 10; i++ {
		env := readEnvelope(t, conn)
		if env.Type != presencemodel.EventUsersUpdate {
			continue
		}
		var roster []presencemodel.Participant
		require.NoError(t, json.Unmarshal(env.Data, &roster))
		return roster
	}
	t.Fatal("no users:update frame received")
	return nil
}

func sendJoin(t *testing.T, conn *websocket.Conn, p presencemodel.Participant) {
	t.Helper()

	env, err := presencemodel.NewEnvelope(presencemodel.EventUserJoin, p)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func TestWelcomeAssignsUniqueIDs(t *testing.T) {
	url, _ := startServer(t)

	_, id1 := dial(t, url)
	_, id2 := dial(t, url)

	require.NotEqual(t, id1, id2)
}

func TestJoinBroadcastsFullRoster(t *testing.T) {
	url, _ := startServer(t)

	conn1, id1 := dial(t, url)
	conn2, id2 := dial(t, url)

	sendJoin(t, conn1, presencemodel.Participant{ConnectionID: id1, DisplayName: "Ada", JoinedAt: time.Now().UTC()})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		roster := waitForRoster(t, conn)
		require.Len(t, roster, 1)
		require.Equal(t, id1, roster[0].ConnectionID)
		require.Equal(t, "Ada", roster[0].DisplayName)
	}

	sendJoin(t, conn2, presencemodel.Participant{ConnectionID: id2, DisplayName: "Linus", JoinedAt: time.Now().UTC()})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		roster := waitForRoster(t, conn)
		require.Len(t, roster, 2)
		require.Equal(t, id1, roster[0].ConnectionID)
		require.Equal(t, id2, roster[1].ConnectionID)
	}
}

func TestReJoinReplacesEntry(t *testing.T) {
	url, roster := startServer(t)

	conn, id := dial(t, url)

	sendJoin(t, conn, presencemodel.Participant{ConnectionID: id, DisplayName: "Ada"})
	first := waitForRoster(t, conn)
	require.Len(t, first, 1)

	sendJoin(t, conn, presencemodel.Participant{ConnectionID: id, DisplayName: "Ada-Renamed"})
	second := waitForRoster(t, conn)
	require.Len(t, second, 1)
	require.Equal(t, "Ada-Renamed", second[0].DisplayName)

	require.Equal(t, 1, roster.Len())
}

func TestServerIDIsAuthoritative(t *testing.T) {
	url, _ := startServer(t)

	conn, id := dial(t, url)

	// A client cannot announce under an id it was not welcomed with.
	sendJoin(t, conn, presencemodel.Participant{ConnectionID: "spoofed", DisplayName: "Eve"})

	roster := waitForRoster(t, conn)
	require.Len(t, roster, 1)
	require.Equal(t, id, roster[0].ConnectionID)
}

func TestDisconnectRemovesFromRosterAndBroadcasts(t *testing.T) {
	url, _ := startServer(t)

	conn1, id1 := dial(t, url)
	conn2, id2 := dial(t, url)

	sendJoin(t, conn1, presencemodel.Participant{ConnectionID: id1, DisplayName: "Ada"})
	waitForRoster(t, conn1)
	waitForRoster(t, conn2)

	sendJoin(t, conn2, presencemodel.Participant{ConnectionID: id2, DisplayName: "Linus"})
	waitForRoster(t, conn1)
	waitForRoster(t, conn2)

	require.NoError(t, conn1.Close())

	roster := waitForRoster(t, conn2)
	require.Len(t, roster, 1)
	require.Equal(t, id2, roster[0].ConnectionID)
}

// TestJoinDuringDisconnectChurn hammers the hub with concurrent joins
// and disconnects: a join broadcast racing a client teardown must never
// touch a closed send channel.
func TestJoinDuringDisconnectChurn(t *testing.T) {
	url, _ := startServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 8; j++ {
				conn, _, err := websocket.DefaultDialer.Dial(url, nil)
				if err != nil {
					continue
				}
				// Read the welcome, announce, then disconnect straight
				// away so broadcasts race teardowns.
				_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				_, frame, err := conn.ReadMessage()
				if err == nil {
					var env presencemodel.Envelope
					var welcome presencemodel.Welcome
					if json.Unmarshal(frame, &env) == nil && json.Unmarshal(env.Data, &welcome) == nil {
						join, _ := presencemodel.NewEnvelope(presencemodel.EventUserJoin, presencemodel.Participant{
							ConnectionID: welcome.ConnectionID,
							DisplayName:  fmt.Sprintf("churn-%d-%d", i, j),
						})
						_ = conn.WriteJSON(join)
					}
				}
				_ = conn.Close()
			}
		}(i)
	}
	wg.Wait()

	// The server must have survived the churn: a fresh client can still
	// join and gets a roster containing itself.
	conn, id := dial(t, url)
	sendJoin(t, conn, presencemodel.Participant{ConnectionID: id, DisplayName: "Survivor"})

	for attempt := 0; attempt < 5; attempt++ {
		roster := waitForRoster(t, conn)
		for _, p := range roster {
			if p.ConnectionID == id {
				return
			}
		}
	}
	t.Fatal("survivor never appeared in a roster broadcast")
}

func TestShutdownCompletesWithIdleClients(t *testing.T) {
	roster := presencesvc.NewService()
	hub := ws.NewHub(roster)
	go hub.Run()

	r := chi.NewRouter()
	ws.New(hub).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	// Idle clients: connected, never announcing, nothing queued.
	dial(t, url)
	dial(t, url)

	start := time.Now()
	require.NoError(t, hub.Shutdown(3*time.Second))
	require.Less(t, time.Since(start), 3*time.Second,
		"shutdown must not wait out a ping interval on idle clients")
}

func TestChatMessagePassThrough(t *testing.T) {
	url, _ := startServer(t)

	conn1, id1 := dial(t, url)
	conn2, id2 := dial(t, url)

	sendJoin(t, conn1, presencemodel.Participant{ConnectionID: id1, DisplayName: "Ada"})
	sendJoin(t, conn2, presencemodel.Participant{ConnectionID: id2, DisplayName: "Linus"})

	env, err := presencemodel.NewEnvelope(presencemodel.EventChatMessage, presencemodel.ChatMessage{
		ConnectionID: id1,
		DisplayName:  "Ada",
		Content:      "hello",
		SentAt:       time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, conn1.WriteJSON(env))

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		var got presencemodel.ChatMessage
		found := false
		for i := 0; i < 10 && !found; i++ {
			frame := readEnvelope(t, conn)
			if frame.Type == presencemodel.EventChatMessage {
				require.NoError(t, json.Unmarshal(frame.Data, &got))
				found = true
			}
		}
		require.True(t, found, "chat message not relayed")
		require.Equal(t, "hello", got.Content)
		require.Equal(t, id1, got.ConnectionID)
	}
}
