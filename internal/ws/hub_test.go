package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"uniconnect-chat/internal/models"
)

func TestHubJoinAndLeave(t *testing.T) {
	hub := NewHub()

	hub.Register(nil, ConnInfo{ConnID: "a"})
	hub.Join(1, nil)
	if len(hub.rooms) != 1 {
		t.Fatalf("expected room to be created")
	}

	hub.Leave(1, nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected room to be removed after last leave")
	}
}

func TestHubJoinWithoutRegisterIsNoop(t *testing.T) {
	hub := NewHub()

	hub.Join(1, nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected no room for an unregistered connection")
	}
}

func TestHubLeaveUnknownRoomIsNoop(t *testing.T) {
	hub := NewHub()

	hub.Register(nil, ConnInfo{ConnID: "a"})
	hub.Leave(42, nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected no rooms")
	}
}

func TestHubRemoveConnectionLeavesAllRooms(t *testing.T) {
	hub := NewHub()

	hub.Register(nil, ConnInfo{ConnID: "a"})
	hub.Join(1, nil)
	hub.Join(2, nil)
	if len(hub.rooms) != 2 {
		t.Fatalf("expected two rooms")
	}

	hub.RemoveConnection(nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected all rooms removed on teardown")
	}
	if len(hub.clients) != 0 {
		t.Fatalf("expected connection to be forgotten")
	}
}

func TestHubBroadcastWithoutSubscribers(t *testing.T) {
	hub := NewHub()

	// Must not panic or create a room.
	hub.Broadcast(99, models.Message{ID: 1, ConversationID: 99})
	if len(hub.rooms) != 0 {
		t.Fatalf("expected no room after broadcast to nobody")
	}
}

// dialTestHub spins up a ws endpoint that registers every upgraded
// connection with the hub and hands the server side back to the test.
func dialTestHub(t *testing.T, hub *Hub) (clientConn *websocket.Conn, serverConn *websocket.Conn, cleanup func()) {
	t.Helper()

	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn, ConnInfo{ConnID: newConnID(), UserID: 1, ConnectedAt: time.Now()})
		serverConns <- conn
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	server := <-serverConns
	return client, server, func() {
		client.Close()
		server.Close()
		srv.Close()
	}
}

func TestHubBroadcastDeliversToSubscribersOnly(t *testing.T) {
	hub := NewHub()

	subscriber, subServer, cleanup1 := dialTestHub(t, hub)
	defer cleanup1()
	bystander, _, cleanup2 := dialTestHub(t, hub)
	defer cleanup2()

	hub.Join(5, subServer)

	sent := models.Message{ID: 7, ConversationID: 5, Sender: 1, Content: "hi again"}
	hub.Broadcast(5, sent)

	require.NoError(t, subscriber.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := subscriber.ReadMessage()
	require.NoError(t, err)

	var event models.ChatEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	require.Equal(t, "message", event.Type)
	require.NotNil(t, event.Message)
	require.Equal(t, "hi again", event.Message.Content)
	require.Equal(t, 5, event.Message.ConversationID)

	// The registered-but-unsubscribed connection receives nothing.
	require.NoError(t, bystander.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err = bystander.ReadMessage()
	require.Error(t, err)
}

func TestHubBroadcastCleansUpDeadConnections(t *testing.T) {
	hub := NewHub()

	_, aliveServer, cleanup1 := dialTestHub(t, hub)
	defer cleanup1()
	_, deadServer, cleanup2 := dialTestHub(t, hub)
	defer cleanup2()

	hub.Join(9, aliveServer)
	hub.Join(9, deadServer)

	// Closing the server side makes the next write fail deterministically.
	deadServer.Close()

	hub.Broadcast(9, models.Message{ID: 1, ConversationID: 9, Content: "still here"})

	hub.mu.RLock()
	_, deadKnown := hub.clients[deadServer]
	rm, roomExists := hub.rooms[9]
	hub.mu.RUnlock()

	require.False(t, deadKnown, "dead connection should be forgotten")
	require.True(t, roomExists, "room with a live subscriber should survive")

	rm.mu.Lock()
	remaining := len(rm.clients)
	rm.mu.Unlock()
	require.Equal(t, 1, remaining)
}
