package ws

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"uniconnect-chat/internal/mocks"
	"uniconnect-chat/internal/models"
)

// stubValidator treats the token itself as the user id.
type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (int, error) {
	userID, err := strconv.Atoi(token)
	if err != nil {
		return 0, errors.New("invalid token")
	}
	return userID, nil
}

func startSocketServer(t *testing.T, handler *ChatSocketHandler) (*httptest.Server, func(userID int) *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/chat", handler.Handle)
	srv := httptest.NewServer(r)

	dial := func(userID int) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?token=" + strconv.Itoa(userID)
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		return conn
	}
	return srv, dial
}

func readEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) models.ChatEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var event models.ChatEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	return event
}

func TestSocketJoinThenSendDeliversOnce(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	hub := NewHub()
	handler := NewChatSocketHandler(hub, convRepo, messageRepo, stubValidator{})

	srv, dial := startSocketServer(t, handler)
	defer srv.Close()

	conv := models.Conversation{ID: 5, User1ID: 1, User2ID: 2}
	convRepo.On("GetConversation", mock.Anything, 5).Return(conv, nil)
	messageRepo.On("CreateMessage", mock.Anything, 5, 1, "hi again", ([]models.NewAttachment)(nil)).
		Return(models.Message{ID: 9, ConversationID: 5, Sender: 1, Content: "hi again"}, nil).Once()

	receiver := dial(2)
	defer receiver.Close()
	require.NoError(t, receiver.WriteJSON(map[string]any{"type": "join", "conversationId": 5}))

	// Wait for the join frame to land before publishing.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		_, ok := hub.rooms[5]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	sender := dial(1)
	defer sender.Close()
	require.NoError(t, sender.WriteJSON(map[string]any{"type": "send", "conversationId": 5, "message": "hi again"}))

	event := readEvent(t, receiver, 2*time.Second)
	require.Equal(t, "message", event.Type)
	require.NotNil(t, event.Message)
	require.Equal(t, "hi again", event.Message.Content)
	require.Equal(t, 1, event.Message.Sender)

	// Exactly once: nothing else arrives.
	require.NoError(t, receiver.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := receiver.ReadMessage()
	require.Error(t, err)

	// The sender never joined the room and receives nothing either.
	require.NoError(t, sender.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err = sender.ReadMessage()
	require.Error(t, err)

	messageRepo.AssertExpectations(t)
}

func TestSocketJoinRejectsNonParticipant(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	hub := NewHub()
	handler := NewChatSocketHandler(hub, convRepo, new(mocks.MessageRepositoryMock), stubValidator{})

	srv, dial := startSocketServer(t, handler)
	defer srv.Close()

	convRepo.On("GetConversation", mock.Anything, 5).Return(models.Conversation{ID: 5, User1ID: 1, User2ID: 2}, nil)

	outsider := dial(3)
	defer outsider.Close()
	require.NoError(t, outsider.WriteJSON(map[string]any{"type": "join", "conversationId": 5}))

	event := readEvent(t, outsider, 2*time.Second)
	require.Equal(t, "error", event.Type)
	require.Equal(t, "not a conversation participant", event.Error)

	hub.mu.RLock()
	_, joined := hub.rooms[5]
	hub.mu.RUnlock()
	require.False(t, joined)
}

func TestSocketRejectsBadToken(t *testing.T) {
	handler := NewChatSocketHandler(NewHub(), new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), stubValidator{})

	srv, _ := startSocketServer(t, handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?token=nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 401, resp.StatusCode)
}

func TestSocketDisconnectLeavesRooms(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	hub := NewHub()
	handler := NewChatSocketHandler(hub, convRepo, new(mocks.MessageRepositoryMock), stubValidator{})

	srv, dial := startSocketServer(t, handler)
	defer srv.Close()

	convRepo.On("GetConversation", mock.Anything, 5).Return(models.Conversation{ID: 5, User1ID: 1, User2ID: 2}, nil)

	conn := dial(2)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "join", "conversationId": 5}))

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		_, ok := hub.rooms[5]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.rooms) == 0 && len(hub.clients) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Publishing after the teardown is a silent no-op.
	hub.Broadcast(5, models.Message{ID: 1, ConversationID: 5, Content: "late"})
}
