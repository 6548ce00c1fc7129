package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"uniconnect-chat/internal/models"
	"uniconnect-chat/internal/observability"
	"uniconnect-chat/internal/repositories"
)

// tokenValidator is the slice of the auth middleware the socket handler
// needs to authenticate the handshake.
type tokenValidator interface {
	ValidateToken(token string) (int, error)
}

// ChatSocketHandler owns the live chat socket. One connection serves all of
// a client's conversations: after the handshake the client drives the hub
// with join/leave/send frames.
type ChatSocketHandler struct {
	hub         *Hub
	convRepo    repositories.ConversationRepository
	messageRepo repositories.MessageRepository
	auth        tokenValidator
}

// NewChatSocketHandler constructs a ChatSocketHandler.
func NewChatSocketHandler(hub *Hub, convRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, auth tokenValidator) *ChatSocketHandler {
	return &ChatSocketHandler{hub: hub, convRepo: convRepo, messageRepo: messageRepo, auth: auth}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is what the browser sends over the socket.
type clientFrame struct {
	Type           string `json:"type"`
	ConversationID int    `json:"conversationId"`
	Content        string `json:"message"`
}

// Handle upgrades the connection, registers it with the hub and runs the
// frame loop until the socket closes.
func (h *ChatSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("uniconnect-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.validateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	h.hub.Register(conn, info)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(context.Background(), "ws_events.conversations", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload:   wsEventPayload("ws_connect", 0, info, ""),
	}, observability.BuildHeaders(requestID, traceID))

	go h.readLoop(conn, info)
}

func (h *ChatSocketHandler) readLoop(conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.RemoveConnection(conn)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		_ = observability.PublishEvent(context.Background(), "ws_events.conversations", observability.EventEnvelope{
			EventType: "ws_events",
			EventName: "ws_disconnect",
			Payload:   wsEventPayload("ws_disconnect", 0, info, closeReason),
		}, observability.BuildHeaders(info.RequestID, info.TraceID))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				_ = observability.PublishEvent(context.Background(), "ws_events.conversations", observability.EventEnvelope{
					EventType: "ws_events",
					EventName: "ws_error",
					Payload:   wsEventPayload("ws_error", 0, info, closeReason),
				}, observability.BuildHeaders(info.RequestID, info.TraceID))
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(conn, "malformed frame")
			continue
		}
		h.dispatch(conn, info, frame)
	}
}

func (h *ChatSocketHandler) dispatch(conn *websocket.Conn, info ConnInfo, frame clientFrame) {
	ctx := context.Background()

	switch frame.Type {
	case "join":
		if !h.authorize(ctx, conn, frame.ConversationID, info.UserID) {
			return
		}
		h.hub.Join(frame.ConversationID, conn)
	case "leave":
		h.hub.Leave(frame.ConversationID, conn)
	case "send":
		if !h.authorize(ctx, conn, frame.ConversationID, info.UserID) {
			return
		}
		msg, err := h.messageRepo.CreateMessage(ctx, frame.ConversationID, info.UserID, frame.Content, nil)
		if err != nil {
			switch {
			case errors.Is(err, repositories.ErrEmptyMessage):
				h.sendError(conn, "empty message")
			case errors.Is(err, repositories.ErrConversationNotFound):
				h.sendError(conn, "conversation not found")
			default:
				h.sendError(conn, "failed to store message")
			}
			return
		}
		observability.IncMessageStored()
		// Broadcast only after the commit so a client reacting to the
		// event can immediately re-fetch a consistent message list.
		h.hub.Broadcast(frame.ConversationID, msg)
	default:
		h.sendError(conn, "unknown frame type")
	}
}

// authorize enforces the caller obligation the hub itself does not:
// only conversation participants may join or send.
func (h *ChatSocketHandler) authorize(ctx context.Context, conn *websocket.Conn, conversationID int, userID int) bool {
	conv, err := h.convRepo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			h.sendError(conn, "conversation not found")
		} else {
			h.sendError(conn, "failed to verify membership")
		}
		return false
	}
	if !conv.HasParticipant(userID) {
		h.sendError(conn, "not a conversation participant")
		return false
	}
	return true
}

func (h *ChatSocketHandler) sendError(conn *websocket.Conn, reason string) {
	_ = h.hub.Send(conn, models.ChatEvent{Type: "error", Error: reason})
}

func (h *ChatSocketHandler) validateToken(header string) (int, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return h.auth.ValidateToken(parts[1])
	}
	return 0, fmt.Errorf("invalid token")
}

func wsEventPayload(event string, conversationID int, info ConnInfo, reason string) map[string]interface{} {
	durationMS := int64(0)
	if event != "ws_connect" {
		durationMS = time.Since(info.ConnectedAt).Milliseconds()
	}
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"conversation_id": conversationID,
			"event":           event,
			"conn_id":         info.ConnID,
			"duration_ms":     durationMS,
			"reason":          reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
}
