package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"uniconnect-chat/internal/models"
	"uniconnect-chat/internal/observability"
)

// client wraps a websocket connection together with its metadata and the
// set of conversation rooms it has joined. The write mutex keeps frames
// from interleaving when the connection subscribes to several
// conversations.
type client struct {
	conn  *websocket.Conn
	info  ConnInfo
	mu    sync.Mutex
	rooms map[int]struct{}
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// room is the subscriber set of one conversation. Each room carries its
// own mutex so broadcasts to unrelated conversations never contend; the
// hub lock only guards the room map and the per-connection index.
type room struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

// Hub maintains the live conversation rooms. Rooms exist only while they
// have subscribers: the first Join creates one, the last Leave tears it
// down. Membership here is a liveness overlay; who belongs to a
// conversation is decided by the store, not by the hub.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[int]*room
	clients map[*websocket.Conn]*client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[int]*room),
		clients: make(map[*websocket.Conn]*client),
	}
}

// Register makes a connection known to the hub. It must be called once
// after the upgrade, before any Join.
func (h *Hub) Register(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = &client{conn: conn, info: info, rooms: make(map[int]struct{})}
}

// Join subscribes a registered connection to a conversation room. Joining
// a room the connection is already in is a no-op.
func (h *Hub) Join(conversationID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cl, ok := h.clients[conn]
	if !ok {
		return
	}
	rm, ok := h.rooms[conversationID]
	if !ok {
		rm = &room{clients: make(map[*client]struct{})}
		h.rooms[conversationID] = rm
	}
	rm.mu.Lock()
	rm.clients[cl] = struct{}{}
	rm.mu.Unlock()
	cl.rooms[conversationID] = struct{}{}
}

// Leave unsubscribes a connection from a conversation room. Leaving a
// room the connection is not in is a no-op.
func (h *Hub) Leave(conversationID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cl, ok := h.clients[conn]
	if !ok {
		return
	}
	delete(cl.rooms, conversationID)
	h.dropFromRoom(conversationID, cl)
}

// RemoveConnection forgets a connection entirely, leaving every room it
// joined. Called on socket teardown so rooms never retain dead
// connections.
func (h *Hub) RemoveConnection(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cl, ok := h.clients[conn]
	if !ok {
		return
	}
	delete(h.clients, conn)
	for conversationID := range cl.rooms {
		h.dropFromRoom(conversationID, cl)
	}
}

// dropFromRoom removes the client from a room and deletes the room when it
// empties. Caller holds h.mu.
func (h *Hub) dropFromRoom(conversationID int, cl *client) {
	rm, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	rm.mu.Lock()
	delete(rm.clients, cl)
	empty := len(rm.clients) == 0
	rm.mu.Unlock()
	if empty {
		delete(h.rooms, conversationID)
	}
}

// Broadcast fans a stored message out to every current subscriber of its
// conversation. Publishing to a conversation nobody is watching is a
// silent no-op. A connection that fails the write is closed and removed
// from every room; delivery to the remaining subscribers continues.
func (h *Hub) Broadcast(conversationID int, msg models.Message) {
	h.mu.RLock()
	rm, ok := h.rooms[conversationID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	event := models.ChatEvent{Type: "message", Message: &msg}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	type failedWrite struct {
		cl  *client
		err error
	}

	// The room lock is held for the whole fan-out so messages on the same
	// conversation reach each subscriber in publish order.
	rm.mu.Lock()
	var failed []failedWrite
	for cl := range rm.clients {
		if err := cl.write(payload); err != nil {
			log.Printf("websocket write error: %v", err)
			failed = append(failed, failedWrite{cl: cl, err: err})
		}
	}
	rm.mu.Unlock()

	for _, f := range failed {
		f.cl.conn.Close()
		h.RemoveConnection(f.cl.conn)
		h.publishWSError(conversationID, f.cl.info, f.err)
	}
}

// Send writes an event to a single registered connection, typically an
// error frame back to the frame's sender.
func (h *Hub) Send(conn *websocket.Conn, event models.ChatEvent) error {
	h.mu.RLock()
	cl, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return cl.write(payload)
}

func (h *Hub) publishWSError(conversationID int, info ConnInfo, cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"conversation_id": conversationID,
			"event":           "ws_error",
			"conn_id":         info.ConnID,
			"duration_ms":     time.Since(info.ConnectedAt).Milliseconds(),
			"reason":          reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.conversations", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("ws_error")
}
