package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-sync/internal/observability"
)

// Connection kinds.
const (
	KindChat          = "chat"
	KindNotifications = "notifications"
)

// Hub keeps track of open websocket sessions so they can be counted and shut
// down together.
type Hub struct {
	rooms map[string]map[*websocket.Conn]ConnInfo
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*websocket.Conn]ConnInfo)}
}

// Add registers a connection under kind and resource.
func (h *Hub) Add(kind, resourceID string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := roomKey(kind, resourceID)
	if _, ok := h.rooms[key]; !ok {
		h.rooms[key] = make(map[*websocket.Conn]ConnInfo)
	}
	h.rooms[key][conn] = info
}

// Remove unregisters a connection.
func (h *Hub) Remove(kind, resourceID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := roomKey(kind, resourceID)
	if conns, ok := h.rooms[key]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, key)
		}
	}
}

// Count returns the number of sessions open on a resource.
func (h *Hub) Count(kind, resourceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomKey(kind, resourceID)])
}

// CloseAll sends a going-away close frame to every session and closes it.
// Session loops observe the closed connection and tear down.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var conns []*websocket.Conn
	for _, room := range h.rooms {
		for conn := range room {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
	}
}

func (h *Hub) publishWSEvent(ctx context.Context, kind, resourceID string, info ConnInfo, event, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        kind,
			"resource_id": resourceID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, wsRoutingKey(kind), observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
	observability.IncWSEvent(kind, event)
}

func roomKey(kind, resourceID string) string {
	return kind + ":" + resourceID
}

func wsRoutingKey(kind string) string {
	if kind == KindNotifications {
		return "ws_events.notifications"
	}
	return "ws_events.chats"
}
