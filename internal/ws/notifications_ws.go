package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chat-sync/internal/auth"
	"chat-sync/internal/observability"
	"chat-sync/internal/push"
)

// Inbox delivers a user's push notifications.
type Inbox interface {
	Listen(ctx context.Context, userID string, handle func(push.Notification)) error
}

// NotificationWebSocketHandler streams the caller's push deliveries.
type NotificationWebSocketHandler struct {
	hub      *Hub
	provider *auth.Provider
	inbox    Inbox
}

// NewNotificationWebSocketHandler constructs a NotificationWebSocketHandler.
// A nil inbox disables the endpoint.
func NewNotificationWebSocketHandler(hub *Hub, provider *auth.Provider, inbox Inbox) *NotificationWebSocketHandler {
	return &NotificationWebSocketHandler{hub: hub, provider: provider, inbox: inbox}
}

// Handle upgrades the connection and forwards every delivery as a
// notification frame carrying the decoded participant list.
func (h *NotificationWebSocketHandler) Handle(c *gin.Context) {
	if h.inbox == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push delivery not configured"})
		return
	}
	userID, err := h.provider.ParseToken(bearerToken(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		ConnectedAt: time.Now(),
	}
	h.hub.Add(KindNotifications, userID, conn, info)
	observability.IncWSActive(KindNotifications)
	h.hub.publishWSEvent(c.Request.Context(), KindNotifications, userID, info, "ws_connect", "")

	ctx, cancel := context.WithCancel(context.Background())
	deliveries := make(chan push.Notification, 16)

	go func() {
		defer cancel()
		if err := h.inbox.Listen(ctx, userID, func(n push.Notification) {
			select {
			case deliveries <- n:
			case <-ctx.Done():
			}
		}); err != nil {
			log.Printf("push inbox failed user_id=%s: %v", userID, err)
		}
	}()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.hub.publishWSEvent(context.Background(), KindNotifications, userID, info, "ws_error", err.Error())
				}
				return
			}
		}
	}()

	go func() {
		defer func() {
			h.hub.Remove(KindNotifications, userID, conn)
			observability.DecWSActive(KindNotifications)
			h.hub.publishWSEvent(context.Background(), KindNotifications, userID, info, "ws_disconnect", "")
			conn.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-deliveries:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(notificationFrame(n)); err != nil {
					cancel()
					return
				}
			}
		}
	}()
}
