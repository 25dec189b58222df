package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/chatsync"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/push"
	"chat-sync/internal/telemetry"
)

// ChatHandler resolves chats for participant sets.
type ChatHandler struct {
	resolver *chatsync.Resolver
	audit    *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(resolver *chatsync.Resolver, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{resolver: resolver, audit: audit}
}

// ResolveChat finds or creates the chat of user_ids. The caller must be one
// of the participants.
func (h *ChatHandler) ResolveChat(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"user_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_ids is required"})
		return
	}
	h.resolve(c, req.UserIDs)
}

// OpenNotification resolves the chat a tapped push notification points at.
func (h *ChatHandler) OpenNotification(c *gin.Context) {
	var req struct {
		Data map[string]string `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ids, err := push.DeepLink(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": push.ErrInvalidDeepLink.Error()})
		return
	}
	h.resolve(c, ids)
}

func (h *ChatHandler) resolve(c *gin.Context, ids []string) {
	userID := c.GetString("userID")
	if !isParticipant(ids, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	chat, err := h.resolver.Resolve(c.Request.Context(), ids)
	if err != nil {
		if errors.Is(err, chatsync.ErrEmptyParticipants) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Printf("resolve chat failed user_id=%s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve chat"})
		return
	}

	requestID := requestIDFromContext(c)
	h.audit.Emit(c.Request.Context(), "INFO", "chat resolved chat_id="+chat.ID, requestID, &userID)
	_ = observability.PublishEvent(c.Request.Context(), observability.EventChatResolved, observability.EventEnvelope{
		EventType: "domain",
		EventName: observability.EventChatResolved,
		Payload:   gin.H{"chat_id": chat.ID, "user_ids": chat.UserIDs},
	}, observability.BuildHeaders(requestID, observability.TraceID(c.Request.Context())))

	c.JSON(http.StatusOK, chat)
}

func isParticipant(ids []string, userID string) bool {
	chat := models.Chat{UserIDs: ids}
	return chat.HasParticipant(userID)
}
