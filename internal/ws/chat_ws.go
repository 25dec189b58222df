package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-sync/internal/auth"
	"chat-sync/internal/chatsync"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/push"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ChatSessionDeps are the collaborators shared by every chat session.
type ChatSessionDeps struct {
	Provider *auth.Provider
	Resolver *chatsync.Resolver
	Feed     chatsync.Feed
	Chats    chatsync.ReadMarker
	Messages chatsync.MessageWriter
	Blobs    chatsync.BlobStore
	Users    chatsync.UserDirectory
	Notifier *push.Notifier

	// AttachmentRoot confines the files send_image and send_audio may upload.
	AttachmentRoot string
}

// ChatWebSocketHandler hosts one chat session per websocket connection.
type ChatWebSocketHandler struct {
	hub  *Hub
	deps ChatSessionDeps
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(hub *Hub, deps ChatSessionDeps) *ChatWebSocketHandler {
	deps.Blobs = meteredBlobs{deps.Blobs}
	return &ChatWebSocketHandler{hub: hub, deps: deps}
}

// Handle authenticates the caller, resolves the chat of the user_ids
// participant set and upgrades into a live session on it.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	session := auth.NewSession(h.deps.Provider)
	if err := session.Restore(ctx, bearerToken(c.Request)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	user := session.CurrentUser()

	ids := participantIDs(c.Query("user_ids"))
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_ids is required"})
		return
	}
	if !contains(ids, user.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	chat, err := h.deps.Resolver.Resolve(ctx, ids)
	if err != nil {
		if errors.Is(err, chatsync.ErrEmptyParticipants) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Printf("ws resolve chat failed user_id=%s: %v", user.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve chat"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      user.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.Add(KindChat, chat.ID, conn, info)
	observability.IncWSActive(KindChat)
	h.hub.publishWSEvent(ctx, KindChat, chat.ID, info, "ws_connect", "")

	s := &chatSession{
		conn:    conn,
		hub:     h.hub,
		info:    info,
		session: session,
		deps:    h.deps,
		errs:    make(chan error, 8),
	}
	s.ctrl = chatsync.NewController(chatsync.Deps{
		Feed:     h.deps.Feed,
		Chats:    h.deps.Chats,
		Messages: h.deps.Messages,
		Blobs:    h.deps.Blobs,
		OnReadError: func(chatID, userID string, err error) {
			log.Printf("read receipt failed chat_id=%s user_id=%s: %v", chatID, userID, err)
			observability.IncReadReceiptFailure()
		},
	})

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go s.run(sessionCtx, cancel, chat)
}

type chatSession struct {
	conn    *websocket.Conn
	hub     *Hub
	info    ConnInfo
	session *auth.Session
	ctrl    *chatsync.Controller
	deps    ChatSessionDeps
	errs    chan error
}

func (s *chatSession) run(ctx context.Context, cancel context.CancelFunc, chat models.Chat) {
	var closeReason string
	defer func() {
		cancel()
		s.ctrl.Close()
		s.hub.Remove(KindChat, chat.ID, s.conn)
		observability.DecWSActive(KindChat)
		s.hub.publishWSEvent(context.Background(), KindChat, chat.ID, s.info, "ws_disconnect", closeReason)
		s.conn.Close()
	}()

	if err := s.ctrl.Attach(ctx, chat); err != nil {
		closeReason = err.Error()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteJSON(errorFrame(fmt.Errorf("subscribe: %w", err)))
		return
	}
	if user := s.session.CurrentUser(); user != nil {
		s.ctrl.MarkRead(user.UserID)
	}

	go s.writeLoop(ctx)
	closeReason = s.readLoop(ctx, chat.ID)
}

// writeLoop is the only writer of data frames on the connection.
func (s *chatSession) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		var out frame
		select {
		case <-ctx.Done():
			return
		case <-s.ctrl.Changes():
			out = stateFrame(s.ctrl.State())
		case err := <-s.errs:
			out = errorFrame(err)
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.conn.Close()
				return
			}
			continue
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(out); err != nil {
			log.Printf("websocket write error conn_id=%s: %v", s.info.ConnID, err)
			s.conn.Close()
			return
		}
	}
}

func (s *chatSession) readLoop(ctx context.Context, chatID string) string {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.hub.publishWSEvent(context.Background(), KindChat, chatID, s.info, "ws_error", err.Error())
			}
			return err.Error()
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.report(ctx, fmt.Errorf("invalid command: %w", err))
			continue
		}
		s.handle(ctx, cmd)
	}
}

func (s *chatSession) handle(ctx context.Context, cmd command) {
	switch cmd.Type {
	case CommandSendText:
		go s.send(ctx, models.TextPayload{Text: cmd.Text}, func(ctx context.Context, author models.User) error {
			return s.ctrl.SendText(ctx, cmd.Text, author)
		})
	case CommandSendImage:
		file, err := attachmentFile(s.deps.AttachmentRoot, cmd.Path)
		if err != nil {
			s.report(ctx, err)
			return
		}
		go s.send(ctx, models.ImagePayload{}, func(ctx context.Context, author models.User) error {
			return s.ctrl.SendImage(ctx, file, author)
		})
	case CommandSendAudio:
		file, err := attachmentFile(s.deps.AttachmentRoot, cmd.Path)
		if err != nil {
			s.report(ctx, err)
			return
		}
		go s.send(ctx, models.AudioPayload{}, func(ctx context.Context, author models.User) error {
			return s.ctrl.SendAudio(ctx, file, author)
		})
	case CommandMarkRead:
		if user := s.session.CurrentUser(); user != nil {
			s.ctrl.MarkRead(user.UserID)
		}
	default:
		s.report(ctx, fmt.Errorf("unknown command %q", cmd.Type))
	}
}

// send runs one send on behalf of the signed-in user and, once the write is
// acknowledged, marks it read for the author and notifies the other
// participants. The write outlives the connection. preview only needs the
// payload kind for attachments.
func (s *chatSession) send(ctx context.Context, preview models.Payload, op func(context.Context, models.User) error) {
	writeCtx := context.WithoutCancel(ctx)

	var author models.User
	if user := s.session.CurrentUser(); user != nil {
		author = *user
	}
	if err := op(writeCtx, author); err != nil {
		s.report(ctx, err)
		return
	}
	observability.IncMessageSent(string(preview.Kind()))
	s.ctrl.MarkRead(author.UserID)

	chat := s.ctrl.State().Chat
	if chat == nil {
		return
	}
	_ = observability.PublishEvent(writeCtx, observability.EventMessageSent, observability.EventEnvelope{
		EventType: "domain",
		EventName: observability.EventMessageSent,
		Payload: map[string]interface{}{
			"chat_id": chat.ID,
			"user_id": author.UserID,
			"kind":    preview.Kind(),
		},
	}, observability.BuildHeaders(s.info.RequestID, s.info.TraceID))

	if s.deps.Notifier == nil || s.deps.Users == nil {
		return
	}
	recipients, err := s.deps.Users.GetUsers(writeCtx, chat.UserIDs)
	if err != nil {
		log.Printf("push recipients lookup failed chat_id=%s: %v", chat.ID, err)
		return
	}
	msg := models.Message{ChatID: chat.ID, Author: author.Snapshot(), Payload: preview}
	observability.AddPushNotifications(s.deps.Notifier.NotifyMessage(writeCtx, *chat, msg, recipients))
}

func (s *chatSession) report(ctx context.Context, err error) {
	select {
	case s.errs <- err:
	case <-ctx.Done():
	}
}

// meteredBlobs counts attachment uploads.
type meteredBlobs struct {
	chatsync.BlobStore
}

func (m meteredBlobs) Upload(ctx context.Context, objectPath, localFile string) (string, error) {
	key, err := m.BlobStore.Upload(ctx, objectPath, localFile)
	observability.ObserveBlobUpload(err)
	return key, err
}
