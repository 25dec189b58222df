package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/auth"
	"chat-sync/internal/chatsync"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/push"
	"chat-sync/internal/realtime"
)

type fakeLoader struct {
	chat models.Chat
}

func (f fakeLoader) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	return f.chat, nil
}

func (f fakeLoader) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	return nil, nil
}

type testFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	State *struct {
		Phase    string `json:"phase"`
		Sending  bool   `json:"sending"`
		Messages []struct {
			ID          string `json:"id"`
			Text        string `json:"text"`
			UnreadCount int    `json:"unread_count"`
		} `json:"messages"`
	} `json:"state"`
	Notification *struct {
		Title   string   `json:"title"`
		UserIDs []string `json:"user_ids"`
	} `json:"notification"`
}

type chatFixture struct {
	hub      *Hub
	feed     *realtime.Hub
	provider *auth.Provider
	users    *mocks.UserRepositoryMock
	chats    *mocks.ChatRepositoryMock
	messages *mocks.MessageRepositoryMock
	blobs    *mocks.BlobStoreMock
	root     string
	router   *gin.Engine
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := new(mocks.UserRepositoryMock)
	chats := new(mocks.ChatRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	provider := auth.NewProvider(users, "secret", time.Hour)

	chat := models.Chat{ID: "c1", UserIDs: []string{"u1", "u2"}, LastRead: map[string]time.Time{}}
	feed := realtime.NewHub(fakeLoader{chat: chat})
	t.Cleanup(feed.Close)

	blobs := new(mocks.BlobStoreMock)
	root := t.TempDir()

	hub := NewHub()
	handler := NewChatWebSocketHandler(hub, ChatSessionDeps{
		Provider: provider,
		Resolver: chatsync.NewResolver(chats, users),
		Feed:     feed,
		Chats:    chats,
		Messages: messages,
		Blobs:    blobs,
		Users:    users,
		Notifier: push.NewNotifier(new(mocks.PublisherMock)),

		AttachmentRoot: root,
	})
	router := gin.New()
	router.GET("/ws/chats", handler.Handle)

	return &chatFixture{
		hub:      hub,
		feed:     feed,
		provider: provider,
		users:    users,
		chats:    chats,
		messages: messages,
		blobs:    blobs,
		root:     root,
		router:   router,
	}
}

// readReceipts stores read receipts the way the backend does and echoes the
// chat document on the feed.
type readReceipts struct {
	mu       sync.Mutex
	feed     *realtime.Hub
	userIDs  []string
	lastRead map[string]time.Time
}

func (r *readReceipts) mark(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRead[userID] = time.Now()
	snapshot := make(map[string]time.Time, len(r.lastRead))
	for k, v := range r.lastRead {
		snapshot[k] = v
	}
	r.feed.PublishChat(models.Chat{ID: "c1", UserIDs: r.userIDs, LastRead: snapshot})
}

func (f *chatFixture) dial(t *testing.T, userIDs, userID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chats?user_ids=" + userIDs + "&token=" + f.token(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *chatFixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.provider.IssueToken(userID)
	require.NoError(t, err)
	return tok
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(testFrame) bool) testFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var f testFrame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func TestChatSessionSendText(t *testing.T) {
	f := newChatFixture(t)
	u1 := models.User{UserID: "u1", Name: "Ann"}
	u2 := models.User{UserID: "u2", Name: "Bob"}
	f.users.On("GetUser", mock.Anything, "u1").Return(u1, nil)
	f.users.On("GetUsers", mock.Anything, []string{"u1", "u2"}).Return([]models.User{u1, u2}, nil)
	f.chats.On("FindByKey", mock.Anything, []string{"u1", "u2"}).
		Return(models.Chat{ID: "c1", UserIDs: []string{"u1", "u2"}}, nil)
	receipts := &readReceipts{feed: f.feed, userIDs: []string{"u1", "u2"}, lastRead: map[string]time.Time{}}
	f.chats.On("MarkRead", mock.Anything, "c1", "u1").Run(func(mock.Arguments) { receipts.mark("u1") }).Return(nil)
	f.messages.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.ChatID == "c1" && m.Author.UserID == "u1" && m.Payload == models.TextPayload{Text: "hello"}
	})).Return(models.Message{ID: "m1", ChatID: "c1"}, nil).Once()

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chats?user_ids=u2,u1&token=" + f.token(t, "u1")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readUntil(t, conn, func(fr testFrame) bool {
		return fr.Type == FrameState && fr.State.Phase == "live"
	})
	assert.Equal(t, 1, f.hub.Count(KindChat, "c1"))

	require.NoError(t, conn.WriteJSON(command{Type: CommandSendText, Text: "hello"}))
	got := readUntil(t, conn, func(fr testFrame) bool {
		return fr.Type == FrameState && !fr.State.Sending && len(fr.State.Messages) == 1 &&
			fr.State.Messages[0].UnreadCount == 1
	})
	assert.Equal(t, "m1", got.State.Messages[0].ID)
	assert.Equal(t, "hello", got.State.Messages[0].Text)

	receipts.mark("u2")
	readUntil(t, conn, func(fr testFrame) bool {
		return fr.Type == FrameState && len(fr.State.Messages) == 1 && fr.State.Messages[0].UnreadCount == 0
	})

	require.NoError(t, conn.WriteJSON(command{Type: "delete"}))
	errFrame := readUntil(t, conn, func(fr testFrame) bool { return fr.Type == FrameError })
	assert.Contains(t, errFrame.Error, "unknown command")

	conn.Close()
	assert.Eventually(t, func() bool { return f.hub.Count(KindChat, "c1") == 0 }, 5*time.Second, 10*time.Millisecond)
	f.messages.AssertExpectations(t)
}

func TestChatSessionSendImageWithoutPathReportsError(t *testing.T) {
	f := newChatFixture(t)
	u1 := models.User{UserID: "u1"}
	f.users.On("GetUser", mock.Anything, "u1").Return(u1, nil)
	f.users.On("GetUsers", mock.Anything, []string{"u1"}).Return([]models.User{u1}, nil)
	f.chats.On("FindByKey", mock.Anything, []string{"u1"}).Return(models.Chat{ID: "c1", UserIDs: []string{"u1"}}, nil)
	f.chats.On("MarkRead", mock.Anything, "c1", "u1").Return(nil).Maybe()

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chats?user_ids=u1&token=" + f.token(t, "u1")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(command{Type: CommandSendImage}))
	got := readUntil(t, conn, func(fr testFrame) bool { return fr.Type == FrameError })
	assert.Equal(t, chatsync.ErrMissingFile.Error(), got.Error)
	f.messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestChatSessionRejectsAttachmentOutsideRoot(t *testing.T) {
	f := newChatFixture(t)
	u1 := models.User{UserID: "u1"}
	f.users.On("GetUser", mock.Anything, "u1").Return(u1, nil)
	f.chats.On("FindByKey", mock.Anything, []string{"u1"}).Return(models.Chat{ID: "c1", UserIDs: []string{"u1"}}, nil)
	f.chats.On("MarkRead", mock.Anything, "c1", "u1").Return(nil).Maybe()

	conn := f.dial(t, "u1", "u1")

	for _, cmd := range []command{
		{Type: CommandSendImage, Path: "/etc/passwd"},
		{Type: CommandSendAudio, Path: "../outside.m4a"},
	} {
		require.NoError(t, conn.WriteJSON(cmd))
		got := readUntil(t, conn, func(fr testFrame) bool { return fr.Type == FrameError })
		assert.Equal(t, ErrAttachmentOutsideRoot.Error(), got.Error, cmd.Path)
	}
	f.blobs.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
	f.messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestChatSessionSendImageFromAttachmentRoot(t *testing.T) {
	f := newChatFixture(t)
	u1 := models.User{UserID: "u1"}
	f.users.On("GetUser", mock.Anything, "u1").Return(u1, nil)
	f.users.On("GetUsers", mock.Anything, []string{"u1"}).Return([]models.User{u1}, nil)
	f.chats.On("FindByKey", mock.Anything, []string{"u1"}).Return(models.Chat{ID: "c1", UserIDs: []string{"u1"}}, nil)
	f.chats.On("MarkRead", mock.Anything, "c1", "u1").Return(nil).Maybe()

	photo := filepath.Join(f.root, "photo.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("jpg"), 0o600))
	f.blobs.On("Upload", mock.Anything, mock.Anything, photo).Return("c1/photo.jpg", nil).Once()
	f.blobs.On("DurableURL", mock.Anything, "c1/photo.jpg").Return("http://cdn/c1/photo.jpg", nil).Once()
	f.messages.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.Payload == models.ImagePayload{URL: "http://cdn/c1/photo.jpg"}
	})).Return(models.Message{ID: "m1", ChatID: "c1"}, nil).Once()

	conn := f.dial(t, "u1", "u1")
	require.NoError(t, conn.WriteJSON(command{Type: CommandSendImage, Path: "photo.jpg"}))
	got := readUntil(t, conn, func(fr testFrame) bool {
		return fr.Type == FrameState && len(fr.State.Messages) == 1
	})
	assert.Equal(t, "m1", got.State.Messages[0].ID)
	f.blobs.AssertExpectations(t)
}

func TestChatSessionWriteOutlivesDisconnect(t *testing.T) {
	f := newChatFixture(t)
	u1 := models.User{UserID: "u1"}
	f.users.On("GetUser", mock.Anything, "u1").Return(u1, nil)
	f.users.On("GetUsers", mock.Anything, []string{"u1"}).Return([]models.User{u1}, nil).Maybe()
	f.chats.On("FindByKey", mock.Anything, []string{"u1"}).Return(models.Chat{ID: "c1", UserIDs: []string{"u1"}}, nil)
	f.chats.On("MarkRead", mock.Anything, "c1", "u1").Return(nil).Maybe()

	started := make(chan struct{})
	release := make(chan struct{})
	ctxErr := make(chan error, 1)
	f.messages.On("CreateMessage", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		close(started)
		<-release
		ctxErr <- ctx.Err()
	}).Return(models.Message{ID: "m1", ChatID: "c1"}, nil).Once()

	conn := f.dial(t, "u1", "u1")
	readUntil(t, conn, func(fr testFrame) bool { return fr.Type == FrameState && fr.State.Phase == "live" })
	require.NoError(t, conn.WriteJSON(command{Type: CommandSendText, Text: "bye"}))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("write never started")
	}
	conn.Close()
	assert.Eventually(t, func() bool { return f.hub.Count(KindChat, "c1") == 0 }, 5*time.Second, 10*time.Millisecond)
	close(release)

	select {
	case err := <-ctxErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("write never finished")
	}
}

func TestChatHandshakeRejections(t *testing.T) {
	f := newChatFixture(t)
	f.users.On("GetUser", mock.Anything, "u1").Return(models.User{UserID: "u1"}, nil)
	f.chats.On("FindByKey", mock.Anything, []string{"u1", "u3"}).Return(models.Chat{}, assert.AnError)

	cases := []struct {
		name   string
		query  string
		header string
		status int
	}{
		{name: "bad token", query: "user_ids=u1,u2", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "missing participants", query: "", header: "Bearer " + f.token(t, "u1"), status: http.StatusBadRequest},
		{name: "not a participant", query: "user_ids=u2,u3", header: "Bearer " + f.token(t, "u1"), status: http.StatusForbidden},
		{name: "resolve failure", query: "user_ids=u1,u3", header: "Bearer " + f.token(t, "u1"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/chats?"+tc.query, nil)
			req.Header.Set("Authorization", tc.header)
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

type fakeInbox struct {
	note push.Notification
}

func (f fakeInbox) Listen(ctx context.Context, userID string, handle func(push.Notification)) error {
	handle(f.note)
	<-ctx.Done()
	return nil
}

func TestNotificationSessionForwardsDeepLink(t *testing.T) {
	gin.SetMode(gin.TestMode)
	provider := auth.NewProvider(new(mocks.UserRepositoryMock), "secret", time.Hour)
	hub := NewHub()
	inbox := fakeInbox{note: push.Notification{UserID: "u2", Title: "Ann", Data: push.DeepLinkData([]string{"u1", "u2"})}}
	router := gin.New()
	router.GET("/ws/notifications", NewNotificationWebSocketHandler(hub, provider, inbox).Handle)
	srv := httptest.NewServer(router)
	defer srv.Close()

	tok, err := provider.IssueToken("u2")
	require.NoError(t, err)
	header := http.Header{"Authorization": []string{"Bearer " + tok}}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/notifications", header)
	require.NoError(t, err)
	defer conn.Close()

	got := readUntil(t, conn, func(fr testFrame) bool { return fr.Type == FrameNotification })
	assert.Equal(t, "Ann", got.Notification.Title)
	assert.Equal(t, []string{"u1", "u2"}, got.Notification.UserIDs)
}

func TestNotificationSessionDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws/notifications", NewNotificationWebSocketHandler(NewHub(), nil, nil).Handle)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/notifications", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMessageViewCarriesUnreadCount(t *testing.T) {
	view := messageView{
		Message:     models.Message{ID: "m1", ChatID: "c1", Payload: models.ImagePayload{URL: "http://x/1.jpg"}},
		UnreadCount: 1,
	}
	body, err := json.Marshal(view)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.Equal(t, float64(1), fields["unread_count"])
	assert.Equal(t, "http://x/1.jpg", fields["image_url"])
	assert.NotContains(t, fields, "text")
}
