package chatsync

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/models"
	"chat-sync/internal/realtime"
)

// Phase is the lifecycle of a controller's subscription.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseLive
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseLive:
		return "live"
	default:
		return "idle"
	}
}

// Feed attaches live queries on a chat's messages.
type Feed interface {
	Subscribe(ctx context.Context, chatID string) (*realtime.Subscription, error)
}

// ReadMarker records read receipts on the chat document.
type ReadMarker interface {
	MarkRead(ctx context.Context, chatID, userID string) error
}

// MessageWriter writes message documents. The stored creation time comes
// from the backend clock.
type MessageWriter interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
}

// BlobStore uploads attachments and resolves their download URLs.
type BlobStore interface {
	Upload(ctx context.Context, objectPath, localFile string) (string, error)
	DurableURL(ctx context.Context, key string) (string, error)
}

// Deps are the collaborators of a Controller. Now and NewID default to the
// wall clock and random UUIDs.
type Deps struct {
	Feed     Feed
	Chats    ReadMarker
	Messages MessageWriter
	Blobs    BlobStore
	Now      func() time.Time
	NewID    func() string

	// OnReadError receives failures of fire-and-forget read receipts.
	OnReadError func(chatID, userID string, err error)
}

// State is a copy of the controller's client-side view.
type State struct {
	Phase    Phase
	Chat     *models.Chat
	Messages []models.Message
	Sending  bool
	Loading  bool
	LastRead map[string]time.Time
}

// UnreadCount computes the message's unread count against this state.
func (s State) UnreadCount(m models.Message) int {
	if s.Chat == nil {
		return 0
	}
	return UnreadCount(s.Chat.UserIDs, s.LastRead, m.CreatedAt)
}

// Controller keeps one chat's messages and read receipts in step with the
// live feed and performs sends on behalf of the session.
type Controller struct {
	deps Deps

	mu       sync.Mutex
	gen      int
	chat     *models.Chat
	messages []models.Message
	lastRead map[string]time.Time
	sending  int
	loading  bool
	phase    Phase
	sub      *realtime.Subscription

	changes chan struct{}
}

// NewController constructs an idle Controller.
func NewController(deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Controller{
		deps:     deps,
		lastRead: map[string]time.Time{},
		changes:  make(chan struct{}, 1),
	}
}

// Changes signals that State has changed. Signals coalesce.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

// State returns a snapshot of the current view.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		Phase:    c.phase,
		Messages: append([]models.Message(nil), c.messages...),
		Sending:  c.sending > 0,
		Loading:  c.loading,
		LastRead: copyTimes(c.lastRead),
	}
	if c.chat != nil {
		chat := *c.chat
		chat.LastRead = copyTimes(c.lastRead)
		st.Chat = &chat
	}
	return st
}

// Attach binds the controller to chat and subscribes to its messages. A
// previous subscription is released first. The subscription lives until
// Close, a later Attach, or cancellation of ctx.
func (c *Controller) Attach(ctx context.Context, chat models.Chat) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	prev := c.sub
	c.sub = nil
	bound := chat
	c.chat = &bound
	c.messages = nil
	c.lastRead = copyTimes(chat.LastRead)
	c.loading = true
	c.phase = PhaseLoading
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	c.signal()

	sub, err := c.deps.Feed.Subscribe(ctx, chat.ID)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.loading = false
			c.phase = PhaseIdle
		}
		c.mu.Unlock()
		c.signal()
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		sub.Close()
		return nil
	}
	c.sub = sub
	c.mu.Unlock()

	go c.consume(sub)
	return nil
}

// Close releases the subscription. In-flight sends still complete.
func (c *Controller) Close() {
	c.mu.Lock()
	c.gen++
	sub := c.sub
	c.sub = nil
	c.loading = false
	c.phase = PhaseIdle
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	c.signal()
}

func (c *Controller) consume(sub *realtime.Subscription) {
	for snap := range sub.Events() {
		c.apply(sub, snap)
	}
}

func (c *Controller) apply(sub *realtime.Subscription, snap models.Snapshot) {
	if snap.HasPendingWrites {
		return
	}

	c.mu.Lock()
	if c.sub != sub {
		c.mu.Unlock()
		return
	}
	if snap.Chat != nil {
		c.lastRead = copyTimes(snap.Chat.LastRead)
	}
	added := make([]models.Message, 0, len(snap.Changes))
	for _, change := range snap.Changes {
		if change.Type == models.ChangeAdded {
			added = append(added, change.Message)
		}
	}
	if len(added) > 0 {
		c.messages = MergeMessages(added, c.messages)
	}
	c.loading = false
	c.phase = PhaseLive
	c.mu.Unlock()

	c.signal()
}

// SendText writes a text message from author.
func (c *Controller) SendText(ctx context.Context, text string, author models.User) error {
	return c.send(ctx, author, func(ctx context.Context, chatID string) (models.Payload, error) {
		return models.TextPayload{Text: text}, nil
	})
}

// SendImage uploads the local image and writes a message pointing at it.
func (c *Controller) SendImage(ctx context.Context, filePath string, author models.User) error {
	return c.sendAttachment(ctx, filePath, author, models.PayloadImage)
}

// SendAudio uploads the local recording and writes a message pointing at it.
func (c *Controller) SendAudio(ctx context.Context, filePath string, author models.User) error {
	return c.sendAttachment(ctx, filePath, author, models.PayloadAudio)
}

// sendAttachment uploads first and writes second. A failed write leaves the
// uploaded object behind.
func (c *Controller) sendAttachment(ctx context.Context, filePath string, author models.User, kind models.PayloadKind) error {
	if c.currentChat() == nil {
		return ErrChatUnresolved
	}
	if author.UserID == "" {
		return ErrMissingAuthor
	}
	if filePath == "" {
		return ErrMissingFile
	}

	return c.send(ctx, author, func(ctx context.Context, chatID string) (models.Payload, error) {
		key, err := c.deps.Blobs.Upload(ctx, AttachmentPath(chatID, filePath, c.deps.Now()), filePath)
		if err != nil {
			return nil, err
		}
		url, err := c.deps.Blobs.DurableURL(ctx, key)
		if err != nil {
			return nil, err
		}
		if kind == models.PayloadAudio {
			return models.AudioPayload{URL: url}, nil
		}
		return models.ImagePayload{URL: url}, nil
	})
}

func (c *Controller) send(ctx context.Context, author models.User, build func(context.Context, string) (models.Payload, error)) error {
	chat := c.currentChat()
	if chat == nil {
		return ErrChatUnresolved
	}
	if author.UserID == "" {
		return ErrMissingAuthor
	}

	c.setSending(1)
	defer c.setSending(-1)

	payload, err := build(ctx, chat.ID)
	if err != nil {
		return err
	}

	msg := models.Message{
		ID:      c.deps.NewID(),
		ChatID:  chat.ID,
		Author:  author.Snapshot(),
		Payload: payload,
	}
	stored, err := c.deps.Messages.CreateMessage(ctx, msg)
	if err != nil {
		return err
	}

	// Placeholder time until the acknowledged copy arrives on the feed.
	msg.ID = stored.ID
	msg.CreatedAt = c.deps.Now()
	c.reflect(msg)
	return nil
}

// MarkRead moves participantID's last-read time to the backend clock. It does
// not wait for the write; failures go to Deps.OnReadError.
func (c *Controller) MarkRead(participantID string) {
	chat := c.currentChat()
	if chat == nil {
		return
	}

	go func(chatID string) {
		if err := c.deps.Chats.MarkRead(context.Background(), chatID, participantID); err != nil && c.deps.OnReadError != nil {
			c.deps.OnReadError(chatID, participantID, err)
		}
	}(chat.ID)
}

// reflect merges a locally sent message unless the feed already delivered it.
func (c *Controller) reflect(msg models.Message) {
	c.mu.Lock()
	if c.chat == nil || c.chat.ID != msg.ChatID {
		c.mu.Unlock()
		return
	}
	for _, m := range c.messages {
		if m.ID == msg.ID {
			c.mu.Unlock()
			return
		}
	}
	c.messages = append([]models.Message{msg}, c.messages...)
	c.mu.Unlock()

	c.signal()
}

func (c *Controller) currentChat() *models.Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chat == nil {
		return nil
	}
	chat := *c.chat
	return &chat
}

func (c *Controller) setSending(delta int) {
	c.mu.Lock()
	c.sending += delta
	c.mu.Unlock()
	c.signal()
}

func (c *Controller) signal() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// MergeMessages returns first followed by rest, keeping only the first
// occurrence of every id. Entries of first win over entries of rest.
func MergeMessages(first, rest []models.Message) []models.Message {
	seen := make(map[string]struct{}, len(first)+len(rest))
	out := make([]models.Message, 0, len(first)+len(rest))
	for _, list := range [][]models.Message{first, rest} {
		for _, m := range list {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// AttachmentPath names an uploaded attachment after the chat and the current
// time in milliseconds, keeping the local file's extension.
func AttachmentPath(chatID, filePath string, now time.Time) string {
	return path.Join(chatID, strconv.FormatInt(now.UnixMilli(), 10)+path.Ext(filePath))
}

func copyTimes(in map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
