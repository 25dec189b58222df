package realtime

import (
	"context"
	"sync"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

// Loader reads the documents a new subscription starts from.
type Loader interface {
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
}

// Hub maintains live subscriptions per chat and fans changes out to them.
type Hub struct {
	loader Loader
	rooms  map[string]map[*Subscription]bool
	mu     sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(loader Loader) *Hub {
	return &Hub{
		loader: loader,
		rooms:  make(map[string]map[*Subscription]bool),
	}
}

// Subscribe attaches a live query on the chat's messages, newest first. The
// first snapshot holds every existing message as an added change together
// with the chat document. The subscription is registered before the initial
// read so no change committed in between is lost. Such changes are held and
// delivered after the initial snapshot; duplicates are possible and are
// expected to be merged by id. Cancelling ctx closes the subscription.
func (h *Hub) Subscribe(ctx context.Context, chatID string) (*Subscription, error) {
	sub := newSubscription(h, chatID)
	h.add(sub)

	chat, err := h.loader.GetChat(ctx, chatID)
	if err != nil {
		sub.Close()
		return nil, err
	}
	msgs, err := h.loader.ListMessages(ctx, chatID)
	if err != nil {
		sub.Close()
		return nil, err
	}

	initial := models.Snapshot{Chat: &chat, Changes: make([]models.MessageChange, 0, len(msgs))}
	for _, m := range msgs {
		initial.Changes = append(initial.Changes, models.MessageChange{Type: models.ChangeAdded, Message: m})
	}
	sub.prime(initial)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// HasSubscribers reports whether anyone watches the chat.
func (h *Hub) HasSubscribers(chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID]) > 0
}

// Subscribers returns the number of live subscriptions on the chat.
func (h *Hub) Subscribers(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// PublishPending announces a local write that the server has not acknowledged.
func (h *Hub) PublishPending(msg models.Message) {
	h.broadcast(msg.ChatID, models.Snapshot{
		Changes:          []models.MessageChange{{Type: models.ChangeAdded, Message: msg}},
		HasPendingWrites: true,
	})
}

// PublishMessage delivers a server-acknowledged message.
func (h *Hub) PublishMessage(msg models.Message) {
	h.broadcast(msg.ChatID, models.Snapshot{
		Changes: []models.MessageChange{{Type: models.ChangeAdded, Message: msg}},
	})
}

// PublishChat delivers a changed chat document.
func (h *Hub) PublishChat(chat models.Chat) {
	h.broadcast(chat.ID, models.Snapshot{Chat: &chat})
}

// Messages wraps a message repository so that every write is first announced
// to local subscribers as pending, the way a latency-compensating document
// client echoes its own writes.
func (h *Hub) Messages(repo repositories.MessageRepository) repositories.MessageRepository {
	return &compensatingMessages{MessageRepository: repo, hub: h}
}

type compensatingMessages struct {
	repositories.MessageRepository
	hub *Hub
}

func (c *compensatingMessages) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	c.hub.PublishPending(msg)
	return c.MessageRepository.CreateMessage(ctx, msg)
}

// Close releases every subscription.
func (h *Hub) Close() {
	h.mu.RLock()
	subs := make([]*Subscription, 0)
	for _, room := range h.rooms {
		for sub := range room {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (h *Hub) add(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[sub.chatID]; !ok {
		h.rooms[sub.chatID] = make(map[*Subscription]bool)
	}
	h.rooms[sub.chatID][sub] = true
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.rooms[sub.chatID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.rooms, sub.chatID)
		}
	}
}

func (h *Hub) broadcast(chatID string, snap models.Snapshot) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.rooms[chatID]))
	for sub := range h.rooms[chatID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.push(snap)
	}
}

// Store joins the chat and message repositories behind Loader and Fetcher.
type Store struct {
	Chats    repositories.ChatRepository
	Messages repositories.MessageRepository
}

func (s Store) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	return s.Chats.GetChat(ctx, chatID)
}

func (s Store) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	return s.Messages.ListMessages(ctx, chatID)
}

func (s Store) GetMessage(ctx context.Context, chatID, messageID string) (models.Message, error) {
	return s.Messages.GetMessage(ctx, chatID, messageID)
}
