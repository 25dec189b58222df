package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/models"
	"chat-sync/internal/realtime"
	"chat-sync/internal/repositories"
)

// memStore is an in-memory document store that echoes acknowledged writes
// to the hub the way the database triggers do.
type memStore struct {
	mu        sync.Mutex
	hub       *realtime.Hub
	users     map[string]models.User
	chats     map[string]models.Chat
	msgs      map[string][]models.Message
	clock     time.Time
	createErr error
}

func newMemStore(users ...models.User) *memStore {
	s := &memStore{
		users: map[string]models.User{},
		chats: map[string]models.Chat{},
		msgs:  map[string][]models.Message{},
		clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, u := range users {
		s.users[u.UserID] = u
	}
	s.hub = realtime.NewHub(s)
	return s
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) FindByKey(ctx context.Context, key []string) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chats {
		if equalKeys(c.UserIDs, key) {
			return c, nil
		}
	}
	return models.Chat{}, repositories.ErrChatNotFound
}

func (s *memStore) CreateChat(ctx context.Context, key []string, users []models.User) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := models.Chat{ID: uuid.NewString(), UserIDs: key, Users: users, LastRead: map[string]time.Time{}, CreatedAt: s.tick()}
	s.chats[chat.ID] = chat
	return chat, nil
}

func (s *memStore) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	chat.LastRead = copyTimes(chat.LastRead)
	return chat, nil
}

func (s *memStore) MarkRead(ctx context.Context, chatID, userID string) error {
	s.mu.Lock()
	chat, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return repositories.ErrChatNotFound
	}
	lastRead := copyTimes(chat.LastRead)
	lastRead[userID] = s.tick()
	chat.LastRead = lastRead
	s.chats[chatID] = chat
	s.mu.Unlock()

	s.hub.PublishChat(chat)
	return nil
}

func (s *memStore) GetUsers(ctx context.Context, userIDs []string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.User{}
	for _, id := range userIDs {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *memStore) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	if s.createErr != nil {
		s.mu.Unlock()
		return models.Message{}, s.createErr
	}
	msg.CreatedAt = s.tick()
	s.msgs[msg.ChatID] = append([]models.Message{msg}, s.msgs[msg.ChatID]...)
	s.mu.Unlock()

	s.hub.PublishMessage(msg)
	return msg, nil
}

func (s *memStore) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.msgs[chatID]...), nil
}

func (s *memStore) GetMessage(ctx context.Context, chatID, messageID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs[chatID] {
		if m.ID == messageID {
			return m, nil
		}
	}
	return models.Message{}, repositories.ErrMessageNotFound
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
