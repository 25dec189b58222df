package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) FindByKey(ctx context.Context, key []string) (models.Chat, error) {
	args := m.Called(ctx, key)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) CreateChat(ctx context.Context, key []string, users []models.User) (models.Chat, error) {
	args := m.Called(ctx, key, users)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) MarkRead(ctx context.Context, chatID, userID string) error {
	args := m.Called(ctx, chatID, userID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	args := m.Called(ctx, chatID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, chatID, messageID string) (models.Message, error) {
	args := m.Called(ctx, chatID, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) CreateAccount(ctx context.Context, account models.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *UserRepositoryMock) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	args := m.Called(ctx, email)
	var account models.Account
	if val := args.Get(0); val != nil {
		account = val.(models.Account)
	}
	return account, args.Error(1)
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetUsers(ctx context.Context, userIDs []string) ([]models.User, error) {
	args := m.Called(ctx, userIDs)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *UserRepositoryMock) ListUsers(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *UserRepositoryMock) UpdateProfile(ctx context.Context, userID string, name, profileURL *string) (models.User, error) {
	args := m.Called(ctx, userID, name, profileURL)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) SetPushToken(ctx context.Context, userID, token string) error {
	args := m.Called(ctx, userID, token)
	return args.Error(0)
}

type BlobStoreMock struct {
	mock.Mock
}

func (m *BlobStoreMock) Upload(ctx context.Context, objectPath, localFile string) (string, error) {
	args := m.Called(ctx, objectPath, localFile)
	return args.String(0), args.Error(1)
}

func (m *BlobStoreMock) DurableURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *BlobStoreMock) Remove(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

var _ repositories.ChatRepository = (*ChatRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
var _ interface {
	Upload(context.Context, string, string) (string, error)
	DurableURL(context.Context, string) (string, error)
	Remove(context.Context, string) error
} = (*BlobStoreMock)(nil)
