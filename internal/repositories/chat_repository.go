package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-sync/internal/models"
)

var ErrChatNotFound = errors.New("chat not found")

// ChatRepository abstracts the chats collection.
type ChatRepository interface {
	FindByKey(ctx context.Context, key []string) (models.Chat, error)
	CreateChat(ctx context.Context, key []string, users []models.User) (models.Chat, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	MarkRead(ctx context.Context, chatID, userID string) error
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

type chatRow struct {
	ID        string         `db:"id"`
	UserIDs   pq.StringArray `db:"user_ids"`
	Users     []byte         `db:"users"`
	LastRead  []byte         `db:"last_read"`
	CreatedAt time.Time      `db:"created_at"`
}

func (row chatRow) toChat() (models.Chat, error) {
	chat := models.Chat{
		ID:        row.ID,
		UserIDs:   []string(row.UserIDs),
		Users:     []models.User{},
		LastRead:  map[string]time.Time{},
		CreatedAt: row.CreatedAt,
	}
	if len(row.Users) > 0 {
		if err := json.Unmarshal(row.Users, &chat.Users); err != nil {
			return models.Chat{}, err
		}
	}
	if len(row.LastRead) > 0 {
		if err := json.Unmarshal(row.LastRead, &chat.LastRead); err != nil {
			return models.Chat{}, err
		}
	}
	return chat, nil
}

const chatColumns = `id, user_ids, users, last_read, created_at`

// FindByKey returns the first chat whose stored key equals key element by element.
func (r *ChatRepo) FindByKey(ctx context.Context, key []string) (models.Chat, error) {
	var row chatRow
	err := r.db.GetContext(ctx, &row, `SELECT `+chatColumns+` FROM chats WHERE user_ids = $1 ORDER BY created_at LIMIT 1`, pq.Array(key))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}
	return row.toChat()
}

// CreateChat inserts a new chat document with a generated id.
func (r *ChatRepo) CreateChat(ctx context.Context, key []string, users []models.User) (models.Chat, error) {
	snapshots := make([]models.User, 0, len(users))
	for _, u := range users {
		snapshots = append(snapshots, u.Snapshot())
	}
	usersJSON, err := json.Marshal(snapshots)
	if err != nil {
		return models.Chat{}, err
	}

	var row chatRow
	err = r.db.GetContext(ctx, &row, `INSERT INTO chats (id, user_ids, users) VALUES ($1, $2, $3) RETURNING `+chatColumns,
		uuid.NewString(), pq.Array(key), usersJSON)
	if err != nil {
		return models.Chat{}, err
	}
	return row.toChat()
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var row chatRow
	err := r.db.GetContext(ctx, &row, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}
	return row.toChat()
}

// MarkRead sets the participant's last-read entry to the database clock.
func (r *ChatRepo) MarkRead(ctx context.Context, chatID, userID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET last_read = jsonb_set(last_read, ARRAY[$2]::text[], to_jsonb(NOW())) WHERE id=$1`, chatID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}
