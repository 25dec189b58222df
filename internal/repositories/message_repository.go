package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions with a chat's nested messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	GetMessage(ctx context.Context, chatID, messageID string) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type messageRow struct {
	ID        string    `db:"id"`
	ChatID    string    `db:"chat_id"`
	Author    []byte    `db:"author"`
	Text      *string   `db:"text"`
	ImageURL  *string   `db:"image_url"`
	AudioURL  *string   `db:"audio_url"`
	CreatedAt time.Time `db:"created_at"`
}

func (row messageRow) toMessage() (models.Message, error) {
	payload, err := models.NewPayload(row.Text, row.ImageURL, row.AudioURL)
	if err != nil {
		return models.Message{}, err
	}
	msg := models.Message{ID: row.ID, ChatID: row.ChatID, Payload: payload, CreatedAt: row.CreatedAt}
	if err := json.Unmarshal(row.Author, &msg.Author); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

const messageColumns = `id, chat_id, author, text, image_url, audio_url, created_at`

// CreateMessage stores msg under its pre-assigned id. CreatedAt is ignored;
// the stored row carries the database clock.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	text, imageURL, audioURL, err := models.PayloadColumns(msg.Payload)
	if err != nil {
		return models.Message{}, err
	}
	author, err := json.Marshal(msg.Author.Snapshot())
	if err != nil {
		return models.Message{}, err
	}

	var row messageRow
	err = r.db.GetContext(ctx, &row, `INSERT INTO messages (id, chat_id, author, text, image_url, audio_url)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+messageColumns,
		msg.ID, msg.ChatID, author, text, imageURL, audioURL)
	if err != nil {
		return models.Message{}, err
	}
	return row.toMessage()
}

// ListMessages returns the chat's messages, newest first.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages WHERE chat_id=$1 ORDER BY created_at DESC, id DESC`, chatID); err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := row.toMessage()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// GetMessage retrieves a single message of a chat.
func (r *MessageRepo) GetMessage(ctx context.Context, chatID, messageID string) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE chat_id=$1 AND id=$2`, chatID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toMessage()
}
