package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Notification channels raised by the triggers below.
const (
	MessagesChannel = "chat_messages"
	ChatsChannel    = "chat_updates"
)

// Connect opens the database and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            email TEXT NOT NULL UNIQUE,
            name TEXT NOT NULL,
            profile_url TEXT,
            push_token TEXT,
            password_hash TEXT NOT NULL,
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS chats (
            id TEXT PRIMARY KEY,
            user_ids TEXT[] NOT NULL,
            users JSONB NOT NULL DEFAULT '[]',
            last_read JSONB NOT NULL DEFAULT '{}',
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS chats_user_ids_idx ON chats (user_ids);`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            author JSONB NOT NULL,
            text TEXT,
            image_url TEXT,
            audio_url TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CHECK (num_nonnulls(text, image_url, audio_url) = 1)
        );`,
		`CREATE INDEX IF NOT EXISTS messages_chat_created_idx ON messages (chat_id, created_at DESC);`,
		`CREATE OR REPLACE FUNCTION notify_chat_message() RETURNS trigger AS $$
        BEGIN
            PERFORM pg_notify('` + MessagesChannel + `', json_build_object('chat_id', NEW.chat_id, 'id', NEW.id)::text);
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql;`,
		`DROP TRIGGER IF EXISTS messages_notify ON messages;`,
		`CREATE TRIGGER messages_notify AFTER INSERT ON messages
            FOR EACH ROW EXECUTE FUNCTION notify_chat_message();`,
		`CREATE OR REPLACE FUNCTION notify_chat_update() RETURNS trigger AS $$
        BEGIN
            PERFORM pg_notify('` + ChatsChannel + `', json_build_object('chat_id', NEW.id)::text);
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql;`,
		`DROP TRIGGER IF EXISTS chats_notify ON chats;`,
		`CREATE TRIGGER chats_notify AFTER UPDATE ON chats
            FOR EACH ROW EXECUTE FUNCTION notify_chat_update();`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
