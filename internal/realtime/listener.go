package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"chat-sync/internal/db"
	"chat-sync/internal/models"
)

// Fetcher reads the documents named by a notification.
type Fetcher interface {
	GetMessage(ctx context.Context, chatID, messageID string) (models.Message, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
}

type notification struct {
	ChatID string `json:"chat_id"`
	ID     string `json:"id"`
}

// Listener pumps Postgres notifications into the hub. Reconnection is left
// to pq.Listener.
type Listener struct {
	listener *pq.Listener
	hub      *Hub
	fetcher  Fetcher
}

// NewListener opens a notification connection and listens on the message
// and chat channels.
func NewListener(dsn string, hub *Hub, fetcher Fetcher) (*Listener, error) {
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("realtime listener event=%d err=%v", ev, err)
		}
	})
	for _, channel := range []string{db.MessagesChannel, db.ChatsChannel} {
		if err := l.Listen(channel); err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("listen %s: %w", channel, err)
		}
	}
	return &Listener{listener: l, hub: hub, fetcher: fetcher}, nil
}

// Run dispatches notifications until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	defer l.listener.Close()
	log.Printf("realtime listener started channels=%s,%s", db.MessagesChannel, db.ChatsChannel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.listener.Notify:
			if n == nil {
				// connection was re-established; pq may have dropped notifications
				log.Printf("realtime listener reconnected")
				continue
			}
			if err := dispatch(ctx, l.hub, l.fetcher, n.Channel, n.Extra); err != nil {
				log.Printf("realtime dispatch channel=%s err=%v", n.Channel, err)
			}
		case <-time.After(90 * time.Second):
			go func() {
				if err := l.listener.Ping(); err != nil {
					log.Printf("realtime listener ping failed: %v", err)
				}
			}()
		}
	}
}

func dispatch(ctx context.Context, hub *Hub, fetcher Fetcher, channel, payload string) error {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	if !hub.HasSubscribers(n.ChatID) {
		return nil
	}

	switch channel {
	case db.MessagesChannel:
		msg, err := fetcher.GetMessage(ctx, n.ChatID, n.ID)
		if err != nil {
			return err
		}
		hub.PublishMessage(msg)
	case db.ChatsChannel:
		chat, err := fetcher.GetChat(ctx, n.ChatID)
		if err != nil {
			return err
		}
		hub.PublishChat(chat)
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}
	return nil
}
