package push

import (
	"context"
	"log"
	"unicode/utf8"

	"chat-sync/internal/models"
	"chat-sync/internal/rabbitmq"
)

const bodyPreviewLen = 80

// RoutingKey addresses a user's push deliveries on the exchange.
func RoutingKey(userID string) string {
	return "push." + userID
}

// Notifier publishes push notifications.
type Notifier struct {
	publisher rabbitmq.Publisher
}

// NewNotifier constructs a Notifier.
func NewNotifier(publisher rabbitmq.Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

// NotifyMessage pushes msg to every participant other than its author that
// has a registered token. It returns the number of notifications published.
func (n *Notifier) NotifyMessage(ctx context.Context, chat models.Chat, msg models.Message, recipients []models.User) int {
	sent := 0
	for _, u := range recipients {
		if u.UserID == msg.Author.UserID || u.PushToken == nil || *u.PushToken == "" {
			continue
		}
		if !chat.HasParticipant(u.UserID) {
			continue
		}
		note := Notification{
			UserID: u.UserID,
			Token:  *u.PushToken,
			Title:  msg.Author.Name,
			Body:   Preview(msg.Payload),
			Data:   DeepLinkData(chat.UserIDs),
		}
		if err := n.publisher.Publish(ctx, RoutingKey(u.UserID), note, nil); err != nil {
			log.Printf("push publish failed user_id=%s: %v", u.UserID, err)
			continue
		}
		sent++
	}
	return sent
}

// Preview renders the notification body of a payload.
func Preview(p models.Payload) string {
	switch v := p.(type) {
	case models.TextPayload:
		return truncate(v.Text, bodyPreviewLen)
	case models.ImagePayload:
		return "Sent a photo"
	case models.AudioPayload:
		return "Sent a voice message"
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}
