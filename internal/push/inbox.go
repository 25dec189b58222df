package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"chat-sync/internal/rabbitmq"
)

// Inbox consumes a user's push deliveries.
type Inbox struct {
	conn     *amqp.Connection
	exchange string
}

// NewInbox constructs an Inbox over a shared AMQP connection.
func NewInbox(conn *amqp.Connection, exchange string) *Inbox {
	return &Inbox{conn: conn, exchange: exchange}
}

// Listen binds a private queue to the user's routing key and calls handle for
// each delivery until ctx is done or the channel closes. Deliveries that do
// not decode are dropped.
func (i *Inbox) Listen(ctx context.Context, userID string, handle func(Notification)) error {
	ch, err := i.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareExchange(ch, i.exchange); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, RoutingKey(userID), i.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			note, err := Decode(d.Body)
			if err != nil {
				log.Printf("push inbox drop user_id=%s: %v", userID, err)
				continue
			}
			handle(note)
		}
	}
}

// Decode parses a delivery body.
func Decode(body []byte) (Notification, error) {
	var note Notification
	if err := json.Unmarshal(body, &note); err != nil {
		return Notification{}, err
	}
	return note, nil
}
