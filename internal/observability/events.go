package observability

import (
	"context"
	"fmt"

	"chat-sync/internal/rabbitmq"
)

// Routing keys of domain events.
const (
	EventChatResolved = "chat.resolved"
	EventMessageSent  = "chat.message.sent"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// LogFields describes the envelope for the noop publisher.
func (e EventEnvelope) LogFields() string {
	return fmt.Sprintf("event_type=%s event_name=%s", e.EventType, e.EventName)
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

var defaultPublisher rabbitmq.Publisher

func SetPublisher(publisher rabbitmq.Publisher) {
	defaultPublisher = publisher
}

func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.Publish(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
