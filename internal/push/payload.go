// Package push delivers new-message notifications to participants and
// decodes the deep-link payload a tapped notification carries.
package push

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DataUserIDs is the data key holding the JSON encoded participant list.
const DataUserIDs = "userIds"

var ErrInvalidDeepLink = errors.New("push data has no participant list")

// Notification is one push delivery.
type Notification struct {
	UserID string            `json:"user_id"`
	Token  string            `json:"token"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data"`
}

// LogFields describes the notification for the noop publisher.
func (n Notification) LogFields() string {
	return fmt.Sprintf("push user_id=%s title=%q", n.UserID, n.Title)
}

// DeepLinkData encodes the participant list into a push data payload.
func DeepLinkData(userIDs []string) map[string]string {
	encoded, _ := json.Marshal(userIDs)
	return map[string]string{DataUserIDs: string(encoded)}
}

// DeepLink decodes the participant list of a push data payload. Foreground
// deliveries, background opens and launch messages all carry the same shape.
func DeepLink(data map[string]string) ([]string, error) {
	raw, ok := data[DataUserIDs]
	if !ok || raw == "" {
		return nil, ErrInvalidDeepLink
	}
	var userIDs []string
	if err := json.Unmarshal([]byte(raw), &userIDs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDeepLink, err)
	}
	if len(userIDs) == 0 {
		return nil, ErrInvalidDeepLink
	}
	return userIDs, nil
}
