package models

import (
	"sort"
	"time"
)

// Chat is the shared record of a fixed participant set.
type Chat struct {
	ID        string               `json:"id"`
	UserIDs   []string             `json:"user_ids"`
	Users     []User               `json:"users"`
	LastRead  map[string]time.Time `json:"last_read"`
	CreatedAt time.Time            `json:"created_at"`
}

// ChatKey returns the canonical participant key: the ids sorted ascending.
// The input slice is not modified.
func ChatKey(userIDs []string) []string {
	key := make([]string, len(userIDs))
	copy(key, userIDs)
	sort.Strings(key)
	return key
}

// HasParticipant reports whether userID is part of the chat key.
func (c Chat) HasParticipant(userID string) bool {
	for _, id := range c.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// User returns the participant snapshot for userID.
func (c Chat) User(userID string) (User, bool) {
	for _, u := range c.Users {
		if u.UserID == userID {
			return u, true
		}
	}
	return User{}, false
}
