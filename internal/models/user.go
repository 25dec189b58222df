package models

import "time"

// User is a registered account's public profile document.
type User struct {
	UserID     string  `db:"id" json:"user_id"`
	Email      string  `db:"email" json:"email"`
	Name       string  `db:"name" json:"name"`
	ProfileURL *string `db:"profile_url" json:"profile_url,omitempty"`
	PushToken  *string `db:"push_token" json:"push_token,omitempty"`
}

// Snapshot returns the copy of u that is denormalized into chats and
// messages. Push tokens never leave the users table.
func (u User) Snapshot() User {
	u.PushToken = nil
	return u
}

// Account is the credential row behind a User.
type Account struct {
	User
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
