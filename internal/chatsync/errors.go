package chatsync

import "errors"

var (
	ErrEmptyParticipants = errors.New("participant set is empty")
	ErrChatUnresolved    = errors.New("chat is not resolved")
	ErrMissingAuthor     = errors.New("message author is required")
	ErrMissingFile       = errors.New("attachment file path is required")
)
