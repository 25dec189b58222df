package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Collection names shared by every backend.
const (
	CollectionUsers    = "users"
	CollectionChats    = "chats"
	CollectionMessages = "messages"
)

// ErrInvalidPayload is returned when a stored message does not carry exactly
// one payload variant.
var ErrInvalidPayload = errors.New("message must carry exactly one payload")

// PayloadKind tags the message payload variant.
type PayloadKind string

const (
	PayloadText  PayloadKind = "text"
	PayloadImage PayloadKind = "image"
	PayloadAudio PayloadKind = "audio"
)

// Payload is one of TextPayload, ImagePayload or AudioPayload.
type Payload interface {
	Kind() PayloadKind
	isPayload()
}

type TextPayload struct{ Text string }

type ImagePayload struct{ URL string }

type AudioPayload struct{ URL string }

func (TextPayload) Kind() PayloadKind  { return PayloadText }
func (ImagePayload) Kind() PayloadKind { return PayloadImage }
func (AudioPayload) Kind() PayloadKind { return PayloadAudio }

func (TextPayload) isPayload()  {}
func (ImagePayload) isPayload() {}
func (AudioPayload) isPayload() {}

// Message is a single authored unit belonging to one chat.
type Message struct {
	ID        string
	ChatID    string
	Author    User
	Payload   Payload
	CreatedAt time.Time
}

// messageJSON is the wire shape: exactly one of text, image_url, audio_url
// is present.
type messageJSON struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	User      User      `json:"user"`
	Text      *string   `json:"text,omitempty"`
	ImageURL  *string   `json:"image_url,omitempty"`
	AudioURL  *string   `json:"audio_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalJSON encodes the payload variant as a single populated field.
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{ID: m.ID, ChatID: m.ChatID, User: m.Author, CreatedAt: m.CreatedAt}
	switch p := m.Payload.(type) {
	case TextPayload:
		out.Text = &p.Text
	case ImagePayload:
		out.ImageURL = &p.URL
	case AudioPayload:
		out.AudioURL = &p.URL
	default:
		return nil, ErrInvalidPayload
	}
	return json.Marshal(out)
}

// UnmarshalJSON rejects documents that carry zero or several payloads.
func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	payload, err := NewPayload(in.Text, in.ImageURL, in.AudioURL)
	if err != nil {
		return err
	}
	*m = Message{ID: in.ID, ChatID: in.ChatID, Author: in.User, Payload: payload, CreatedAt: in.CreatedAt}
	return nil
}

// NewPayload builds the variant from nullable columns.
func NewPayload(text, imageURL, audioURL *string) (Payload, error) {
	var (
		payload Payload
		count   int
	)
	if text != nil {
		payload = TextPayload{Text: *text}
		count++
	}
	if imageURL != nil {
		payload = ImagePayload{URL: *imageURL}
		count++
	}
	if audioURL != nil {
		payload = AudioPayload{URL: *audioURL}
		count++
	}
	if count != 1 {
		return nil, fmt.Errorf("%w: found %d", ErrInvalidPayload, count)
	}
	return payload, nil
}

// PayloadColumns splits a payload into its nullable storage columns.
func PayloadColumns(p Payload) (text, imageURL, audioURL *string, err error) {
	switch v := p.(type) {
	case TextPayload:
		return &v.Text, nil, nil, nil
	case ImagePayload:
		return nil, &v.URL, nil, nil
	case AudioPayload:
		return nil, nil, &v.URL, nil
	default:
		return nil, nil, nil, ErrInvalidPayload
	}
}

// ChangeType classifies a live query change.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// MessageChange is one entry of a live query snapshot.
type MessageChange struct {
	Type    ChangeType
	Message Message
}

// Snapshot is one push from a live subscription. HasPendingWrites marks
// changes that originate from a local write the server has not acknowledged.
// Chat is set when the chat document itself changed.
type Snapshot struct {
	Changes          []MessageChange
	Chat             *Chat
	HasPendingWrites bool
}
