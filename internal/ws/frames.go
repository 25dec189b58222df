package ws

import (
	"encoding/json"
	"time"

	"chat-sync/internal/chatsync"
	"chat-sync/internal/models"
	"chat-sync/internal/push"
)

// Frame types.
const (
	FrameState        = "state"
	FrameError        = "error"
	FrameNotification = "notification"
)

// Command types accepted on a chat session.
const (
	CommandSendText  = "send_text"
	CommandSendImage = "send_image"
	CommandSendAudio = "send_audio"
	CommandMarkRead  = "mark_read"
)

type command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Path string `json:"path,omitempty"`
}

type frame struct {
	Type         string            `json:"type"`
	State        *stateView        `json:"state,omitempty"`
	Error        string            `json:"error,omitempty"`
	Notification *notificationView `json:"notification,omitempty"`
}

type stateView struct {
	Phase    string               `json:"phase"`
	Chat     *models.Chat         `json:"chat"`
	Messages []messageView        `json:"messages"`
	Sending  bool                 `json:"sending"`
	Loading  bool                 `json:"loading"`
	LastRead map[string]time.Time `json:"last_read"`
}

type messageView struct {
	models.Message
	UnreadCount int
}

// MarshalJSON adds unread_count to the message's wire form.
func (v messageView) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(v.Message)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	count, _ := json.Marshal(v.UnreadCount)
	fields["unread_count"] = count
	return json.Marshal(fields)
}

type notificationView struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	UserIDs []string `json:"user_ids,omitempty"`
}

func stateFrame(s chatsync.State) frame {
	view := &stateView{
		Phase:    s.Phase.String(),
		Chat:     s.Chat,
		Messages: make([]messageView, 0, len(s.Messages)),
		Sending:  s.Sending,
		Loading:  s.Loading,
		LastRead: s.LastRead,
	}
	for _, m := range s.Messages {
		view.Messages = append(view.Messages, messageView{Message: m, UnreadCount: s.UnreadCount(m)})
	}
	return frame{Type: FrameState, State: view}
}

func errorFrame(err error) frame {
	return frame{Type: FrameError, Error: err.Error()}
}

// notificationFrame renders a push delivery. A payload without a usable
// deep link is still shown, just without the participant list.
func notificationFrame(n push.Notification) frame {
	view := &notificationView{Title: n.Title, Body: n.Body}
	if ids, err := push.DeepLink(n.Data); err == nil {
		view.UserIDs = ids
	}
	return frame{Type: FrameNotification, Notification: view}
}
