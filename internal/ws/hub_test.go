package ws

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubAddAndRemove(t *testing.T) {
	hub := NewHub()
	a, b := &websocket.Conn{}, &websocket.Conn{}

	hub.Add(KindChat, "c1", a, ConnInfo{ConnID: "a"})
	hub.Add(KindChat, "c1", b, ConnInfo{ConnID: "b"})
	hub.Add(KindNotifications, "c1", a, ConnInfo{ConnID: "a"})
	assert.Equal(t, 2, hub.Count(KindChat, "c1"))
	assert.Equal(t, 1, hub.Count(KindNotifications, "c1"))

	hub.Remove(KindChat, "c1", a)
	hub.Remove(KindChat, "c1", b)
	assert.Equal(t, 0, hub.Count(KindChat, "c1"))
	assert.NotContains(t, hub.rooms, roomKey(KindChat, "c1"))
	assert.Equal(t, 1, hub.Count(KindNotifications, "c1"))
}

func TestWSRoutingKey(t *testing.T) {
	assert.Equal(t, "ws_events.chats", wsRoutingKey(KindChat))
	assert.Equal(t, "ws_events.notifications", wsRoutingKey(KindNotifications))
}

func TestParticipantIDs(t *testing.T) {
	assert.Equal(t, []string{"u1", "u2"}, participantIDs(" u1,,u2 ,"))
	assert.Empty(t, participantIDs(""))
}

func TestAttachmentFile(t *testing.T) {
	root := t.TempDir()
	photo := filepath.Join(root, "photo.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("jpg"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o700))
	require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(root, "link")))
	require.NoError(t, os.Symlink("/etc", filepath.Join(root, "dirlink")))

	got, err := attachmentFile(root, "photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, photo, got)

	got, err = attachmentFile(root, photo)
	require.NoError(t, err)
	assert.Equal(t, photo, got)

	got, err = attachmentFile(root, "")
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, p := range []string{"/etc/passwd", "../escape", "sub/../../escape", "link", "dirlink/passwd", "sub", "."} {
		_, err := attachmentFile(root, p)
		assert.ErrorIs(t, err, ErrAttachmentOutsideRoot, p)
	}

	_, err = attachmentFile("", "photo.jpg")
	assert.ErrorIs(t, err, ErrAttachmentOutsideRoot)

	_, err = attachmentFile(root, "missing.jpg")
	assert.Error(t, err)
}
