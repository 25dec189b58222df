package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextMessageOmitsOtherPayloads(t *testing.T) {
	msg := Message{
		ID:        "m1",
		ChatID:    "c1",
		Author:    User{UserID: "u1", Name: "Ann"},
		Payload:   TextPayload{Text: "hi"},
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "hi", raw["text"])
	assert.NotContains(t, raw, "image_url")
	assert.NotContains(t, raw, "audio_url")

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TextPayload{Text: "hi"}, decoded.Payload)
	assert.Equal(t, PayloadText, decoded.Payload.Kind())
}

func TestUnmarshalRejectsAmbiguousPayload(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"id":"m","text":"a","image_url":"b"}`), &msg)
	require.ErrorIs(t, err, ErrInvalidPayload)

	err = json.Unmarshal([]byte(`{"id":"m"}`), &msg)
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestMarshalRejectsMissingPayload(t *testing.T) {
	_, err := json.Marshal(Message{ID: "m"})
	require.Error(t, err)
}

func TestPayloadColumns(t *testing.T) {
	text, image, audio, err := PayloadColumns(AudioPayload{URL: "http://x/a.m4a"})
	require.NoError(t, err)
	assert.Nil(t, text)
	assert.Nil(t, image)
	require.NotNil(t, audio)
	assert.Equal(t, "http://x/a.m4a", *audio)

	_, _, _, err = PayloadColumns(nil)
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestChatKeySortsWithoutMutating(t *testing.T) {
	ids := []string{"u2", "u10", "u1"}
	assert.Equal(t, []string{"u1", "u10", "u2"}, ChatKey(ids))
	assert.Equal(t, []string{"u2", "u10", "u1"}, ids)
}

func TestSnapshotDropsPushToken(t *testing.T) {
	token := "tok"
	u := User{UserID: "u1", PushToken: &token}
	assert.Nil(t, u.Snapshot().PushToken)
	assert.NotNil(t, u.PushToken)
}
