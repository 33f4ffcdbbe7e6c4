package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func decodeFrame(t *testing.T, raw []byte) (string, map[string]any) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return env.Event, data
}

func TestEncodeEvent_RoomMessage(t *testing.T) {
	req := require.New(t)
	message := domain.Message{
		ID:       uuid.New(),
		Sender:   "alice",
		Room:     "general",
		Content:  "hello @bob",
		Mentions: []string{"bob"},
		At:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	raw, err := encodeEvent(event.MessageDelivered{Message: message})

	req.NoError(err)
	name, data := decodeFrame(t, raw)
	req.Equal("message", name)
	req.Equal("alice", data["user"])
	req.Equal("hello @bob", data["text"])
	req.Equal(false, data["isPrivate"])
	req.Equal([]any{"bob"}, data["mentions"])
	// from is only set for private traffic
	req.NotContains(data, "from")
}

func TestEncodeEvent_PrivateMessage_Carries_From_And_To(t *testing.T) {
	req := require.New(t)
	message := domain.NewPrivateMessage("alice", "bob", "psst")

	raw, err := encodeEvent(event.MessageDelivered{Message: message})

	req.NoError(err)
	name, data := decodeFrame(t, raw)
	req.Equal("message", name)
	req.Equal(true, data["isPrivate"])
	req.Equal("alice", data["from"])
	req.Equal("bob", data["to"])
}

func TestEncodeEvent_HistoryLoaded(t *testing.T) {
	req := require.New(t)
	messages := []domain.Message{
		{ID: uuid.New(), Sender: "clara", Room: "general", Content: "first", At: time.Now().UTC()},
		{ID: uuid.New(), Sender: "dan", Room: "general", Content: "second", At: time.Now().UTC()},
	}

	raw, err := encodeEvent(event.HistoryLoaded{RoomName: "general", Messages: messages})

	req.NoError(err)
	name, data := decodeFrame(t, raw)
	req.Equal("loadHistory", name)
	req.Equal("general", data["room"])
	entries := data["messages"].([]any)
	req.Len(entries, 2)
	req.Equal("first", entries[0].(map[string]any)["text"])
	req.Equal("second", entries[1].(map[string]any)["text"])
}

func TestEncodeEvent_RoomData(t *testing.T) {
	req := require.New(t)

	raw, err := encodeEvent(event.RoomData{RoomName: "general", Users: []string{"alice", "bob"}})

	req.NoError(err)
	name, data := decodeFrame(t, raw)
	req.Equal("roomData", name)
	req.Equal([]any{"alice", "bob"}, data["users"])
}

func TestEncodeEvent_UserTyping(t *testing.T) {
	req := require.New(t)

	raw, err := encodeEvent(event.UserTyping{RoomName: "general", Username: "alice", IsTyping: true})

	req.NoError(err)
	name, data := decodeFrame(t, raw)
	req.Equal("userTyping", name)
	req.Equal("alice", data["username"])
	req.Equal(true, data["isTyping"])
}

func TestEncodeEvent_HistoryCleared(t *testing.T) {
	req := require.New(t)

	raw, err := encodeEvent(event.HistoryCleared{RoomName: "general"})

	req.NoError(err)
	name, data := decodeFrame(t, raw)
	req.Equal("historyCleared", name)
	req.Equal("general", data["room"])
}
