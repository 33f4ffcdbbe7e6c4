package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRoomMessage_Extracts_Mentions_And_Stamps_Time(t *testing.T) {
	req := require.New(t)

	message := NewRoomMessage("alice", "general", "hey @Bob")

	req.Equal("alice", message.Sender)
	req.Equal(RoomName("general"), message.Room)
	req.Equal([]string{"Bob"}, message.Mentions)
	req.False(message.Private)
	req.False(message.At.IsZero())
}

func TestNewPrivateMessage_Is_Private_And_Roomless(t *testing.T) {
	req := require.New(t)

	message := NewPrivateMessage("alice", "bob", "psst")

	req.True(message.Private)
	req.Equal("bob", message.To)
	req.Empty(message.Room)
	req.Empty(message.Mentions)
}

func TestNewSystemNotice_Uses_Reserved_Sender(t *testing.T) {
	req := require.New(t)

	notice := NewSystemNotice("general", "alice has joined the chat")

	req.Equal(SystemSender, notice.Sender)
	req.Equal(RoomName("general"), notice.Room)
}
