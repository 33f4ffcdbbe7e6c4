// Package domain contains core concepts of the relay engine.
// This file defines Message events and related rules.
// Messages are immutable once constructed by the router.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SystemSender is the reserved author of lifecycle notices
// (joined, left, welcome). Regular users are never registered under it.
const SystemSender = "System"

// Message represents one relayed chat event. Room messages carry the
// sender's current room and the mentions extracted from the text;
// private messages carry To and are never persisted.
type Message struct {
	ID       uuid.UUID
	Sender   string
	Room     RoomName
	To       string
	Content  string
	Mentions []string
	At       time.Time
	Private  bool
}

// NewRoomMessage builds a broadcast message, stamping the
// server-side timestamp and extracting mentions from the text.
func NewRoomMessage(sender string, room RoomName, content string) Message {
	return Message{
		ID:       uuid.New(),
		Sender:   sender,
		Room:     room,
		Content:  content,
		Mentions: ExtractMentions(content),
		At:       time.Now().UTC(),
	}
}

// NewPrivateMessage builds a direct message between two usernames.
func NewPrivateMessage(sender, to, content string) Message {
	return Message{
		ID:      uuid.New(),
		Sender:  sender,
		To:      to,
		Content: content,
		At:      time.Now().UTC(),
		Private: true,
	}
}

// NewSystemNotice builds a lifecycle notice addressed to a room.
func NewSystemNotice(room RoomName, content string) Message {
	return Message{
		ID:      uuid.New(),
		Sender:  SystemSender,
		Room:    room,
		Content: content,
		At:      time.Now().UTC(),
	}
}
