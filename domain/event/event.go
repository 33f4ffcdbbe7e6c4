// Package event defines the outbound events the engine fans out to
// session sinks. Events are plain values; sinks serialize them for
// their transport.
package event

import (
	"chat-relay/domain"
)

// DomainEvent is anything deliverable to a session sink.
type DomainEvent interface {
	Room() domain.RoomName
}

// MessageDelivered carries one chat message, broadcast or private.
type MessageDelivered struct {
	Message domain.Message
}

func (e MessageDelivered) Room() domain.RoomName {
	return e.Message.Room
}

// HistoryLoaded replays the recent backlog of a room. Emitted to the
// joining session only, before any live traffic reaches it.
type HistoryLoaded struct {
	RoomName domain.RoomName
	Messages []domain.Message
}

func (e HistoryLoaded) Room() domain.RoomName {
	return e.RoomName
}

// RoomData is the full membership snapshot of a room, in join order.
type RoomData struct {
	RoomName domain.RoomName
	Users    []string
}

func (e RoomData) Room() domain.RoomName {
	return e.RoomName
}

// UserTyping signals a typing-state change. RoomName is empty when the
// indicator is routed privately to a single recipient.
type UserTyping struct {
	RoomName domain.RoomName
	Username string
	IsTyping bool
}

func (e UserTyping) Room() domain.RoomName {
	return e.RoomName
}

// HistoryCleared tells every member of a room that its persisted log
// was wiped. Only emitted after the store confirmed the deletion.
type HistoryCleared struct {
	RoomName domain.RoomName
}

func (e HistoryCleared) Room() domain.RoomName {
	return e.RoomName
}
