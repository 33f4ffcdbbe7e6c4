package domain

// Inbound commands, one per transport event. The gateway decodes frames
// into these structs; the engine validates and executes them.

// JoinCommand places a session into a room under a username.
// Both fields are mandatory, enforced by the engine's validator.
type JoinCommand struct {
	Username string `validate:"required"`
	Room     string `validate:"required"`
}

// RoomMessageCommand broadcasts text to the sender's current room.
type RoomMessageCommand struct {
	Content string
}

// PrivateMessageCommand sends text to a single username, wherever
// its session currently is.
type PrivateMessageCommand struct {
	To      string
	Content string
}

// TypingCommand updates the sender's typing indicator. When Recipient
// is set the indicator is routed to that user only; otherwise it is
// broadcast to the rest of the sender's room.
type TypingCommand struct {
	IsTyping  bool
	Recipient string
}

// ClearHistoryCommand wipes the persisted log of a room.
type ClearHistoryCommand struct {
	Room string `validate:"required"`
}
