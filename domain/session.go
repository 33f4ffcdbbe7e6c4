// Package domain contains core concepts of the relay engine.
// This file defines the Session entity and its invariants.
// No runtime, network, or UI logic should be added here.
package domain

// SessionID is the opaque identifier the transport assigns to one connection.
type SessionID string

// RoomName identifies a chat room.
type RoomName string

// Session is one live connection's server-side identity.
// Username and CurrentRoom are assigned at join and never change afterwards;
// the engine owns the record exclusively and discards it on disconnect.
type Session struct {
	ID          SessionID
	Username    string
	CurrentRoom RoomName
}
