//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"chat-relay/domain"
	"chat-relay/domain/event"
)

type WorkerName string

// Worker doesn't protect itself.
// Can be silly, focused. Supervision lives in the Supervisor.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is one session's delivery endpoint. Implementations must
// never block the caller: a slow consumer drops events, it does not
// stall fan-out to other sessions.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IRegistry is the serialized home of the Room Roster and the Presence
// Directory. Every method returns snapshots; callers never see the
// internal maps.
type IRegistry interface {
	// Install registers a session and its sink, overwriting the presence
	// entry for the username. When the username was already mapped to a
	// different live session, that prior session is removed from the
	// registry and returned so the engine can notify and close it.
	Install(session domain.Session, sink EventSink) (evicted *domain.Session, evictedSink EventSink)
	// Remove discards a session, its roster entry, and its presence
	// entry. The presence entry is only deleted if it still points at
	// this session, so a stale disconnect never unmaps a newer session.
	Remove(id domain.SessionID) (removed *domain.Session, ok bool)
	Lookup(id domain.SessionID) (domain.Session, EventSink, bool)
	// LookupUsername resolves the Presence Directory: the single session
	// currently addressable under a username.
	LookupUsername(username string) (domain.Session, EventSink, bool)
	// Roster returns the room's usernames in join order.
	Roster(room domain.RoomName) []string
	// RoomSinks returns the sinks of every session in the room,
	// optionally excluding some sessions.
	RoomSinks(room domain.RoomName, except ...domain.SessionID) []EventSink
}
