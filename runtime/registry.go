package runtime

import (
	"sync"

	"chat-relay/contract"
	"chat-relay/domain"

	"github.com/samber/lo"
)

type sessionHandle struct {
	session domain.Session
	sink    contract.EventSink
}

// Registry is the single synchronization domain around the Room Roster
// and the Presence Directory. All mutation goes through its mutex; no
// method performs I/O while holding it, and every read returns a
// snapshot so callers can fan out without the lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]sessionHandle
	presence map[string]domain.SessionID
	rosters  map[domain.RoomName][]string
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.SessionID]sessionHandle),
		presence: make(map[string]domain.SessionID),
		rosters:  make(map[domain.RoomName][]string),
	}
}

// Install registers a session under its username and room.
//
// The Presence Directory is last-writer-wins: a join under a username
// already mapped to a different live session supersedes that session,
// which is removed from the registry entirely and handed back to the
// caller for notification and closing. Re-installing the same session
// is idempotent and never duplicates its roster entry.
func (r *Registry) Install(session domain.Session, sink contract.EventSink) (*domain.Session, contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted *domain.Session
	var evictedSink contract.EventSink

	if priorID, ok := r.presence[session.Username]; ok && priorID != session.ID {
		if handle, live := r.sessions[priorID]; live {
			r.removeLocked(priorID)
			prior := handle.session
			evicted = &prior
			evictedSink = handle.sink
		}
	}

	// A rejoin from the same session under new identity sheds the old
	// roster and presence entries first.
	if handle, ok := r.sessions[session.ID]; ok {
		if handle.session.Username != session.Username || handle.session.CurrentRoom != session.CurrentRoom {
			r.removeLocked(session.ID)
		}
	}

	r.sessions[session.ID] = sessionHandle{session: session, sink: sink}
	r.presence[session.Username] = session.ID
	r.appendRosterLocked(session.CurrentRoom, session.Username)

	return evicted, evictedSink
}

// Remove discards a session and cleans up both registries. The
// presence entry is deleted only if it still points at this session:
// a disconnect arriving after the username was taken over by a newer
// session must not unmap that newer session.
func (r *Registry) Remove(id domain.SessionID) (*domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	r.removeLocked(id)
	removed := handle.session
	return &removed, true
}

func (r *Registry) removeLocked(id domain.SessionID) {
	handle, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)

	session := handle.session
	if current, ok := r.presence[session.Username]; ok && current == id {
		delete(r.presence, session.Username)
	}

	members := r.rosters[session.CurrentRoom]
	for i, username := range members {
		if username == session.Username {
			r.rosters[session.CurrentRoom] = append(members[:i], members[i+1:]...)
			break
		}
	}
	// If no one is left in the room, remove the room entry entirely
	if len(r.rosters[session.CurrentRoom]) == 0 {
		delete(r.rosters, session.CurrentRoom)
	}
}

func (r *Registry) appendRosterLocked(room domain.RoomName, username string) {
	for _, member := range r.rosters[room] {
		if member == username {
			return
		}
	}
	r.rosters[room] = append(r.rosters[room], username)
}

func (r *Registry) Lookup(id domain.SessionID) (domain.Session, contract.EventSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, nil, false
	}
	return handle.session, handle.sink, true
}

// LookupUsername resolves the Presence Directory entry for a username:
// the single session private traffic is addressed to.
func (r *Registry) LookupUsername(username string) (domain.Session, contract.EventSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.presence[username]
	if !ok {
		return domain.Session{}, nil, false
	}
	handle, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, nil, false
	}
	return handle.session, handle.sink, true
}

// Roster returns the room's usernames in join order.
func (r *Registry) Roster(room domain.RoomName) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rosters[room]
	if len(members) == 0 {
		return nil
	}
	snapshot := make([]string, len(members))
	copy(snapshot, members)
	return snapshot
}

// RoomSinks retrieves all active delivery endpoints for a room.
// It performs a two-step lookup:
//  1. Identifies the usernames rostered in the room.
//  2. Resolves each into its live session's sink via the Presence
//     Directory.
//
// Sessions listed in `except` are skipped, which implements the
// "everyone but the sender" fan-outs.
func (r *Registry) RoomSinks(room domain.RoomName, except ...domain.SessionID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rosters[room]
	if len(members) == 0 {
		return nil
	}

	var sinks []contract.EventSink
	for _, username := range members {
		id, ok := r.presence[username]
		if !ok {
			continue
		}
		if lo.Contains(except, id) {
			continue
		}
		if handle, exists := r.sessions[id]; exists {
			sinks = append(sinks, handle.sink)
		}
	}
	return sinks
}
