package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// recordingSink collects everything delivered to one session.
type recordingSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
	closed bool
	fail   bool
}

func (s *recordingSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("sink rejected event")
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) all() []event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]event.DomainEvent, len(s.events))
	copy(snapshot, s.events)
	return snapshot
}

func (s *recordingSink) messages() []domain.Message {
	var out []domain.Message
	for _, e := range s.all() {
		if delivered, ok := e.(event.MessageDelivered); ok {
			out = append(out, delivered.Message)
		}
	}
	return out
}

func (s *recordingSink) chatMessages() []domain.Message {
	var out []domain.Message
	for _, m := range s.messages() {
		if m.Sender != domain.SystemSender {
			out = append(out, m)
		}
	}
	return out
}

func (s *recordingSink) lastRoster() []string {
	var roster []string
	for _, e := range s.all() {
		if data, ok := e.(event.RoomData); ok {
			roster = data.Users
		}
	}
	return roster
}

func (s *recordingSink) typing() []event.UserTyping {
	var out []event.UserTyping
	for _, e := range s.all() {
		if t, ok := e.(event.UserTyping); ok {
			out = append(out, t)
		}
	}
	return out
}

func (s *recordingSink) cleared() int {
	count := 0
	for _, e := range s.all() {
		if _, ok := e.(event.HistoryCleared); ok {
			count++
		}
	}
	return count
}

// fakeHistory is an in-memory stand-in for the Badger repository.
type fakeHistory struct {
	mu        sync.Mutex
	stored    []repositories.StoredMessage
	fetchErr  error
	deleteErr error
	deleted   []domain.RoomName
}

func (f *fakeHistory) Append(message repositories.StoredMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, message)
	return nil
}

func (f *fakeHistory) FetchRecent(room domain.RoomName, _ int) ([]repositories.StoredMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []repositories.StoredMessage
	for _, m := range f.stored {
		if m.Room == room {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeHistory) DeleteAll(room domain.RoomName) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, room)
	return nil
}

type engineFixture struct {
	engine  *Engine
	history *fakeHistory
	queue   chan repositories.StoredMessage
	stats   *observability.RelayStats
}

func newFixture(t *testing.T, moderator *moderation.Moderator) *engineFixture {
	t.Helper()
	history := &fakeHistory{}
	queue := make(chan repositories.StoredMessage, 16)
	stats := observability.NewRelayStats()
	engine := NewEngine(slog.Default(), NewRegistry(), history, queue, moderator, stats, 50)
	return &engineFixture{engine: engine, history: history, queue: queue, stats: stats}
}

func (f *engineFixture) join(t *testing.T, username, room string) (domain.SessionID, *recordingSink) {
	t.Helper()
	id := domain.SessionID(uuid.NewString())
	sink := &recordingSink{}
	require.NoError(t, f.engine.Join(context.Background(), id, sink, domain.JoinCommand{
		Username: username,
		Room:     room,
	}))
	return id, sink
}

func (f *engineFixture) drainQueue() []repositories.StoredMessage {
	var out []repositories.StoredMessage
	for {
		select {
		case m := <-f.queue:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestEngine_Join_Welcomes_Joiner_And_Notifies_Room(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)

	_, alice := f.join(t, "alice", "general")
	_, bob := f.join(t, "bob", "general")

	// The joiner got history, a welcome, and the roster
	req.Len(historyLoads(bob), 1)
	bobNotices := bob.messages()
	req.Len(bobNotices, 1)
	req.Equal(domain.SystemSender, bobNotices[0].Sender)
	req.Contains(bobNotices[0].Content, "Welcome to the general room, bob!")
	req.Equal([]string{"alice", "bob"}, bob.lastRoster())

	// The room got the join notice and the refreshed roster, in join order
	aliceNotices := alice.messages()
	req.Contains(aliceNotices[len(aliceNotices)-1].Content, "bob has joined the chat")
	req.Equal([]string{"alice", "bob"}, alice.lastRoster())
}

func historyLoads(s *recordingSink) []event.HistoryLoaded {
	var out []event.HistoryLoaded
	for _, e := range s.all() {
		if h, ok := e.(event.HistoryLoaded); ok {
			out = append(out, h)
		}
	}
	return out
}

func TestEngine_Join_Replays_History_To_Joiner_Only(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	f.history.stored = []repositories.StoredMessage{
		{ID: uuid.New(), Room: "general", Author: "clara", Content: "earlier @alice"},
	}

	_, alice := f.join(t, "alice", "general")
	_, bob := f.join(t, "bob", "general")

	loads := historyLoads(alice)
	req.Len(loads, 1)
	req.Len(loads[0].Messages, 1)
	req.Equal("clara", loads[0].Messages[0].Sender)
	req.Equal([]string{"alice"}, loads[0].Messages[0].Mentions)

	// bob's replay only contains what the store held, alice got no second one
	req.Len(historyLoads(bob), 1)
	req.Len(historyLoads(alice), 1)
}

func TestEngine_Join_Survives_History_Fetch_Failure(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	f.history.fetchErr = fmt.Errorf("store down")

	_, alice := f.join(t, "alice", "general")

	// No replay, but the join completed and the roster went out
	req.Empty(historyLoads(alice))
	req.Equal([]string{"alice"}, alice.lastRoster())
}

func TestEngine_Join_Rejects_Missing_Fields_Without_Mutation(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	sink := &recordingSink{}

	err := f.engine.Join(context.Background(), "s1", sink, domain.JoinCommand{Username: "", Room: "general"})
	req.Error(err)
	err = f.engine.Join(context.Background(), "s1", sink, domain.JoinCommand{Username: "alice", Room: ""})
	req.Error(err)

	req.Empty(sink.all())
	req.Error(f.engine.RoomMessage(context.Background(), "s1", domain.RoomMessageCommand{Content: "hi"}))
}

func TestEngine_RoomMessage_Reaches_Everyone_Including_Sender_Once(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	aliceID, alice := f.join(t, "alice", "general")
	_, bob := f.join(t, "bob", "general")
	_, outsider := f.join(t, "clara", "random")

	req.NoError(f.engine.RoomMessage(context.Background(), aliceID, domain.RoomMessageCommand{
		Content: "hello @bob!",
	}))

	aliceChats := alice.chatMessages()
	req.Len(aliceChats, 1)
	req.Equal("hello @bob!", aliceChats[0].Content)
	req.Equal([]string{"bob"}, aliceChats[0].Mentions)

	bobChats := bob.chatMessages()
	req.Len(bobChats, 1)
	req.Equal(aliceChats[0].ID, bobChats[0].ID)

	req.Empty(outsider.chatMessages())

	// And exactly one append was queued for the store
	queued := f.drainQueue()
	req.Len(queued, 1)
	req.Equal(domain.RoomName("general"), queued[0].Room)
	req.Equal("alice", queued[0].Author)
}

func TestEngine_RoomMessage_From_Unjoined_Session_Fails(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)

	err := f.engine.RoomMessage(context.Background(), "ghost", domain.RoomMessageCommand{Content: "boo"})

	req.ErrorIs(err, errors.ErrNotJoined)
}

func TestEngine_RoomMessage_Is_Censored_Before_Fanout_And_Persistence(t *testing.T) {
	req := require.New(t)
	moderator, err := moderation.NewModerator([]string{"frack"}, '*')
	req.NoError(err)
	f := newFixture(t, moderator)
	aliceID, alice := f.join(t, "alice", "general")

	req.NoError(f.engine.RoomMessage(context.Background(), aliceID, domain.RoomMessageCommand{
		Content: "what the frack",
	}))

	chats := alice.chatMessages()
	req.Len(chats, 1)
	req.Equal("what the *****", chats[0].Content)

	queued := f.drainQueue()
	req.Len(queued, 1)
	req.Equal("what the *****", queued[0].Content)
}

func TestEngine_PrivateMessage_Reaches_Recipient_And_Sender(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	aliceID, alice := f.join(t, "alice", "general")
	_, bob := f.join(t, "bob", "random") // private routing ignores rooms
	_, clara := f.join(t, "clara", "general")

	req.NoError(f.engine.PrivateMessage(context.Background(), aliceID, domain.PrivateMessageCommand{
		To:      "bob",
		Content: "psst",
	}))

	bobChats := bob.chatMessages()
	req.Len(bobChats, 1)
	req.True(bobChats[0].Private)
	req.Equal("alice", bobChats[0].Sender)
	req.Equal("bob", bobChats[0].To)

	req.Len(alice.chatMessages(), 1)
	req.Empty(clara.chatMessages())

	// Private messages are never persisted
	req.Empty(f.drainQueue())
}

func TestEngine_PrivateMessage_To_Absent_User_Is_Silently_Dropped(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	aliceID, alice := f.join(t, "alice", "general")

	before := len(alice.all())
	req.NoError(f.engine.PrivateMessage(context.Background(), aliceID, domain.PrivateMessageCommand{
		To:      "nobody",
		Content: "hello?",
	}))

	req.Len(alice.all(), before)
	req.Empty(f.drainQueue())
	req.Equal(uint64(1), f.stats.Snapshot().RoutingMisses)
}

func TestEngine_PrivateMessage_To_Self_Is_Delivered_Once(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	aliceID, alice := f.join(t, "alice", "general")

	req.NoError(f.engine.PrivateMessage(context.Background(), aliceID, domain.PrivateMessageCommand{
		To:      "alice",
		Content: "note to self",
	}))

	req.Len(alice.chatMessages(), 1)
}

func TestEngine_Typing_Broadcast_Skips_Sender(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	aliceID, alice := f.join(t, "alice", "general")
	_, bob := f.join(t, "bob", "general")

	req.NoError(f.engine.Typing(context.Background(), aliceID, domain.TypingCommand{IsTyping: true}))

	req.Empty(alice.typing())
	bobTyping := bob.typing()
	req.Len(bobTyping, 1)
	req.Equal("alice", bobTyping[0].Username)
	req.True(bobTyping[0].IsTyping)
}

func TestEngine_Typing_With_Recipient_Is_Targeted(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	aliceID, _ := f.join(t, "alice", "general")
	_, bob := f.join(t, "bob", "general")
	_, clara := f.join(t, "clara", "general")

	req.NoError(f.engine.Typing(context.Background(), aliceID, domain.TypingCommand{
		IsTyping:  true,
		Recipient: "bob",
	}))
	// typing to an absent recipient drops silently
	req.NoError(f.engine.Typing(context.Background(), aliceID, domain.TypingCommand{
		IsTyping:  true,
		Recipient: "nobody",
	}))

	req.Len(bob.typing(), 1)
	req.Empty(clara.typing())
}

func TestEngine_ClearHistory_Notifies_Each_Member_Once(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	aliceID, alice := f.join(t, "alice", "general")
	_, bob := f.join(t, "bob", "general")
	_, outsider := f.join(t, "clara", "random")

	req.NoError(f.engine.ClearHistory(context.Background(), aliceID, domain.ClearHistoryCommand{Room: "general"}))

	req.Equal([]domain.RoomName{"general"}, f.history.deleted)
	req.Equal(1, alice.cleared())
	req.Equal(1, bob.cleared())
	req.Equal(0, outsider.cleared())
}

func TestEngine_ClearHistory_Failure_Emits_Nothing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	f.history.deleteErr = fmt.Errorf("store down")
	aliceID, alice := f.join(t, "alice", "general")

	err := f.engine.ClearHistory(context.Background(), aliceID, domain.ClearHistoryCommand{Room: "general"})

	req.Error(err)
	req.Equal(0, alice.cleared())
}

func TestEngine_Disconnect_Notifies_Room_And_Updates_Roster(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	aliceID, _ := f.join(t, "alice", "general")
	_, bob := f.join(t, "bob", "general")

	f.engine.Disconnect(context.Background(), aliceID)

	notices := bob.messages()
	req.Contains(notices[len(notices)-1].Content, "alice has left the chat")
	req.Equal([]string{"bob"}, bob.lastRoster())
}

func TestEngine_Disconnect_Of_Unjoined_Session_Is_Noop(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	_, alice := f.join(t, "alice", "general")
	before := len(alice.all())

	f.engine.Disconnect(context.Background(), "never-joined")

	req.Len(alice.all(), before)
	req.Equal(uint64(0), f.stats.Snapshot().SessionsLeft)
}

func TestEngine_Rejoin_Evicts_Prior_Session(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	oldID, oldSink := f.join(t, "alice", "general")
	_, bob := f.join(t, "bob", "general")

	// alice reconnects on a fresh session
	newID, newSink := f.join(t, "alice", "general")

	// The old sink was closed and the room saw leave + rejoin
	req.True(oldSink.closed)
	req.Equal([]string{"bob", "alice"}, bob.lastRoster())

	// Private traffic now reaches only the new session
	bobID := findSession(t, f, "bob")
	req.NoError(f.engine.PrivateMessage(context.Background(), bobID, domain.PrivateMessageCommand{
		To:      "alice",
		Content: "you there?",
	}))
	req.Len(newSink.chatMessages(), 1)
	req.Empty(oldSink.chatMessages())

	// And the stale disconnect of the old session changes nothing
	f.engine.Disconnect(context.Background(), oldID)
	req.Equal([]string{"bob", "alice"}, bob.lastRoster())
	_, _, ok := f.engine.registry.Lookup(newID)
	req.True(ok)
}

// findSession resolves a username back to its live session id through
// the engine's own presence directory.
func findSession(t *testing.T, f *engineFixture, username string) domain.SessionID {
	t.Helper()
	session, _, ok := f.engine.registry.LookupUsername(username)
	require.True(t, ok)
	return session.ID
}

func TestEngine_Roster_Tracks_Join_Leave_Sequences(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)

	aliceID, _ := f.join(t, "alice", "general")
	bobID, _ := f.join(t, "bob", "general")
	_, clara := f.join(t, "clara", "general")

	f.engine.Disconnect(context.Background(), aliceID)
	req.Equal([]string{"bob", "clara"}, clara.lastRoster())

	f.engine.Disconnect(context.Background(), bobID)
	req.Equal([]string{"clara"}, clara.lastRoster())

	_, dan := f.join(t, "dan", "general")
	req.Equal([]string{"clara", "dan"}, dan.lastRoster())
}

func TestEngine_Failing_Sink_Does_Not_Block_Other_Deliveries(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	aliceID, alice := f.join(t, "alice", "general")
	_, bob := f.join(t, "bob", "general")

	// bob's sink starts rejecting everything
	bob.mu.Lock()
	bob.fail = true
	bob.mu.Unlock()

	req.NoError(f.engine.RoomMessage(context.Background(), aliceID, domain.RoomMessageCommand{Content: "hi"}))

	// alice still got the message, and the drop was counted
	req.Len(alice.chatMessages(), 1)
	req.Positive(f.stats.Snapshot().DeliveriesDropped)
}
