// Package runtime hosts the session and routing engine: the registry
// of live sessions, the lifecycle transitions, and the fan-out logic
// deciding who receives every inbound event. It orchestrates delivery
// without containing transport or storage concerns.
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"

	"github.com/abadojack/whatlanggo"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// Engine routes every inbound event to its fan-out set. Registry
// mutations are serialized inside the registry; the engine itself
// never holds that lock while delivering to sinks or talking to the
// history store.
type Engine struct {
	log          *slog.Logger
	registry     contract.IRegistry
	history      repositories.IHistoryRepository
	appendQueue  chan<- repositories.StoredMessage
	moderator    *moderation.Moderator
	validate     *validator.Validate
	stats        *observability.RelayStats
	historyLimit int
}

// NewEngine wires the engine. moderator may be nil, in which case
// messages are relayed verbatim. appendQueue is drained by the
// persistence worker; the engine only ever does a non-blocking send
// on it.
func NewEngine(log *slog.Logger, registry contract.IRegistry,
	history repositories.IHistoryRepository, appendQueue chan<- repositories.StoredMessage,
	moderator *moderation.Moderator, stats *observability.RelayStats, historyLimit int) *Engine {
	return &Engine{
		log:          log,
		registry:     registry,
		history:      history,
		appendQueue:  appendQueue,
		moderator:    moderator,
		validate:     validator.New(),
		stats:        stats,
		historyLimit: historyLimit,
	}
}

// Join transitions a session into Active: installs it in the Presence
// Directory and the room roster, replays the recent history to the
// joiner, and announces the arrival to the rest of the room.
//
// A username already held by another live session is taken over:
// the prior session is evicted, its room notified, and its sink
// closed. A validation failure mutates nothing and emits nothing.
func (e *Engine) Join(ctx context.Context, id domain.SessionID, sink contract.EventSink, cmd domain.JoinCommand) error {
	if err := e.validate.Struct(cmd); err != nil {
		return fmt.Errorf("join rejected: %w", err)
	}

	session := domain.Session{
		ID:          id,
		Username:    cmd.Username,
		CurrentRoom: domain.RoomName(cmd.Room),
	}
	evicted, evictedSink := e.registry.Install(session, sink)
	if evicted != nil {
		e.evict(ctx, *evicted, evictedSink)
	}

	room := session.CurrentRoom

	// History replay happens outside the registry lock. A store failure
	// is logged and skips the replay, it never blocks the join itself.
	stored, err := e.history.FetchRecent(room, e.historyLimit)
	if err != nil {
		e.log.Error("history fetch failed, joining without replay",
			"room", room, "username", session.Username, "error", err)
	} else {
		e.deliver(ctx, []contract.EventSink{sink}, event.HistoryLoaded{
			RoomName: room,
			Messages: fromStored(stored),
		})
	}

	welcome := domain.NewSystemNotice(room, fmt.Sprintf("Welcome to the %s room, %s!", room, session.Username))
	e.deliver(ctx, []contract.EventSink{sink}, event.MessageDelivered{Message: welcome})

	joined := domain.NewSystemNotice(room, fmt.Sprintf("%s has joined the chat", session.Username))
	e.deliver(ctx, e.registry.RoomSinks(room, id), event.MessageDelivered{Message: joined})

	e.broadcastRoster(ctx, room)

	e.stats.SessionsJoined.Add(1)
	e.log.Info("session joined", "session_id", id, "username", session.Username, "room", room)
	return nil
}

// Disconnect tears a session down. Disconnecting a session that never
// joined is a no-op: no events, no registry change. The Presence
// Directory entry is only removed if it still points at this session,
// so a stale disconnect racing a fast rejoin cannot unmap the newer
// session.
func (e *Engine) Disconnect(ctx context.Context, id domain.SessionID) {
	removed, ok := e.registry.Remove(id)
	if !ok {
		return
	}

	room := removed.CurrentRoom
	left := domain.NewSystemNotice(room, fmt.Sprintf("%s has left the chat", removed.Username))
	e.deliver(ctx, e.registry.RoomSinks(room), event.MessageDelivered{Message: left})
	e.broadcastRoster(ctx, room)

	e.stats.SessionsLeft.Add(1)
	e.log.Info("session disconnected", "session_id", id, "username", removed.Username, "room", room)
}

// RoomMessage fans a broadcast message out to every session in the
// sender's room, the sender included, then enqueues the append for the
// history store. Persistence is an auxiliary side effect: a full queue
// drops the append with a warning and the already-delivered message
// stands.
func (e *Engine) RoomMessage(ctx context.Context, id domain.SessionID, cmd domain.RoomMessageCommand) error {
	session, _, ok := e.registry.Lookup(id)
	if !ok {
		return errors.ErrNotJoined
	}

	content := cmd.Content
	if e.moderator != nil {
		content = e.moderator.Censor(content)
	}

	message := domain.NewRoomMessage(session.Username, session.CurrentRoom, content)
	e.deliver(ctx, e.registry.RoomSinks(session.CurrentRoom), event.MessageDelivered{Message: message})
	e.stats.MessagesRelayed.Add(1)

	select {
	case e.appendQueue <- toStored(message):
	default:
		e.stats.PersistDropped.Add(1)
		e.log.Warn("persistence queue full, dropping append", "room", session.CurrentRoom)
	}

	if e.log.Enabled(ctx, slog.LevelDebug) {
		info := whatlanggo.Detect(content)
		e.log.Debug("room message relayed",
			"room", session.CurrentRoom,
			"sender", session.Username,
			"lang", info.Lang.Iso6391(),
			"mentions", len(message.Mentions),
		)
	}
	return nil
}

// PrivateMessage routes text to the single session its recipient's
// username currently maps to, echoing a copy back to the sender. A
// recipient absent from the Presence Directory silently drops the
// message: no error, no delivery, no persistence.
func (e *Engine) PrivateMessage(ctx context.Context, id domain.SessionID, cmd domain.PrivateMessageCommand) error {
	session, senderSink, ok := e.registry.Lookup(id)
	if !ok {
		return errors.ErrNotJoined
	}

	recipient, recipientSink, found := e.registry.LookupUsername(cmd.To)
	if !found {
		e.stats.RoutingMisses.Add(1)
		e.log.Debug("private message to unknown user dropped", "sender", session.Username, "to", cmd.To)
		return nil
	}

	message := domain.NewPrivateMessage(session.Username, cmd.To, cmd.Content)
	targets := []contract.EventSink{recipientSink}
	if recipient.ID != id {
		targets = append(targets, senderSink)
	}
	e.deliver(ctx, targets, event.MessageDelivered{Message: message})
	e.stats.PrivateMessages.Add(1)
	return nil
}

// Typing routes a typing indicator: to a single recipient when one is
// named (dropped silently if absent), otherwise to everyone in the
// sender's room except the sender.
func (e *Engine) Typing(ctx context.Context, id domain.SessionID, cmd domain.TypingCommand) error {
	session, _, ok := e.registry.Lookup(id)
	if !ok {
		return errors.ErrNotJoined
	}

	if cmd.Recipient != "" {
		_, recipientSink, found := e.registry.LookupUsername(cmd.Recipient)
		if !found {
			e.stats.RoutingMisses.Add(1)
			return nil
		}
		e.deliver(ctx, []contract.EventSink{recipientSink}, event.UserTyping{
			Username: session.Username,
			IsTyping: cmd.IsTyping,
		})
		return nil
	}

	e.deliver(ctx, e.registry.RoomSinks(session.CurrentRoom, id), event.UserTyping{
		RoomName: session.CurrentRoom,
		Username: session.Username,
		IsTyping: cmd.IsTyping,
	})
	return nil
}

// ClearHistory wipes the room's persisted log. The cleared notice only
// goes out after the store confirmed the deletion; on failure nothing
// is emitted, so clients are never told of a wipe that did not happen.
func (e *Engine) ClearHistory(ctx context.Context, id domain.SessionID, cmd domain.ClearHistoryCommand) error {
	if err := e.validate.Struct(cmd); err != nil {
		return fmt.Errorf("clear history rejected: %w", err)
	}
	if _, _, ok := e.registry.Lookup(id); !ok {
		return errors.ErrNotJoined
	}

	room := domain.RoomName(cmd.Room)
	if err := e.history.DeleteAll(room); err != nil {
		e.stats.PersistFailures.Add(1)
		e.log.Error("clear history failed", "room", room, "error", err)
		return err
	}

	e.deliver(ctx, e.registry.RoomSinks(room), event.HistoryCleared{RoomName: room})
	e.log.Info("room history cleared", "room", room)
	return nil
}

// evict notifies the superseded session's room and closes its sink.
// The registry already removed it, so the roster sent here reflects
// the post-eviction state.
func (e *Engine) evict(ctx context.Context, prior domain.Session, priorSink contract.EventSink) {
	e.stats.SessionsEvicted.Add(1)
	e.log.Info("session superseded by newer join",
		"username", prior.Username, "old_session_id", prior.ID, "room", prior.CurrentRoom)

	left := domain.NewSystemNotice(prior.CurrentRoom, fmt.Sprintf("%s has left the chat", prior.Username))
	e.deliver(ctx, e.registry.RoomSinks(prior.CurrentRoom), event.MessageDelivered{Message: left})
	e.broadcastRoster(ctx, prior.CurrentRoom)

	if closer, ok := priorSink.(io.Closer); ok {
		_ = closer.Close()
	}
}

func (e *Engine) broadcastRoster(ctx context.Context, room domain.RoomName) {
	e.deliver(ctx, e.registry.RoomSinks(room), event.RoomData{
		RoomName: room,
		Users:    e.registry.Roster(room),
	})
}

// deliver is fire-and-forget fan-out: a failing sink is counted and
// logged, never retried, and never stalls delivery to the others.
func (e *Engine) deliver(ctx context.Context, sinks []contract.EventSink, evt event.DomainEvent) {
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		if err := sink.Consume(ctx, evt); err != nil {
			e.stats.DeliveriesDropped.Add(1)
			e.log.Warn("delivery failed", "event", fmt.Sprintf("%T", evt), "error", err)
		}
	}
}

func toStored(message domain.Message) repositories.StoredMessage {
	return repositories.StoredMessage{
		ID:      message.ID,
		Room:    message.Room,
		Author:  message.Sender,
		Content: message.Content,
		At:      message.At,
	}
}

func fromStored(messages []repositories.StoredMessage) []domain.Message {
	return lo.Map(messages, func(item repositories.StoredMessage, _ int) domain.Message {
		return domain.Message{
			ID:       item.ID,
			Sender:   item.Author,
			Room:     item.Room,
			Content:  item.Content,
			Mentions: domain.ExtractMentions(item.Content),
			At:       item.At,
		}
	})
}
