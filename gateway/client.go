// Package gateway is the WebSocket transport in front of the relay
// engine. It upgrades connections, decodes inbound frames into engine
// commands, and implements the per-session delivery sink the engine
// fans out to.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Engine is the slice of the relay engine the gateway drives. Defined
// here so the gateway can be tested against a fake.
type Engine interface {
	Join(ctx context.Context, id domain.SessionID, sink contract.EventSink, cmd domain.JoinCommand) error
	Disconnect(ctx context.Context, id domain.SessionID)
	RoomMessage(ctx context.Context, id domain.SessionID, cmd domain.RoomMessageCommand) error
	PrivateMessage(ctx context.Context, id domain.SessionID, cmd domain.PrivateMessageCommand) error
	Typing(ctx context.Context, id domain.SessionID, cmd domain.TypingCommand) error
	ClearHistory(ctx context.Context, id domain.SessionID, cmd domain.ClearHistoryCommand) error
}

// Client is one WebSocket connection: the session's transport identity
// and its delivery sink. Consume never blocks; when the send buffer is
// full the event is dropped and reported to the engine as an error.
//
// Teardown closes the done channel, never the send channel: the engine
// may still be fanning out to this sink from another session's
// goroutine, and a send racing close(send) would panic. Consume checks
// done instead, and frames queued after teardown are simply dropped.
type Client struct {
	id        domain.SessionID
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	engine    Engine
	log       *slog.Logger
	closeOnce sync.Once
}

func NewClient(id domain.SessionID, conn *websocket.Conn, engine Engine,
	sendBuffer int, log *slog.Logger) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		engine: engine,
		log:    log,
	}
}

// Consume implements contract.EventSink over the send channel.
func (c *Client) Consume(_ context.Context, e event.DomainEvent) error {
	frame, err := encodeEvent(e)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return fmt.Errorf("session %s: connection closed, event dropped", c.id)
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("session %s: send buffer full, event dropped", c.id)
	}
}

// Close tears the connection down. Safe to call from the engine (on
// eviction) and from the pumps; only the first call has effect.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// ReadPump decodes inbound frames and hands them to the engine. It
// owns the connection's read side and exits on any read error, at
// which point the session is disconnected from the engine.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.engine.Disconnect(ctx, c.id)
		_ = c.Close()
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.log.Warn("unexpected websocket error", "session_id", c.id, "error", err)
			}
			return
		}
		if err := c.dispatch(ctx, raw); err != nil {
			c.log.Warn("inbound frame rejected", "session_id", c.id, "error", err)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Event {
	case frameJoin:
		var data joinData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return err
		}
		return c.engine.Join(ctx, c.id, c, domain.JoinCommand{
			Username: data.Username,
			Room:     data.Room,
		})
	case frameChatMessage:
		var data chatMessageData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return err
		}
		return c.engine.RoomMessage(ctx, c.id, domain.RoomMessageCommand{Content: data.Text})
	case framePrivateMessage:
		var data privateMessageData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return err
		}
		return c.engine.PrivateMessage(ctx, c.id, domain.PrivateMessageCommand{
			To:      data.To,
			Content: data.Text,
		})
	case frameTyping:
		var data typingData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return err
		}
		return c.engine.Typing(ctx, c.id, domain.TypingCommand{
			IsTyping:  data.IsTyping,
			Recipient: data.Recipient,
		})
	case frameClearHistory:
		var data clearHistoryData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return err
		}
		return c.engine.ClearHistory(ctx, c.id, domain.ClearHistoryCommand{Room: data.Room})
	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
}

// WritePump owns the connection's write side: queued frames plus
// keepalive pings. Teardown (session evicted or read side gone) sends
// a close control message and exits.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
