package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"

	"github.com/samber/lo"
)

// Wire protocol. Each frame is a JSON envelope {"event": ..., "data": ...}.
const (
	// inbound
	frameJoin           = "join"
	frameChatMessage    = "chatMessage"
	framePrivateMessage = "privateMessage"
	frameTyping         = "typing"
	frameClearHistory   = "clearHistory"

	// outbound
	frameLoadHistory    = "loadHistory"
	frameMessage        = "message"
	frameRoomData       = "roomData"
	frameUserTyping     = "userTyping"
	frameHistoryCleared = "historyCleared"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinData struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

type chatMessageData struct {
	Text string `json:"text"`
}

type privateMessageData struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type typingData struct {
	IsTyping  bool   `json:"isTyping"`
	Recipient string `json:"recipient,omitempty"`
}

type clearHistoryData struct {
	Room string `json:"room"`
}

type messageData struct {
	User      string    `json:"user"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsPrivate bool      `json:"isPrivate"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Mentions  []string  `json:"mentions,omitempty"`
}

type loadHistoryData struct {
	Room     string        `json:"room"`
	Messages []messageData `json:"messages"`
}

type roomDataData struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

type userTypingData struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type historyClearedData struct {
	Room string `json:"room"`
}

func toMessageData(m domain.Message) messageData {
	return messageData{
		User:      m.Sender,
		Text:      m.Content,
		Timestamp: m.At,
		IsPrivate: m.Private,
		From:      lo.Ternary(m.Private, m.Sender, ""),
		To:        m.To,
		Mentions:  m.Mentions,
	}
}

// encodeEvent serializes an engine event into its wire frame.
func encodeEvent(e event.DomainEvent) ([]byte, error) {
	switch evt := e.(type) {
	case event.MessageDelivered:
		return encodeFrame(frameMessage, toMessageData(evt.Message))
	case event.HistoryLoaded:
		return encodeFrame(frameLoadHistory, loadHistoryData{
			Room: string(evt.RoomName),
			Messages: lo.Map(evt.Messages, func(m domain.Message, _ int) messageData {
				return toMessageData(m)
			}),
		})
	case event.RoomData:
		return encodeFrame(frameRoomData, roomDataData{
			Room:  string(evt.RoomName),
			Users: evt.Users,
		})
	case event.UserTyping:
		return encodeFrame(frameUserTyping, userTypingData{
			Username: evt.Username,
			IsTyping: evt.IsTyping,
		})
	case event.HistoryCleared:
		return encodeFrame(frameHistoryCleared, historyClearedData{Room: string(evt.RoomName)})
	default:
		return nil, fmt.Errorf("no wire mapping for event %T", e)
	}
}

func encodeFrame(name string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: name, Data: raw})
}
