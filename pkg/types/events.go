package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire event names. These are the client contract and must not change.
const (
	EventMatchStart         = "match:start"
	EventMatchCancel        = "match:cancel"
	EventMatchLeave         = "match:leave"
	EventMatchSuccess       = "match:success"
	EventMatchFail          = "match:fail"
	EventMatchReconnectFail = "match:reconnect-fail"
	EventChatSend           = "chat:send"
	EventChatReceive        = "chat:receive"
	EventChatHistory        = "chat:history"
	EventChatBlock          = "chat:block"
	EventChatUnblock        = "chat:unblock"
)

// ChatBlockReason is the fixed reason carried by every chat:block notification
const ChatBlockReason = "too many messages, please slow down"

// Envelope is the JSON frame exchanged over the connection in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is one of the client-to-server events
type Inbound interface {
	EventName() string
}

// MatchStart asks to be paired with a waiting peer
type MatchStart struct {
	Device string `json:"device"`
}

// MatchCancel withdraws from the waiting pool
type MatchCancel struct{}

// MatchLeave ends the session for the persisted user
type MatchLeave struct {
	UserID string `json:"userId"`
}

// ChatSend is a chat message bound for the sender's room
type ChatSend struct {
	UserID  string `json:"userId"`
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

func (MatchStart) EventName() string  { return EventMatchStart }
func (MatchCancel) EventName() string { return EventMatchCancel }
func (MatchLeave) EventName() string  { return EventMatchLeave }
func (ChatSend) EventName() string    { return EventChatSend }

// Attributes converts the start payload into pool attributes
func (m MatchStart) Attributes() Attributes {
	return Attributes{Device: m.Device}
}

// inboundDecoders maps a wire event name to the decoder of its payload
var inboundDecoders = map[string]func(json.RawMessage) (Inbound, error){
	EventMatchStart: func(raw json.RawMessage) (Inbound, error) {
		var ev MatchStart
		if err := decodePayload(raw, &ev); err != nil {
			return nil, err
		}
		if len(ev.Device) > 32 {
			return nil, ErrInvalidDevice
		}
		return ev, nil
	},
	EventMatchCancel: func(json.RawMessage) (Inbound, error) {
		return MatchCancel{}, nil
	},
	EventMatchLeave: func(raw json.RawMessage) (Inbound, error) {
		var ev MatchLeave
		if err := decodePayload(raw, &ev); err != nil {
			return nil, err
		}
		if !IsValidID(ev.UserID) {
			return nil, fmt.Errorf("%w: userId", ErrInvalidID)
		}
		return ev, nil
	},
	EventChatSend: func(raw json.RawMessage) (Inbound, error) {
		var ev ChatSend
		if err := decodePayload(raw, &ev); err != nil {
			return nil, err
		}
		if !IsValidID(ev.UserID) {
			return nil, fmt.Errorf("%w: userId", ErrInvalidID)
		}
		if !IsValidID(ev.RoomID) {
			return nil, fmt.Errorf("%w: roomId", ErrInvalidID)
		}
		return ev, nil
	},
}

// DecodeInbound parses a raw frame into its typed inbound event
func DecodeInbound(frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	decode, ok := inboundDecoders[env.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	return decode(env.Data)
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Outbound is one of the server-to-client notifications
type Outbound interface {
	EventName() string
}

// MatchSuccess carries only the receiving side's own user id plus the shared room
type MatchSuccess struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// MatchFail is sent when a wait times out
type MatchFail struct{}

// MatchCancelled confirms a cancel. It shares the match:cancel wire name with the request.
type MatchCancelled struct{}

// MatchLeft tells a room that the session ended
type MatchLeft struct{}

// MatchReconnectFail is sent when a reconnect names a room that does not exist
type MatchReconnectFail struct{}

// ChatBlock announces that a sender has been blocked
type ChatBlock struct {
	Error  string `json:"error"`
	UserID string `json:"userId"`
}

// ChatUnblock announces that a sender's block expired
type ChatUnblock struct {
	UserID string `json:"userId"`
}

// ChatReceive forwards a persisted message to the room
type ChatReceive struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatHistory replays stored messages to a reconnecting connection
type ChatHistory struct {
	RoomID   string     `json:"roomId"`
	Messages []*Message `json:"messages"`
}

func (MatchSuccess) EventName() string       { return EventMatchSuccess }
func (MatchFail) EventName() string          { return EventMatchFail }
func (MatchCancelled) EventName() string     { return EventMatchCancel }
func (MatchLeft) EventName() string          { return EventMatchLeave }
func (MatchReconnectFail) EventName() string { return EventMatchReconnectFail }
func (ChatBlock) EventName() string          { return EventChatBlock }
func (ChatUnblock) EventName() string        { return EventChatUnblock }
func (ChatReceive) EventName() string        { return EventChatReceive }
func (ChatHistory) EventName() string        { return EventChatHistory }

// NewChatReceive builds the forwarded form of a persisted message
func NewChatReceive(m *Message) ChatReceive {
	return ChatReceive{
		ID:        m.ID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// EncodeOutbound frames a notification for the wire
func EncodeOutbound(ev Outbound) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", ev.EventName(), err)
	}
	return json.Marshal(Envelope{Event: ev.EventName(), Data: data})
}
