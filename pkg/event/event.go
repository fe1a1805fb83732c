// Package event defines the relay wire protocol.
//
// Every frame is an envelope {"type": <kind>, "data": <payload>}. The set of
// kinds is closed: Decode returns ErrUnknownKind for anything else, so
// handlers can switch over the concrete types exhaustively.
//
// Frames sent by a connection carry routing fields (receiverChannelId,
// senderChannelId) naming the rooms the event is addressed to. The relay
// strips them with Outbound before fan-out.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind tags an event variant on the wire.
type Kind string

const (
	KindJoinRoom           Kind = "join-room"
	KindMessageReceived    Kind = "message-received"
	KindMessageUnsent      Kind = "message-unsent"
	KindMessageDeleted     Kind = "message-deleted"
	KindUnreadCountUpdated Kind = "unread-count-updated"
	KindError              Kind = "error"
)

var (
	ErrUnknownKind = errors.New("unknown event kind")
	ErrMalformed   = errors.New("malformed event payload")
)

// Event is implemented only by the variants in this package.
type Event interface {
	Kind() Kind
	validate() error
}

// JoinRoom asks the relay to attach the sending connection to a channel.
type JoinRoom struct {
	ChannelID string `json:"channelId"`
}

// MessageReceived announces a message the store has already accepted.
type MessageReceived struct {
	Message        string    `json:"message"`
	SenderID       string    `json:"senderID"`
	ReceiverID     string    `json:"receiverID"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversationId"`
	MessageID      int64     `json:"messageId"`

	ReceiverChannelID string `json:"receiverChannelId,omitempty"`
}

// MessageUnsent retracts a message from both participants.
type MessageUnsent struct {
	MessageID      int64  `json:"messageId"`
	ConversationID string `json:"conversationId"`

	SenderChannelID   string `json:"senderChannelId,omitempty"`
	ReceiverChannelID string `json:"receiverChannelId,omitempty"`
}

// MessageDeleted tells a channel that a message was deleted.
type MessageDeleted struct {
	MessageID int64 `json:"messageId"`

	ReceiverChannelID string `json:"receiverChannelId,omitempty"`
}

// UnreadCountUpdated carries a fresh unread badge count. UserID is also the
// channel the event is routed to.
type UnreadCountUpdated struct {
	UserID      string `json:"userId"`
	UnreadCount int    `json:"unreadCount"`
}

// ErrorNotice is written by the relay to a connection that sent a bad frame.
type ErrorNotice struct {
	Message string `json:"message"`
}

func (JoinRoom) Kind() Kind           { return KindJoinRoom }
func (MessageReceived) Kind() Kind    { return KindMessageReceived }
func (MessageUnsent) Kind() Kind      { return KindMessageUnsent }
func (MessageDeleted) Kind() Kind     { return KindMessageDeleted }
func (UnreadCountUpdated) Kind() Kind { return KindUnreadCountUpdated }
func (ErrorNotice) Kind() Kind        { return KindError }

// An absent channel id is still a valid join.
func (JoinRoom) validate() error { return nil }

func (e MessageReceived) validate() error {
	if e.MessageID == 0 {
		return errors.New("messageId is required")
	}
	if e.SenderID == "" || e.ReceiverID == "" {
		return errors.New("senderID and receiverID are required")
	}
	return nil
}

func (e MessageUnsent) validate() error {
	if e.MessageID == 0 {
		return errors.New("messageId is required")
	}
	return nil
}

func (e MessageDeleted) validate() error {
	if e.MessageID == 0 {
		return errors.New("messageId is required")
	}
	return nil
}

func (e UnreadCountUpdated) validate() error {
	if e.UnreadCount < 0 {
		return errors.New("unreadCount must not be negative")
	}
	return nil
}

func (ErrorNotice) validate() error { return nil }

type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode serialises an event into its envelope.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	return json.Marshal(envelope{Type: e.Kind(), Data: data})
}

// Decode parses a frame into its concrete variant.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var (
		e   Event
		err error
	)
	switch env.Type {
	case KindJoinRoom:
		e, err = decodeAs[JoinRoom](env.Data)
	case KindMessageReceived:
		e, err = decodeAs[MessageReceived](env.Data)
	case KindMessageUnsent:
		e, err = decodeAs[MessageUnsent](env.Data)
	case KindMessageDeleted:
		e, err = decodeAs[MessageDeleted](env.Data)
	case KindUnreadCountUpdated:
		e, err = decodeAs[UnreadCountUpdated](env.Data)
	case KindError:
		e, err = decodeAs[ErrorNotice](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	if err := e.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return e, nil
}

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Outbound returns e with routing fields cleared, as delivered to members.
func Outbound(e Event) Event {
	switch v := e.(type) {
	case MessageReceived:
		v.ReceiverChannelID = ""
		return v
	case MessageUnsent:
		v.SenderChannelID = ""
		v.ReceiverChannelID = ""
		return v
	case MessageDeleted:
		v.ReceiverChannelID = ""
		return v
	default:
		return e
	}
}
