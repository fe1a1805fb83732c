// Package chatclient is the client half of the chat relay: it keeps a local
// timeline per conversation, reconciles optimistic sends against the message
// store, and applies relay events pushed by the server.
package chatclient

import (
	"errors"
	"fmt"
	"time"
)

// ErrIllegalTransition is returned when an outgoing message is moved out of
// a terminal state.
var ErrIllegalTransition = errors.New("illegal state transition")

// State is the lifecycle of an outgoing message.
type State int

const (
	// StatePending records have only a local key.
	StatePending State = iota
	// StateConfirmed records carry a store-assigned id.
	StateConfirmed
	// StateFailed records were rolled back and are no longer visible.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition validates a move from s to next. Only Pending may move, and
// only to Confirmed or Failed.
func (s State) Transition(next State) (State, error) {
	if s == StatePending && (next == StateConfirmed || next == StateFailed) {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
}

// Message is a message as returned by the store API.
type Message struct {
	ID             int64     `json:"id"`
	Content        string    `json:"content"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	ConversationID string    `json:"conversationId"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"createdAt"`
	DeletedLocally bool      `json:"deletedLocally,omitempty"`
}

// Record is one entry of a local timeline. A pending record has a LocalKey
// and no StoreID; a confirmed record has a StoreID.
type Record struct {
	LocalKey       string
	StoreID        int64
	Content        string
	SenderID       string
	ReceiverID     string
	ConversationID string
	CreatedAt      time.Time
	Read           bool
	DeletedLocally bool
	State          State

	// arrived is the timeline clock value when the record gained its store id.
	arrived uint64
}

// Confirmed reports whether the record carries a store identity.
func (r Record) Confirmed() bool {
	return r.State == StateConfirmed
}

func recordFromMessage(m Message) Record {
	return Record{
		StoreID:        m.ID,
		Content:        m.Content,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		ConversationID: m.ConversationID,
		CreatedAt:      m.CreatedAt,
		Read:           m.Read,
		DeletedLocally: m.DeletedLocally,
		State:          StateConfirmed,
	}
}
