package chat

import "time"

// DeletedPlaceholder replaces the content of a message the requester deleted for themselves.
const DeletedPlaceholder = "This message was deleted"

// Message is one direct message between two users. IDs are assigned by the store.
type Message struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	SenderID       string    `gorm:"size:36;index;not null" json:"senderId"`
	ReceiverID     string    `gorm:"size:36;index;not null" json:"receiverId"`
	ConversationID string    `gorm:"size:36;index;not null" json:"conversationId"`
	Read           bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt      time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	DeletedBySender   bool `gorm:"not null;default:false" json:"-"`
	DeletedByReceiver bool `gorm:"not null;default:false" json:"-"`

	// DeletedLocally is computed per requester and never stored.
	DeletedLocally bool `gorm:"-" json:"deletedLocally,omitempty"`
}

// Participant reports whether userID is the sender or receiver of m.
func (m Message) Participant(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// DeletedFor reports whether userID has deleted m from their own view.
func (m Message) DeletedFor(userID string) bool {
	switch userID {
	case m.SenderID:
		return m.DeletedBySender
	case m.ReceiverID:
		return m.DeletedByReceiver
	}
	return false
}

// ViewFor returns m as userID should see it.
func (m Message) ViewFor(userID string) Message {
	if m.DeletedFor(userID) {
		m.Content = DeletedPlaceholder
		m.DeletedLocally = true
	}
	return m
}

// Conversation groups the messages between two participants. The pair is
// stored ordered so each pair has exactly one row.
type Conversation struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Participant1ID string    `gorm:"size:36;uniqueIndex:idx_conversation_pair,priority:1;not null" json:"participant1Id"`
	Participant2ID string    `gorm:"size:36;uniqueIndex:idx_conversation_pair,priority:2;index;not null" json:"participant2Id"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NewConversation returns a conversation between a and b with the
// participants in canonical order.
func NewConversation(id, a, b string) Conversation {
	p1, p2 := OrderedPair(a, b)
	return Conversation{ID: id, Participant1ID: p1, Participant2ID: p2}
}

// OrderedPair returns a and b with the smaller id first.
func OrderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
