// Package memstore is an in-memory repository suitable for development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ezchat/realtime/backend/internal/model/chat"
	"github.com/ezchat/realtime/backend/internal/store"
)

// Store keeps users, friendships, conversations and messages in maps.
type Store struct {
	mu            sync.RWMutex
	users         map[string]chat.User
	friendships   []chat.Friendship
	conversations map[string]chat.Conversation
	messages      map[int64]chat.Message
	nextMessageID int64
	now           func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]chat.User),
		conversations: make(map[string]chat.Conversation),
		messages:      make(map[int64]chat.Message),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateUser(_ context.Context, user *chat.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == user.Email {
			return store.ErrConflict
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = *user
	return nil
}

func (s *Store) FindUser(_ context.Context, id string) (chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return chat.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *Store) FindUserByChannel(_ context.Context, channelID string) (chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Channel() == channelID {
			return user, nil
		}
	}
	return chat.User{}, store.ErrNotFound
}

func (s *Store) SetChannel(_ context.Context, userID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	for id, other := range s.users {
		if id != userID && other.Channel() == channelID {
			return store.ErrConflict
		}
	}
	user.ChannelID = &channelID
	user.UpdatedAt = s.now()
	s.users[userID] = user
	return nil
}

func (s *Store) AddFriend(_ context.Context, f chat.Friendship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.friendships {
		if existing.UserID == f.UserID && existing.FriendChannelID == f.FriendChannelID {
			return store.ErrConflict
		}
	}
	f.ID = uint(len(s.friendships) + 1)
	f.CreatedAt = s.now()
	s.friendships = append(s.friendships, f)
	return nil
}

func (s *Store) ListFriends(_ context.Context, userID string) ([]chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []chat.User
	for _, f := range s.friendships {
		if f.UserID != userID {
			continue
		}
		for _, user := range s.users {
			if user.Channel() == f.FriendChannelID {
				out = append(out, user)
				break
			}
		}
	}
	return out, nil
}

func (s *Store) ListSenders(_ context.Context, userID string) ([]chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []chat.User
	for _, m := range s.sortedLocked() {
		if m.ReceiverID != userID || seen[m.SenderID] {
			continue
		}
		seen[m.SenderID] = true
		if user, ok := s.users[m.SenderID]; ok {
			out = append(out, user)
		}
	}
	return out, nil
}

func (s *Store) FindOrCreateConversation(_ context.Context, a, b string) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p1, p2 := chat.OrderedPair(a, b)
	for _, c := range s.conversations {
		if c.Participant1ID == p1 && c.Participant2ID == p2 {
			return c, nil
		}
	}
	now := s.now()
	c := chat.NewConversation(uuid.NewString(), p1, p2)
	c.CreatedAt, c.UpdatedAt = now, now
	s.conversations[c.ID] = c
	return c, nil
}

func (s *Store) InsertMessage(_ context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextMessageID++
	m.ID = s.nextMessageID
	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.messages[m.ID] = *m
	return nil
}

func (s *Store) FindMessage(_ context.Context, id int64) (chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return chat.Message{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) DeleteMessage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *Store) UpdateMessage(_ context.Context, m chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[m.ID]; !ok {
		return store.ErrNotFound
	}
	m.UpdatedAt = s.now()
	s.messages[m.ID] = m
	return nil
}

func (s *Store) MarkRead(_ context.Context, receiverID, senderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for id, m := range s.messages {
		if m.ReceiverID == receiverID && m.SenderID == senderID && !m.Read {
			m.Read = true
			m.UpdatedAt = s.now()
			s.messages[id] = m
			updated++
		}
	}
	return updated, nil
}

func (s *Store) CountUnread(_ context.Context, receiverID, senderID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, m := range s.messages {
		if m.ReceiverID == receiverID && m.SenderID == senderID && !m.Read && !m.DeletedByReceiver {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListMessages(_ context.Context, a, b string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []chat.Message
	for _, m := range s.sortedLocked() {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) sortedLocked() []chat.Message {
	out := make([]chat.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
