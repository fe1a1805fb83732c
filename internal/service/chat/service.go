package chat

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ezchat/realtime/backend/internal/model/chat"
	"github.com/ezchat/realtime/backend/internal/store"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUserNotFound    = errors.New("user not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrForbidden       = errors.New("not allowed")
	ErrChannelTaken    = errors.New("channel id already taken")
	ErrAlreadyExists   = errors.New("already exists")
)

// Repository is the persistence the service depends on.
type Repository interface {
	CreateUser(ctx context.Context, user *chat.User) error
	FindUser(ctx context.Context, id string) (chat.User, error)
	FindUserByChannel(ctx context.Context, channelID string) (chat.User, error)
	SetChannel(ctx context.Context, userID, channelID string) error

	AddFriend(ctx context.Context, f chat.Friendship) error
	ListFriends(ctx context.Context, userID string) ([]chat.User, error)
	ListSenders(ctx context.Context, userID string) ([]chat.User, error)

	FindOrCreateConversation(ctx context.Context, a, b string) (chat.Conversation, error)
	InsertMessage(ctx context.Context, m *chat.Message) error
	FindMessage(ctx context.Context, id int64) (chat.Message, error)
	DeleteMessage(ctx context.Context, id int64) error
	UpdateMessage(ctx context.Context, m chat.Message) error
	MarkRead(ctx context.Context, receiverID, senderID string) (int, error)
	CountUnread(ctx context.Context, receiverID, senderID string) (int, error)
	ListMessages(ctx context.Context, a, b string) ([]chat.Message, error)
}

// Service is the durable side of the chat: users, friendships and messages.
// It never talks to the relay.
type Service struct {
	repo Repository
	log  *logrus.Entry
}

// NewService wires the service to a repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, log: logrus.WithField("component", "chat")}
}

// CreateUser registers an account.
func (s *Service) CreateUser(ctx context.Context, name, email string) (chat.User, error) {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name == "" {
		return chat.User{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return chat.User{}, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}

	user := chat.User{Name: name, Email: strings.ToLower(email)}
	if err := s.repo.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return chat.User{}, fmt.Errorf("%w: email already registered", ErrAlreadyExists)
		}
		return chat.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// GetUser returns the public profile of a user.
func (s *Service) GetUser(ctx context.Context, id string) (chat.Profile, error) {
	user, err := s.findUser(ctx, id)
	if err != nil {
		return chat.Profile{}, err
	}
	return user.Profile(), nil
}

// SetChannelID claims channelID for userID. Channel ids are unique.
func (s *Service) SetChannelID(ctx context.Context, userID, channelID string) (chat.Profile, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return chat.Profile{}, fmt.Errorf("%w: channel id is required", ErrInvalidInput)
	}

	if err := s.repo.SetChannel(ctx, userID, channelID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return chat.Profile{}, ErrUserNotFound
		case errors.Is(err, store.ErrConflict):
			return chat.Profile{}, ErrChannelTaken
		}
		return chat.Profile{}, fmt.Errorf("set channel: %w", err)
	}

	s.log.WithFields(logrus.Fields{"user": userID, "channel": channelID}).Info("channel id claimed")
	return s.GetUser(ctx, userID)
}

// AddFriend adds the owner of friendChannelID to userID's friend list.
func (s *Service) AddFriend(ctx context.Context, userID, friendChannelID string) (chat.Profile, error) {
	friendChannelID = strings.TrimSpace(friendChannelID)
	if friendChannelID == "" {
		return chat.Profile{}, fmt.Errorf("%w: friend channel id is required", ErrInvalidInput)
	}
	if _, err := s.findUser(ctx, userID); err != nil {
		return chat.Profile{}, err
	}

	friend, err := s.repo.FindUserByChannel(ctx, friendChannelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return chat.Profile{}, fmt.Errorf("%w: friend not found", ErrUserNotFound)
		}
		return chat.Profile{}, fmt.Errorf("find friend: %w", err)
	}
	if friend.ID == userID {
		return chat.Profile{}, fmt.Errorf("%w: cannot add yourself", ErrInvalidInput)
	}

	if err := s.repo.AddFriend(ctx, chat.Friendship{UserID: userID, FriendChannelID: friendChannelID}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return chat.Profile{}, fmt.Errorf("%w: already friends", ErrAlreadyExists)
		}
		return chat.Profile{}, fmt.Errorf("add friend: %w", err)
	}
	return friend.Profile(), nil
}

// ListFriends returns the users userID has added.
func (s *Service) ListFriends(ctx context.Context, userID string) ([]chat.Profile, error) {
	friends, err := s.repo.ListFriends(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return profiles(friends), nil
}

// ListContacts returns friends followed by anyone else who has messaged userID.
func (s *Service) ListContacts(ctx context.Context, userID string) ([]chat.Profile, error) {
	friends, err := s.repo.ListFriends(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	senders, err := s.repo.ListSenders(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list senders: %w", err)
	}

	seen := make(map[string]bool, len(friends)+len(senders))
	out := make([]chat.Profile, 0, len(friends)+len(senders))
	for _, u := range append(friends, senders...) {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		out = append(out, u.Profile())
	}
	return out, nil
}

// SendMessage stores a message from senderID to receiverID and returns it with
// its store-assigned id.
func (s *Service) SendMessage(ctx context.Context, senderID, receiverID, content string) (chat.Message, error) {
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if _, err := s.findUser(ctx, senderID); err != nil {
		return chat.Message{}, fmt.Errorf("invalid sender: %w", err)
	}
	if _, err := s.findUser(ctx, receiverID); err != nil {
		return chat.Message{}, fmt.Errorf("invalid receiver: %w", err)
	}

	conv, err := s.repo.FindOrCreateConversation(ctx, senderID, receiverID)
	if err != nil {
		return chat.Message{}, fmt.Errorf("find conversation: %w", err)
	}

	msg := chat.Message{
		Content:        content,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		ConversationID: conv.ID,
	}
	if err := s.repo.InsertMessage(ctx, &msg); err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"message":      msg.ID,
		"conversation": conv.ID,
		"sender":       senderID,
		"receiver":     receiverID,
	}).Debug("message stored")
	return msg, nil
}

// UnsendMessage removes a message for both participants. Only the sender may unsend.
func (s *Service) UnsendMessage(ctx context.Context, messageID int64, userID string) (chat.Message, error) {
	msg, err := s.findMessage(ctx, messageID)
	if err != nil {
		return chat.Message{}, err
	}
	if msg.SenderID != userID {
		return chat.Message{}, fmt.Errorf("%w: only the sender can unsend a message", ErrForbidden)
	}

	if err := s.repo.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return chat.Message{}, ErrMessageNotFound
		}
		return chat.Message{}, fmt.Errorf("delete message: %w", err)
	}

	s.log.WithFields(logrus.Fields{"message": messageID, "user": userID}).Info("message unsent")
	return msg, nil
}

// DeleteMessage hides a message from userID's view only.
func (s *Service) DeleteMessage(ctx context.Context, messageID int64, userID string) (chat.Message, error) {
	msg, err := s.findMessage(ctx, messageID)
	if err != nil {
		return chat.Message{}, err
	}
	if !msg.Participant(userID) {
		return chat.Message{}, fmt.Errorf("%w: not a participant of this message", ErrForbidden)
	}

	if msg.SenderID == userID {
		msg.DeletedBySender = true
	}
	if msg.ReceiverID == userID {
		msg.DeletedByReceiver = true
	}
	if err := s.repo.UpdateMessage(ctx, msg); err != nil {
		return chat.Message{}, fmt.Errorf("update message: %w", err)
	}
	return msg.ViewFor(userID), nil
}

// MarkRead marks every unread message from friendID to userID as read.
func (s *Service) MarkRead(ctx context.Context, userID, friendID string) (int, error) {
	if userID == "" || friendID == "" {
		return 0, fmt.Errorf("%w: user and friend are required", ErrInvalidInput)
	}
	n, err := s.repo.MarkRead(ctx, userID, friendID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

// UnreadCount returns how many messages from friendID userID has not read.
func (s *Service) UnreadCount(ctx context.Context, userID, friendID string) (int, error) {
	n, err := s.repo.CountUnread(ctx, userID, friendID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// GetMessages returns the conversation between userID and friendID, oldest first,
// as userID sees it.
func (s *Service) GetMessages(ctx context.Context, userID, friendID string) ([]chat.Message, error) {
	msgs, err := s.repo.ListMessages(ctx, userID, friendID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.ViewFor(userID)
	}
	return out, nil
}

func (s *Service) findUser(ctx context.Context, id string) (chat.User, error) {
	if id == "" {
		return chat.User{}, ErrUserNotFound
	}
	user, err := s.repo.FindUser(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return chat.User{}, ErrUserNotFound
		}
		return chat.User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (s *Service) findMessage(ctx context.Context, id int64) (chat.Message, error) {
	msg, err := s.repo.FindMessage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return chat.Message{}, ErrMessageNotFound
		}
		return chat.Message{}, fmt.Errorf("find message: %w", err)
	}
	return msg, nil
}

func profiles(users []chat.User) []chat.Profile {
	out := make([]chat.Profile, len(users))
	for i, u := range users {
		out[i] = u.Profile()
	}
	return out
}
