// Package sqlstore persists chat data in MySQL through GORM.
package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ezchat/realtime/backend/internal/model/chat"
	"github.com/ezchat/realtime/backend/internal/store"
)

// Store is a GORM-backed repository.
type Store struct {
	db *gorm.DB
}

// Open connects to MySQL and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	s := New(db)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the chat tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&chat.User{}, &chat.Friendship{}, &chat.Conversation{}, &chat.Message{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrConflict
	default:
		return err
	}
}

func (s *Store) CreateUser(ctx context.Context, user *chat.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	return translate(s.db.WithContext(ctx).Create(user).Error)
}

func (s *Store) FindUser(ctx context.Context, id string) (chat.User, error) {
	var user chat.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	return user, translate(err)
}

func (s *Store) FindUserByChannel(ctx context.Context, channelID string) (chat.User, error) {
	var user chat.User
	err := s.db.WithContext(ctx).First(&user, "channel_id = ?", channelID).Error
	return user, translate(err)
}

func (s *Store) SetChannel(ctx context.Context, userID, channelID string) error {
	res := s.db.WithContext(ctx).Model(&chat.User{}).Where("id = ?", userID).Update("channel_id", channelID)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		// MySQL reports zero rows when the value is unchanged; check existence.
		if _, err := s.FindUser(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AddFriend(ctx context.Context, f chat.Friendship) error {
	return translate(s.db.WithContext(ctx).Create(&f).Error)
}

func (s *Store) ListFriends(ctx context.Context, userID string) ([]chat.User, error) {
	var users []chat.User
	err := s.db.WithContext(ctx).
		Joins("JOIN friendships ON friendships.friend_channel_id = users.channel_id").
		Where("friendships.user_id = ?", userID).
		Order("friendships.created_at").
		Find(&users).Error
	return users, translate(err)
}

func (s *Store) ListSenders(ctx context.Context, userID string) ([]chat.User, error) {
	var users []chat.User
	sub := s.db.Model(&chat.Message{}).Select("sender_id").Where("receiver_id = ?", userID)
	err := s.db.WithContext(ctx).Where("id IN (?)", sub).Order("name").Find(&users).Error
	return users, translate(err)
}

func (s *Store) FindOrCreateConversation(ctx context.Context, a, b string) (chat.Conversation, error) {
	p1, p2 := chat.OrderedPair(a, b)
	db := s.db.WithContext(ctx)

	find := func() (chat.Conversation, error) {
		var conv chat.Conversation
		err := db.Where("(participant1_id = ? AND participant2_id = ?) OR (participant1_id = ? AND participant2_id = ?)", p1, p2, p2, p1).
			First(&conv).Error
		return conv, err
	}
	create := func(conv *chat.Conversation) error {
		return db.Create(conv).Error
	}

	conv, err := findOrCreate(find, create, chat.NewConversation(uuid.NewString(), p1, p2))
	return conv, translate(err)
}

// findOrCreate looks the conversation up and inserts fresh if it is missing.
// A concurrent first send for the same pair loses on the unique pair index;
// the loser reads back the winner's row.
func findOrCreate(find func() (chat.Conversation, error), create func(*chat.Conversation) error, fresh chat.Conversation) (chat.Conversation, error) {
	conv, err := find()
	if err == nil || !errors.Is(err, gorm.ErrRecordNotFound) {
		return conv, err
	}
	if err := create(&fresh); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return find()
		}
		return chat.Conversation{}, err
	}
	return fresh, nil
}

func (s *Store) InsertMessage(ctx context.Context, m *chat.Message) error {
	return translate(s.db.WithContext(ctx).Create(m).Error)
}

func (s *Store) FindMessage(ctx context.Context, id int64) (chat.Message, error) {
	var m chat.Message
	err := s.db.WithContext(ctx).First(&m, id).Error
	return m, translate(err)
}

func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&chat.Message{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateMessage(ctx context.Context, m chat.Message) error {
	res := s.db.WithContext(ctx).Model(&chat.Message{ID: m.ID}).Updates(map[string]any{
		"read":                m.Read,
		"deleted_by_sender":   m.DeletedBySender,
		"deleted_by_receiver": m.DeletedByReceiver,
	})
	return translate(res.Error)
}

func (s *Store) MarkRead(ctx context.Context, receiverID, senderID string) (int, error) {
	res := s.db.WithContext(ctx).Model(&chat.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND `read` = ?", receiverID, senderID, false).
		Update("read", true)
	return int(res.RowsAffected), translate(res.Error)
}

func (s *Store) CountUnread(ctx context.Context, receiverID, senderID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&chat.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND `read` = ? AND deleted_by_receiver = ?", receiverID, senderID, false, false).
		Count(&count).Error
	return int(count), translate(err)
}

func (s *Store) ListMessages(ctx context.Context, a, b string) ([]chat.Message, error) {
	var msgs []chat.Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).
		Order("created_at, id").
		Find(&msgs).Error
	return msgs, translate(err)
}
