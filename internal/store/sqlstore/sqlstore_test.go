package sqlstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ezchat/realtime/backend/internal/model/chat"
	"github.com/ezchat/realtime/backend/internal/store"
)

func TestFindOrCreateReturnsExisting(t *testing.T) {
	existing := chat.NewConversation("c1", "A", "B")
	created := false

	conv, err := findOrCreate(
		func() (chat.Conversation, error) { return existing, nil },
		func(*chat.Conversation) error { created = true; return nil },
		chat.NewConversation("c2", "A", "B"),
	)
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	assert.False(t, created)
}

func TestFindOrCreateInsertsWhenMissing(t *testing.T) {
	var inserted chat.Conversation
	conv, err := findOrCreate(
		func() (chat.Conversation, error) { return chat.Conversation{}, gorm.ErrRecordNotFound },
		func(c *chat.Conversation) error { inserted = *c; return nil },
		chat.NewConversation("c2", "B", "A"),
	)
	require.NoError(t, err)
	assert.Equal(t, "c2", conv.ID)
	assert.Equal(t, inserted, conv)
	assert.Equal(t, "A", conv.Participant1ID)
}

func TestFindOrCreateRereadsAfterLosingInsertRace(t *testing.T) {
	winner := chat.NewConversation("c1", "A", "B")
	finds := 0

	conv, err := findOrCreate(
		func() (chat.Conversation, error) {
			finds++
			if finds == 1 {
				return chat.Conversation{}, gorm.ErrRecordNotFound
			}
			return winner, nil
		},
		func(*chat.Conversation) error { return gorm.ErrDuplicatedKey },
		chat.NewConversation("c2", "A", "B"),
	)
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	assert.Equal(t, 2, finds)
}

func TestFindOrCreatePassesThroughErrors(t *testing.T) {
	boom := errors.New("connection reset")

	_, err := findOrCreate(
		func() (chat.Conversation, error) { return chat.Conversation{}, boom },
		func(*chat.Conversation) error { return nil },
		chat.NewConversation("c2", "A", "B"),
	)
	assert.ErrorIs(t, err, boom)

	_, err = findOrCreate(
		func() (chat.Conversation, error) { return chat.Conversation{}, gorm.ErrRecordNotFound },
		func(*chat.Conversation) error { return boom },
		chat.NewConversation("c2", "A", "B"),
	)
	assert.ErrorIs(t, err, boom)
}

func TestTranslateMapsGormErrors(t *testing.T) {
	assert.ErrorIs(t, translate(gorm.ErrRecordNotFound), store.ErrNotFound)
	assert.ErrorIs(t, translate(gorm.ErrDuplicatedKey), store.ErrConflict)
	assert.NoError(t, translate(nil))
}
