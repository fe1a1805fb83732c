package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezchat/realtime/backend/internal/model/chat"
	"github.com/ezchat/realtime/backend/internal/store"
)

func fixedClock(s *Store) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	s := New()
	ctx := context.Background()

	u := chat.User{Name: "Alice", Email: "alice@example.com"}
	require.NoError(t, s.CreateUser(ctx, &u))
	assert.NotEmpty(t, u.ID)

	dup := chat.User{Name: "Other", Email: "alice@example.com"}
	assert.ErrorIs(t, s.CreateUser(ctx, &dup), store.ErrConflict)
}

func TestSetChannelIsUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := chat.User{Name: "A", Email: "a@example.com"}
	b := chat.User{Name: "B", Email: "b@example.com"}
	require.NoError(t, s.CreateUser(ctx, &a))
	require.NoError(t, s.CreateUser(ctx, &b))

	require.NoError(t, s.SetChannel(ctx, a.ID, "room"))
	require.NoError(t, s.SetChannel(ctx, a.ID, "room"))
	assert.ErrorIs(t, s.SetChannel(ctx, b.ID, "room"), store.ErrConflict)
	assert.ErrorIs(t, s.SetChannel(ctx, "missing", "x"), store.ErrNotFound)

	got, err := s.FindUserByChannel(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestMessagesOrderedByTimeThenID(t *testing.T) {
	s := New()
	fixedClock(s)
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		m := chat.Message{Content: content, SenderID: "A", ReceiverID: "B"}
		require.NoError(t, s.InsertMessage(ctx, &m))
	}
	other := chat.Message{Content: "elsewhere", SenderID: "A", ReceiverID: "C"}
	require.NoError(t, s.InsertMessage(ctx, &other))

	msgs, err := s.ListMessages(ctx, "B", "A")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestMarkReadAndCountUnread(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		m := chat.Message{Content: "x", SenderID: "A", ReceiverID: "B"}
		require.NoError(t, s.InsertMessage(ctx, &m))
	}
	hidden := chat.Message{Content: "x", SenderID: "A", ReceiverID: "B", DeletedByReceiver: true}
	require.NoError(t, s.InsertMessage(ctx, &hidden))

	n, err := s.CountUnread(ctx, "B", "A")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	updated, err := s.MarkRead(ctx, "B", "A")
	require.NoError(t, err)
	assert.Equal(t, 3, updated)

	n, err = s.CountUnread(ctx, "B", "A")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteAndUpdateMissingMessage(t *testing.T) {
	s := New()
	ctx := context.Background()

	assert.ErrorIs(t, s.DeleteMessage(ctx, 7), store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateMessage(ctx, chat.Message{ID: 7}), store.ErrNotFound)
	_, err := s.FindMessage(ctx, 7)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindOrCreateConversationIsSymmetric(t *testing.T) {
	s := New()
	ctx := context.Background()

	c1, err := s.FindOrCreateConversation(ctx, "A", "B")
	require.NoError(t, err)
	c2, err := s.FindOrCreateConversation(ctx, "B", "A")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)
}

func TestFindOrCreateConversationConcurrentFirstSend(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "B", "A"
			if i%2 == 0 {
				a, b = b, a
			}
			c, err := s.FindOrCreateConversation(ctx, a, b)
			assert.NoError(t, err)
			ids[i] = c.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	c, err := s.FindOrCreateConversation(ctx, "B", "A")
	require.NoError(t, err)
	assert.Equal(t, "A", c.Participant1ID)
	assert.Equal(t, "B", c.Participant2ID)
}
