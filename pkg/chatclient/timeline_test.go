package chatclient

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestStateTransitions(t *testing.T) {
	next, err := StatePending.Transition(StateConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, next)

	_, err = StatePending.Transition(StateFailed)
	require.NoError(t, err)

	for _, tc := range []struct{ from, to State }{
		{StateConfirmed, StateFailed},
		{StateConfirmed, StatePending},
		{StateFailed, StateConfirmed},
		{StatePending, StatePending},
	} {
		got, err := tc.from.Transition(tc.to)
		assert.True(t, errors.Is(err, ErrIllegalTransition), "%s -> %s", tc.from, tc.to)
		assert.Equal(t, tc.from, got)
	}
}

func TestLocalKeysAreUnique(t *testing.T) {
	tl := NewTimeline()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		r := tl.AddPending("x", "A", "B", t0)
		require.False(t, seen[r.LocalKey])
		seen[r.LocalKey] = true
	}

	other := NewTimeline().AddPending("x", "A", "B", t0)
	assert.False(t, seen[other.LocalKey])
}

func TestConfirmMutatesInPlace(t *testing.T) {
	tl := NewTimeline()
	before := tl.AddPending("before", "B", "A", t0)
	pending := tl.AddPending("hi", "A", "B", t0.Add(time.Second))
	assert.Equal(t, StatePending, pending.State)
	assert.Zero(t, pending.StoreID)

	rec, err := tl.Confirm(pending.LocalKey, Message{ID: 42, ConversationID: "c1", CreatedAt: t0.Add(2 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.StoreID)
	assert.Equal(t, StateConfirmed, rec.State)
	assert.Equal(t, pending.LocalKey, rec.LocalKey)

	records := tl.Records()
	require.Len(t, records, 2)
	assert.Equal(t, before.LocalKey, records[0].LocalKey)
	assert.Equal(t, int64(42), records[1].StoreID)
	assert.Equal(t, "hi", records[1].Content)

	_, err = tl.Confirm(pending.LocalKey, Message{ID: 43})
	assert.ErrorIs(t, err, ErrUnknownRecord)
}

func TestConfirmAfterMessageArrivedElsewhere(t *testing.T) {
	tl := NewTimeline()
	pending := tl.AddPending("hi", "A", "B", t0)
	tl.Merge([]Message{{ID: 42, Content: "hi", SenderID: "A", ReceiverID: "B", CreatedAt: t0}}, tl.Checkpoint())
	require.Equal(t, 2, tl.Len())

	rec, err := tl.Confirm(pending.LocalKey, Message{ID: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.StoreID)
	assert.Equal(t, 1, tl.Len())
}

func TestFailRemovesRecord(t *testing.T) {
	tl := NewTimeline()
	pending := tl.AddPending("hi", "A", "B", t0)

	failed, err := tl.Fail(pending.LocalKey)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, failed.State)
	assert.Zero(t, tl.Len())

	_, err = tl.Fail(pending.LocalKey)
	assert.ErrorIs(t, err, ErrUnknownRecord)
}

func TestApplyRemoteDeduplicatesByStoreID(t *testing.T) {
	tl := NewTimeline()
	pending := tl.AddPending("hi", "A", "B", t0)
	_, err := tl.Confirm(pending.LocalKey, Message{ID: 42})
	require.NoError(t, err)

	_, added := tl.ApplyRemote(Message{ID: 42, Content: "hi"})
	assert.False(t, added)

	_, added = tl.ApplyRemote(Message{ID: 43, Content: "yo", SenderID: "B"})
	assert.True(t, added)
	assert.Equal(t, 2, tl.Len())
}

func TestRemove(t *testing.T) {
	tl := NewTimeline()
	tl.ApplyRemote(Message{ID: 1})
	tl.ApplyRemote(Message{ID: 2})

	_, ok := tl.Remove(1)
	assert.True(t, ok)
	_, ok = tl.Remove(1)
	assert.False(t, ok)

	records := tl.Records()
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), records[0].StoreID)
}

func TestMarkReadFrom(t *testing.T) {
	tl := NewTimeline()
	tl.ApplyRemote(Message{ID: 1, SenderID: "B"})
	tl.ApplyRemote(Message{ID: 2, SenderID: "A"})
	tl.ApplyRemote(Message{ID: 3, SenderID: "B", Read: true})

	assert.Equal(t, 1, tl.MarkReadFrom("B"))
	r, _ := tl.Get(1)
	assert.True(t, r.Read)
	r, _ = tl.Get(2)
	assert.False(t, r.Read)
}

func TestMergeKeepsPendingAndLateArrivals(t *testing.T) {
	tl := NewTimeline()
	tl.ApplyRemote(Message{ID: 1, Content: "stale", CreatedAt: t0})
	checkpoint := tl.Checkpoint()
	tl.ApplyRemote(Message{ID: 9, Content: "live", CreatedAt: t0.Add(9 * time.Second)})
	pending := tl.AddPending("sending", "A", "B", t0.Add(10*time.Second))

	tl.Merge([]Message{
		{ID: 3, Content: "three", CreatedAt: t0.Add(3 * time.Second)},
		{ID: 2, Content: "two", CreatedAt: t0.Add(2 * time.Second)},
		{ID: 3, Content: "three", CreatedAt: t0.Add(3 * time.Second)},
	}, checkpoint)

	records := tl.Records()
	require.Len(t, records, 4)
	assert.Equal(t, int64(2), records[0].StoreID)
	assert.Equal(t, int64(3), records[1].StoreID)
	assert.Equal(t, int64(9), records[2].StoreID)
	assert.Equal(t, pending.LocalKey, records[3].LocalKey)

	_, ok := tl.Get(1)
	assert.False(t, ok, "record known before the fetch and missing from history is dropped")

	_, err := tl.Confirm(pending.LocalKey, Message{ID: 10})
	require.NoError(t, err)
}

func TestMergeDropsUnsentNewestRecord(t *testing.T) {
	tl := NewTimeline()
	tl.ApplyRemote(Message{ID: 40, CreatedAt: t0})
	tl.ApplyRemote(Message{ID: 41, CreatedAt: t0.Add(time.Second)})
	tl.ApplyRemote(Message{ID: 42, CreatedAt: t0.Add(2 * time.Second)})

	checkpoint := tl.Checkpoint()
	tl.Merge([]Message{
		{ID: 40, CreatedAt: t0},
		{ID: 41, CreatedAt: t0.Add(time.Second)},
	}, checkpoint)

	require.Equal(t, 2, tl.Len())
	_, ok := tl.Get(42)
	assert.False(t, ok)
}

func TestMergeEmptyHistoryClearsTimeline(t *testing.T) {
	tl := NewTimeline()
	pending := tl.AddPending("hi", "A", "B", t0)
	_, err := tl.Confirm(pending.LocalKey, Message{ID: 7})
	require.NoError(t, err)

	tl.Merge(nil, tl.Checkpoint())
	assert.Zero(t, tl.Len())
}

func TestMergeCarriesDeletedPlaceholder(t *testing.T) {
	tl := NewTimeline()
	tl.Merge([]Message{{ID: 5, Content: "This message was deleted", DeletedLocally: true}}, 0)

	r, ok := tl.Get(5)
	require.True(t, ok)
	assert.True(t, r.DeletedLocally)
}
