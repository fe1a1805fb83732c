package chatclient

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownRecord is returned when a local key does not name a pending record.
var ErrUnknownRecord = errors.New("unknown local record")

// Timeline is the visible message list of one conversation. Records are
// indexed by local key while pending and by store id once confirmed, so a
// message never appears twice.
type Timeline struct {
	mu      sync.Mutex
	prefix  string
	seq     uint64
	clock   uint64
	records []*Record
	byLocal map[string]*Record
	byStore map[int64]*Record
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		prefix:  uuid.NewString(),
		byLocal: make(map[string]*Record),
		byStore: make(map[int64]*Record),
	}
}

// AddPending appends an optimistic record and returns it.
func (t *Timeline) AddPending(content, senderID, receiverID string, now time.Time) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	r := &Record{
		LocalKey:   fmt.Sprintf("%s-%d", t.prefix, t.seq),
		Content:    content,
		SenderID:   senderID,
		ReceiverID: receiverID,
		CreatedAt:  now,
		State:      StatePending,
	}
	t.records = append(t.records, r)
	t.byLocal[r.LocalKey] = r
	return *r
}

// Confirm attaches the store identity to the pending record in place. If the
// message already reached the timeline by another path (history merge or
// relay), the pending record is dropped and the existing one returned.
func (t *Timeline) Confirm(localKey string, m Message) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byLocal[localKey]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownRecord, localKey)
	}
	next, err := r.State.Transition(StateConfirmed)
	if err != nil {
		return *r, err
	}
	delete(t.byLocal, localKey)

	if existing, dup := t.byStore[m.ID]; dup {
		t.removeLocked(r)
		return *existing, nil
	}

	t.clock++
	r.State = next
	r.StoreID = m.ID
	r.ConversationID = m.ConversationID
	r.arrived = t.clock
	if !m.CreatedAt.IsZero() {
		r.CreatedAt = m.CreatedAt
	}
	t.byStore[m.ID] = r
	return *r, nil
}

// Fail rolls back a pending record. The returned record is in StateFailed
// and is no longer part of the timeline.
func (t *Timeline) Fail(localKey string) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byLocal[localKey]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownRecord, localKey)
	}
	next, err := r.State.Transition(StateFailed)
	if err != nil {
		return *r, err
	}
	delete(t.byLocal, localKey)
	t.removeLocked(r)

	r.State = next
	return *r, nil
}

// ApplyRemote appends a message delivered by the relay. It reports false if
// a record with the same store id is already present.
func (t *Timeline) ApplyRemote(m Message) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byStore[m.ID]; ok {
		return *existing, false
	}
	t.clock++
	r := recordFromMessage(m)
	r.arrived = t.clock
	t.records = append(t.records, &r)
	t.byStore[m.ID] = &r
	return r, true
}

// Remove drops the confirmed record with the given store id.
func (t *Timeline) Remove(storeID int64) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byStore[storeID]
	if !ok {
		return Record{}, false
	}
	delete(t.byStore, storeID)
	t.removeLocked(r)
	return *r, true
}

// MarkReadFrom flags every record sent by peerID as read and returns how
// many changed.
func (t *Timeline) MarkReadFrom(peerID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, r := range t.records {
		if r.SenderID == peerID && !r.Read {
			r.Read = true
			n++
		}
	}
	return n
}

// Checkpoint marks the current point in the timeline. Take it before
// fetching history and pass it to Merge.
func (t *Timeline) Checkpoint() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock
}

// Merge replaces the confirmed part of the timeline with history fetched from
// the store. Pending records stay at the tail. Confirmed records missing from
// history are kept only if they arrived after checkpoint, i.e. while the
// fetch was in flight; older ones were unsent or deleted and are dropped.
func (t *Timeline) Merge(history []Message, checkpoint uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[int64]struct{}, len(history))
	merged := make([]*Record, 0, len(history)+len(t.records))
	for _, m := range history {
		if _, dup := seen[m.ID]; dup || m.ID == 0 {
			continue
		}
		seen[m.ID] = struct{}{}

		r := recordFromMessage(m)
		if old, ok := t.byStore[m.ID]; ok && old.Read {
			r.Read = true
		}
		merged = append(merged, &r)
	}

	var pending []*Record
	for _, r := range t.records {
		if r.State == StatePending {
			pending = append(pending, r)
			continue
		}
		if _, ok := seen[r.StoreID]; !ok && r.arrived > checkpoint {
			merged = append(merged, r)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.Before(merged[j].CreatedAt)
		}
		return merged[i].StoreID < merged[j].StoreID
	})

	t.records = append(merged, pending...)
	t.byStore = make(map[int64]*Record, len(merged))
	for _, r := range merged {
		t.byStore[r.StoreID] = r
	}
}

// Get returns the confirmed record with the given store id.
func (t *Timeline) Get(storeID int64) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byStore[storeID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Records returns a copy of the timeline in display order.
func (t *Timeline) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, len(t.records))
	for i, r := range t.records {
		out[i] = *r
	}
	return out
}

// Len returns the number of visible records.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

func (t *Timeline) removeLocked(target *Record) {
	for i, r := range t.records {
		if r == target {
			t.records = append(t.records[:i], t.records[i+1:]...)
			return
		}
	}
}
