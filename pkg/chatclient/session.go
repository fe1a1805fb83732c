package chatclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ezchat/realtime/backend/pkg/event"
)

var (
	// ErrNoChannel is returned by Join when the user has not claimed a channel id.
	ErrNoChannel = errors.New("user has no channel id")
	// ErrEmptyMessage is returned by Send for blank content.
	ErrEmptyMessage = errors.New("message is empty")
)

// NoticeKind classifies a Notice.
type NoticeKind int

const (
	// NoticeSendFailed means an optimistic send was rolled back.
	NoticeSendFailed NoticeKind = iota
	// NoticeStoreError means a store call other than send failed.
	NoticeStoreError
	// NoticeRelayError means a durable change succeeded but the relay event
	// could not be emitted; the peer sees it on next refetch.
	NoticeRelayError
	// NoticeRelayRejected carries an error frame sent back by the relay.
	NoticeRelayRejected
	// NoticeUnreadCount carries an unread-count-updated event.
	NoticeUnreadCount
)

// Notice is a transient, user-visible message.
type Notice struct {
	Kind        NoticeKind
	Message     string
	Err         error
	UnreadCount int
}

// Session is one signed-in user's view of their conversations. It owns a
// Timeline per peer and keeps them in sync with the store and the relay.
type Session struct {
	self      Profile
	store     StoreAPI
	transport Transport
	log       *logrus.Entry
	now       func() time.Time

	mu        sync.Mutex
	timelines map[string]*Timeline
	unread    map[string]int
	open      string
	hook      func(event.Event)

	notices chan Notice
}

// NewSession builds a session for self.
func NewSession(self Profile, store StoreAPI, transport Transport) *Session {
	return &Session{
		self:      self,
		store:     store,
		transport: transport,
		log:       logrus.WithFields(logrus.Fields{"component": "chatclient", "user": self.ID}),
		now:       time.Now,
		timelines: make(map[string]*Timeline),
		unread:    make(map[string]int),
		notices:   make(chan Notice, 32),
	}
}

// Self returns the signed-in user's profile.
func (s *Session) Self() Profile { return s.self }

// Notices delivers transient errors and unread-count updates.
func (s *Session) Notices() <-chan Notice { return s.notices }

// OnEvent registers fn to be called after each inbound event is applied.
func (s *Session) OnEvent(fn func(event.Event)) {
	s.mu.Lock()
	s.hook = fn
	s.mu.Unlock()
}

// Join subscribes the transport to the user's own channel.
func (s *Session) Join(ctx context.Context) error {
	if s.self.ChannelID == "" {
		return ErrNoChannel
	}
	return s.transport.Send(ctx, event.JoinRoom{ChannelID: s.self.ChannelID})
}

// Timeline returns the timeline for the conversation with peerID.
func (s *Session) Timeline(peerID string) *Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timelineLocked(peerID)
}

func (s *Session) timelineLocked(peerID string) *Timeline {
	tl, ok := s.timelines[peerID]
	if !ok {
		tl = NewTimeline()
		s.timelines[peerID] = tl
	}
	return tl
}

// UnreadFrom counts messages from peerID that arrived over the relay while
// their conversation was not open.
func (s *Session) UnreadFrom(peerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[peerID]
}

// Open loads the conversation with peer, marks the peer's messages read in the
// store and then locally. The timeline is returned even if marking fails.
func (s *Session) Open(ctx context.Context, peer Profile) (*Timeline, error) {
	tl := s.Timeline(peer.ID)
	checkpoint := tl.Checkpoint()

	history, err := s.store.GetMessages(ctx, peer.ID)
	if err != nil {
		s.notify(Notice{Kind: NoticeStoreError, Message: "could not load messages", Err: err})
		return nil, err
	}

	s.mu.Lock()
	s.open = peer.ID
	delete(s.unread, peer.ID)
	s.mu.Unlock()

	tl.Merge(history, checkpoint)

	if _, err := s.store.MarkRead(ctx, peer.ID); err != nil {
		s.notify(Notice{Kind: NoticeStoreError, Message: "could not mark messages read", Err: err})
		return tl, err
	}
	tl.MarkReadFrom(peer.ID)
	return tl, nil
}

// Send shows content immediately as a pending record, writes it to the store,
// and on success confirms the record and notifies the peer's channel. On a
// store failure the record is removed and a NoticeSendFailed is emitted.
func (s *Session) Send(ctx context.Context, peer Profile, content string) (Record, error) {
	if strings.TrimSpace(content) == "" {
		return Record{}, ErrEmptyMessage
	}

	tl := s.Timeline(peer.ID)
	pending := tl.AddPending(content, s.self.ID, peer.ID, s.now())

	msg, err := s.store.SendMessage(ctx, peer.ID, content)
	if err != nil {
		failed, failErr := tl.Fail(pending.LocalKey)
		if failErr != nil {
			s.log.WithError(failErr).Warn("rollback of pending message failed")
		}
		s.notify(Notice{Kind: NoticeSendFailed, Message: "message could not be sent", Err: err})
		return failed, err
	}

	rec, err := tl.Confirm(pending.LocalKey, msg)
	if err != nil {
		return rec, err
	}

	if peer.ChannelID == "" {
		s.log.WithField("peer", peer.ID).Debug("peer has no channel, skipping relay")
		return rec, nil
	}

	if msg.Content == "" {
		msg.Content = content
	}
	notify := event.MessageReceived{
		Message:           msg.Content,
		SenderID:          s.self.ID,
		ReceiverID:        peer.ID,
		Timestamp:         rec.CreatedAt,
		ConversationID:    rec.ConversationID,
		MessageID:         rec.StoreID,
		ReceiverChannelID: peer.ChannelID,
	}
	if err := s.transport.Send(ctx, notify); err != nil {
		s.log.WithError(err).WithField("message", rec.StoreID).Warn("relay notify failed")
		s.notify(Notice{Kind: NoticeRelayError, Message: "message saved but not delivered live", Err: err})
	}
	return rec, nil
}

// Unsend retracts a message the user sent. The store enforces that only the
// sender may do this; afterwards both participants' channels are notified.
func (s *Session) Unsend(ctx context.Context, peer Profile, messageID int64) error {
	msg, err := s.store.UnsendMessage(ctx, messageID)
	if err != nil {
		s.notify(Notice{Kind: NoticeStoreError, Message: "could not unsend message", Err: err})
		return err
	}

	tl := s.Timeline(peer.ID)
	conversationID := msg.ConversationID
	if rec, ok := tl.Remove(messageID); ok && conversationID == "" {
		conversationID = rec.ConversationID
	}

	if s.self.ChannelID == "" && peer.ChannelID == "" {
		return nil
	}
	retract := event.MessageUnsent{
		MessageID:         messageID,
		ConversationID:    conversationID,
		SenderChannelID:   s.self.ChannelID,
		ReceiverChannelID: peer.ChannelID,
	}
	if err := s.transport.Send(ctx, retract); err != nil {
		s.log.WithError(err).WithField("message", messageID).Warn("relay unsend failed")
		s.notify(Notice{Kind: NoticeRelayError, Message: "message unsent but peer not notified live", Err: err})
	}
	return nil
}

// Delete hides a message from this user only. Nothing is sent to the relay.
func (s *Session) Delete(ctx context.Context, peer Profile, messageID int64) error {
	if _, err := s.store.DeleteMessage(ctx, messageID); err != nil {
		s.notify(Notice{Kind: NoticeStoreError, Message: "could not delete message", Err: err})
		return err
	}
	s.Timeline(peer.ID).Remove(messageID)
	return nil
}

// PushUnreadCount tells the given channel its unread count.
func (s *Session) PushUnreadCount(ctx context.Context, channelID string, count int) error {
	return s.transport.Send(ctx, event.UnreadCountUpdated{UserID: channelID, UnreadCount: count})
}

// Run applies inbound relay events until ctx is done or the transport closes.
func (s *Session) Run(ctx context.Context) error {
	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			s.apply(e)
		}
	}
}

func (s *Session) apply(e event.Event) {
	switch ev := e.(type) {
	case event.MessageReceived:
		peer := ev.SenderID
		if peer == s.self.ID {
			peer = ev.ReceiverID
		}
		m := Message{
			ID:             ev.MessageID,
			Content:        ev.Message,
			SenderID:       ev.SenderID,
			ReceiverID:     ev.ReceiverID,
			ConversationID: ev.ConversationID,
			CreatedAt:      ev.Timestamp,
		}

		s.mu.Lock()
		_, added := s.timelineLocked(peer).ApplyRemote(m)
		if added && ev.SenderID != s.self.ID && s.open != peer {
			s.unread[peer]++
		}
		s.mu.Unlock()

	case event.MessageUnsent:
		s.removeEverywhere(ev.MessageID)

	case event.MessageDeleted:
		s.removeEverywhere(ev.MessageID)

	case event.UnreadCountUpdated:
		s.notify(Notice{Kind: NoticeUnreadCount, UnreadCount: ev.UnreadCount})

	case event.ErrorNotice:
		s.notify(Notice{Kind: NoticeRelayRejected, Message: ev.Message})

	default:
		s.log.WithField("kind", e.Kind()).Debug("ignoring relay event")
	}

	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (s *Session) removeEverywhere(messageID int64) {
	s.mu.Lock()
	timelines := make([]*Timeline, 0, len(s.timelines))
	for _, tl := range s.timelines {
		timelines = append(timelines, tl)
	}
	s.mu.Unlock()

	for _, tl := range timelines {
		tl.Remove(messageID)
	}
}

func (s *Session) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
		s.log.WithField("notice", n.Message).Warn("notice dropped, nobody is reading")
	}
}
