// Package relay routes realtime chat events between live connections.
//
// A Relay owns a Registry of channel memberships. It is created once at
// process start, handed to the websocket handler, and closed at shutdown.
// Events are never stored or retried: Publish makes one non-blocking
// delivery attempt per current member of the target channel.
package relay

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ezchat/realtime/backend/pkg/event"
)

var (
	ErrNoTarget   = errors.New("event has no target channel")
	ErrUnroutable = errors.New("event kind cannot be sent by a connection")
)

const orderStripes = 64

// Relay fans events out to every connection joined to a channel.
type Relay struct {
	registry *Registry
	now      func() time.Time
	log      *logrus.Entry

	// order serialises publishes per channel so all members observe the same order.
	order [orderStripes]sync.Mutex
}

// New builds a relay around registry.
func New(registry *Registry) *Relay {
	return &Relay{
		registry: registry,
		now:      time.Now,
		log:      logrus.WithField("component", "relay"),
	}
}

// Join attaches m to channelID.
func (r *Relay) Join(m Member, channelID string) {
	r.registry.Join(m, channelID)
}

// Leave detaches m from its channel. Leaving twice is harmless.
func (r *Relay) Leave(m Member) {
	r.registry.Leave(m)
}

// MembersOf returns the current members of channelID.
func (r *Relay) MembersOf(channelID string) []Member {
	return r.registry.MembersOf(channelID)
}

// Stats reports registry size.
func (r *Relay) Stats() Stats {
	return r.registry.Stats()
}

// Publish delivers e to every current member of channelID and returns how many
// members accepted the frame. A member that rejects the frame is skipped.
func (r *Relay) Publish(channelID string, e event.Event) int {
	frame, err := event.Encode(event.Outbound(e))
	if err != nil {
		r.log.WithError(err).WithField("kind", e.Kind()).Error("failed to encode event")
		return 0
	}

	lock := &r.order[stripe(channelID)]
	lock.Lock()
	defer lock.Unlock()

	delivered := 0
	total := r.registry.forEach(channelID, func(m Member) {
		if m.Deliver(frame) {
			delivered++
			return
		}
		r.log.WithFields(logrus.Fields{
			"member":  m.ID(),
			"channel": channelID,
			"kind":    e.Kind(),
		}).Warn("dropped event for member")
	})

	r.log.WithFields(logrus.Fields{
		"kind":      e.Kind(),
		"channel":   channelID,
		"members":   total,
		"delivered": delivered,
	}).Debug("published event")
	return delivered
}

// PublishUnsend sends e to the sender's and the receiver's channel. When both
// resolve to the same channel only one publish happens.
func (r *Relay) PublishUnsend(e event.MessageUnsent) (int, error) {
	sender, receiver := e.SenderChannelID, e.ReceiverChannelID
	if sender == "" && receiver == "" {
		return 0, ErrNoTarget
	}

	delivered := 0
	if sender != "" {
		delivered += r.Publish(sender, e)
	}
	if receiver != "" && receiver != sender {
		delivered += r.Publish(receiver, e)
	}
	return delivered, nil
}

// Dispatch handles an event received from connection from.
func (r *Relay) Dispatch(from Member, e event.Event) error {
	switch v := e.(type) {
	case event.JoinRoom:
		r.Join(from, v.ChannelID)
		return nil
	case event.MessageReceived:
		if v.ReceiverChannelID == "" {
			return ErrNoTarget
		}
		v.Timestamp = r.now()
		r.Publish(v.ReceiverChannelID, v)
		return nil
	case event.MessageUnsent:
		_, err := r.PublishUnsend(v)
		return err
	case event.MessageDeleted:
		if v.ReceiverChannelID == "" {
			return ErrNoTarget
		}
		r.Publish(v.ReceiverChannelID, v)
		return nil
	case event.UnreadCountUpdated:
		if v.UserID == "" {
			return ErrNoTarget
		}
		r.Publish(v.UserID, v)
		return nil
	default:
		return ErrUnroutable
	}
}

// Close disconnects every member and empties the registry.
func (r *Relay) Close() {
	members := r.registry.drain()
	for _, m := range members {
		_ = m.Close()
	}
	r.log.WithField("closed", len(members)).Info("relay closed")
}

func stripe(channelID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(channelID))
	return h.Sum32() % orderStripes
}
