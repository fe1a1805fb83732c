package relay

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Member is one live connection as seen by the registry and the relay.
type Member interface {
	ID() string
	// Deliver queues a frame without blocking and reports whether it was accepted.
	Deliver(frame []byte) bool
	Close() error
}

// Registry maps channel ids to the connections currently joined to them.
// A member belongs to at most one channel; joining another channel moves it.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]Member
	joined   map[string]string // member id -> channel id
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]map[string]Member),
		joined:   make(map[string]string),
	}
}

// Join associates m with channelID. Joining the same channel twice is a no-op.
func (r *Registry) Join(m Member, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.ID()
	if prev, ok := r.joined[id]; ok {
		if prev == channelID {
			return
		}
		r.removeLocked(id, prev)
	}

	set, ok := r.channels[channelID]
	if !ok {
		set = make(map[string]Member)
		r.channels[channelID] = set
	}
	set[id] = m
	r.joined[id] = channelID

	logrus.WithFields(logrus.Fields{
		"component": "registry",
		"member":    id,
		"channel":   channelID,
		"members":   len(set),
	}).Info("member joined channel")
}

// Leave drops m from whatever channel it joined. It reports whether m was a member.
func (r *Registry) Leave(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.ID()
	channelID, ok := r.joined[id]
	if !ok {
		return false
	}
	r.removeLocked(id, channelID)

	logrus.WithFields(logrus.Fields{
		"component": "registry",
		"member":    id,
		"channel":   channelID,
	}).Info("member left channel")
	return true
}

func (r *Registry) removeLocked(id, channelID string) {
	delete(r.joined, id)
	set := r.channels[channelID]
	delete(set, id)
	if len(set) == 0 {
		delete(r.channels, channelID)
	}
}

// MembersOf returns a snapshot of the members of channelID at the time of the call.
func (r *Registry) MembersOf(channelID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.channels[channelID]
	out := make([]Member, 0, len(set))
	for _, m := range set {
		out = append(out, m)
	}
	return out
}

// ChannelOf returns the channel m is joined to.
func (r *Registry) ChannelOf(m Member) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channelID, ok := r.joined[m.ID()]
	return channelID, ok
}

// forEach calls fn for every member of channelID while holding the read lock,
// so no Leave can complete while the iteration is in progress. fn must not block.
func (r *Registry) forEach(channelID string, fn func(Member)) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.channels[channelID]
	for _, m := range set {
		fn(m)
	}
	return len(set)
}

// drain empties the registry and returns every member it held.
func (r *Registry) drain() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Member
	for _, set := range r.channels {
		for _, m := range set {
			out = append(out, m)
		}
	}
	r.channels = make(map[string]map[string]Member)
	r.joined = make(map[string]string)
	return out
}

// Stats is a point-in-time view of the registry size.
type Stats struct {
	Channels    int `json:"channels"`
	Connections int `json:"connections"`
}

// Stats reports how many channels and joined connections exist.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Channels: len(r.channels), Connections: len(r.joined)}
}
