package core

import (
	"slices"
	"sort"
	"sync"

	"github.com/vovakirdan/relaychat/internal/proto"
)

// channel groups sessions subscribed to the same name.
type channel struct {
	name    string
	members map[SessionID]struct{}
}

func newChannel(name string) *channel {
	return &channel{
		name:    name,
		members: make(map[SessionID]struct{}),
	}
}

// addMember returns true if id was newly added.
func (c *channel) addMember(id SessionID) bool {
	if _, exists := c.members[id]; exists {
		return false
	}
	c.members[id] = struct{}{}
	return true
}

// removeMember returns true if id was removed.
func (c *channel) removeMember(id SessionID) bool {
	if _, exists := c.members[id]; !exists {
		return false
	}
	delete(c.members, id)
	return true
}

func (c *channel) empty() bool {
	return len(c.members) == 0
}

// memberIDs returns members sorted for deterministic fan-out.
func (c *channel) memberIDs() []SessionID {
	ids := make([]SessionID, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// JoinResult describes a successful join.
type JoinResult struct {
	Channel   string
	Members   int
	Created   bool
	MemberIDs []SessionID // all members, joiner included
}

// LeaveResult describes a successful leave.
type LeaveResult struct {
	Channel   string
	Members   int
	Deleted   bool
	MemberIDs []SessionID // remaining members
}

// ChannelRegistry owns channels and their membership sets. Channels exist only
// while they have members.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels map[string]*channel
}

func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{channels: make(map[string]*channel)}
}

// Join adds id to the channel, creating it if absent.
func (r *ChannelRegistry) Join(name string, id SessionID) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.channels[name]
	if !exists {
		ch = newChannel(name)
	}
	if !ch.addMember(id) {
		return JoinResult{}, coreError(ErrAlreadyInChannel, "You are already in %s", name)
	}
	if !exists {
		r.channels[name] = ch
	}
	return JoinResult{
		Channel:   name,
		Members:   len(ch.members),
		Created:   !exists,
		MemberIDs: ch.memberIDs(),
	}, nil
}

// Leave removes id from the channel and deletes the channel once it is empty.
func (r *ChannelRegistry) Leave(name string, id SessionID) (LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.channels[name]
	if !exists {
		return LeaveResult{}, coreError(ErrChannelNotFound, "Channel %s does not exist", name)
	}
	if !ch.removeMember(id) {
		return LeaveResult{}, coreError(ErrNotInChannel, "You are not in %s", name)
	}
	res := LeaveResult{Channel: name, Members: len(ch.members), MemberIDs: ch.memberIDs()}
	if ch.empty() {
		delete(r.channels, name)
		res.Deleted = true
	}
	return res, nil
}

// List returns every channel with its member count, sorted by name.
func (r *ChannelRegistry) List() []proto.ChannelInfo {
	r.mu.RLock()
	out := make([]proto.ChannelInfo, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, proto.ChannelInfo{Name: ch.name, Members: len(ch.members)})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MembersOf returns a point-in-time snapshot of the channel's members.
func (r *ChannelRegistry) MembersOf(name string) ([]SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[name]
	if !ok {
		return nil, false
	}
	return ch.memberIDs(), true
}

// IsMember reports whether id belongs to the channel.
func (r *ChannelRegistry) IsMember(name string, id SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[name]
	if !ok {
		return false
	}
	_, member := ch.members[id]
	return member
}

// Len returns the number of live channels.
func (r *ChannelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
