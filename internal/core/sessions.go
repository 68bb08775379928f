package core

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/relaychat/internal/utils"
)

// SessionID identifies one connected client for its whole lifetime.
type SessionID string

// State is the lifecycle phase of a session.
type State int

const (
	StateConnected State = iota
	StateIdentified
	StateInChannel
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateInChannel:
		return "in_channel"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is a chat participant as seen by the core layer.
// Values returned by the registry are copies.
type Session struct {
	ID           SessionID
	RemoteAddr   string
	Nickname     string
	Channels     []string // join order, most recent last
	ConnectedAt  time.Time
	LastActivity time.Time
	ClosedAt     time.Time
}

// State derives the lifecycle phase from the session fields.
func (s *Session) State() State {
	switch {
	case !s.ClosedAt.IsZero():
		return StateClosed
	case len(s.Channels) > 0:
		return StateInChannel
	case s.Nickname != "":
		return StateIdentified
	default:
		return StateConnected
	}
}

// Current returns the most recently joined channel.
func (s *Session) Current() (string, bool) {
	if len(s.Channels) == 0 {
		return "", false
	}
	return s.Channels[len(s.Channels)-1], true
}

// InChannel reports whether the session belongs to name.
func (s *Session) InChannel(name string) bool {
	return slices.Contains(s.Channels, name)
}

func (s *Session) addChannel(name string) {
	s.Channels = append(s.Channels, name)
}

func (s *Session) removeChannel(name string) {
	s.Channels = slices.DeleteFunc(s.Channels, func(c string) bool { return c == name })
}

func (s *Session) clone() Session {
	c := *s
	c.Channels = slices.Clone(s.Channels)
	return c
}

// SessionRegistry owns connected sessions and the nickname namespace.
//
// When an operation also touches the ChannelRegistry, the session lock is taken
// first and held while the channel registry is called.
type SessionRegistry struct {
	mu        sync.RWMutex
	clock     clock.Clock
	sessions  map[SessionID]*Session
	nicknames map[string]SessionID
}

// NewSessionRegistry creates an empty registry. A nil clock uses wall time.
func NewSessionRegistry(clk clock.Clock) *SessionRegistry {
	if clk == nil {
		clk = clock.New()
	}
	return &SessionRegistry{
		clock:     clk,
		sessions:  make(map[SessionID]*Session),
		nicknames: make(map[string]SessionID),
	}
}

// Register adds a new session without a nickname.
func (r *SessionRegistry) Register(remoteAddr string) Session {
	now := r.clock.Now()
	s := &Session{
		ID:           SessionID(utils.NewID()),
		RemoteAddr:   remoteAddr,
		ConnectedAt:  now,
		LastActivity: now,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s.clone()
}

// SetNickname binds name to the session and releases its previous nickname.
// Setting the nickname the session already holds is a no-op.
func (r *SessionRegistry) SetNickname(id SessionID, name string) (old string, err error) {
	err = r.Update(id, func(s *Session) error {
		var bindErr error
		old, bindErr = r.bindLocked(s, name)
		return bindErr
	})
	return old, err
}

// bindLocked requires r.mu held for writing.
func (r *SessionRegistry) bindLocked(s *Session, name string) (string, error) {
	old := s.Nickname
	if old == name {
		return old, nil
	}
	if holder, taken := r.nicknames[name]; taken && holder != s.ID {
		return old, coreError(ErrNicknameInUse, "Nickname '%s' is already in use", name)
	}
	if old != "" {
		delete(r.nicknames, old)
	}
	r.nicknames[name] = s.ID
	s.Nickname = name
	return old, nil
}

// Unregister removes the session and releases its nickname. cascade, when
// non-nil, runs under the registry lock before removal so channel membership
// can be torn down atomically. It reports false if the session was already gone.
func (r *SessionRegistry) Unregister(id SessionID, cascade func(s *Session)) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	gone := s.clone()
	if cascade != nil {
		cascade(s)
	}
	if s.Nickname != "" && r.nicknames[s.Nickname] == id {
		delete(r.nicknames, s.Nickname)
	}
	delete(r.sessions, id)

	gone.ClosedAt = r.clock.Now()
	return gone, true
}

// Touch refreshes the last-activity timestamp.
func (r *SessionRegistry) Touch(id SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if ok {
		s.LastActivity = r.clock.Now()
	}
	return ok
}

// Lookup returns a snapshot of the session.
func (r *SessionRegistry) Lookup(id SessionID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Update runs fn with exclusive access to the session.
func (r *SessionRegistry) Update(id SessionID, fn func(s *Session) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return coreError(ErrSessionNotFound, "Session is no longer connected")
	}
	return fn(s)
}

// View runs fn with shared access to the session. fn must not mutate it.
func (r *SessionRegistry) View(id SessionID, fn func(s *Session) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return coreError(ErrSessionNotFound, "Session is no longer connected")
	}
	return fn(s)
}

// Len returns the number of registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a snapshot of all sessions ordered by connection time.
func (r *SessionRegistry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}
