package core

import (
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/relaychat/internal/proto"
)

// Delivery is one event addressed to a set of sessions.
type Delivery struct {
	Targets []SessionID
	Event   proto.Event
}

// Result is the outcome of dispatching one command. Response is nil when the
// command is acknowledged only through its events (MESSAGE). Close asks the
// caller to tear the connection down after writing.
type Result struct {
	Response   *proto.Response
	Deliveries []Delivery
	Close      bool
}

// Hub interprets commands against the session and channel registries.
// It performs no I/O; callers write the returned envelopes.
type Hub struct {
	sessions *SessionRegistry
	channels *ChannelRegistry
	clock    clock.Clock
}

// NewHub creates a hub over fresh registries. A nil clock uses wall time.
func NewHub(clk clock.Clock) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	return &Hub{
		sessions: NewSessionRegistry(clk),
		channels: NewChannelRegistry(),
		clock:    clk,
	}
}

func (h *Hub) Sessions() *SessionRegistry { return h.sessions }
func (h *Hub) Channels() *ChannelRegistry { return h.channels }

// Connect registers a new session for an accepted connection.
func (h *Hub) Connect(remoteAddr string) Session {
	return h.sessions.Register(remoteAddr)
}

// Disconnect tears the session down: it leaves every joined channel and
// releases the nickname. Remaining members of each channel get USER_LEFT.
// It returns false if the session was already gone.
func (h *Hub) Disconnect(id SessionID) (Session, []Delivery, bool) {
	var deliveries []Delivery
	gone, ok := h.sessions.Unregister(id, func(s *Session) {
		for _, name := range s.Channels {
			res, err := h.channels.Leave(name, id)
			if err != nil || res.Deleted {
				continue
			}
			deliveries = append(deliveries, Delivery{
				Targets: res.MemberIDs,
				Event:   h.event(proto.EventUserLeft, proto.MembershipData{Channel: name, Nickname: s.Nickname, MemberCount: res.Members}),
			})
		}
		s.Channels = nil
	})
	return gone, deliveries, ok
}

// Dispatch applies cmd on behalf of session id.
func (h *Hub) Dispatch(id SessionID, cmd proto.Command) Result {
	cmd = cmd.Canonicalize()
	if err := cmd.Validate(); err != nil {
		return Result{Response: ErrorResponse(err)}
	}
	if !h.sessions.Touch(id) {
		return Result{Response: ErrorResponse(coreError(ErrSessionNotFound, "Session is no longer connected")), Close: true}
	}

	var (
		res Result
		err error
	)
	switch cmd.Type {
	case proto.CommandConnect:
		res, err = h.connect(id)
	case proto.CommandNick:
		res, err = h.nick(id, cmd.Params[0])
	case proto.CommandList:
		resp := proto.ChannelList(h.channels.List())
		res = Result{Response: &resp}
	case proto.CommandJoin:
		name := proto.DefaultChannel
		if len(cmd.Params) == 1 {
			name = cmd.Params[0]
		}
		res, err = h.join(id, name)
	case proto.CommandLeave:
		res, err = h.leave(id, cmd.Params)
	case proto.CommandMessage:
		res, err = h.message(id, cmd.Params)
	case proto.CommandQuit:
		res = h.quit(id)
	case proto.CommandHelp:
		resp := proto.HelpText(Help())
		res = Result{Response: &resp}
	default:
		err = fmt.Errorf("unhandled command %s", cmd.Type)
	}
	if err != nil {
		return Result{Response: ErrorResponse(err)}
	}
	return res
}

func (h *Hub) connect(id SessionID) (Result, error) {
	var nick string
	err := h.sessions.View(id, func(s *Session) error {
		nick = s.Nickname
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	resp := proto.Success(fmt.Sprintf("Connected to relaychat (protocol %s)", proto.ProtocolVersion), &proto.ResultData{Nickname: nick})
	return Result{Response: &resp}, nil
}

func (h *Hub) nick(id SessionID, name string) (Result, error) {
	var deliveries []Delivery
	err := h.sessions.Update(id, func(s *Session) error {
		old, err := h.sessions.bindLocked(s, name)
		if err != nil || old == "" || old == name {
			return err
		}
		for _, ch := range s.Channels {
			members, _ := h.channels.MembersOf(ch)
			targets := without(members, id)
			if len(targets) == 0 {
				continue
			}
			deliveries = append(deliveries, Delivery{
				Targets: targets,
				Event:   h.event(proto.EventNickChanged, proto.NickChangeData{Channel: ch, OldNickname: old, Nickname: name}),
			})
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	resp := proto.Success(fmt.Sprintf("Nickname set to '%s'", name), &proto.ResultData{Nickname: name})
	return Result{Response: &resp, Deliveries: deliveries}, nil
}

func (h *Hub) join(id SessionID, name string) (Result, error) {
	var (
		joined JoinResult
		nick   string
	)
	err := h.sessions.Update(id, func(s *Session) error {
		if s.Nickname == "" {
			return coreError(ErrNicknameRequired, "Set a nickname with NICK before joining channels")
		}
		var err error
		if joined, err = h.channels.Join(name, id); err != nil {
			return err
		}
		s.addChannel(name)
		nick = s.Nickname
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	var deliveries []Delivery
	if joined.Created {
		deliveries = append(deliveries, Delivery{
			Targets: []SessionID{id},
			Event:   h.event(proto.EventChannelCreated, proto.ChannelData{Channel: name}),
		})
	}
	deliveries = append(deliveries, Delivery{
		Targets: joined.MemberIDs,
		Event:   h.event(proto.EventUserJoined, proto.MembershipData{Channel: name, Nickname: nick, MemberCount: joined.Members}),
	})

	resp := proto.Success("Joined channel "+name, &proto.ResultData{
		Nickname:    nick,
		Channel:     name,
		MemberCount: joined.Members,
		Created:     joined.Created,
	})
	return Result{Response: &resp, Deliveries: deliveries}, nil
}

func (h *Hub) leave(id SessionID, params []string) (Result, error) {
	var (
		left LeaveResult
		nick string
		name string
	)
	err := h.sessions.Update(id, func(s *Session) error {
		if s.Nickname == "" {
			return coreError(ErrNicknameRequired, "Set a nickname with NICK before leaving channels")
		}
		var err error
		if name, err = target(s, params, 1); err != nil {
			return err
		}
		if left, err = h.channels.Leave(name, id); err != nil {
			return err
		}
		s.removeChannel(name)
		nick = s.Nickname
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	deliveries := []Delivery{{
		Targets: append(left.MemberIDs, id),
		Event:   h.event(proto.EventUserLeft, proto.MembershipData{Channel: name, Nickname: nick, MemberCount: left.Members}),
	}}
	if left.Deleted {
		deliveries = append(deliveries, Delivery{
			Targets: []SessionID{id},
			Event:   h.event(proto.EventChannelDeleted, proto.ChannelData{Channel: name}),
		})
	}

	resp := proto.Success("Left channel "+name, &proto.ResultData{Nickname: nick, Channel: name, MemberCount: left.Members})
	return Result{Response: &resp, Deliveries: deliveries}, nil
}

func (h *Hub) message(id SessionID, params []string) (Result, error) {
	text := params[len(params)-1]
	var deliveries []Delivery
	err := h.sessions.View(id, func(s *Session) error {
		if s.Nickname == "" {
			return coreError(ErrNicknameRequired, "Set a nickname with NICK before sending messages")
		}
		names := s.Channels
		if len(params) == 2 {
			names = params[:1]
		}
		if len(names) == 0 {
			return coreError(ErrNotInChannel, "You are not in any channel")
		}
		now := proto.Timestamp(h.clock.Now())
		for _, name := range names {
			members, ok := h.channels.MembersOf(name)
			if !ok {
				return coreError(ErrChannelNotFound, "Channel %s does not exist", name)
			}
			if !s.InChannel(name) {
				return coreError(ErrNotInChannel, "You are not in %s", name)
			}
			deliveries = append(deliveries, Delivery{
				Targets: members,
				Event: proto.Event{
					Type:      proto.EventMessageBroadcast,
					Data:      proto.MessageData{Channel: name, Nickname: s.Nickname, Text: text, SentAt: now},
					Timestamp: now,
				},
			})
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Deliveries: deliveries}, nil
}

func (h *Hub) quit(id SessionID) Result {
	_, deliveries, _ := h.Disconnect(id)
	resp := proto.Success("Goodbye!", nil)
	return Result{Response: &resp, Deliveries: deliveries, Close: true}
}

func (h *Hub) event(t proto.EventType, data proto.EventData) proto.Event {
	return proto.Event{Type: t, Data: data, Timestamp: proto.Timestamp(h.clock.Now())}
}

// target resolves the channel a LEAVE refers to. An explicit channel is
// present when params has full arity; otherwise the session's most recently
// joined channel is used.
func target(s *Session, params []string, full int) (string, error) {
	if len(params) == full {
		return params[0], nil
	}
	name, ok := s.Current()
	if !ok {
		return "", coreError(ErrNotInChannel, "You are not in any channel")
	}
	return name, nil
}

func without(ids []SessionID, id SessionID) []SessionID {
	out := make([]SessionID, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
