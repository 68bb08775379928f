package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/vovakirdan/relaychat/internal/proto"
)

func TestChannelRegistryLifecycle(t *testing.T) {
	r := NewChannelRegistry()

	res, err := r.Join("#go", "a")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 1, res.Members)

	res, err = r.Join("#go", "b")
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, []SessionID{"a", "b"}, res.MemberIDs)

	_, err = r.Join("#go", "a")
	require.ErrorIs(t, err, ErrAlreadyInChannel)
	assert.Equal(t, proto.ErrAlreadyInChannel, CodeOf(err))

	_, err = r.Leave("#rust", "a")
	require.ErrorIs(t, err, ErrChannelNotFound)
	_, err = r.Leave("#go", "c")
	require.ErrorIs(t, err, ErrNotInChannel)

	left, err := r.Leave("#go", "a")
	require.NoError(t, err)
	assert.False(t, left.Deleted)
	assert.Equal(t, []SessionID{"b"}, left.MemberIDs)

	left, err = r.Leave("#go", "b")
	require.NoError(t, err)
	assert.True(t, left.Deleted)
	assert.Zero(t, left.Members)
	assert.Empty(t, r.List())
	_, ok := r.MembersOf("#go")
	assert.False(t, ok)
}

func TestChannelRegistryListSortedSnapshot(t *testing.T) {
	r := NewChannelRegistry()
	for _, name := range []string{"#zeta", "#alpha", "#mid"} {
		_, err := r.Join(name, "a")
		require.NoError(t, err)
	}
	_, err := r.Join("#mid", "b")
	require.NoError(t, err)

	list := r.List()
	assert.Equal(t, []proto.ChannelInfo{{Name: "#alpha", Members: 1}, {Name: "#mid", Members: 2}, {Name: "#zeta", Members: 1}}, list)

	members, _ := r.MembersOf("#mid")
	_, err = r.Leave("#mid", "b")
	require.NoError(t, err)
	assert.Len(t, members, 2, "snapshot must not change after mutation")
}

func TestSessionRegistryTouch(t *testing.T) {
	clk := clock.NewMock()
	r := NewSessionRegistry(clk)
	s := r.Register("10.0.0.1:5000")
	assert.Equal(t, "10.0.0.1:5000", s.RemoteAddr)

	clk.Add(30 * time.Second)
	require.True(t, r.Touch(s.ID))
	got, ok := r.Lookup(s.ID)
	require.True(t, ok)
	assert.Equal(t, clk.Now(), got.LastActivity)
	assert.False(t, r.Touch("nope"))
}

func TestSessionRegistrySetNickname(t *testing.T) {
	r := NewSessionRegistry(nil)
	a := r.Register("")
	b := r.Register("")

	old, err := r.SetNickname(a.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, old)

	_, err = r.SetNickname(b.ID, "alice")
	require.ErrorIs(t, err, ErrNicknameInUse)
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, proto.ErrNicknameInUse, ce.Code)

	old, err = r.SetNickname(a.ID, "al")
	require.NoError(t, err)
	assert.Equal(t, "alice", old)

	_, err = r.SetNickname(b.ID, "alice")
	require.NoError(t, err)

	_, err = r.SetNickname("ghost", "casper")
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, proto.ErrConnectionError, CodeOf(err))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, proto.ErrorCode(""), CodeOf(nil))
	assert.Equal(t, proto.ErrorCode(""), CodeOf(errors.New("boom")))
	assert.Equal(t, proto.ErrNotInChannel, CodeOf(fmt.Errorf("wrapped: %w", ErrNotInChannel)))
	assert.Equal(t, proto.ErrInvalidCommand, CodeOf(proto.Command{Type: proto.CommandNick}.Validate()))
}

func TestFailureHidesInternalErrors(t *testing.T) {
	resp := ErrorResponse(errors.New("db exploded"))
	assert.Equal(t, proto.ResponseError, resp.Type)
	assert.False(t, resp.Success)
	assert.Empty(t, resp.ErrorCode)
	assert.Equal(t, "internal server error", resp.Message)
}

// Random JOIN/LEAVE/QUIT sequences keep session channel lists and
// channel member sets in agreement, and empty channels never linger.
func TestHubMembershipConsistency(t *testing.T) {
	channels := []string{"#a", "#b", "#c"}
	rapid.Check(t, func(t *rapid.T) {
		h, _ := newTestHub(t)

		var ids []SessionID
		for i := range 4 {
			ids = append(ids, connectAs(t, h, fmt.Sprintf("user%d", i)))
		}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for range steps {
			id := rapid.SampledFrom(ids).Draw(t, "session")
			switch rapid.IntRange(0, 4).Draw(t, "op") {
			case 0, 1:
				h.Dispatch(id, proto.Command{Type: proto.CommandJoin, Params: []string{rapid.SampledFrom(channels).Draw(t, "join")}})
			case 2:
				h.Dispatch(id, proto.Command{Type: proto.CommandLeave, Params: []string{rapid.SampledFrom(channels).Draw(t, "leave")}})
			case 3:
				h.Dispatch(id, proto.Command{Type: proto.CommandLeave})
			case 4:
				if rapid.Bool().Draw(t, "quit") {
					h.Dispatch(id, proto.Command{Type: proto.CommandQuit})
				}
			}
		}

		for _, s := range h.Sessions().List() {
			for _, ch := range s.Channels {
				if !h.Channels().IsMember(ch, s.ID) {
					t.Fatalf("session %s lists %s but is not a member", s.ID, ch)
				}
			}
		}
		for _, info := range h.Channels().List() {
			if info.Members == 0 {
				t.Fatalf("empty channel %s persisted", info.Name)
			}
			members, _ := h.Channels().MembersOf(info.Name)
			for _, id := range members {
				s, ok := h.Sessions().Lookup(id)
				if !ok {
					t.Fatalf("channel %s holds departed session %s", info.Name, id)
				}
				if !s.InChannel(info.Name) {
					t.Fatalf("channel %s holds %s which does not list it", info.Name, id)
				}
			}
		}
	})
}
