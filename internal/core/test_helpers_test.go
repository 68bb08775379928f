package core

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/relaychat/internal/proto"
)

// tb is the subset of testing.TB that *rapid.T also satisfies.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

func newTestHub(t tb) (*Hub, *clock.Mock) {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	return NewHub(clk), clk
}

// connectAs registers a session and sets its nickname.
func connectAs(t tb, h *Hub, nick string) SessionID {
	t.Helper()

	s := h.Connect("127.0.0.1:0")
	if nick == "" {
		return s.ID
	}
	res := h.Dispatch(s.ID, proto.Command{Type: proto.CommandNick, Params: []string{nick}})
	if res.Response == nil || !res.Response.Success {
		t.Fatalf("NICK %s failed: %+v", nick, res.Response)
	}
	return s.ID
}

func mustDispatch(t tb, h *Hub, id SessionID, ct proto.CommandType, params ...string) Result {
	t.Helper()

	res := h.Dispatch(id, proto.Command{Type: ct, Params: params})
	if res.Response != nil && !res.Response.Success {
		t.Fatalf("%s %v failed: %s (%s)", ct, params, res.Response.Message, res.Response.ErrorCode)
	}
	return res
}

func mustFail(t tb, h *Hub, id SessionID, code proto.ErrorCode, ct proto.CommandType, params ...string) Result {
	t.Helper()

	res := h.Dispatch(id, proto.Command{Type: ct, Params: params})
	if res.Response == nil || res.Response.Success || res.Response.ErrorCode != code {
		t.Fatalf("%s %v: expected %s, got %+v", ct, params, code, res.Response)
	}
	if len(res.Deliveries) != 0 {
		t.Fatalf("%s %v: failed command produced deliveries %+v", ct, params, res.Deliveries)
	}
	return res
}

// mustEvent returns the first delivery of the given event type.
func mustEvent(t tb, res Result, et proto.EventType) Delivery {
	t.Helper()

	for _, d := range res.Deliveries {
		if d.Event.Type == et {
			return d
		}
	}
	t.Fatalf("expected event %s not produced, got %+v", et, res.Deliveries)
	return Delivery{}
}

func noEvent(t tb, res Result, et proto.EventType) {
	t.Helper()

	for _, d := range res.Deliveries {
		if d.Event.Type == et {
			t.Fatalf("unexpected event %s: %+v", et, d)
		}
	}
}
