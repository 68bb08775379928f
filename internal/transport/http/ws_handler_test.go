package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/log"
	"github.com/vovakirdan/relaychat/internal/proto"
	"github.com/vovakirdan/relaychat/internal/server"
)

func TestWebSocketChat(t *testing.T) {
	ts, _, journal := startTestServer(t)

	a := dialWS(t, ts)
	b := dialWS(t, ts)

	a.send(proto.CommandNick, "alice")
	require.True(t, a.response().Success)
	b.send(proto.CommandNick, "bob")
	require.True(t, b.response().Success)

	a.send(proto.CommandJoin, "#ws")
	require.True(t, a.response().Success)
	a.event(proto.EventChannelCreated)
	a.event(proto.EventUserJoined)

	b.send(proto.CommandJoin, "#ws")
	require.True(t, b.response().Success)
	b.event(proto.EventUserJoined)
	a.event(proto.EventUserJoined)

	a.send(proto.CommandMessage, "#ws", "hi there")
	for _, c := range []*wsClient{a, b} {
		msg := c.event(proto.EventMessageBroadcast).Data.(proto.MessageData)
		assert.Equal(t, proto.MessageData{Channel: "#ws", Nickname: "alice", Text: "hi there", SentAt: msg.SentAt}, msg)
	}

	b.send(proto.CommandQuit)
	assert.Equal(t, "Goodbye!", b.response().Message)
	left := a.event(proto.EventUserLeft).Data.(proto.MembershipData)
	assert.Equal(t, 1, left.MemberCount)

	records, err := journal.ListSessions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, "ws", rec.Transport)
	}
}

func TestWebSocketInvalidEnvelope(t *testing.T) {
	ts, _, _ := startTestServer(t)

	c := dialWS(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.conn.Write(ctx, websocket.MessageText, []byte("{\"kind\":\"command\"}\n")))

	resp := c.response()
	assert.False(t, resp.Success)
	assert.Equal(t, proto.ErrInvalidCommand, resp.ErrorCode)

	// The session survives the protocol error.
	c.send(proto.CommandNick, "carol")
	assert.True(t, c.response().Success)
}

func TestNewServerUpgradesWebSocket(t *testing.T) {
	chat := server.New(server.Config{WriteTimeout: time.Second}, log.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = chat.Shutdown(ctx)
	})

	cfg := config.Default()
	ts := httptest.NewServer(NewServer(chat, &cfg, log.Nop()).Handler)
	t.Cleanup(ts.Close)

	c := dialWS(t, ts)
	c.send(proto.CommandHelp)
	resp := c.response()
	assert.True(t, resp.Success)
	assert.Equal(t, proto.ResponseHelpText, resp.Type)

	// gin still serves the rest.
	assert.Equal(t, http.StatusOK, getJSON(t, ts, "/api/channels", nil))
}
