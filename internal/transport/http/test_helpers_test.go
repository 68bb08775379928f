package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/relaychat/internal/log"
	"github.com/vovakirdan/relaychat/internal/proto"
	"github.com/vovakirdan/relaychat/internal/server"
	"github.com/vovakirdan/relaychat/internal/store"
	"github.com/vovakirdan/relaychat/internal/store/sqlite"
)

// startTestServer serves the full HTTP handler of a fresh chat server backed
// by an in-memory journal.
func startTestServer(t *testing.T) (*httptest.Server, *server.Server, store.Journal) {
	t.Helper()

	journal, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	chat := server.New(server.Config{WriteTimeout: time.Second}, log.Nop(), server.WithJournal(journal))

	ts := httptest.NewServer(NewHandler(chat, log.Nop()))
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = chat.Shutdown(ctx)
	})

	return ts, chat, journal
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()

	resp, err := ts.Client().Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, ts *httptest.Server) *wsClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(typ proto.CommandType, params ...string) {
	c.t.Helper()

	data, err := proto.Encode(proto.NewCommand(typ, params...))
	require.NoError(c.t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, data))
}

func (c *wsClient) next() proto.Envelope {
	c.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	typ, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)
	require.Equal(c.t, websocket.MessageText, typ)

	env, err := proto.Decode(data)
	require.NoError(c.t, err, "decode %q", data)
	return env
}

func (c *wsClient) response() proto.Response {
	c.t.Helper()

	env := c.next()
	resp, ok := env.(proto.Response)
	require.True(c.t, ok, "expected response, got %+v", env)
	return resp
}

func (c *wsClient) event(typ proto.EventType) proto.Event {
	c.t.Helper()

	env := c.next()
	ev, ok := env.(proto.Event)
	require.True(c.t, ok, "expected event %s, got %+v", typ, env)
	require.Equal(c.t, typ, ev.Type)
	return ev
}
