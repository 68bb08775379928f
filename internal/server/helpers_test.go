package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/relaychat/internal/proto"
)

const readTimeout = 3 * time.Second

// startServer runs a server on a loopback port and shuts it down at cleanup.
func startServer(t *testing.T, cfg Config, opts ...Option) (*Server, string) {
	t.Helper()

	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = time.Second
	}
	srv := New(cfg, nil, opts...)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		select {
		case err := <-served:
			require.ErrorIs(t, err, ErrServerClosed)
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after Shutdown")
		}
	})
	return srv, ln.Addr().String()
}

type testClient struct {
	t  *testing.T
	nc net.Conn
	r  *bufio.Reader
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()

	nc, err := net.DialTimeout("tcp", addr, readTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })
	return &testClient{t: t, nc: nc, r: bufio.NewReader(nc)}
}

func (c *testClient) send(typ proto.CommandType, params ...string) {
	c.t.Helper()

	data, err := proto.Encode(proto.NewCommand(typ, params...))
	require.NoError(c.t, err)
	c.sendRaw(data)
}

func (c *testClient) sendRaw(data []byte) {
	c.t.Helper()

	_, err := c.nc.Write(data)
	require.NoError(c.t, err)
}

func (c *testClient) next() proto.Envelope {
	c.t.Helper()

	require.NoError(c.t, c.nc.SetReadDeadline(time.Now().Add(readTimeout)))
	data, err := c.r.ReadBytes('\n')
	require.NoError(c.t, err, "read envelope")
	env, err := proto.Decode(data)
	require.NoError(c.t, err, "decode %q", data)
	return env
}

func (c *testClient) response() proto.Response {
	c.t.Helper()

	env := c.next()
	resp, ok := env.(proto.Response)
	require.True(c.t, ok, "expected response, got %s %+v", env.Kind(), env)
	return resp
}

func (c *testClient) ok(typ proto.CommandType, params ...string) proto.Response {
	c.t.Helper()

	c.send(typ, params...)
	resp := c.response()
	require.True(c.t, resp.Success, "%s %v failed: %s %s", typ, params, resp.ErrorCode, resp.Message)
	return resp
}

func (c *testClient) fail(code proto.ErrorCode, typ proto.CommandType, params ...string) proto.Response {
	c.t.Helper()

	c.send(typ, params...)
	resp := c.response()
	require.False(c.t, resp.Success)
	require.Equal(c.t, code, resp.ErrorCode, resp.Message)
	return resp
}

func (c *testClient) event(typ proto.EventType) proto.Event {
	c.t.Helper()

	env := c.next()
	ev, ok := env.(proto.Event)
	require.True(c.t, ok, "expected event %s, got %s %+v", typ, env.Kind(), env)
	require.Equal(c.t, typ, ev.Type)
	return ev
}

// closed asserts the server ends the stream, draining anything still queued.
func (c *testClient) closed() {
	c.t.Helper()

	require.NoError(c.t, c.nc.SetReadDeadline(time.Now().Add(readTimeout)))
	_, err := io.Copy(io.Discard, c.r)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		c.t.Fatal("connection was not closed by the server")
	}
}

// silent asserts nothing arrives within d.
func (c *testClient) silent(d time.Duration) {
	c.t.Helper()

	require.NoError(c.t, c.nc.SetReadDeadline(time.Now().Add(d)))
	data, err := c.r.ReadBytes('\n')
	var ne net.Error
	require.True(c.t, errors.As(err, &ne) && ne.Timeout(), "unexpected data %q (err %v)", data, err)
}

func (c *testClient) nick(name string) {
	c.t.Helper()
	c.ok(proto.CommandNick, name)
}
