// Package server accepts client connections and runs their commands through
// a fixed worker pool.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/multierr"

	"github.com/vovakirdan/relaychat/internal/core"
	"github.com/vovakirdan/relaychat/internal/proto"
	"github.com/vovakirdan/relaychat/internal/store"
	"github.com/vovakirdan/relaychat/internal/worker"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server closed")

const (
	shutdownNotice = "Server is shutting down. Goodbye!"
	journalTimeout = 2 * time.Second
)

// Config holds the runtime knobs of a Server.
type Config struct {
	Workers      int
	IdleTimeout  time.Duration // 0 disables the inactivity monitor
	WriteTimeout time.Duration
	MaxSessions  int // 0 means unlimited
}

// Server owns the listeners, the connection table and the worker pool.
type Server struct {
	cfg      Config
	hub      *core.Hub
	dispatch func(core.SessionID, proto.Command) core.Result
	pool     *worker.Pool
	journal store.Journal
	metrics *Metrics
	clock   clock.Clock
	log     *zerolog.Logger

	conns        *xsync.MapOf[core.SessionID, *conn]
	lastActivity atomic.Int64

	mu        sync.Mutex
	closing   bool
	listeners map[net.Listener]struct{}
	readers   sync.WaitGroup

	startOnce sync.Once
	done      chan struct{} // closed when shutdown begins
	stopped   chan struct{} // closed when shutdown completes
	stopErr   error
}

// Option customizes a Server.
type Option func(*Server)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Server) { s.clock = clk }
}

// WithJournal records session lifecycle in j.
func WithJournal(j store.Journal) Option {
	return func(s *Server) { s.journal = j }
}

// New creates a server. It does not listen until Serve is called.
func New(cfg Config, logger *zerolog.Logger, opts ...Option) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &Server{
		cfg:       cfg,
		journal:   store.Nop{},
		clock:     clock.New(),
		log:       logger,
		conns:     xsync.NewMapOf[core.SessionID, *conn](),
		listeners: make(map[net.Listener]struct{}),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = core.NewHub(s.clock)
	if s.dispatch == nil {
		s.dispatch = s.hub.Dispatch
	}

	s.pool = worker.New(cfg.Workers, s.process, logger)
	s.pool.OnPanic(s.recovered)
	s.metrics = NewMetrics(
		func() float64 { return float64(s.pool.Pending()) },
		func() float64 { return float64(s.hub.Channels().Len()) },
	)
	s.touch()
	return s
}

// Hub exposes the chat state for read-only views such as the HTTP API.
func (s *Server) Hub() *core.Hub { return s.hub }

// Metrics returns the server collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Journal returns the session journal in use.
func (s *Server) Journal() store.Journal { return s.journal }

// Done is closed once shutdown has begun, whatever triggered it.
func (s *Server) Done() <-chan struct{} { return s.done }

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It always returns a non-nil
// error; after Shutdown it is ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		ln.Close()
		return ErrServerClosed
	}
	s.start()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("chat server listening")

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("accept error")
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0
		go s.ServeConn(nc, "tcp")
	}
}

// ServeConn runs the session for an already established connection and
// returns when its read side ends. Commands are executed by the worker pool.
func (s *Server) ServeConn(nc net.Conn, transport string) {
	c, ok := s.register(nc, transport)
	if !ok {
		return
	}
	defer s.readers.Done()

	s.readLoop(c)
}

func (s *Server) start() {
	s.startOnce.Do(func() {
		s.pool.Start()
		if s.cfg.IdleTimeout > 0 {
			go s.monitorIdle()
		}
	})
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// register creates the session. On success the caller owns one readers slot.
func (s *Server) register(nc net.Conn, transport string) (*conn, bool) {
	s.start()
	s.touch()

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		nc.Close()
		return nil, false
	}
	if s.cfg.MaxSessions > 0 && s.conns.Size() >= s.cfg.MaxSessions {
		s.mu.Unlock()
		s.reject(nc)
		return nil, false
	}
	sess := s.hub.Connect(nc.RemoteAddr().String())
	c := newConn(sess.ID, nc, transport)
	s.conns.Store(sess.ID, c)
	s.readers.Add(1)
	s.mu.Unlock()

	s.metrics.sessionOpened()
	s.log.Debug().Str("session", string(sess.ID)).Str("remote", sess.RemoteAddr).Str("transport", transport).Msg("session connected")

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	err := s.journal.SessionOpened(ctx, store.SessionRecord{
		ID:          string(sess.ID),
		RemoteAddr:  sess.RemoteAddr,
		Transport:   transport,
		ConnectedAt: sess.ConnectedAt,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("session", string(sess.ID)).Msg("journal session opened")
	}
	return c, true
}

func (s *Server) reject(nc net.Conn) {
	s.metrics.sessionsRejected.Inc()
	s.metrics.recordError(string(proto.ErrServerFull))
	s.log.Warn().Str("remote", nc.RemoteAddr().String()).Int("max_sessions", s.cfg.MaxSessions).Msg("rejecting connection, server full")

	if data, err := proto.Encode(proto.Failure(proto.ErrServerFull, "Server is full, try again later")); err == nil {
		if s.cfg.WriteTimeout > 0 {
			_ = nc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		_, _ = nc.Write(data)
	}
	nc.Close()
}

func (s *Server) readLoop(c *conn) {
	r := bufio.NewReaderSize(c.nc, readBufferSize)
	for {
		l, err := readLine(r)
		if l.oversized || len(l.data) > 0 {
			c.push(l)
			s.submit(c)
		}
		if err != nil {
			c.markEOF(err)
			s.submit(c)
			return
		}
	}
}

// submit schedules c on the pool. A closed pool is reported to the client.
func (s *Server) submit(c *conn) {
	err := s.pool.Submit(string(c.id))
	if err == nil {
		return
	}
	if errors.Is(err, worker.ErrPoolClosed) && !c.closed.Load() {
		s.send(c, proto.Failure(proto.ErrServerFull, "Server is shutting down"))
	}
}

// process is the worker handler: it handles one buffered line, or tears the
// session down once its input is exhausted.
func (s *Server) process(_ context.Context, key string) bool {
	c, ok := s.conns.Load(core.SessionID(key))
	if !ok {
		return false
	}
	l, ok, eof := c.next()
	switch {
	case ok:
		if !c.torn.Load() {
			s.handleLine(c, l)
		}
		return c.pending()
	case eof:
		reason := store.ReasonEOF
		if err := c.endReason(); err != nil && !errors.Is(err, io.EOF) && !isClosedErr(err) {
			reason = store.ReasonError
			s.log.Debug().Err(err).Str("session", key).Msg("read failed")
		}
		s.teardown(c, reason, true)
	}
	return false
}

func (s *Server) handleLine(c *conn, l line) {
	start := s.clock.Now()
	defer func() {
		s.metrics.dispatchDuration.Observe(s.clock.Since(start).Seconds())
	}()

	if l.oversized {
		s.metrics.decodeFailures.Inc()
		s.send(c, proto.Failure(proto.ErrInvalidCommand, fmt.Sprintf("Invalid command: envelope exceeds %d bytes", proto.MaxEnvelopeSize)))
		return
	}
	cmd, err := proto.DecodeCommand(l.data)
	if err != nil {
		s.metrics.decodeFailures.Inc()
		s.log.Debug().Err(err).Str("session", string(c.id)).Msg("rejecting line")
		s.send(c, *core.ErrorResponse(err))
		return
	}

	s.touch()
	s.metrics.commands.WithLabelValues(string(cmd.Type)).Inc()
	res := s.dispatch(c.id, cmd)

	if res.Response != nil {
		s.send(c, *res.Response)
		if !res.Response.Success {
			s.log.Debug().Str("session", string(c.id)).Str("command", string(cmd.Type)).
				Str("code", string(res.Response.ErrorCode)).Msg(res.Response.Message)
		} else if cmd.Type == proto.CommandNick {
			s.nicknameChanged(c, cmd.Params[0])
		}
	}
	s.deliver(res.Deliveries)

	if res.Close {
		s.teardown(c, store.ReasonQuit, false)
	}
}

func (s *Server) nicknameChanged(c *conn, nick string) {
	s.log.Debug().Str("session", string(c.id)).Str("nickname", nick).Msg("nickname set")

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := s.journal.NicknameChanged(ctx, string(c.id), nick); err != nil {
		s.log.Warn().Err(err).Str("session", string(c.id)).Msg("journal nickname")
	}
}

// send writes resp to c. A failed write closes the connection; the read side
// then ends and the session is torn down through the pool.
func (s *Server) send(c *conn, resp proto.Response) {
	if !resp.Success {
		s.metrics.recordError(string(resp.ErrorCode))
	}
	data, err := proto.Encode(resp)
	if err != nil {
		s.log.Error().Err(err).Str("session", string(c.id)).Msg("encode response")
		return
	}
	s.write(c, data)
}

func (s *Server) deliver(deliveries []core.Delivery) {
	for _, d := range deliveries {
		data, err := proto.Encode(d.Event)
		if err != nil {
			s.log.Error().Err(err).Str("event", string(d.Event.Type)).Msg("encode event")
			continue
		}
		sent := 0
		for _, id := range d.Targets {
			c, ok := s.conns.Load(id)
			if !ok {
				continue
			}
			if s.write(c, data) {
				sent++
			}
		}
		s.metrics.broadcastFanout.Observe(float64(sent))
	}
}

func (s *Server) write(c *conn, data []byte) bool {
	if err := c.write(data, s.cfg.WriteTimeout); err != nil {
		if !isClosedErr(err) {
			s.log.Debug().Err(err).Str("session", string(c.id)).Msg("write failed, closing connection")
		}
		_ = c.close()
		return false
	}
	return true
}

// teardown removes the session from the hub and closes its transport. It runs
// at most once per connection. notify controls whether remaining channel
// members hear about the departure; QUIT has already been announced by the hub.
func (s *Server) teardown(c *conn, reason string, notify bool) {
	if !c.torn.CompareAndSwap(false, true) {
		return
	}
	gone, deliveries, ok := s.hub.Disconnect(c.id)
	if notify && ok {
		s.deliver(deliveries)
	}
	if err := c.close(); err != nil {
		s.log.Debug().Err(err).Str("session", string(c.id)).Msg("close connection")
	}
	s.conns.Delete(c.id)
	s.metrics.sessionClosed(reason)

	at := s.clock.Now()
	if ok {
		at = gone.ClosedAt
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := s.journal.SessionClosed(ctx, string(c.id), at, reason); err != nil {
		s.log.Warn().Err(err).Str("session", string(c.id)).Msg("journal session closed")
	}
	s.log.Debug().Str("session", string(c.id)).Str("nickname", gone.Nickname).Str("reason", reason).Msg("session closed")
}

// recovered answers the command whose dispatch panicked.
func (s *Server) recovered(key string, _ *panics.Recovered) {
	c, ok := s.conns.Load(core.SessionID(key))
	if !ok {
		return
	}
	s.send(c, proto.Failure("", "internal server error"))
}

func (s *Server) touch() {
	s.lastActivity.Store(s.clock.Now().UnixNano())
}

// Shutdown stops accepting connections, drains the worker pool, says goodbye
// to every session and closes it. Concurrent calls wait for the first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		select {
		case <-s.stopped:
			return s.stopErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.closing = true
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()
	close(s.done)

	s.log.Info().Int("sessions", s.conns.Size()).Msg("shutting down chat server")

	var err error
	for ln := range listeners {
		if cerr := ln.Close(); cerr != nil && !isClosedErr(cerr) {
			err = multierr.Append(err, fmt.Errorf("close listener: %w", cerr))
		}
	}

	discarded, perr := s.pool.Shutdown(ctx)
	if perr != nil {
		err = multierr.Append(err, fmt.Errorf("drain workers: %w", perr))
	}
	if discarded > 0 {
		s.log.Info().Int("discarded", discarded).Msg("discarded queued work")
	}

	notice, _ := proto.Encode(proto.Success(shutdownNotice, nil))
	s.conns.Range(func(_ core.SessionID, c *conn) bool {
		if !c.torn.Load() {
			s.write(c, notice)
		}
		s.teardown(c, store.ReasonShutdown, false)
		return true
	})

	readersDone := make(chan struct{})
	go func() {
		s.readers.Wait()
		close(readersDone)
	}()
	select {
	case <-readersDone:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("wait for readers: %w", ctx.Err()))
	}

	s.stopErr = err
	close(s.stopped)
	s.log.Info().Msg("chat server stopped")
	return err
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
