package server

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vovakirdan/relaychat/internal/core"
	"github.com/vovakirdan/relaychat/internal/proto"
)

const readBufferSize = 4096

// line is one unit of buffered client input.
type line struct {
	data      []byte
	oversized bool
}

// conn pairs a session with its transport. The reader goroutine appends to
// inbox; a worker drains it one line per run.
type conn struct {
	id        core.SessionID
	nc        net.Conn
	transport string

	mu      sync.Mutex
	inbox   []line
	eof     bool
	readErr error

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	torn      atomic.Bool
}

func newConn(id core.SessionID, nc net.Conn, transport string) *conn {
	return &conn{id: id, nc: nc, transport: transport}
}

func (c *conn) push(l line) {
	c.mu.Lock()
	c.inbox = append(c.inbox, l)
	c.mu.Unlock()
}

func (c *conn) markEOF(err error) {
	c.mu.Lock()
	c.eof = true
	c.readErr = err
	c.mu.Unlock()
}

// next pops the oldest buffered line. When the inbox is empty it reports
// whether the read side has ended.
func (c *conn) next() (l line, ok, eof bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.inbox) > 0 {
		l = c.inbox[0]
		c.inbox[0] = line{}
		c.inbox = c.inbox[1:]
		return l, true, false
	}
	return line{}, false, c.eof
}

// pending reports whether another worker run has something to do.
func (c *conn) pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inbox) > 0 || c.eof
}

func (c *conn) endReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// write sends one encoded envelope. Writes are serialized per connection.
func (c *conn) write(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return net.ErrClosed
	}
	if timeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err := c.nc.Write(data)
	return err
}

// close shuts the transport; the reader goroutine then observes EOF.
func (c *conn) close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.nc.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

// readLine returns the next newline-terminated line without its terminator.
// Lines longer than the envelope limit are consumed and reported as oversized.
func readLine(r *bufio.Reader) (line, error) {
	var (
		buf       []byte
		oversized bool
	)
	for {
		chunk, err := r.ReadSlice('\n')
		if !oversized {
			if len(buf)+len(chunk) > proto.MaxEnvelopeSize+2 {
				oversized = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if oversized {
			return line{oversized: true}, err
		}
		n := len(buf)
		if n > 0 && buf[n-1] == '\n' {
			n--
			if n > 0 && buf[n-1] == '\r' {
				n--
			}
		}
		return line{data: buf[:n]}, err
	}
}
