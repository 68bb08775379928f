package store

import (
	"context"
	"time"
)

// SessionRecord is one connection as recorded in the journal.
type SessionRecord struct {
	ID             string
	RemoteAddr     string
	Transport      string // "tcp" or "ws"
	Nickname       string
	ConnectedAt    time.Time
	DisconnectedAt *time.Time // nil while connected
	Reason         string     // why the session ended
}

// Close reasons recorded by the server.
const (
	ReasonQuit     = "quit"
	ReasonEOF      = "disconnect"
	ReasonShutdown = "shutdown"
	ReasonError    = "error"
)

// Journal records session lifecycle for auditing. Implementations must be
// safe for concurrent use.
type Journal interface {
	SessionOpened(ctx context.Context, rec SessionRecord) error
	NicknameChanged(ctx context.Context, id, nickname string) error
	SessionClosed(ctx context.Context, id string, at time.Time, reason string) error
	// ListSessions returns the most recently opened sessions first.
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	Close() error
}

// Nop is a Journal that records nothing.
type Nop struct{}

func (Nop) SessionOpened(context.Context, SessionRecord) error { return nil }

func (Nop) NicknameChanged(context.Context, string, string) error { return nil }

func (Nop) SessionClosed(context.Context, string, time.Time, string) error { return nil }

func (Nop) ListSessions(context.Context, int) ([]SessionRecord, error) { return nil, nil }

func (Nop) Close() error { return nil }
