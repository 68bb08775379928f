package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/relaychat/internal/store"
)

// Schema is the session journal schema. It is applied by New.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	remote_addr     TEXT NOT NULL DEFAULT '',
	transport       TEXT NOT NULL DEFAULT 'tcp',
	nickname        TEXT NOT NULL DEFAULT '',
	connected_at    DATETIME NOT NULL,
	disconnected_at DATETIME,
	reason          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sessions_connected ON sessions(connected_at DESC);
`

// SQLiteStore implements store.Journal for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Journal = (*SQLiteStore)(nil)

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema variants.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; :memory: requires it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SessionOpened inserts a journal row for a new connection.
func (s *SQLiteStore) SessionOpened(ctx context.Context, rec store.SessionRecord) error {
	query := `
		INSERT INTO sessions (id, remote_addr, transport, nickname, connected_at)
		VALUES (?, ?, ?, ?, ?)
	`
	transport := rec.Transport
	if transport == "" {
		transport = "tcp"
	}
	_, err := s.db.ExecContext(ctx, query, rec.ID, rec.RemoteAddr, transport, rec.Nickname, rec.ConnectedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// NicknameChanged records the latest nickname of a session.
func (s *SQLiteStore) NicknameChanged(ctx context.Context, id, nickname string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET nickname = ? WHERE id = ?`, nickname, id)
	if err != nil {
		return fmt.Errorf("update nickname: %w", err)
	}
	return nil
}

// SessionClosed marks a session as ended. Only the first close is recorded.
func (s *SQLiteStore) SessionClosed(ctx context.Context, id string, at time.Time, reason string) error {
	query := `
		UPDATE sessions
		SET disconnected_at = ?, reason = ?
		WHERE id = ? AND disconnected_at IS NULL
	`
	_, err := s.db.ExecContext(ctx, query, at.UTC(), reason, id)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// ListSessions returns up to limit sessions, most recently connected first.
// A limit <= 0 returns every session.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]store.SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, remote_addr, transport, nickname, connected_at, disconnected_at, reason
		FROM sessions
		ORDER BY connected_at DESC, id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []store.SessionRecord
	for rows.Next() {
		var (
			rec    store.SessionRecord
			closed sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.RemoteAddr, &rec.Transport, &rec.Nickname, &rec.ConnectedAt, &closed, &rec.Reason); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if closed.Valid {
			t := closed.Time
			rec.DisconnectedAt = &t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}
