package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/relaychat/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id string, at time.Time) store.SessionRecord {
	return store.SessionRecord{ID: id, RemoteAddr: "127.0.0.1:4000", ConnectedAt: at}
}

func TestSessionJournalLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"s1", "s2", "s3"} {
		err := s.SessionOpened(ctx, record(id, base.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("open %s: %v", id, err)
		}
	}

	if err := s.NicknameChanged(ctx, "s2", "alice"); err != nil {
		t.Fatalf("nickname: %v", err)
	}
	if err := s.SessionClosed(ctx, "s2", base.Add(time.Hour), "quit"); err != nil {
		t.Fatalf("close: %v", err)
	}
	// A second close must not overwrite the first.
	if err := s.SessionClosed(ctx, "s2", base.Add(2*time.Hour), "shutdown"); err != nil {
		t.Fatalf("second close: %v", err)
	}

	recs, err := s.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(recs))
	}
	if recs[0].ID != "s3" || recs[2].ID != "s1" {
		t.Fatalf("unexpected order: %s, %s, %s", recs[0].ID, recs[1].ID, recs[2].ID)
	}

	s2 := recs[1]
	if s2.Nickname != "alice" {
		t.Errorf("expected nickname alice, got %q", s2.Nickname)
	}
	if s2.Reason != "quit" {
		t.Errorf("expected reason quit, got %q", s2.Reason)
	}
	if s2.DisconnectedAt == nil || !s2.DisconnectedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("unexpected disconnected_at %v", s2.DisconnectedAt)
	}
	if recs[0].DisconnectedAt != nil {
		t.Errorf("open session has disconnected_at %v", recs[0].DisconnectedAt)
	}
	if recs[0].Transport != "tcp" {
		t.Errorf("expected default transport tcp, got %q", recs[0].Transport)
	}

	limited, err := s.ListSessions(ctx, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(limited))
	}
}

func TestSessionOpenedRejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SessionOpened(ctx, record("dup", time.Now())); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s.SessionOpened(ctx, record("dup", time.Now())); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
}
