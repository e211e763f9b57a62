package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/tripmate/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestVisitorRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetVisitor(ctx, "anon_missing")
	if err != nil || got != nil {
		t.Fatalf("expected nil visitor, got %+v, %v", got, err)
	}

	now := time.Now().Truncate(time.Second)
	v := &domain.Visitor{VisitorID: "anon_1", Nickname: "traveler-1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now}
	if err := s.UpsertVisitor(ctx, v); err != nil {
		t.Fatalf("UpsertVisitor failed: %v", err)
	}

	later := now.Add(time.Hour)
	if err := s.UpdateLastSeen(ctx, "anon_1", later); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}

	got, err = s.GetVisitor(ctx, "anon_1")
	if err != nil || got == nil {
		t.Fatalf("GetVisitor failed: %v", err)
	}
	if got.Nickname != "traveler-1" || !got.LastSeenAt.Equal(later) {
		t.Errorf("unexpected visitor %+v", got)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	profile := `{"age":30}`
	rec := &domain.SessionRecord{
		VisitorID:    "anon_1",
		SessionID:    "tab-1",
		ProfileJSON:  &profile,
		MessagesJSON: `[{"role":"assistant","content":"Jeju"}]`,
		PendingJSON:  `{"id":"c1","kind":"first"}`,
		TriggerCount: 1,
	}
	if err := s.UpsertSession(ctx, rec); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	got, err := s.GetSession(ctx, "anon_1", "tab-1")
	if err != nil || got == nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.ProfileJSON == nil || *got.ProfileJSON != profile {
		t.Errorf("profile not stored: %+v", got.ProfileJSON)
	}
	if got.PendingJSON != rec.PendingJSON || got.TriggerCount != 1 {
		t.Errorf("unexpected record %+v", got)
	}

	// Clearing the profile must persist as NULL.
	rec.ProfileJSON = nil
	rec.PendingJSON = ""
	rec.LastError = "quota exceeded"
	if err := s.UpsertSession(ctx, rec); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}
	got, _ = s.GetSession(ctx, "anon_1", "tab-1")
	if got.ProfileJSON != nil || got.PendingJSON != "" || got.LastError != "quota exceeded" {
		t.Errorf("expected cleared profile and pending, got %+v", got)
	}

	other, _ := s.GetSession(ctx, "anon_1", "tab-2")
	if other != nil {
		t.Error("sessions must be isolated per tab")
	}

	if err := s.DeleteSession(ctx, "anon_1", "tab-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if got, _ := s.GetSession(ctx, "anon_1", "tab-1"); got != nil {
		t.Error("expected session to be deleted")
	}
}

func TestExpiredSessionsAndIdleVisitors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()
	for _, v := range []*domain.Visitor{
		{VisitorID: "anon_old", Nickname: "a", LastSeenAt: old, CreatedAt: old, UpdatedAt: old},
		{VisitorID: "anon_new", Nickname: "b", LastSeenAt: fresh, CreatedAt: fresh, UpdatedAt: fresh},
	} {
		if err := s.UpsertVisitor(ctx, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpsertSession(ctx, &domain.SessionRecord{VisitorID: "anon_old", SessionID: "s", CreatedAt: old, UpdatedAt: old}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertSession(ctx, &domain.SessionRecord{VisitorID: "anon_new", SessionID: "s"}); err != nil {
		t.Fatal(err)
	}

	expired, err := s.GetExpiredSessions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("GetExpiredSessions failed: %v", err)
	}
	if len(expired) != 1 || expired[0].Key() != "anon_old:s" {
		t.Fatalf("unexpected expired sessions %+v", expired)
	}

	// A visitor that still owns a session is kept.
	if n, _ := s.DeleteIdleVisitors(ctx, 24*time.Hour); n != 0 {
		t.Errorf("expected no visitors deleted, got %d", n)
	}
	if err := s.DeleteSession(ctx, "anon_old", "s"); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.DeleteIdleVisitors(ctx, 24*time.Hour); n != 1 {
		t.Errorf("expected 1 visitor deleted, got %d", n)
	}
}

func TestCachedServesReadsAndEvicts(t *testing.T) {
	s := newTestStore(t)
	c := NewCached(s, time.Minute)
	ctx := context.Background()

	rec := &domain.SessionRecord{VisitorID: "anon_1", SessionID: "tab", MessagesJSON: "[]"}
	if err := c.UpsertSession(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected cached session, got %d", c.Len())
	}

	got, err := c.GetSession(ctx, "anon_1", "tab")
	if err != nil || got == nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	got.LastError = "mutated"
	again, _ := c.GetSession(ctx, "anon_1", "tab")
	if again.LastError != "" {
		t.Error("cached records must not alias caller copies")
	}

	c.Evict(rec.Key())
	if c.Len() != 0 {
		t.Error("expected eviction")
	}
	if got, _ := c.GetSession(ctx, "anon_1", "tab"); got == nil {
		t.Error("store must still hold the session after eviction")
	}

	if err := c.DeleteSession(ctx, "anon_1", "tab"); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.GetSession(ctx, "anon_1", "tab"); got != nil {
		t.Error("expected session deleted through the cache")
	}
}

func TestCachedForgetsDeletedVisitors(t *testing.T) {
	s := newTestStore(t)
	c := NewCached(s, time.Minute)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	v := &domain.Visitor{VisitorID: "anon_idle", Nickname: "idle", LastSeenAt: old, CreatedAt: old, UpdatedAt: old}
	if err := c.UpsertVisitor(ctx, v); err != nil {
		t.Fatalf("UpsertVisitor failed: %v", err)
	}

	n, err := c.DeleteIdleVisitors(ctx, time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("expected one deleted visitor, got %d, %v", n, err)
	}
	got, err := c.GetVisitor(ctx, "anon_idle")
	if err != nil || got != nil {
		t.Errorf("expected deleted visitor to be gone from cache, got %+v, %v", got, err)
	}
}
