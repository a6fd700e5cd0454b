package redis

import (
	"context"
	"testing"
	"time"

	"github.com/arklim/portal-realtime/internal/core/domain"
)

func TestPresenceRepository_SaveAndList(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewPresenceRepository(client, "presence")
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ttl := 2 * time.Minute

	reports := []domain.SessionPresence{
		{SessionID: "b", Status: domain.PresenceIdle, LastActivityAt: now.Add(-10 * time.Minute), ReportedAt: now},
		{SessionID: "a", Status: domain.PresenceOnline, LastActivityAt: now, ReportedAt: now},
	}
	for _, report := range reports {
		if err := repo.SaveSession(ctx, "user-1", report, ttl); err != nil {
			t.Fatalf("SaveSession returned error: %v", err)
		}
	}

	sessions, err := repo.ListSessions(ctx, "user-1", now.Add(time.Second))
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected two sessions, got %d", len(sessions))
	}
	if sessions[0].SessionID != "a" || sessions[0].Status != domain.PresenceOnline {
		t.Fatalf("unexpected first session %+v", sessions[0])
	}
	if !sessions[1].LastActivityAt.Equal(now.Add(-10 * time.Minute)) {
		t.Fatalf("unexpected last activity %v", sessions[1].LastActivityAt)
	}

	remaining := server.TTL("presence:user-1")
	if remaining <= 0 || remaining > ttl {
		t.Fatalf("expected ttl within (0, %v], got %v", ttl, remaining)
	}
}

func TestPresenceRepository_ListDropsExpiredReports(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewPresenceRepository(client, "presence")
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	stale := domain.SessionPresence{SessionID: "old", Status: domain.PresenceOnline, ReportedAt: now.Add(-5 * time.Minute)}
	fresh := domain.SessionPresence{SessionID: "new", Status: domain.PresenceIdle, ReportedAt: now}
	if err := repo.SaveSession(ctx, "user-1", stale, time.Minute); err != nil {
		t.Fatalf("SaveSession returned error: %v", err)
	}
	if err := repo.SaveSession(ctx, "user-1", fresh, time.Minute); err != nil {
		t.Fatalf("SaveSession returned error: %v", err)
	}

	sessions, err := repo.ListSessions(ctx, "user-1", now)
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "new" {
		t.Fatalf("expected only the fresh session, got %+v", sessions)
	}
	if server.HGet("presence:user-1", "old") != "" {
		t.Fatalf("expected expired field to be pruned")
	}
}

func TestPresenceRepository_RemoveSession(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewPresenceRepository(client, "")
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.SaveSession(ctx, "user-1", domain.SessionPresence{SessionID: "s1", Status: domain.PresenceOnline, ReportedAt: now}, time.Minute); err != nil {
		t.Fatalf("SaveSession returned error: %v", err)
	}
	if err := repo.RemoveSession(ctx, "user-1", "s1"); err != nil {
		t.Fatalf("RemoveSession returned error: %v", err)
	}

	sessions, err := repo.ListSessions(ctx, "user-1", now)
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %+v", sessions)
	}
}

func TestPresenceRepository_ValidatesInput(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewPresenceRepository(client, "")
	ctx := context.Background()

	if err := repo.SaveSession(ctx, "", domain.SessionPresence{SessionID: "s1"}, time.Minute); err == nil {
		t.Fatalf("expected error for empty user id")
	}
	if err := repo.SaveSession(ctx, "u1", domain.SessionPresence{}, time.Minute); err == nil {
		t.Fatalf("expected error for empty session id")
	}
	if err := repo.SaveSession(ctx, "u1", domain.SessionPresence{SessionID: "s1"}, 0); err == nil {
		t.Fatalf("expected error for non-positive ttl")
	}
}
