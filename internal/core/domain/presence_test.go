package domain

import (
	"testing"
	"time"
)

func TestAggregatePresence(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		sessions []SessionPresence
		want     PresenceStatus
	}{
		{name: "no sessions", want: PresenceOffline},
		{name: "idle only", sessions: []SessionPresence{{SessionID: "a", Status: PresenceIdle, LastActivityAt: now}}, want: PresenceIdle},
		{name: "online wins", sessions: []SessionPresence{
			{SessionID: "a", Status: PresenceIdle, LastActivityAt: now},
			{SessionID: "b", Status: PresenceOnline, LastActivityAt: now.Add(-time.Minute)},
		}, want: PresenceOnline},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AggregatePresence("u1", tc.sessions)
			if got.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.Status)
			}
			if got.Sessions != len(tc.sessions) {
				t.Fatalf("expected %d sessions, got %d", len(tc.sessions), got.Sessions)
			}
			if len(tc.sessions) > 0 && (got.LastActivityAt == nil || !got.LastActivityAt.Equal(now)) {
				t.Fatalf("expected most recent activity %s, got %v", now, got.LastActivityAt)
			}
		})
	}
}

func TestChannelForEvent(t *testing.T) {
	cases := map[string]RefreshChannel{
		EventMessageCreated:      ChannelMessages,
		EventMessageRead:         ChannelMessages,
		EventNotificationCreated: ChannelNotifications,
		EventNotificationRead:    ChannelNotifications,
	}
	for eventType, want := range cases {
		got, ok := ChannelForEvent(eventType)
		if !ok || got != want {
			t.Fatalf("%s: expected %s, got %s (%v)", eventType, want, got, ok)
		}
	}
	if _, ok := ChannelForEvent(EventPresenceChanged); ok {
		t.Fatal("presence events do not map to a refresh channel")
	}
}

func TestSurfaceChannel(t *testing.T) {
	if ch, ok := SurfaceThreadPanel.Channel(); !ok || ch != ChannelMessages {
		t.Fatalf("thread panel should listen on messages, got %s", ch)
	}
	if ch, ok := SurfaceNotificationBell.Channel(); !ok || ch != ChannelNotifications {
		t.Fatalf("notification bell should listen on notifications, got %s", ch)
	}
	if _, ok := Surface("banner").Channel(); ok {
		t.Fatal("unknown surface should not map to a channel")
	}
	if key := (Subscription{Surface: SurfaceThreadPanel, ThreadID: "t1"}).Key(); key != "thread_panel:t1" {
		t.Fatalf("unexpected key %q", key)
	}
}
