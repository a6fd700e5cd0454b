package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/arklim/portal-realtime/internal/core/domain"
)

func newTestHub() (*SyncHub, *testingclock.FakeClock) {
	fc := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	return NewSyncHub(BroadcasterOptions{Clock: fc}, nil), fc
}

func TestSyncHubSubscribeValidatesInput(t *testing.T) {
	hub, _ := newTestHub()

	if _, err := hub.Subscribe("user-1", domain.RefreshChannel("typing"), &countingListener{}); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
	if _, err := hub.Subscribe("  ", domain.ChannelMessages, &countingListener{}); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestSyncHubSignalEventRoutesToRecipients(t *testing.T) {
	hub, _ := newTestHub()
	defer hub.Close()

	alice := &countingListener{}
	bob := &countingListener{}
	bobBell := &countingListener{}
	if _, err := hub.Subscribe("alice", domain.ChannelMessages, alice); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := hub.Subscribe("bob", domain.ChannelMessages, bob); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := hub.Subscribe("bob", domain.ChannelNotifications, bobBell); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	signalled := hub.SignalEvent(context.Background(), domain.ChangeEvent{
		EventID:      "evt-1",
		EventType:    domain.EventMessageCreated,
		RecipientIDs: []string{"alice", "bob", "alice", "carol", ""},
	})
	if signalled != 2 {
		t.Fatalf("expected two subscribed recipients, got %d", signalled)
	}

	require.Eventually(t, func() bool {
		return alice.calls.Load() == 1 && bob.calls.Load() == 1
	}, time.Second, time.Millisecond)
	if got := bobBell.calls.Load(); got != 0 {
		t.Fatalf("notification listener should not refresh on a message event, calls=%d", got)
	}
}

func TestSyncHubIgnoresUnknownEventTypes(t *testing.T) {
	hub, _ := newTestHub()
	defer hub.Close()

	if _, err := hub.Subscribe("alice", domain.ChannelMessages, &countingListener{}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if n := hub.SignalEvent(context.Background(), domain.ChangeEvent{EventType: "typing.started", RecipientIDs: []string{"alice"}}); n != 0 {
		t.Fatalf("expected unknown event to be ignored, signalled %d", n)
	}
}

func TestSyncHubUnsubscribePrunesBroadcaster(t *testing.T) {
	hub, _ := newTestHub()
	defer hub.Close()

	first := &countingListener{}
	second := &countingListener{}
	unsubscribeFirst, _ := hub.Subscribe("alice", domain.ChannelNotifications, first)
	unsubscribeSecond, _ := hub.Subscribe("alice", domain.ChannelNotifications, second)
	if n := hub.Listeners("alice", domain.ChannelNotifications); n != 2 {
		t.Fatalf("expected two listeners, got %d", n)
	}

	unsubscribeFirst()
	if n := hub.Listeners("alice", domain.ChannelNotifications); n != 1 {
		t.Fatalf("expected one listener, got %d", n)
	}

	unsubscribeSecond()
	if hub.Signal(context.Background(), "alice", domain.ChannelNotifications) {
		t.Fatal("expected broadcaster to be pruned after the last unsubscribe")
	}
	if hub.Sweep() != 0 {
		t.Fatal("nothing should be left to sweep")
	}
}

func TestSyncHubCoalescesSignalBursts(t *testing.T) {
	hub, fc := newTestHub()
	defer hub.Close()

	listener := &countingListener{}
	if _, err := hub.Subscribe("alice", domain.ChannelMessages, listener); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	hub.Signal(context.Background(), "alice", domain.ChannelMessages)
	require.Eventually(t, func() bool { return listener.calls.Load() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 10; i++ {
		hub.Signal(context.Background(), "alice", domain.ChannelMessages)
	}
	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)

	fc.Step(DefaultCooldown)
	require.Eventually(t, func() bool { return listener.calls.Load() == 2 }, time.Second, time.Millisecond)
}
