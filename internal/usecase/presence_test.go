package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/arklim/portal-realtime/internal/core/domain"
)

func TestPresenceTrackerGoesIdleAfterTimeout(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	tracker := NewPresenceTracker("user-1", "session-1", PresenceTrackerOptions{
		IdleTimeout:   time.Minute,
		CheckInterval: 10 * time.Second,
		Clock:         fc,
	})

	if tracker.Status() != domain.PresenceOnline {
		t.Fatalf("expected initial status online, got %s", tracker.Status())
	}

	fc.Step(59 * time.Second)
	if tracker.Check() {
		t.Fatal("did not expect a transition before the idle timeout")
	}

	fc.Step(time.Second)
	if !tracker.Check() {
		t.Fatal("expected transition to idle at the idle timeout")
	}
	if tracker.Status() != domain.PresenceIdle {
		t.Fatalf("expected idle, got %s", tracker.Status())
	}
	if tracker.Check() {
		t.Fatal("idle tracker should not transition again")
	}
}

func TestPresenceTrackerActivityRestoresOnlineImmediately(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))

	var mu sync.Mutex
	var transitions []domain.PresenceSnapshot
	tracker := NewPresenceTracker("user-1", "session-1", PresenceTrackerOptions{
		IdleTimeout: time.Minute,
		Clock:       fc,
		OnTransition: func(s domain.PresenceSnapshot) {
			mu.Lock()
			transitions = append(transitions, s)
			mu.Unlock()
		},
	})

	fc.Step(2 * time.Minute)
	tracker.Check()

	if tracker.RecordActivity(domain.ActivityHidden) {
		t.Fatal("a hidden tab must not count as activity")
	}
	if tracker.Status() != domain.PresenceIdle {
		t.Fatalf("expected idle after hidden signal, got %s", tracker.Status())
	}

	fc.Step(time.Second)
	if !tracker.RecordActivity(domain.ActivityPointer) {
		t.Fatal("pointer activity should qualify")
	}
	snapshot := tracker.Snapshot()
	if snapshot.Status != domain.PresenceOnline {
		t.Fatalf("expected online right after activity, got %s", snapshot.Status)
	}
	if !snapshot.LastActivityAt.Equal(fc.Now()) || !snapshot.ChangedAt.Equal(fc.Now()) {
		t.Fatalf("unexpected timestamps %+v", snapshot)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 {
		t.Fatalf("expected idle and online transitions, got %d", len(transitions))
	}
	if transitions[0].Status != domain.PresenceIdle || transitions[1].Status != domain.PresenceOnline {
		t.Fatalf("unexpected transition order %+v", transitions)
	}
}

func TestPresenceTrackerActivityWhileOnlineDoesNotNotify(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	notified := 0
	tracker := NewPresenceTracker("user-1", "session-1", PresenceTrackerOptions{
		IdleTimeout:  time.Minute,
		Clock:        fc,
		OnTransition: func(domain.PresenceSnapshot) { notified++ },
	})

	for _, kind := range []domain.ActivityKind{domain.ActivityKeyboard, domain.ActivityScroll, domain.ActivityTouch, domain.ActivityVisible, domain.ActivityRouteChange} {
		fc.Step(50 * time.Second)
		if !tracker.RecordActivity(kind) {
			t.Fatalf("%s should qualify", kind)
		}
		if tracker.Check() {
			t.Fatalf("activity %s should keep the session online", kind)
		}
	}
	if notified != 0 {
		t.Fatalf("expected no transitions, got %d", notified)
	}
}

func TestPresenceTrackerRunEvaluatesOnInterval(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	tracker := NewPresenceTracker("user-1", "session-1", PresenceTrackerOptions{
		IdleTimeout:   time.Minute,
		CheckInterval: 10 * time.Second,
		Clock:         fc,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)

	// idle timeout plus one check interval
	require.Eventually(t, func() bool {
		fc.Step(10 * time.Second)
		return tracker.Status() == domain.PresenceIdle
	}, time.Second, 5*time.Millisecond)
	if elapsed := fc.Since(time.Unix(1_700_000_000, 0)); elapsed < time.Minute {
		t.Fatalf("went idle too early after %s", elapsed)
	}

	tracker.RecordActivity(domain.ActivityKeyboard)
	if tracker.Status() != domain.PresenceOnline {
		t.Fatalf("expected online without waiting for the timer, got %s", tracker.Status())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestPresenceTrackerDropsStaleTransitions(t *testing.T) {
	var got []domain.PresenceStatus
	tracker := NewPresenceTracker("user-1", "session-1", PresenceTrackerOptions{
		Clock:        testingclock.NewFakeClock(time.Unix(1_700_000_000, 0)),
		OnTransition: func(s domain.PresenceSnapshot) { got = append(got, s.Status) },
	})

	tracker.notify(domain.PresenceSnapshot{Status: domain.PresenceIdle}, 2)
	tracker.notify(domain.PresenceSnapshot{Status: domain.PresenceOnline}, 1)
	tracker.notify(domain.PresenceSnapshot{Status: domain.PresenceOnline}, 3)

	require.Equal(t, []domain.PresenceStatus{domain.PresenceIdle, domain.PresenceOnline}, got)
}

func TestPresenceTrackerLastNotificationMatchesStatus(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))

	var mu sync.Mutex
	var last domain.PresenceStatus
	tracker := NewPresenceTracker("user-1", "session-1", PresenceTrackerOptions{
		IdleTimeout: time.Nanosecond,
		Clock:       fc,
		OnTransition: func(s domain.PresenceSnapshot) {
			mu.Lock()
			last = s.Status
			mu.Unlock()
		},
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 500 {
			tracker.RecordActivity(domain.ActivityPointer)
		}
	}()
	go func() {
		defer wg.Done()
		for range 500 {
			fc.Step(time.Millisecond)
			tracker.Check()
		}
	}()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if last == "" {
		require.Equal(t, domain.PresenceOnline, tracker.Status())
		return
	}
	require.Equal(t, tracker.Status(), last)
}
