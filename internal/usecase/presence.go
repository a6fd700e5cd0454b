package usecase

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/arklim/portal-realtime/internal/core/domain"
)

const (
	// DefaultIdleTimeout is how long a session may go without activity before it is idle.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultIdleCheckInterval is the period of the idle evaluation timer.
	DefaultIdleCheckInterval = 10 * time.Second
)

// PresenceTrackerOptions configures a PresenceTracker.
type PresenceTrackerOptions struct {
	IdleTimeout   time.Duration
	CheckInterval time.Duration
	Clock         clock.WithTicker
	OnTransition  func(domain.PresenceSnapshot)
}

// PresenceTracker derives online/idle status for one session from its activity signals.
type PresenceTracker struct {
	userID        string
	sessionID     string
	idleTimeout   time.Duration
	checkInterval time.Duration
	clock         clock.WithTicker
	onTransition  func(domain.PresenceSnapshot)

	mu             sync.Mutex
	status         domain.PresenceStatus
	lastActivityAt time.Time
	changedAt      time.Time
	transitions    uint64

	// notifyMu orders OnTransition calls; delivered is the last transition handed out.
	notifyMu  sync.Mutex
	delivered uint64
}

// NewPresenceTracker starts a tracker in the online state.
func NewPresenceTracker(userID, sessionID string, opts PresenceTrackerOptions) *PresenceTracker {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultIdleCheckInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	now := opts.Clock.Now()
	return &PresenceTracker{
		userID:         userID,
		sessionID:      sessionID,
		idleTimeout:    opts.IdleTimeout,
		checkInterval:  opts.CheckInterval,
		clock:          opts.Clock,
		onTransition:   opts.OnTransition,
		status:         domain.PresenceOnline,
		lastActivityAt: now,
		changedAt:      now,
	}
}

// RecordActivity applies one activity signal. Qualifying signals reset the idle clock
// and bring an idle session back online immediately. It reports whether the signal qualified.
func (t *PresenceTracker) RecordActivity(kind domain.ActivityKind) bool {
	if !kind.Qualifies() {
		return false
	}

	now := t.clock.Now()

	t.mu.Lock()
	t.lastActivityAt = now
	transitioned := t.status != domain.PresenceOnline
	if transitioned {
		t.status = domain.PresenceOnline
		t.changedAt = now
		t.transitions++
	}
	snapshot, seq := t.snapshotLocked(), t.transitions
	t.mu.Unlock()

	if transitioned {
		t.notify(snapshot, seq)
	}
	return true
}

// Check moves the session to idle once the idle timeout has passed without activity.
// It reports whether a transition happened.
func (t *PresenceTracker) Check() bool {
	now := t.clock.Now()

	t.mu.Lock()
	if t.status != domain.PresenceOnline || now.Sub(t.lastActivityAt) < t.idleTimeout {
		t.mu.Unlock()
		return false
	}
	t.status = domain.PresenceIdle
	t.changedAt = now
	t.transitions++
	snapshot, seq := t.snapshotLocked(), t.transitions
	t.mu.Unlock()

	t.notify(snapshot, seq)
	return true
}

// Run evaluates idleness every check interval until ctx is done.
func (t *PresenceTracker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			t.Check()
		case <-ctx.Done():
			return
		}
	}
}

// Status returns the current status.
func (t *PresenceTracker) Status() domain.PresenceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Snapshot returns the full current state.
func (t *PresenceTracker) Snapshot() domain.PresenceSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *PresenceTracker) snapshotLocked() domain.PresenceSnapshot {
	return domain.PresenceSnapshot{
		UserID:         t.userID,
		SessionID:      t.sessionID,
		Status:         t.status,
		LastActivityAt: t.lastActivityAt,
		ChangedAt:      t.changedAt,
	}
}

// notify hands transitions to OnTransition one at a time, dropping any that lost the race
// to a newer one so the last delivered status always matches the tracker.
func (t *PresenceTracker) notify(snapshot domain.PresenceSnapshot, seq uint64) {
	if t.onTransition == nil {
		return
	}

	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	if seq <= t.delivered {
		return
	}
	t.delivered = seq
	t.onTransition(snapshot)
}
