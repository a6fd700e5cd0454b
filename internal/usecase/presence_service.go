package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
)

const (
	// DefaultHeartbeatInterval is how often a live session re-reports its status.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultPresenceTTL bounds how long a report survives without a heartbeat.
	DefaultPresenceTTL = 2 * time.Minute
)

// ErrPresenceSessionClosed is returned when a closed presence session is used.
var ErrPresenceSessionClosed = errors.New("presence session closed")

// PresenceObserver receives presence transitions for metrics.
type PresenceObserver interface {
	ObservePresenceTransition(status domain.PresenceStatus)
}

// PresenceServiceOptions configures a PresenceService. Zero values fall back to defaults.
type PresenceServiceOptions struct {
	IdleTimeout       time.Duration
	CheckInterval     time.Duration
	HeartbeatInterval time.Duration
	TTL               time.Duration
	Clock             clock.WithTicker
}

// PresenceService attaches a presence tracker to every live session and forwards its status
// to the presence store and the event bus.
type PresenceService struct {
	store    port.PresenceStore
	events   port.EventPublisher
	logger   *zap.Logger
	observer PresenceObserver
	opts     PresenceServiceOptions
}

// NewPresenceService constructs a PresenceService. events may be nil.
func NewPresenceService(store port.PresenceStore, events port.EventPublisher, logger *zap.Logger, opts PresenceServiceOptions) *PresenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultIdleCheckInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultPresenceTTL
	}
	if opts.TTL < opts.HeartbeatInterval {
		opts.TTL = 2 * opts.HeartbeatInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	return &PresenceService{
		store:  store,
		events: events,
		logger: logger,
		opts:   opts,
	}
}

// WithObserver attaches a transition observer.
func (s *PresenceService) WithObserver(observer PresenceObserver) *PresenceService {
	s.observer = observer
	return s
}

// Attach starts tracking a session. onChange, when set, is called after every transition.
// The session runs until Close is called or ctx ends.
func (s *PresenceService) Attach(ctx context.Context, userID, sessionID string, onChange func(domain.PresenceSnapshot)) (*PresenceSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	runCtx, cancel := context.WithCancel(ctx)
	session := &PresenceSession{
		service:   s,
		userID:    userID,
		sessionID: sessionID,
		onChange:  onChange,
		cancel:    cancel,
	}
	session.tracker = NewPresenceTracker(userID, sessionID, PresenceTrackerOptions{
		IdleTimeout:   s.opts.IdleTimeout,
		CheckInterval: s.opts.CheckInterval,
		Clock:         s.opts.Clock,
		OnTransition: func(snapshot domain.PresenceSnapshot) {
			session.transition(runCtx, snapshot)
		},
	})

	initial := session.tracker.Snapshot()
	if err := s.save(runCtx, initial); err != nil {
		cancel()
		return nil, err
	}
	s.publish(runCtx, initial)
	s.observe(initial.Status)

	session.wg.Add(2)
	go func() {
		defer session.wg.Done()
		session.tracker.Run(runCtx)
	}()
	go func() {
		defer session.wg.Done()
		session.heartbeat(runCtx)
	}()

	return session, nil
}

// UserPresence aggregates the live sessions of userID.
func (s *PresenceService) UserPresence(ctx context.Context, userID string) (domain.UserPresence, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserPresence{}, fmt.Errorf("user id is required")
	}

	sessions, err := s.store.ListSessions(ctx, userID, s.opts.Clock.Now())
	if err != nil {
		return domain.UserPresence{}, fmt.Errorf("list presence sessions: %w", err)
	}
	return domain.AggregatePresence(userID, sessions), nil
}

func (s *PresenceService) save(ctx context.Context, snapshot domain.PresenceSnapshot) error {
	report := domain.SessionPresence{
		SessionID:      snapshot.SessionID,
		Status:         snapshot.Status,
		LastActivityAt: snapshot.LastActivityAt,
		ReportedAt:     s.opts.Clock.Now(),
	}
	if err := s.store.SaveSession(ctx, snapshot.UserID, report, s.opts.TTL); err != nil {
		return fmt.Errorf("save session presence: %w", err)
	}
	return nil
}

func (s *PresenceService) publish(ctx context.Context, snapshot domain.PresenceSnapshot) {
	if s.events == nil {
		return
	}
	event := domain.PresenceChangedEvent{
		EventID:        uuid.NewString(),
		UserID:         snapshot.UserID,
		SessionID:      snapshot.SessionID,
		Status:         snapshot.Status,
		LastActivityAt: snapshot.LastActivityAt,
		ChangedAt:      snapshot.ChangedAt,
	}
	if err := s.events.PublishPresenceChanged(ctx, event); err != nil {
		s.logger.Warn("failed to publish presence change",
			zap.String("user_id", snapshot.UserID),
			zap.String("session_id", snapshot.SessionID),
			zap.Error(err),
		)
	}
}

func (s *PresenceService) observe(status domain.PresenceStatus) {
	if s.observer != nil {
		s.observer.ObservePresenceTransition(status)
	}
}

// PresenceSession is one tracked session. It is safe for concurrent use.
type PresenceSession struct {
	service   *PresenceService
	tracker   *PresenceTracker
	userID    string
	sessionID string
	onChange  func(domain.PresenceSnapshot)
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// ID returns the session id.
func (p *PresenceSession) ID() string {
	return p.sessionID
}

// RecordActivity forwards an activity signal to the tracker.
func (p *PresenceSession) RecordActivity(kind domain.ActivityKind) bool {
	return p.tracker.RecordActivity(kind)
}

// Snapshot returns the tracker state.
func (p *PresenceSession) Snapshot() domain.PresenceSnapshot {
	return p.tracker.Snapshot()
}

// Close stops tracking, removes the session from the store and announces it offline.
func (p *PresenceSession) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()

		if err := p.service.store.RemoveSession(ctx, p.userID, p.sessionID); err != nil {
			p.closeErr = fmt.Errorf("remove session presence: %w", err)
		}

		snapshot := p.tracker.Snapshot()
		snapshot.Status = domain.PresenceOffline
		snapshot.ChangedAt = p.service.opts.Clock.Now()
		p.service.publish(ctx, snapshot)
		p.service.observe(domain.PresenceOffline)
	})
	return p.closeErr
}

func (p *PresenceSession) transition(ctx context.Context, snapshot domain.PresenceSnapshot) {
	if ctx.Err() != nil {
		return
	}
	if err := p.service.save(ctx, snapshot); err != nil {
		p.service.logger.Warn("failed to store presence transition",
			zap.String("user_id", p.userID),
			zap.String("session_id", p.sessionID),
			zap.Error(err),
		)
	}
	p.service.publish(ctx, snapshot)
	p.service.observe(snapshot.Status)

	if p.onChange != nil {
		p.onChange(snapshot)
	}
}

func (p *PresenceSession) heartbeat(ctx context.Context) {
	ticker := p.service.opts.Clock.NewTicker(p.service.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if err := p.service.save(ctx, p.tracker.Snapshot()); err != nil && ctx.Err() == nil {
				p.service.logger.Debug("presence heartbeat failed",
					zap.String("user_id", p.userID),
					zap.String("session_id", p.sessionID),
					zap.Error(err),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}
