package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
	appLogger "github.com/arklim/portal-realtime/internal/infra/logger"
	"github.com/arklim/portal-realtime/internal/infra/security"
	"github.com/arklim/portal-realtime/internal/usecase"
)

// FeedLoader loads the payload behind a surface.
type FeedLoader interface {
	Validate(sub domain.Subscription) error
	Load(ctx context.Context, tokens port.TokenProvider, sub domain.Subscription) (json.RawMessage, error)
}

// RefreshHub routes refresh signals to per-user broadcasters.
type RefreshHub interface {
	Subscribe(userID string, channel domain.RefreshChannel, l usecase.Listener) (func(), error)
	Signal(ctx context.Context, userID string, channel domain.RefreshChannel) bool
}

// PresenceAttacher starts presence tracking for a session.
type PresenceAttacher interface {
	Attach(ctx context.Context, userID, sessionID string, onChange func(domain.PresenceSnapshot)) (*usecase.PresenceSession, error)
}

// frameSender is the write side of a Connection.
type frameSender interface {
	Send(frame ServerFrame) error
}

// Session binds one websocket connection to the sync hub and the presence tracker.
type Session struct {
	id       string
	userID   string
	tokens   port.TokenProvider
	out      frameSender
	feed     FeedLoader
	hub      RefreshHub
	presence *usecase.PresenceSession
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	subscriptions map[string]func()
	closed        bool
	loads         sync.WaitGroup
}

// SessionDeps holds the collaborators shared by every session.
type SessionDeps struct {
	Feed     FeedLoader
	Hub      RefreshHub
	Presence PresenceAttacher
	Logger   *zap.Logger
}

// NewSession attaches presence tracking for principal and returns a session writing to out.
func NewSession(ctx context.Context, principal domain.Principal, sessionID string, out frameSender, deps SessionDeps) (*Session, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		userID:        principal.UserID,
		tokens:        security.StaticToken(principal.Token),
		out:           out,
		feed:          deps.Feed,
		hub:           deps.Hub,
		ctx:           runCtx,
		cancel:        cancel,
		subscriptions: make(map[string]func()),
	}

	presence, err := deps.Presence.Attach(runCtx, principal.UserID, sessionID, s.sendPresence)
	if err != nil {
		cancel()
		return nil, err
	}
	s.presence = presence
	s.id = presence.ID()
	s.logger = logger.With(
		zap.String("user_id", principal.UserID),
		zap.String("session_id", appLogger.MaskID(s.id)),
	)

	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Ready announces the session to the client.
func (s *Session) Ready() error {
	snapshot := s.presence.Snapshot()
	last := snapshot.LastActivityAt
	return s.out.Send(ServerFrame{
		Type:           FrameReady,
		SessionID:      s.id,
		UserID:         s.userID,
		Status:         snapshot.Status,
		LastActivityAt: &last,
	})
}

// Handle dispatches one client frame.
func (s *Session) Handle(frame ClientFrame) {
	var err error
	switch frame.Type {
	case FrameSubscribe:
		err = s.subscribe(frame.subscription())
	case FrameUnsubscribe:
		s.unsubscribe(frame.subscription())
	case FrameActivity:
		s.presence.RecordActivity(frame.Kind)
	case FrameVisibility:
		if frame.Visible != nil && *frame.Visible {
			s.presence.RecordActivity(domain.ActivityVisible)
		} else {
			s.presence.RecordActivity(domain.ActivityHidden)
		}
	case FrameRouteChange:
		s.presence.RecordActivity(domain.ActivityRouteChange)
	case FrameRefresh:
		s.refresh(frame)
	case FramePing:
		err = s.out.Send(ServerFrame{Type: FramePong})
	default:
		err = ErrUnknownFrame
	}

	if err != nil {
		s.logger.Debug("websocket frame rejected", zap.String("type", frame.Type), zap.Error(err))
		_ = s.out.Send(ServerFrame{
			Type:     FrameError,
			Surface:  frame.Surface,
			ThreadID: frame.ThreadID,
			Error:    err.Error(),
		})
	}
}

// Close drops every subscription and ends presence tracking. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subscriptions
	s.subscriptions = nil
	s.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
	s.cancel()
	s.loads.Wait()

	return s.presence.Close(ctx)
}

func (s *Session) subscribe(sub domain.Subscription) error {
	if err := s.feed.Validate(sub); err != nil {
		return err
	}
	channel, _ := sub.Surface.Channel()

	listener := usecase.NewListenerFunc(func(ctx context.Context) error {
		return s.load(ctx, sub)
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrConnectionClosed
	}
	if _, exists := s.subscriptions[sub.Key()]; exists {
		s.mu.Unlock()
		s.initialLoad(sub)
		return nil
	}
	unsubscribe, err := s.hub.Subscribe(s.userID, channel, listener)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.subscriptions[sub.Key()] = unsubscribe
	s.mu.Unlock()

	s.initialLoad(sub)
	return nil
}

func (s *Session) unsubscribe(sub domain.Subscription) {
	s.mu.Lock()
	unsubscribe, ok := s.subscriptions[sub.Key()]
	delete(s.subscriptions, sub.Key())
	s.mu.Unlock()

	if ok {
		unsubscribe()
	}
}

func (s *Session) refresh(frame ClientFrame) {
	channels := []domain.RefreshChannel{domain.ChannelMessages, domain.ChannelNotifications}
	if frame.Channel != "" {
		channels = []domain.RefreshChannel{frame.Channel}
	} else if channel, ok := frame.Surface.Channel(); ok {
		channels = []domain.RefreshChannel{channel}
	}

	for _, channel := range channels {
		s.hub.Signal(s.ctx, s.userID, channel)
	}
}

func (s *Session) initialLoad(sub domain.Subscription) {
	s.loads.Add(1)
	go func() {
		defer s.loads.Done()
		_ = s.load(s.ctx, sub)
	}()
}

func (s *Session) load(ctx context.Context, sub domain.Subscription) error {
	payload, err := s.feed.Load(ctx, s.tokens, sub)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		_ = s.out.Send(ServerFrame{
			Type:     FrameRefreshError,
			Surface:  sub.Surface,
			ThreadID: sub.ThreadID,
			Error:    err.Error(),
		})
		return err
	}

	if payload == nil {
		payload = json.RawMessage("null")
	}
	return s.out.Send(ServerFrame{
		Type:     FrameRefreshed,
		Surface:  sub.Surface,
		ThreadID: sub.ThreadID,
		Payload:  payload,
	})
}

func (s *Session) sendPresence(snapshot domain.PresenceSnapshot) {
	last := snapshot.LastActivityAt
	_ = s.out.Send(ServerFrame{
		Type:           FramePresence,
		SessionID:      snapshot.SessionID,
		UserID:         snapshot.UserID,
		Status:         snapshot.Status,
		LastActivityAt: &last,
	})
}
