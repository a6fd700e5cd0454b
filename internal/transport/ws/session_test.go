package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
	"github.com/arklim/portal-realtime/internal/usecase"
)

type memoryPresenceStore struct {
	mu       sync.Mutex
	sessions map[string]map[string]domain.SessionPresence
}

func newMemoryPresenceStore() *memoryPresenceStore {
	return &memoryPresenceStore{sessions: make(map[string]map[string]domain.SessionPresence)}
}

func (m *memoryPresenceStore) SaveSession(_ context.Context, userID string, presence domain.SessionPresence, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[userID] == nil {
		m.sessions[userID] = make(map[string]domain.SessionPresence)
	}
	m.sessions[userID][presence.SessionID] = presence
	return nil
}

func (m *memoryPresenceStore) RemoveSession(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions[userID], sessionID)
	return nil
}

func (m *memoryPresenceStore) ListSessions(_ context.Context, userID string, _ time.Time) ([]domain.SessionPresence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SessionPresence, 0, len(m.sessions[userID]))
	for _, s := range m.sessions[userID] {
		out = append(out, s)
	}
	return out, nil
}

func (m *memoryPresenceStore) count(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions[userID])
}

type stubFeed struct {
	mu    sync.Mutex
	loads map[string]int
	err   error
	token string
}

func (f *stubFeed) Validate(sub domain.Subscription) error {
	return usecase.NewFeedService(nil, usecase.FeedPaths{}).Validate(sub)
}

func (f *stubFeed) Load(ctx context.Context, tokens port.TokenProvider, sub domain.Subscription) (json.RawMessage, error) {
	token, _ := tokens.Token(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loads == nil {
		f.loads = make(map[string]int)
	}
	f.loads[sub.Key()]++
	f.token = token
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"surface":"` + string(sub.Surface) + `"}`), nil
}

func (f *stubFeed) loadCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[key]
}

type recordingSender struct {
	mu     sync.Mutex
	frames []ServerFrame
}

func (r *recordingSender) Send(frame ServerFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recordingSender) ofType(frameType string) []ServerFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ServerFrame
	for _, f := range r.frames {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

type sessionFixture struct {
	session *Session
	out     *recordingSender
	feed    *stubFeed
	hub     *usecase.SyncHub
	store   *memoryPresenceStore
	clock   *testingclock.FakeClock
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	clk := testingclock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	store := newMemoryPresenceStore()
	presence := usecase.NewPresenceService(store, nil, zaptest.NewLogger(t), usecase.PresenceServiceOptions{
		IdleTimeout:   time.Minute,
		CheckInterval: 10 * time.Second,
		Clock:         clk,
	})
	hub := usecase.NewSyncHub(usecase.BroadcasterOptions{Cooldown: 10 * time.Millisecond, MinWaitFloor: time.Millisecond}, zaptest.NewLogger(t))
	t.Cleanup(hub.Close)

	feed := &stubFeed{}
	out := &recordingSender{}

	session, err := NewSession(context.Background(), domain.Principal{UserID: "u-1", Token: "tok-1"}, "tab-1", out, SessionDeps{
		Feed:     feed,
		Hub:      hub,
		Presence: presence,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close(context.Background()) })

	return &sessionFixture{session: session, out: out, feed: feed, hub: hub, store: store, clock: clk}
}

func TestSessionReady(t *testing.T) {
	fx := newSessionFixture(t)

	require.NoError(t, fx.session.Ready())

	ready := fx.out.ofType(FrameReady)
	require.Len(t, ready, 1)
	require.Equal(t, "tab-1", ready[0].SessionID)
	require.Equal(t, "u-1", ready[0].UserID)
	require.Equal(t, domain.PresenceOnline, ready[0].Status)
	require.Equal(t, 1, fx.store.count("u-1"))
}

func TestSessionSubscribeLoadsAndRefreshes(t *testing.T) {
	fx := newSessionFixture(t)

	fx.session.Handle(ClientFrame{Type: FrameSubscribe, Surface: domain.SurfaceChatSidebar})

	require.Eventually(t, func() bool { return len(fx.out.ofType(FrameRefreshed)) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, fx.hub.Listeners("u-1", domain.ChannelMessages))

	frame := fx.out.ofType(FrameRefreshed)[0]
	require.Equal(t, domain.SurfaceChatSidebar, frame.Surface)
	require.JSONEq(t, `{"surface":"chat_sidebar"}`, string(frame.Payload))

	fx.feed.mu.Lock()
	require.Equal(t, "tok-1", fx.feed.token)
	fx.feed.mu.Unlock()

	fx.hub.SignalEvent(context.Background(), domain.ChangeEvent{
		EventType:    domain.EventMessageCreated,
		RecipientIDs: []string{"u-1"},
	})

	require.Eventually(t, func() bool { return fx.feed.loadCount(string(domain.SurfaceChatSidebar)) == 2 }, time.Second, 5*time.Millisecond)
}

func TestSessionRejectsInvalidSubscription(t *testing.T) {
	fx := newSessionFixture(t)

	fx.session.Handle(ClientFrame{Type: FrameSubscribe, Surface: domain.SurfaceThreadPanel})
	fx.session.Handle(ClientFrame{Type: "teleport"})

	errs := fx.out.ofType(FrameError)
	require.Len(t, errs, 2)
	require.Contains(t, errs[0].Error, "thread id")
	require.Equal(t, ErrUnknownFrame.Error(), errs[1].Error)
	require.Equal(t, 0, fx.hub.Listeners("u-1", domain.ChannelMessages))
}

func TestSessionUnsubscribe(t *testing.T) {
	fx := newSessionFixture(t)

	sub := ClientFrame{Type: FrameSubscribe, Surface: domain.SurfaceThreadPanel, ThreadID: "t-9"}
	fx.session.Handle(sub)
	require.Equal(t, 1, fx.hub.Listeners("u-1", domain.ChannelMessages))

	sub.Type = FrameUnsubscribe
	fx.session.Handle(sub)
	require.Equal(t, 0, fx.hub.Listeners("u-1", domain.ChannelMessages))
}

func TestSessionLoadFailureSendsRefreshError(t *testing.T) {
	fx := newSessionFixture(t)
	fx.feed.err = errors.New("backend unavailable")

	fx.session.Handle(ClientFrame{Type: FrameSubscribe, Surface: domain.SurfaceNotificationBell})

	require.Eventually(t, func() bool { return len(fx.out.ofType(FrameRefreshError)) == 1 }, time.Second, 5*time.Millisecond)
	frame := fx.out.ofType(FrameRefreshError)[0]
	require.Equal(t, domain.SurfaceNotificationBell, frame.Surface)
	require.Contains(t, frame.Error, "backend unavailable")
}

func TestSessionPing(t *testing.T) {
	fx := newSessionFixture(t)

	fx.session.Handle(ClientFrame{Type: FramePing})
	require.Len(t, fx.out.ofType(FramePong), 1)
}

func TestSessionPresenceTransitions(t *testing.T) {
	fx := newSessionFixture(t)

	require.Eventually(t, func() bool {
		fx.clock.Step(10 * time.Second)
		return len(fx.out.ofType(FramePresence)) > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, domain.PresenceIdle, fx.out.ofType(FramePresence)[0].Status)

	fx.session.Handle(ClientFrame{Type: FrameActivity, Kind: domain.ActivityKeyboard})

	require.Eventually(t, func() bool {
		frames := fx.out.ofType(FramePresence)
		return frames[len(frames)-1].Status == domain.PresenceOnline
	}, time.Second, 5*time.Millisecond)
}

func TestSessionCloseReleasesResources(t *testing.T) {
	fx := newSessionFixture(t)
	fx.session.Handle(ClientFrame{Type: FrameSubscribe, Surface: domain.SurfaceChatSidebar})

	require.NoError(t, fx.session.Close(context.Background()))
	require.NoError(t, fx.session.Close(context.Background()))

	require.Equal(t, 0, fx.hub.Listeners("u-1", domain.ChannelMessages))
	require.Equal(t, 0, fx.store.count("u-1"))
}
