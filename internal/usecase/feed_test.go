package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
	"github.com/arklim/portal-realtime/internal/infra/security"
)

type fakeBackend struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     map[string]int
	tokens    []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		responses: make(map[string]string),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (f *fakeBackend) GetJSON(ctx context.Context, tokens port.TokenProvider, path string, out any) (bool, error) {
	token, err := tokens.Token(ctx)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[path]++
	f.tokens = append(f.tokens, token)

	if token == "" {
		return false, nil
	}
	if err := f.errs[path]; err != nil {
		return false, err
	}
	body, ok := f.responses[path]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal([]byte(body), out)
}

func (f *fakeBackend) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func TestFeedServiceValidate(t *testing.T) {
	svc := NewFeedService(newFakeBackend(), FeedPaths{})

	cases := []struct {
		name    string
		sub     domain.Subscription
		wantErr bool
	}{
		{name: "sidebar", sub: domain.Subscription{Surface: domain.SurfaceChatSidebar}},
		{name: "bell", sub: domain.Subscription{Surface: domain.SurfaceNotificationBell}},
		{name: "thread", sub: domain.Subscription{Surface: domain.SurfaceThreadPanel, ThreadID: "t-1"}},
		{name: "thread without id", sub: domain.Subscription{Surface: domain.SurfaceThreadPanel}, wantErr: true},
		{name: "unknown", sub: domain.Subscription{Surface: "typing_indicator"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Validate(tc.sub)
			if tc.wantErr && !errors.Is(err, ErrInvalidSurface) {
				t.Fatalf("expected ErrInvalidSurface, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestFeedServiceLoadsSurfacePayloads(t *testing.T) {
	backend := newFakeBackend()
	backend.responses["/api/chat/conversations"] = `[{"id":"c1"}]`
	backend.responses["/api/chat/conversations/t%2F1/messages"] = `[{"id":"m1"}]`
	backend.responses["/api/notifications?status=unread"] = `{"unread":3}`

	svc := NewFeedService(backend, FeedPaths{})
	tokens := security.StaticToken("token")

	payload, err := svc.Load(context.Background(), tokens, domain.Subscription{Surface: domain.SurfaceChatSidebar})
	if err != nil || string(payload) != `[{"id":"c1"}]` {
		t.Fatalf("sidebar: unexpected payload %s, err %v", payload, err)
	}

	payload, err = svc.Load(context.Background(), tokens, domain.Subscription{Surface: domain.SurfaceThreadPanel, ThreadID: "t/1"})
	if err != nil || string(payload) != `[{"id":"m1"}]` {
		t.Fatalf("thread: unexpected payload %s, err %v", payload, err)
	}

	payload, err = svc.Load(context.Background(), tokens, domain.Subscription{Surface: domain.SurfaceNotificationBell})
	if err != nil || string(payload) != `{"unread":3}` {
		t.Fatalf("bell: unexpected payload %s, err %v", payload, err)
	}
}

func TestFeedServiceUnauthenticatedYieldsNil(t *testing.T) {
	backend := newFakeBackend()
	backend.responses["/api/chat/conversations"] = `[]`
	svc := NewFeedService(backend, FeedPaths{})

	payload, err := svc.Load(context.Background(), security.StaticToken(""), domain.Subscription{Surface: domain.SurfaceChatSidebar})
	if err != nil {
		t.Fatalf("missing credentials must not be an error, got %v", err)
	}
	if payload != nil {
		t.Fatalf("expected nil payload, got %s", payload)
	}
}

func TestFeedServiceWrapsBackendErrors(t *testing.T) {
	backend := newFakeBackend()
	backendErr := errors.New("upstream 503")
	backend.errs["/api/notifications?status=unread"] = backendErr
	svc := NewFeedService(backend, FeedPaths{})

	_, err := svc.Load(context.Background(), security.StaticToken("token"), domain.Subscription{Surface: domain.SurfaceNotificationBell})
	if !errors.Is(err, backendErr) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}
