package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
)

// ErrUnknownChannel is returned when a subscription names a channel the hub does not serve.
var ErrUnknownChannel = errors.New("sync hub: unknown refresh channel")

type hubKey struct {
	userID  string
	channel domain.RefreshChannel
}

// SyncHub owns one Broadcaster per (user, channel) and routes change signals to them.
type SyncHub struct {
	opts   BroadcasterOptions
	logger *zap.Logger

	mu           sync.Mutex
	broadcasters map[hubKey]*Broadcaster
	wg           sync.WaitGroup
}

// NewSyncHub constructs a hub whose broadcasters share opts.
func NewSyncHub(opts BroadcasterOptions, logger *zap.Logger) *SyncHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHub{
		opts:         opts,
		logger:       logger,
		broadcasters: make(map[hubKey]*Broadcaster),
	}
}

// Subscribe registers l for refreshes of channel on behalf of userID.
func (h *SyncHub) Subscribe(userID string, channel domain.RefreshChannel, l Listener) (unsubscribe func(), err error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("sync hub: user id is required")
	}
	if !channel.Valid() {
		return nil, ErrUnknownChannel
	}

	key := hubKey{userID: userID, channel: channel}

	h.mu.Lock()
	b, ok := h.broadcasters[key]
	if !ok {
		opts := h.opts
		opts.Logger = h.logger.With(zap.String("user_id", userID))
		b = NewBroadcaster(string(channel), opts)
		h.broadcasters[key] = b
	}
	unregister := b.Register(l)
	h.mu.Unlock()

	return func() {
		unregister()
		h.prune(key, b)
	}, nil
}

// Signal triggers a refresh of channel for userID without waiting for the fan-out.
// It reports whether anyone was subscribed.
func (h *SyncHub) Signal(ctx context.Context, userID string, channel domain.RefreshChannel) bool {
	h.mu.Lock()
	b, ok := h.broadcasters[hubKey{userID: userID, channel: channel}]
	h.mu.Unlock()
	if !ok {
		return false
	}

	detached := context.WithoutCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		b.Trigger(detached)
	}()
	return true
}

// SignalEvent fans a change event out to every recipient's broadcaster and returns how
// many broadcasters were signalled.
func (h *SyncHub) SignalEvent(ctx context.Context, event domain.ChangeEvent) int {
	channel, ok := domain.ChannelForEvent(event.EventType)
	if !ok {
		h.logger.Debug("ignoring change event of unknown type", zap.String("event_type", event.EventType))
		return 0
	}

	seen := make(map[string]struct{}, len(event.RecipientIDs))
	signalled := 0
	for _, recipient := range event.RecipientIDs {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		if _, dup := seen[recipient]; dup {
			continue
		}
		seen[recipient] = struct{}{}
		if h.Signal(ctx, recipient, channel) {
			signalled++
		}
	}
	return signalled
}

// Listeners returns how many listeners are registered for the user and channel.
func (h *SyncHub) Listeners(userID string, channel domain.RefreshChannel) int {
	h.mu.Lock()
	b, ok := h.broadcasters[hubKey{userID: userID, channel: channel}]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return b.Len()
}

// Close stops pending trailing refreshes and waits for dispatched triggers to finish.
func (h *SyncHub) Close() {
	h.mu.Lock()
	for _, b := range h.broadcasters {
		b.Stop()
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// Sweep drops broadcasters that have no listeners and no pending work.
func (h *SyncHub) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for key, b := range h.broadcasters {
		if b.Len() == 0 && b.Idle() {
			delete(h.broadcasters, key)
			removed++
		}
	}
	return removed
}

func (h *SyncHub) prune(key hubKey, b *Broadcaster) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.broadcasters[key]
	if !ok || current != b {
		return
	}
	if b.Len() == 0 && b.Idle() {
		delete(h.broadcasters, key)
	}
}

var _ port.ChangeSignaler = (*SyncHub)(nil)
