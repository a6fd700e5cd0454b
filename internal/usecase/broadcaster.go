package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

const (
	// DefaultCooldown is the minimum spacing between two refresh cycles of one channel.
	DefaultCooldown = 1500 * time.Millisecond
	// DefaultMinWaitFloor bounds the trailing timer from below so near-zero remaining
	// waits cannot degenerate into a tight loop.
	DefaultMinWaitFloor = 250 * time.Millisecond
)

// Listener is a UI surface that pulls fresh data when its channel refreshes.
// Implementations must be comparable (pointer receivers); use NewListenerFunc for closures.
type Listener interface {
	Refresh(ctx context.Context) error
}

type funcListener struct {
	fn func(ctx context.Context) error
}

func (l *funcListener) Refresh(ctx context.Context) error {
	return l.fn(ctx)
}

// NewListenerFunc wraps fn in a Listener with its own identity.
func NewListenerFunc(fn func(ctx context.Context) error) Listener {
	return &funcListener{fn: fn}
}

// TriggerOutcome describes what a Trigger call did.
type TriggerOutcome string

const (
	// TriggerRan means the fan-out executed within the call.
	TriggerRan TriggerOutcome = "ran"
	// TriggerScheduled means a trailing refresh was scheduled for the end of the cooldown.
	TriggerScheduled TriggerOutcome = "scheduled"
	// TriggerCoalesced means a trailing refresh was already scheduled.
	TriggerCoalesced TriggerOutcome = "coalesced"
	// TriggerDropped means a cycle was in flight; the signal is not queued.
	TriggerDropped TriggerOutcome = "dropped"
)

// ListenerResult is the tagged outcome of one listener in a cycle. Err is nil on success.
type ListenerResult struct {
	Listener Listener
	Err      error
}

// CycleReport summarises one completed fan-out.
type CycleReport struct {
	Channel   string
	StartedAt time.Time
	Duration  time.Duration
	Results   []ListenerResult
}

// Failures counts listeners that returned an error or panicked.
func (r CycleReport) Failures() int {
	failed := 0
	for _, res := range r.Results {
		if res.Err != nil {
			failed++
		}
	}
	return failed
}

// BroadcastObserver receives trigger outcomes and cycle reports.
type BroadcastObserver interface {
	ObserveTrigger(channel string, outcome TriggerOutcome)
	ObserveCycle(report CycleReport)
}

// BroadcasterOptions configures a Broadcaster. Zero values fall back to the defaults.
type BroadcasterOptions struct {
	Cooldown     time.Duration
	MinWaitFloor time.Duration
	Clock        clock.WithDelayedExecution
	Observer     BroadcastObserver
	Logger       *zap.Logger
}

// Broadcaster coalesces bursts of change signals into at most one refresh per cooldown
// window and fans each refresh out to every registered listener. Cycles never overlap.
// The cooldown is measured from the end of the previous cycle.
type Broadcaster struct {
	channel      string
	cooldown     time.Duration
	minWaitFloor time.Duration
	clock        clock.WithDelayedExecution
	observer     BroadcastObserver
	logger       *zap.Logger

	mu        sync.Mutex
	listeners map[Listener]struct{}
	inFlight  bool
	lastRunAt time.Time
	timer     clock.Timer
	timerSeq  uint64
}

// NewBroadcaster constructs the broadcaster for one logical channel.
func NewBroadcaster(channel string, opts BroadcasterOptions) *Broadcaster {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.MinWaitFloor <= 0 {
		opts.MinWaitFloor = DefaultMinWaitFloor
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Broadcaster{
		channel:      channel,
		cooldown:     opts.Cooldown,
		minWaitFloor: opts.MinWaitFloor,
		clock:        opts.Clock,
		observer:     opts.Observer,
		logger:       opts.Logger.With(zap.String("channel", channel)),
		listeners:    make(map[Listener]struct{}),
	}
}

// Channel returns the channel name the broadcaster serves.
func (b *Broadcaster) Channel() string {
	return b.channel
}

// Register adds a listener and returns a function that removes it.
// Registering the same listener twice keeps a single entry.
func (b *Broadcaster) Register(l Listener) (unregister func()) {
	if l == nil {
		return func() {}
	}

	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, l)
			b.mu.Unlock()
		})
	}
}

// Len returns the number of registered listeners.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Idle reports whether no cycle is running and no trailing refresh is pending.
func (b *Broadcaster) Idle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.inFlight && b.timer == nil
}

// Trigger signals that data behind the channel changed.
//
// When the cooldown has elapsed the fan-out runs before Trigger returns. Inside the
// cooldown a single trailing refresh is scheduled. Signals arriving while a cycle is
// in flight are dropped.
func (b *Broadcaster) Trigger(ctx context.Context) TriggerOutcome {
	b.mu.Lock()
	if b.inFlight {
		b.mu.Unlock()
		b.observeTrigger(TriggerDropped)
		return TriggerDropped
	}

	now := b.clock.Now()
	elapsed := now.Sub(b.lastRunAt)
	if b.lastRunAt.IsZero() || elapsed >= b.cooldown {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		b.inFlight = true
		listeners := make([]Listener, 0, len(b.listeners))
		for l := range b.listeners {
			listeners = append(listeners, l)
		}
		b.mu.Unlock()

		b.observeTrigger(TriggerRan)
		b.run(context.WithoutCancel(ctx), now, listeners)
		return TriggerRan
	}

	if b.timer != nil {
		b.mu.Unlock()
		b.observeTrigger(TriggerCoalesced)
		return TriggerCoalesced
	}

	wait := b.cooldown - elapsed
	if wait < b.minWaitFloor {
		wait = b.minWaitFloor
	}
	detached := context.WithoutCancel(ctx)
	b.timerSeq++
	seq := b.timerSeq
	// Fake clocks run the callback while holding their own lock, so it must not block.
	b.timer = b.clock.AfterFunc(wait, func() {
		go b.fire(detached, seq)
	})
	b.mu.Unlock()

	b.observeTrigger(TriggerScheduled)
	return TriggerScheduled
}

// Stop cancels a pending trailing refresh. Registered listeners are kept.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Broadcaster) fire(ctx context.Context, seq uint64) {
	b.mu.Lock()
	if b.timer == nil || b.timerSeq != seq {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	b.mu.Unlock()

	b.Trigger(ctx)
}

func (b *Broadcaster) run(ctx context.Context, startedAt time.Time, listeners []Listener) {
	ctx, span := otel.Tracer("portal-realtime/broadcaster").Start(ctx, "broadcast.cycle")
	span.SetAttributes(
		attribute.String("broadcast.channel", b.channel),
		attribute.Int("broadcast.listeners", len(listeners)),
	)
	defer span.End()

	results := make([]ListenerResult, len(listeners))
	var g errgroup.Group
	for i, l := range listeners {
		g.Go(func() error {
			results[i] = ListenerResult{Listener: l, Err: b.invoke(ctx, l)}
			return nil
		})
	}
	_ = g.Wait()

	b.mu.Lock()
	b.inFlight = false
	b.lastRunAt = b.clock.Now()
	finishedAt := b.lastRunAt
	b.mu.Unlock()

	report := CycleReport{
		Channel:   b.channel,
		StartedAt: startedAt,
		Duration:  finishedAt.Sub(startedAt),
		Results:   results,
	}
	if failed := report.Failures(); failed > 0 {
		span.SetAttributes(attribute.Int("broadcast.failures", failed))
		b.logger.Debug("refresh cycle completed with listener failures",
			zap.Int("listeners", len(listeners)),
			zap.Int("failures", failed),
		)
	}
	if b.observer != nil {
		b.observer.ObserveCycle(report)
	}
}

func (b *Broadcaster) invoke(ctx context.Context, l Listener) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l.Refresh(ctx)
}

func (b *Broadcaster) observeTrigger(outcome TriggerOutcome) {
	if b.observer != nil {
		b.observer.ObserveTrigger(b.channel, outcome)
	}
}
