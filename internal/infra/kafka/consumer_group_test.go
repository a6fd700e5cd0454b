package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/portal-realtime/internal/infra/config"
)

type fakeConsumerGroup struct {
	consumeCalls atomic.Int32
	consume      func(ctx context.Context) error
	errs         chan error
	closed       atomic.Bool
}

func (g *fakeConsumerGroup) Consume(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	g.consumeCalls.Add(1)
	return g.consume(ctx)
}

func (g *fakeConsumerGroup) Errors() <-chan error { return g.errs }

func (g *fakeConsumerGroup) Close() error {
	g.closed.Store(true)
	return nil
}

func (g *fakeConsumerGroup) Pause(map[string][]int32)  {}
func (g *fakeConsumerGroup) Resume(map[string][]int32) {}
func (g *fakeConsumerGroup) PauseAll()                 {}
func (g *fakeConsumerGroup) ResumeAll()                {}

func TestChangeEventTopics(t *testing.T) {
	topics := ChangeEventTopics(config.KafkaSettings{TopicPrefix: "portal"})
	want := []string{
		"portal.chat.message.created",
		"portal.chat.message.read",
		"portal.notification.created",
		"portal.notification.read",
	}
	if len(topics) != len(want) {
		t.Fatalf("expected %d topics, got %v", len(want), topics)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Fatalf("topic %d: expected %q, got %q", i, want[i], topics[i])
		}
	}
}

func TestConsumerGroupRejoinsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group := &fakeConsumerGroup{errs: make(chan error)}
	group.consume = func(context.Context) error {
		// Simulate a rebalance ending the session; the third session outlives the context.
		if group.consumeCalls.Load() >= 3 {
			cancel()
		}
		return nil
	}

	runner := newConsumerGroup(group, NewChangeEventConsumer(&recordingSignaler{}, nil, nil), []string{"t"}, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if got := group.consumeCalls.Load(); got != 3 {
		t.Fatalf("expected 3 consume sessions, got %d", got)
	}
}

func TestConsumerGroupStopsWhenClosed(t *testing.T) {
	group := &fakeConsumerGroup{errs: make(chan error)}
	group.consume = func(context.Context) error { return sarama.ErrClosedConsumerGroup }

	runner := newConsumerGroup(group, NewChangeEventConsumer(&recordingSignaler{}, nil, nil), []string{"t"}, zaptest.NewLogger(t))

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if err := runner.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !group.closed.Load() {
		t.Fatal("expected underlying group to be closed")
	}
}

func TestConsumerGroupRetriesAfterError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group := &fakeConsumerGroup{errs: make(chan error)}
	group.consume = func(context.Context) error {
		if group.consumeCalls.Load() == 1 {
			return errors.New("coordinator not available")
		}
		cancel()
		return nil
	}

	runner := newConsumerGroup(group, NewChangeEventConsumer(&recordingSignaler{}, nil, nil), []string{"t"}, zaptest.NewLogger(t))

	if err := runner.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := group.consumeCalls.Load(); got != 2 {
		t.Fatalf("expected a second session after the error, got %d", got)
	}
}
