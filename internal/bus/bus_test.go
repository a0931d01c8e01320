package bus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestBus(workers, queueSize int) *Bus {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBus(workers, queueSize, logger)
}

func newEvent(topic string) Event {
	return Event{
		ID:         uuid.Must(uuid.NewV7()),
		Topic:      topic,
		TraceID:    uuid.Must(uuid.NewV7()).String(),
		OccurredAt: time.Now().UTC(),
	}
}

func TestTopicHelpers(t *testing.T) {
	assert.Equal(t, "quote:updated", FlowTopic("quote", "updated"))
	assert.Equal(t, "finality:quote-sync-success", FinalitySuccessTopic("quote-sync"))
	assert.Equal(t, "finality:error:quote-sync", FinalityErrorTopic("quote-sync"))
}

func TestPublishAndDispatch(t *testing.T) {
	b := newTestBus(2, 16)

	var mu sync.Mutex
	var received []string
	done := make(chan struct{}, 1)

	b.Subscribe("quote:created", func(ctx context.Context, event Event) {
		mu.Lock()
		received = append(received, event.TraceID)
		mu.Unlock()
		done <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Start(ctx)
	}()

	event := newEvent("quote:created")
	require.NoError(t, b.Publish(context.Background(), event))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	assert.Equal(t, []string{event.TraceID}, received)
	mu.Unlock()

	cancel()
	wg.Wait()
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := newTestBus(4, 16)

	var wg sync.WaitGroup
	wg.Add(2)
	b.Subscribe("quote:updated", func(ctx context.Context, event Event) { wg.Done() })
	b.Subscribe("quote:updated", func(ctx context.Context, event Event) { wg.Done() })

	ctx, cancel := context.WithCancel(context.Background())
	var runWG sync.WaitGroup
	runWG.Add(1)
	go func() {
		defer runWG.Done()
		_ = b.Start(ctx)
	}()

	require.NoError(t, b.Publish(context.Background(), newEvent("quote:updated")))

	handled := make(chan struct{})
	go func() {
		wg.Wait()
		close(handled)
	}()
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("not all subscribers were invoked")
	}

	cancel()
	runWG.Wait()
}

func TestPublishNoSubscribersIsNoOp(t *testing.T) {
	b := newTestBus(1, 4)
	assert.NoError(t, b.Publish(context.Background(), newEvent("unknown:topic")))
}

func TestPublishBlocksWhenQueueFull(t *testing.T) {
	// No workers running: the queue fills and the next publish must block
	// until the publisher's context is cancelled.
	b := newTestBus(1, 1)
	b.Subscribe("quote:created", func(ctx context.Context, event Event) {})

	require.NoError(t, b.Publish(context.Background(), newEvent("quote:created")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := b.Publish(ctx, newEvent("quote:created"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandlerPanicDoesNotKillWorkers(t *testing.T) {
	b := newTestBus(1, 16)

	done := make(chan struct{}, 1)
	b.Subscribe("quote:created", func(ctx context.Context, event Event) {
		panic("bad subscriber")
	})
	b.Subscribe("quote:updated", func(ctx context.Context, event Event) {
		done <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Start(ctx)
	}()

	require.NoError(t, b.Publish(context.Background(), newEvent("quote:created")))
	require.NoError(t, b.Publish(context.Background(), newEvent("quote:updated")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after handler panic")
	}

	cancel()
	wg.Wait()
}

func TestStartTwiceFails(t *testing.T) {
	b := newTestBus(1, 4)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Start(ctx)
	}()

	// Give the first Start a moment to flip the started flag.
	time.Sleep(50 * time.Millisecond)
	err := b.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	cancel()
	wg.Wait()
}
